package progress

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// EnrollmentMethod enumerates how an enrollment was created.
type EnrollmentMethod string

const (
	// MethodFree marks an enrollment obtained through the free-course flow.
	MethodFree EnrollmentMethod = "free"
	// MethodPurchase marks an enrollment backed by a purchase.
	MethodPurchase EnrollmentMethod = "purchase"
	// MethodAdmin marks an enrollment granted by an administrator.
	MethodAdmin EnrollmentMethod = "admin"
)

var (
	// ErrInvalidCourseID indicates a course identifier that is not positive.
	ErrInvalidCourseID = errors.New("progress: invalid course id")
	// ErrInvalidLessonID indicates a lesson identifier that is not positive.
	ErrInvalidLessonID = errors.New("progress: invalid lesson id")
	// ErrInvalidUserID indicates a negative user identifier.
	ErrInvalidUserID = errors.New("progress: invalid user id")
)

// CourseID represents a validated course identifier.
type CourseID int64

// NewCourseID validates raw input and returns a CourseID.
func NewCourseID(value int64) (CourseID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCourseID, value)
	}
	return CourseID(value), nil
}

// Int64 exposes the raw identifier value.
func (id CourseID) Int64() int64 {
	return int64(id)
}

// LessonID represents a validated lesson identifier.
type LessonID int64

// NewLessonID validates raw input and returns a LessonID.
func NewLessonID(value int64) (LessonID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLessonID, value)
	}
	return LessonID(value), nil
}

// Int64 exposes the raw identifier value.
func (id LessonID) Int64() int64 {
	return int64(id)
}

// UserID represents an optional user identifier. The zero value denotes an
// anonymous, device-scoped record.
type UserID int64

// AnonymousUser is the device-scoped user identifier.
const AnonymousUser UserID = 0

// NewUserID validates raw input and returns a UserID. Zero is permitted.
func NewUserID(value int64) (UserID, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUserID, value)
	}
	return UserID(value), nil
}

// Int64 exposes the raw identifier value.
func (id UserID) Int64() int64 {
	return int64(id)
}

// IsAnonymous reports whether the identifier denotes a device-scoped record.
func (id UserID) IsAnonymous() bool {
	return id == AnonymousUser
}

// IDSet stores a unique, JSON-encoded collection of entity identifiers.
type IDSet []int64

// Contains reports whether the set holds the given identifier.
func (s IDSet) Contains(id int64) bool {
	for _, existing := range s {
		if existing == id {
			return true
		}
	}
	return false
}

// Add returns the set with the identifier appended when not already present.
func (s IDSet) Add(id int64) IDSet {
	if s.Contains(id) {
		return s
	}
	return append(s, id)
}

// Value serializes the set to JSON text for storage.
func (s IDSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal([]int64(s))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan deserializes the stored JSON text back into the set.
func (s *IDSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("progress: cannot scan %T into IDSet", value)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var decoded []int64
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Enrollment records a user's registration in a course. Device-scoped
// enrollments carry a zero user id.
type Enrollment struct {
	CourseID          int64            `gorm:"column:course_id;primaryKey;not null" json:"course_id"`
	UserID            int64            `gorm:"column:user_id;primaryKey;not null;default:0" json:"user_id"`
	Method            EnrollmentMethod `gorm:"column:method;size:32;not null;default:'free'" json:"method"`
	EnrolledAtSeconds int64            `gorm:"column:enrolled_at_s;not null" json:"enrolled_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Enrollment) TableName() string {
	return "enrollments"
}

// CourseProgress aggregates completion state for one user in one course.
type CourseProgress struct {
	CourseID              int64  `gorm:"column:course_id;primaryKey;not null" json:"course_id"`
	UserID                int64  `gorm:"column:user_id;primaryKey;not null;default:0" json:"user_id"`
	CompletedLessons      IDSet  `gorm:"column:completed_lessons;type:text;not null;default:'[]'" json:"completed_lessons"`
	CompletedQuizzes      IDSet  `gorm:"column:completed_quizzes;type:text;not null;default:'[]'" json:"completed_quizzes"`
	CompletedAssignments  IDSet  `gorm:"column:completed_assignments;type:text;not null;default:'[]'" json:"completed_assignments"`
	OverallProgress       int    `gorm:"column:overall_progress;not null;default:0" json:"overall_progress"`
	StartedAtSeconds      int64  `gorm:"column:started_at_s;not null" json:"started_at_s"`
	LastAccessedAtSeconds int64  `gorm:"column:last_accessed_at_s;not null" json:"last_accessed_at_s"`
	CompletedAtSeconds    *int64 `gorm:"column:completed_at_s" json:"completed_at_s,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (CourseProgress) TableName() string {
	return "course_progress"
}

// CompletedItemCount returns the number of completed lessons, quizzes and
// assignments combined.
func (p CourseProgress) CompletedItemCount() int {
	return len(p.CompletedLessons) + len(p.CompletedQuizzes) + len(p.CompletedAssignments)
}

// LessonProgress captures fine-grained state for one lesson.
type LessonProgress struct {
	LessonID            int64  `gorm:"column:lesson_id;primaryKey;not null" json:"lesson_id"`
	CourseID            int64  `gorm:"column:course_id;primaryKey;not null" json:"course_id"`
	UserID              int64  `gorm:"column:user_id;primaryKey;not null;default:0" json:"user_id"`
	Completed           bool   `gorm:"column:completed;not null;default:false" json:"completed"`
	Progress            int    `gorm:"column:progress;not null;default:0" json:"progress"`
	TimeSpentSeconds    int64  `gorm:"column:time_spent_s;not null;default:0" json:"time_spent_s"`
	LastPositionSeconds *int64 `gorm:"column:last_position_s" json:"last_position_s,omitempty"`
	AccessedAtSeconds   int64  `gorm:"column:accessed_at_s;not null" json:"accessed_at_s"`
	CompletedAtSeconds  *int64 `gorm:"column:completed_at_s" json:"completed_at_s,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (LessonProgress) TableName() string {
	return "lesson_progress"
}

// CourseProgressPatch carries partial updates for a course progress record.
// Nil fields are left untouched.
type CourseProgressPatch struct {
	CompletedLessons     IDSet
	CompletedQuizzes     IDSet
	CompletedAssignments IDSet
	OverallProgress      *int
	StartedAtSeconds     *int64
	CompletedAtSeconds   *int64
}

// LessonProgressPatch carries partial updates for a lesson progress record.
// Nil fields are left untouched.
type LessonProgressPatch struct {
	Completed           *bool
	Progress            *int
	TimeSpentSeconds    *int64
	LastPositionSeconds *int64
}

// Snapshot is a filtered export of all persisted progress state.
type Snapshot struct {
	Enrollments    []Enrollment     `json:"enrollments"`
	CourseProgress []CourseProgress `json:"course_progress"`
	LessonProgress []LessonProgress `json:"lesson_progress"`
}
