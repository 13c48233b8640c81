package progress

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

const (
	opEnroll               = "progress.enroll"
	opUnenroll             = "progress.unenroll"
	opCourseProgress       = "progress.course_progress"
	opUpdateCourseProgress = "progress.update_course_progress"
	opMarkLessonCompleted  = "progress.mark_lesson_completed"
	opUpdateLessonProgress = "progress.update_lesson_progress"
	opLessonProgress       = "progress.lesson_progress"
	opExport               = "progress.export"
	opResetAll             = "progress.reset_all"
)

// StoreConfig describes the dependencies for the local progress store.
type StoreConfig struct {
	// Database may be nil, which puts the store in detached mode: reads
	// return zero values and writes are silent no-ops.
	Database *gorm.DB
	Clock    func() time.Time
	Totals   TotalsProvider
	// ItemFloor is the minimum denominator used when the course total is
	// unknown. Defaults to 10.
	ItemFloor int
	Logger    *zap.Logger
}

// Store persists enrollments and per-course/per-lesson progress in the local
// database. All operations are synchronous and never touch the network.
type Store struct {
	db        *gorm.DB
	clock     func() time.Time
	totals    TotalsProvider
	itemFloor int
	logger    *zap.Logger
}

// NewStore constructs the local progress store. A nil database is accepted so
// the store stays safe to call in contexts without local persistence.
func NewStore(cfg StoreConfig) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	floor := cfg.ItemFloor
	if floor <= 0 {
		floor = defaultItemFloor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:        cfg.Database,
		clock:     clock,
		totals:    cfg.Totals,
		itemFloor: floor,
		logger:    logger,
	}
}

// Detached reports whether the store runs without local persistence.
func (s *Store) Detached() bool {
	return s.db == nil
}

// IsEnrolled reports whether a matching enrollment exists. A query without a
// user id matches any record for the course; a query with a user id matches
// records carrying the same user id or a device-scoped record.
func (s *Store) IsEnrolled(courseID CourseID, userID UserID) bool {
	if s.db == nil {
		return false
	}
	var count int64
	query := s.userScope(s.db.Model(&Enrollment{}).Where("course_id = ?", courseID.Int64()), userID)
	if err := query.Count(&count).Error; err != nil {
		s.logError(opEnroll, "enrollment_count_failed", err, zap.Int64("course_id", courseID.Int64()))
		return false
	}
	return count > 0
}

// Enroll records an enrollment for the course. The operation is idempotent:
// it returns true whether the record was newly created or already present,
// and seeds a zeroed course progress record when none exists.
func (s *Store) Enroll(courseID CourseID, userID UserID, method EnrollmentMethod) bool {
	if s.db == nil {
		return false
	}
	now := s.clock().UTC().Unix()

	if !s.IsEnrolled(courseID, userID) {
		record := Enrollment{
			CourseID:          courseID.Int64(),
			UserID:            userID.Int64(),
			Method:            method,
			EnrolledAtSeconds: now,
		}
		if err := s.db.Create(&record).Error; err != nil {
			s.logError(opEnroll, "enrollment_insert_failed", err,
				zap.Int64("course_id", courseID.Int64()),
				zap.Int64("user_id", userID.Int64()))
			return false
		}
	}

	if _, found := s.CourseProgress(courseID, userID); !found {
		seed := CourseProgress{
			CourseID:              courseID.Int64(),
			UserID:                userID.Int64(),
			CompletedLessons:      IDSet{},
			CompletedQuizzes:      IDSet{},
			CompletedAssignments:  IDSet{},
			StartedAtSeconds:      now,
			LastAccessedAtSeconds: now,
		}
		if err := s.db.Create(&seed).Error; err != nil {
			s.logError(opEnroll, "progress_seed_failed", err,
				zap.Int64("course_id", courseID.Int64()),
				zap.Int64("user_id", userID.Int64()))
		}
	}

	return true
}

// Unenroll removes the matching enrollment and its course progress. The
// operation is idempotent and returns true even when nothing matched.
func (s *Store) Unenroll(courseID CourseID, userID UserID) bool {
	if s.db == nil {
		return false
	}
	enrollments := s.userScope(s.db.Where("course_id = ?", courseID.Int64()), userID)
	if err := enrollments.Delete(&Enrollment{}).Error; err != nil {
		s.logError(opUnenroll, "enrollment_delete_failed", err, zap.Int64("course_id", courseID.Int64()))
		return false
	}
	courseRows := s.userScope(s.db.Where("course_id = ?", courseID.Int64()), userID)
	if err := courseRows.Delete(&CourseProgress{}).Error; err != nil {
		s.logError(opUnenroll, "progress_delete_failed", err, zap.Int64("course_id", courseID.Int64()))
		return false
	}
	return true
}

// CourseProgress returns the matching course progress record. The second
// return value reports whether a record was found.
func (s *Store) CourseProgress(courseID CourseID, userID UserID) (CourseProgress, bool) {
	if s.db == nil {
		return CourseProgress{}, false
	}
	var record CourseProgress
	query := s.userScope(s.db.Where("course_id = ?", courseID.Int64()), userID).
		Order("user_id DESC")
	err := query.Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CourseProgress{}, false
	}
	if err != nil {
		s.logError(opCourseProgress, "query_failed", err, zap.Int64("course_id", courseID.Int64()))
		return CourseProgress{}, false
	}
	return record, true
}

// UpdateCourseProgress merges the patch into the existing course progress
// record and refreshes the last-accessed timestamp. Missing records are not
// created; callers are expected to enroll first.
func (s *Store) UpdateCourseProgress(courseID CourseID, patch CourseProgressPatch, userID UserID) {
	if s.db == nil {
		return
	}
	record, found := s.CourseProgress(courseID, userID)
	if !found {
		return
	}

	if patch.CompletedLessons != nil {
		record.CompletedLessons = patch.CompletedLessons
	}
	if patch.CompletedQuizzes != nil {
		record.CompletedQuizzes = patch.CompletedQuizzes
	}
	if patch.CompletedAssignments != nil {
		record.CompletedAssignments = patch.CompletedAssignments
	}
	if patch.StartedAtSeconds != nil {
		record.StartedAtSeconds = *patch.StartedAtSeconds
	}
	if patch.CompletedAtSeconds != nil {
		record.CompletedAtSeconds = patch.CompletedAtSeconds
	}
	if patch.OverallProgress != nil {
		record.OverallProgress = ClampPercent(*patch.OverallProgress)
	} else if patch.CompletedLessons != nil || patch.CompletedQuizzes != nil || patch.CompletedAssignments != nil {
		record.OverallProgress = s.computeOverall(record)
	}
	record.LastAccessedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.Save(&record).Error; err != nil {
		s.logError(opUpdateCourseProgress, "save_failed", err, zap.Int64("course_id", courseID.Int64()))
	}
}

// MarkLessonCompleted upserts the lesson to completed state, appends the
// lesson to the course's completed set and recomputes the overall progress.
func (s *Store) MarkLessonCompleted(lessonID LessonID, courseID CourseID, userID UserID) {
	if s.db == nil {
		return
	}
	now := s.clock().UTC().Unix()

	lesson, found := s.LessonProgress(lessonID, courseID, userID)
	if !found {
		lesson = LessonProgress{
			LessonID: lessonID.Int64(),
			CourseID: courseID.Int64(),
			UserID:   userID.Int64(),
		}
	}
	lesson.Completed = true
	lesson.Progress = 100
	lesson.AccessedAtSeconds = now
	if lesson.CompletedAtSeconds == nil {
		completedAt := now
		lesson.CompletedAtSeconds = &completedAt
	}
	if err := s.db.Save(&lesson).Error; err != nil {
		s.logError(opMarkLessonCompleted, "lesson_save_failed", err,
			zap.Int64("lesson_id", lessonID.Int64()),
			zap.Int64("course_id", courseID.Int64()))
		return
	}

	course, found := s.CourseProgress(courseID, userID)
	if !found {
		course = CourseProgress{
			CourseID:             courseID.Int64(),
			UserID:               userID.Int64(),
			CompletedLessons:     IDSet{},
			CompletedQuizzes:     IDSet{},
			CompletedAssignments: IDSet{},
			StartedAtSeconds:     now,
		}
	}
	course.CompletedLessons = course.CompletedLessons.Add(lessonID.Int64())
	course.OverallProgress = s.computeOverall(course)
	course.LastAccessedAtSeconds = now
	if course.OverallProgress >= 100 && course.CompletedAtSeconds == nil {
		completedAt := now
		course.CompletedAtSeconds = &completedAt
	}
	if err := s.db.Save(&course).Error; err != nil {
		s.logError(opMarkLessonCompleted, "course_save_failed", err,
			zap.Int64("course_id", courseID.Int64()))
	}
}

// UpdateLessonProgress upserts partial lesson state without forcing
// completion. A completed lesson stays completed unless the patch explicitly
// clears the flag.
func (s *Store) UpdateLessonProgress(lessonID LessonID, courseID CourseID, patch LessonProgressPatch, userID UserID) {
	if s.db == nil {
		return
	}
	now := s.clock().UTC().Unix()

	lesson, found := s.LessonProgress(lessonID, courseID, userID)
	if !found {
		lesson = LessonProgress{
			LessonID: lessonID.Int64(),
			CourseID: courseID.Int64(),
			UserID:   userID.Int64(),
		}
	}
	if patch.Progress != nil {
		lesson.Progress = ClampPercent(*patch.Progress)
	}
	if patch.TimeSpentSeconds != nil {
		lesson.TimeSpentSeconds = *patch.TimeSpentSeconds
	}
	if patch.LastPositionSeconds != nil {
		lesson.LastPositionSeconds = patch.LastPositionSeconds
	}
	if patch.Completed != nil {
		lesson.Completed = *patch.Completed
		if lesson.Completed {
			lesson.Progress = 100
			if lesson.CompletedAtSeconds == nil {
				completedAt := now
				lesson.CompletedAtSeconds = &completedAt
			}
		} else {
			lesson.CompletedAtSeconds = nil
		}
	}
	lesson.AccessedAtSeconds = now

	if err := s.db.Save(&lesson).Error; err != nil {
		s.logError(opUpdateLessonProgress, "save_failed", err,
			zap.Int64("lesson_id", lessonID.Int64()),
			zap.Int64("course_id", courseID.Int64()))
	}
}

// LessonProgress returns the matching lesson progress record. The second
// return value reports whether a record was found.
func (s *Store) LessonProgress(lessonID LessonID, courseID CourseID, userID UserID) (LessonProgress, bool) {
	if s.db == nil {
		return LessonProgress{}, false
	}
	var record LessonProgress
	query := s.userScope(
		s.db.Where("lesson_id = ? AND course_id = ?", lessonID.Int64(), courseID.Int64()),
		userID,
	).Order("user_id DESC")
	err := query.Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LessonProgress{}, false
	}
	if err != nil {
		s.logError(opLessonProgress, "query_failed", err, zap.Int64("lesson_id", lessonID.Int64()))
		return LessonProgress{}, false
	}
	return record, true
}

// IsLessonCompleted reports whether the lesson has been completed.
func (s *Store) IsLessonCompleted(lessonID LessonID, courseID CourseID, userID UserID) bool {
	record, found := s.LessonProgress(lessonID, courseID, userID)
	return found && record.Completed
}

// Export returns a filtered snapshot of all persisted state for diagnostics.
func (s *Store) Export(userID UserID) Snapshot {
	snapshot := Snapshot{
		Enrollments:    []Enrollment{},
		CourseProgress: []CourseProgress{},
		LessonProgress: []LessonProgress{},
	}
	if s.db == nil {
		return snapshot
	}
	if err := s.userScope(s.db, userID).Find(&snapshot.Enrollments).Error; err != nil {
		s.logError(opExport, "enrollments_query_failed", err)
	}
	if err := s.userScope(s.db, userID).Find(&snapshot.CourseProgress).Error; err != nil {
		s.logError(opExport, "course_progress_query_failed", err)
	}
	if err := s.userScope(s.db, userID).Find(&snapshot.LessonProgress).Error; err != nil {
		s.logError(opExport, "lesson_progress_query_failed", err)
	}
	return snapshot
}

// ResetAll clears all three collections unconditionally. Development use only.
func (s *Store) ResetAll() {
	if s.db == nil {
		return
	}
	for _, model := range []interface{}{&Enrollment{}, &CourseProgress{}, &LessonProgress{}} {
		if err := s.db.Where("1 = 1").Delete(model).Error; err != nil {
			s.logError(opResetAll, "delete_failed", err)
		}
	}
}

func (s *Store) computeOverall(record CourseProgress) int {
	total := 0
	if s.totals != nil {
		total = s.totals.TotalItems(CourseID(record.CourseID))
	}
	return overallPercent(record.CompletedItemCount(), total, s.itemFloor)
}

// userScope narrows a query to the records visible for the given user id.
func (s *Store) userScope(query *gorm.DB, userID UserID) *gorm.DB {
	if userID.IsAnonymous() {
		return query
	}
	return query.Where("user_id IN ?", []int64{userID.Int64(), AnonymousUser.Int64()})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("progress store error", attrs...)
}
