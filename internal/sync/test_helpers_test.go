package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lumenlearn/coursesync/internal/progress"
	"github.com/lumenlearn/coursesync/internal/remote"
	"gorm.io/gorm"
)

const (
	testClockSeconds = 1700000000
	testUserID       = 42
)

func newTestStore(t *testing.T) *progress.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected sqlite open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected db handle error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&progress.Enrollment{}, &progress.CourseProgress{}, &progress.LessonProgress{}); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	return progress.NewStore(progress.StoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(testClockSeconds, 0).UTC() },
	})
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig) *Coordinator {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = newTestStore(t)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Unix(testClockSeconds, 0).UTC() }
	}
	coordinator, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}
	return coordinator
}

func mustCourseID(t *testing.T, value int64) progress.CourseID {
	t.Helper()
	id, err := progress.NewCourseID(value)
	if err != nil {
		t.Fatalf("unexpected course id error: %v", err)
	}
	return id
}

func mustLessonID(t *testing.T, value int64) progress.LessonID {
	t.Helper()
	id, err := progress.NewLessonID(value)
	if err != nil {
		t.Fatalf("unexpected lesson id error: %v", err)
	}
	return id
}

var (
	okResult     = remote.CallResult{Success: true, Status: 200}
	deniedResult = remote.CallResult{Success: false, Status: 403, Error: "denied"}
)

type enrollCall struct {
	CourseID int64
	UserID   int64
}

type lessonCall struct {
	LessonID int64
	CourseID int64
	UserID   int64
}

// fakeRemote is a scripted RemoteAPI implementation.
type fakeRemote struct {
	enrolledOnServer bool
	checkErr         error

	enrollErr    error
	enrollDenied bool
	enrollCalls  []enrollCall

	lessonErr    error
	lessonDenied bool
	lessonCalls  []lessonCall

	progressData *remote.CourseProgressData
	progressErr  error

	enrollments  []remote.EnrollmentData
	progressList []remote.CourseProgressData
	listErr      error
}

func (f *fakeRemote) IsUserEnrolled(_ context.Context, _, _ int64) (bool, remote.CallResult, error) {
	if f.checkErr != nil {
		return false, remote.CallResult{}, f.checkErr
	}
	return f.enrolledOnServer, okResult, nil
}

func (f *fakeRemote) EnrollInCourse(_ context.Context, courseID, userID int64) (remote.CallResult, error) {
	if f.enrollErr != nil {
		return remote.CallResult{}, f.enrollErr
	}
	if f.enrollDenied {
		return deniedResult, nil
	}
	f.enrollCalls = append(f.enrollCalls, enrollCall{CourseID: courseID, UserID: userID})
	return okResult, nil
}

func (f *fakeRemote) MarkLessonCompleted(_ context.Context, lessonID, courseID, userID int64) (remote.CallResult, error) {
	if f.lessonErr != nil {
		return remote.CallResult{}, f.lessonErr
	}
	if f.lessonDenied {
		return deniedResult, nil
	}
	f.lessonCalls = append(f.lessonCalls, lessonCall{LessonID: lessonID, CourseID: courseID, UserID: userID})
	return okResult, nil
}

func (f *fakeRemote) GetCourseProgress(_ context.Context, _, _ int64) (*remote.CourseProgressData, remote.CallResult, error) {
	if f.progressErr != nil {
		return nil, remote.CallResult{}, f.progressErr
	}
	return f.progressData, okResult, nil
}

func (f *fakeRemote) GetUserEnrollments(_ context.Context, _ int64) ([]remote.EnrollmentData, remote.CallResult, error) {
	if f.listErr != nil {
		return nil, remote.CallResult{}, f.listErr
	}
	return f.enrollments, okResult, nil
}

func (f *fakeRemote) GetUserProgress(_ context.Context, _ int64) ([]remote.CourseProgressData, remote.CallResult, error) {
	if f.listErr != nil {
		return nil, remote.CallResult{}, f.listErr
	}
	return f.progressList, okResult, nil
}
