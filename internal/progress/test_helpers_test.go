package progress

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testClockSeconds = 1700000000

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected sqlite open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected db handle error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Enrollment{}, &CourseProgress{}, &LessonProgress{}); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, cfg StoreConfig) *Store {
	t.Helper()
	if cfg.Database == nil {
		cfg.Database = newTestDatabase(t)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Unix(testClockSeconds, 0).UTC() }
	}
	return NewStore(cfg)
}

func mustCourseID(t *testing.T, value int64) CourseID {
	t.Helper()
	id, err := NewCourseID(value)
	if err != nil {
		t.Fatalf("unexpected course id error: %v", err)
	}
	return id
}

func mustLessonID(t *testing.T, value int64) LessonID {
	t.Helper()
	id, err := NewLessonID(value)
	if err != nil {
		t.Fatalf("unexpected lesson id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value int64) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}
