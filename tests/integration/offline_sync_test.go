package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lumenlearn/coursesync/internal/database"
	"github.com/lumenlearn/coursesync/internal/progress"
	"github.com/lumenlearn/coursesync/internal/remote"
	coursesync "github.com/lumenlearn/coursesync/internal/sync"
)

const testUserID = 42

// fakeLMS is an httptest-backed remote authority recording the writes it
// receives.
type fakeLMS struct {
	mu          sync.Mutex
	enrollCalls []map[string]int64
	lessonCalls []map[string]int64
	progress    map[int64]map[string]interface{}
}

func (s *fakeLMS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enrollments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.enrollCalls = append(s.enrollCalls, body)
		s.mu.Unlock()
		writeEnvelope(w, map[string]interface{}{"success": true, "status": 200})
	})
	mux.HandleFunc("POST /lessons/complete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.lessonCalls = append(s.lessonCalls, body)
		s.mu.Unlock()
		writeEnvelope(w, map[string]interface{}{"success": true, "status": 200})
	})
	mux.HandleFunc("GET /progress/course", func(w http.ResponseWriter, r *http.Request) {
		courseID, err := strconv.ParseInt(r.URL.Query().Get("course_id"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		data := s.progress[courseID]
		s.mu.Unlock()
		writeEnvelope(w, map[string]interface{}{"success": true, "status": 200, "data": data})
	})
	mux.HandleFunc("GET /enrollments", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]interface{}{
			"success": true,
			"status":  200,
			"data": []map[string]int64{
				{"course_id": 7, "user_id": testUserID},
			},
		})
	})
	mux.HandleFunc("GET /progress", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]interface{}{
			"success": true,
			"status":  200,
			"data":    []map[string]interface{}{},
		})
	})
	return mux
}

func (s *fakeLMS) enrollCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enrollCalls)
}

func (s *fakeLMS) lessonCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lessonCalls)
}

func (s *fakeLMS) enrollCall(index int) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollCalls[index]
}

func writeEnvelope(w http.ResponseWriter, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

func newStack(t *testing.T, baseURL string) (*progress.Store, *coursesync.Coordinator) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "integration.db"), nil)
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	store := progress.NewStore(progress.StoreConfig{Database: db, Clock: time.Now})

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL:     baseURL,
		Credentials: remote.Credentials{Token: "integration-token"},
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	coordinator, err := coursesync.NewCoordinator(coursesync.CoordinatorConfig{
		Store:       store,
		Remote:      client,
		UserID:      testUserID,
		StartOnline: false,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}
	return store, coordinator
}

func TestOfflineEnrollmentReconcilesOnReconnect(t *testing.T) {
	lms := &fakeLMS{}
	server := httptest.NewServer(lms.handler())
	defer server.Close()

	store, coordinator := newStack(t, server.URL)
	ctx := context.Background()

	if !coordinator.EnrollInFreeCourse(ctx, mustCourseID(t, 7)) {
		t.Fatalf("offline enrollment should report local success")
	}
	if !store.IsEnrolled(mustCourseID(t, 7), progress.UserID(testUserID)) {
		t.Fatalf("local store should hold the enrollment immediately")
	}
	if got := coordinator.QueueLength(); got != 1 {
		t.Fatalf("expected one queued write, got %d", got)
	}
	if lms.enrollCallCount() != 0 {
		t.Fatalf("the remote must not see offline writes")
	}

	coordinator.SetOnline(ctx, true)

	if got := coordinator.QueueLength(); got != 0 {
		t.Fatalf("reconnect should drain the queue, %d left", got)
	}
	if lms.enrollCallCount() != 1 {
		t.Fatalf("expected one replayed enrollment, got %d", lms.enrollCallCount())
	}
	replayed := lms.enrollCall(0)
	if replayed["course_id"] != 7 || replayed["user_id"] != testUserID {
		t.Fatalf("unexpected replayed call: %+v", replayed)
	}
}

func TestLessonCompletionAndRemoteMerge(t *testing.T) {
	lms := &fakeLMS{progress: map[int64]map[string]interface{}{
		7: {
			"course_id":         int64(7),
			"user_id":           int64(testUserID),
			"completed_lessons": []int64{3, 4},
			"overall_progress":  40,
		},
	}}
	server := httptest.NewServer(lms.handler())
	defer server.Close()

	store, coordinator := newStack(t, server.URL)
	ctx := context.Background()
	coordinator.SetOnline(ctx, true)

	coordinator.EnrollInFreeCourse(ctx, mustCourseID(t, 7))
	coordinator.MarkLessonCompleted(ctx, mustLessonID(t, 3), mustCourseID(t, 7))

	if lms.lessonCallCount() != 1 {
		t.Fatalf("expected one remote lesson call, got %d", lms.lessonCallCount())
	}

	merged, found := coordinator.CourseProgress(ctx, mustCourseID(t, 7))
	if !found {
		t.Fatalf("expected merged course progress")
	}
	if len(merged.CompletedLessons) != 2 {
		t.Fatalf("remote completed set should win, got %v", merged.CompletedLessons)
	}
	if merged.OverallProgress != 40 {
		t.Fatalf("remote overall progress should win, got %d", merged.OverallProgress)
	}

	persisted, _ := store.CourseProgress(mustCourseID(t, 7), progress.UserID(testUserID))
	if len(persisted.CompletedLessons) != 2 || persisted.OverallProgress != 40 {
		t.Fatalf("merged record should be persisted locally: %+v", persisted)
	}

	result := coordinator.SyncFromServer(ctx)
	if !result.Success || result.Synced.Enrollments != 1 {
		t.Fatalf("unexpected pull result: %+v", result)
	}
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
