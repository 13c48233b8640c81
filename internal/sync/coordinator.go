package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/lumenlearn/coursesync/internal/progress"
	"github.com/lumenlearn/coursesync/internal/remote"
	"go.uber.org/zap"
)

var (
	errMissingStore     = errors.New("local progress store is required")
	errRemoteRejected   = errors.New("remote call rejected")
	errUnknownOperation = errors.New("unknown queued operation")
	noOpLogger          = zap.NewNop()
)

const (
	opCoordinatorNew      = "sync.coordinator.new"
	opIsEnrolled          = "sync.is_enrolled_in_course"
	opEnrollFree          = "sync.enroll_in_free_course"
	opMarkLessonCompleted = "sync.mark_lesson_completed"
	opCourseProgress      = "sync.course_progress"
	opSyncToServer        = "sync.to_server"
	opSyncFromServer      = "sync.from_server"
	opDrain               = "sync.drain"
)

// CoordinatorError carries an operation-coded failure raised at construction.
type CoordinatorError struct {
	code string
	err  error
}

func (e *CoordinatorError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CoordinatorError) Unwrap() error {
	return e.err
}

// Code returns the operation-coded failure identifier.
func (e *CoordinatorError) Code() string {
	return e.code
}

func newCoordinatorError(operation, reason string, cause error) error {
	return &CoordinatorError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RemoteAPI is the contract the coordinator needs from the remote
// enrollment/progress authority.
type RemoteAPI interface {
	IsUserEnrolled(ctx context.Context, courseID, userID int64) (bool, remote.CallResult, error)
	EnrollInCourse(ctx context.Context, courseID, userID int64) (remote.CallResult, error)
	MarkLessonCompleted(ctx context.Context, lessonID, courseID, userID int64) (remote.CallResult, error)
	GetCourseProgress(ctx context.Context, courseID, userID int64) (*remote.CourseProgressData, remote.CallResult, error)
	GetUserEnrollments(ctx context.Context, userID int64) ([]remote.EnrollmentData, remote.CallResult, error)
	GetUserProgress(ctx context.Context, userID int64) ([]remote.CourseProgressData, remote.CallResult, error)
}

// SyncedCounts reports how many records a sync run touched, per collection.
type SyncedCounts struct {
	Enrollments int `json:"enrollments"`
	Progress    int `json:"progress"`
	Lessons     int `json:"lessons"`
}

// SyncResult is the outcome of an explicit sync call. The coordinator never
// raises; failures are reported through Success and Error.
type SyncResult struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Synced  SyncedCounts `json:"synced"`
}

// CoordinatorConfig describes the dependencies for a sync coordinator.
type CoordinatorConfig struct {
	Store *progress.Store
	// Remote may be nil: the coordinator then runs local-only, queuing
	// mutating operations until a capable coordinator drains them.
	Remote RemoteAPI
	// UserID identifies the user on the remote authority. Zero disables
	// remote reconciliation the same way a missing client does.
	UserID      int64
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	StartOnline bool
}

// Coordinator wraps the local progress store with opportunistic remote
// reconciliation and a best-effort retry queue for deferred writes. Remote
// failures never escape its public methods: every one is caught, logged and
// converted into a queued retry or a silent fallback to local state.
type Coordinator struct {
	store  *progress.Store
	remote RemoteAPI
	userID int64
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger

	mu     gosync.Mutex
	online bool
	queue  retryQueue
}

// NewCoordinator constructs a sync coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newCoordinatorError(opCoordinatorNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Coordinator{
		store:  cfg.Store,
		remote: cfg.Remote,
		userID: cfg.UserID,
		clock:  clock,
		ids:    ids,
		logger: logger,
		online: cfg.StartOnline,
	}, nil
}

// UserID returns the user identity the coordinator reads and writes under.
func (c *Coordinator) UserID() int64 {
	return c.userID
}

// Online reports the current connectivity flag.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline transitions the connectivity flag. The offline-to-online
// transition triggers a drain of the retry queue.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	c.mu.Unlock()

	if online && !wasOnline {
		c.drain(ctx)
	}
}

// QueueLength returns the number of deferred operations awaiting replay.
func (c *Coordinator) QueueLength() int {
	return c.queue.length()
}

// PendingOperations returns a copy of the queued operations for inspection.
func (c *Coordinator) PendingOperations() []QueueEntry {
	return c.queue.snapshot()
}

// IsEnrolledInCourse answers from local state, then consults the remote
// authority when possible. Remote wins on disagreement: a remote enrollment
// unknown locally is backfilled into the store. Remote failures fall back
// silently to the local answer.
func (c *Coordinator) IsEnrolledInCourse(ctx context.Context, courseID progress.CourseID) bool {
	local := c.store.IsEnrolled(courseID, progress.UserID(c.userID))
	if !c.Online() || !c.remoteCapable() {
		return local
	}

	enrolled, result, err := c.remote.IsUserEnrolled(ctx, courseID.Int64(), c.userID)
	if err != nil || result.Failed() {
		c.logRemoteFailure(opIsEnrolled, result, err, zap.Int64("course_id", courseID.Int64()))
		return local
	}
	if enrolled && !local {
		c.store.Enroll(courseID, progress.UserID(c.userID), progress.MethodFree)
	}
	return enrolled
}

// EnrollInFreeCourse enrolls locally first, then mirrors the enrollment to
// the remote authority best-effort. Local success is authoritative for the
// caller; a failed, offline or incapable remote step leaves a queued retry.
func (c *Coordinator) EnrollInFreeCourse(ctx context.Context, courseID progress.CourseID) bool {
	if !c.store.Enroll(courseID, progress.UserID(c.userID), progress.MethodFree) {
		return false
	}

	if c.Online() && c.remoteCapable() {
		result, err := c.remote.EnrollInCourse(ctx, courseID.Int64(), c.userID)
		if err != nil || result.Failed() {
			c.logRemoteFailure(opEnrollFree, result, err, zap.Int64("course_id", courseID.Int64()))
			c.enqueue(OperationEnroll, courseID.Int64(), 0)
		}
	} else {
		c.enqueue(OperationEnroll, courseID.Int64(), 0)
	}
	return true
}

// MarkLessonCompleted updates local completion state, then mirrors the event
// to the remote authority best-effort, queuing a retry on failure or while
// offline.
func (c *Coordinator) MarkLessonCompleted(ctx context.Context, lessonID progress.LessonID, courseID progress.CourseID) {
	c.store.MarkLessonCompleted(lessonID, courseID, progress.UserID(c.userID))

	if c.Online() && c.remoteCapable() {
		result, err := c.remote.MarkLessonCompleted(ctx, lessonID.Int64(), courseID.Int64(), c.userID)
		if err != nil || result.Failed() {
			c.logRemoteFailure(opMarkLessonCompleted, result, err,
				zap.Int64("lesson_id", lessonID.Int64()),
				zap.Int64("course_id", courseID.Int64()))
			c.enqueue(OperationCompleteLesson, courseID.Int64(), lessonID.Int64())
		}
	} else {
		c.enqueue(OperationCompleteLesson, courseID.Int64(), lessonID.Int64())
	}
}

// CourseProgress reads local progress and reconciles it with the remote
// authority when possible, persisting the merged record before returning it.
// Remote failures return the local record unchanged.
func (c *Coordinator) CourseProgress(ctx context.Context, courseID progress.CourseID) (progress.CourseProgress, bool) {
	local, found := c.store.CourseProgress(courseID, progress.UserID(c.userID))
	if !c.Online() || !c.remoteCapable() {
		return local, found
	}

	data, result, err := c.remote.GetCourseProgress(ctx, courseID.Int64(), c.userID)
	if err != nil || result.Failed() {
		c.logRemoteFailure(opCourseProgress, result, err, zap.Int64("course_id", courseID.Int64()))
		return local, found
	}
	if data == nil {
		return local, found
	}

	merged := mergeCourseProgress(local, *data, c.clock().UTC())
	if !found {
		c.store.Enroll(courseID, progress.UserID(c.userID), progress.MethodFree)
	}
	overall := merged.OverallProgress
	startedAt := merged.StartedAtSeconds
	c.store.UpdateCourseProgress(courseID, progress.CourseProgressPatch{
		CompletedLessons:     merged.CompletedLessons,
		CompletedQuizzes:     merged.CompletedQuizzes,
		CompletedAssignments: merged.CompletedAssignments,
		OverallProgress:      &overall,
		StartedAtSeconds:     &startedAt,
		CompletedAtSeconds:   merged.CompletedAtSeconds,
	}, progress.UserID(c.userID))
	return merged, true
}

// SyncToServer drains the retry queue and reports how many deferred writes
// were replayed. It fails closed when offline or remote-incapable.
func (c *Coordinator) SyncToServer(ctx context.Context) SyncResult {
	if !c.Online() {
		return SyncResult{Success: false, Error: "offline: sync requires connectivity"}
	}
	if !c.remoteCapable() {
		return SyncResult{Success: false, Error: "remote client or user identity not configured"}
	}
	counts := c.drain(ctx)
	return SyncResult{Success: true, Synced: counts}
}

// SyncFromServer pulls the user's full remote enrollment and progress lists
// and reports their sizes. The pulled lists are not merged back into the
// local store; the result is a counts-only diagnostic.
func (c *Coordinator) SyncFromServer(ctx context.Context) SyncResult {
	if !c.Online() {
		return SyncResult{Success: false, Error: "offline: sync requires connectivity"}
	}
	if !c.remoteCapable() {
		return SyncResult{Success: false, Error: "remote client or user identity not configured"}
	}

	enrollments, result, err := c.remote.GetUserEnrollments(ctx, c.userID)
	if err != nil || result.Failed() {
		c.logRemoteFailure(opSyncFromServer, result, err)
		return SyncResult{Success: false, Error: remoteFailureMessage(result, err)}
	}
	progressList, result, err := c.remote.GetUserProgress(ctx, c.userID)
	if err != nil || result.Failed() {
		c.logRemoteFailure(opSyncFromServer, result, err)
		return SyncResult{Success: false, Error: remoteFailureMessage(result, err)}
	}

	return SyncResult{
		Success: true,
		Synced: SyncedCounts{
			Enrollments: len(enrollments),
			Progress:    len(progressList),
		},
	}
}

// drain replays the current queue snapshot in FIFO order. Entries that fail
// are pushed back onto the live queue for a future drain; entries queued
// during the drain keep their position behind the re-pushed failures.
func (c *Coordinator) drain(ctx context.Context) SyncedCounts {
	counts := SyncedCounts{}
	if !c.remoteCapable() {
		return counts
	}
	entries := c.queue.takeAll()
	if len(entries) == 0 {
		return counts
	}

	for _, entry := range entries {
		if err := c.replay(ctx, entry); err != nil {
			c.logger.Warn("queued operation replay failed",
				zap.String("operation", opDrain),
				zap.String("entry_id", entry.ID),
				zap.String("kind", string(entry.Kind)),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			entry.Attempts++
			c.queue.push(entry)
			continue
		}
		switch entry.Kind {
		case OperationEnroll:
			counts.Enrollments++
		case OperationCompleteLesson:
			counts.Lessons++
		}
	}
	return counts
}

func (c *Coordinator) replay(ctx context.Context, entry QueueEntry) error {
	switch entry.Kind {
	case OperationEnroll:
		result, err := c.remote.EnrollInCourse(ctx, entry.CourseID, entry.UserID)
		if err != nil {
			return err
		}
		if result.Failed() {
			return fmt.Errorf("%w: %s", errRemoteRejected, result.Error)
		}
		return nil
	case OperationCompleteLesson:
		result, err := c.remote.MarkLessonCompleted(ctx, entry.LessonID, entry.CourseID, entry.UserID)
		if err != nil {
			return err
		}
		if result.Failed() {
			return fmt.Errorf("%w: %s", errRemoteRejected, result.Error)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownOperation, entry.Kind)
	}
}

func (c *Coordinator) enqueue(kind OperationKind, courseID, lessonID int64) {
	entryID, err := c.ids.NewID()
	if err != nil {
		// Queue entries stay usable without an id; it only aids inspection.
		c.logger.Warn("queue entry id generation failed", zap.Error(err))
	}
	c.queue.push(QueueEntry{
		ID:                entryID,
		Kind:              kind,
		CourseID:          courseID,
		LessonID:          lessonID,
		UserID:            c.userID,
		EnqueuedAtSeconds: c.clock().UTC().Unix(),
	})
}

func (c *Coordinator) remoteCapable() bool {
	return c.remote != nil && c.userID > 0
}

func (c *Coordinator) logRemoteFailure(operation string, result remote.CallResult, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.Int("status", result.Status),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	} else if result.Error != "" {
		attrs = append(attrs, zap.String("remote_error", result.Error))
	}
	attrs = append(attrs, fields...)
	c.logger.Warn("remote call failed, continuing with local state", attrs...)
}

func remoteFailureMessage(result remote.CallResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.Error != "" {
		return result.Error
	}
	return errRemoteRejected.Error()
}
