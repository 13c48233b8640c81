package sync

import "sync"

// OperationKind enumerates the deferred remote writes the queue can hold.
type OperationKind string

const (
	// OperationEnroll replays a remote course enrollment.
	OperationEnroll OperationKind = "enroll"
	// OperationCompleteLesson replays a remote lesson completion.
	OperationCompleteLesson OperationKind = "complete_lesson"
)

// QueueEntry is a deferred remote write captured as a tagged operation with
// explicit parameters, so the queue stays serializable and inspectable.
type QueueEntry struct {
	ID                string        `json:"id"`
	Kind              OperationKind `json:"kind"`
	CourseID          int64         `json:"course_id"`
	LessonID          int64         `json:"lesson_id,omitempty"`
	UserID            int64         `json:"user_id"`
	EnqueuedAtSeconds int64         `json:"enqueued_at_s"`
	Attempts          int           `json:"attempts"`
}

// retryQueue is a FIFO list of deferred remote operations. Entries live in
// process memory for the session only.
type retryQueue struct {
	mu      sync.Mutex
	entries []QueueEntry
}

func (q *retryQueue) push(entry QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
}

// takeAll removes and returns every queued entry. A drain operates on this
// snapshot while fresh entries may accumulate in the live queue.
func (q *retryQueue) takeAll() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	taken := q.entries
	q.entries = nil
	return taken
}

func (q *retryQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// snapshot returns a copy of the queued entries for inspection.
func (q *retryQueue) snapshot() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := make([]QueueEntry, len(q.entries))
	copy(copied, q.entries)
	return copied
}
