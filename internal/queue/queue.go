// Package queue holds operations captured while the sync backend is
// unreachable: a bounded in-memory queue with priority-aware eviction,
// best-effort persistence after every mutation, and fail-open restore.
package queue

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two remote call surfaces.
type Kind string

const (
	KindMutation Kind = "mutation"
	KindAction   Kind = "action"
)

// OpContext captures where the operation was issued. Advisory only: it is
// forwarded to the priority ranker but never affects execution.
type OpContext struct {
	Route        string `json:"route,omitempty"`
	DeviceClass  string `json:"deviceClass,omitempty"`
	NetworkClass string `json:"networkClass,omitempty"`
}

// Operation is a deferred remote call waiting for connectivity.
type Operation struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Name           string          `json:"name"`
	Args           json.RawMessage `json:"args,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Priority       int             `json:"priority"` // 0..100, higher syncs earlier
	RetryCount     int             `json:"retryCount"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	Context        OpContext       `json:"context,omitempty"`
}

// Limits bounds the queue. Immutable after construction.
type Limits struct {
	MaxSize             int
	MaxRetryAttempts    int
	SyncBatchSize       int
	ImmediateThreshold  int // priority >= this syncs first
	BackgroundThreshold int // priority >= this syncs second; below is deferred
}

// DefaultLimits mirror the defaults shipped in the config file.
func DefaultLimits() Limits {
	return Limits{
		MaxSize:             100,
		MaxRetryAttempts:    3,
		SyncBatchSize:       5,
		ImmediateThreshold:  80,
		BackgroundThreshold: 50,
	}
}

// Status is a read-only view of the queue partitioned by the thresholds.
type Status struct {
	Total          int       `json:"total"`
	Immediate      int       `json:"immediate"`
	Background     int       `json:"background"`
	Deferred       int       `json:"deferred"`
	SyncInProgress bool      `json:"syncInProgress"`
	OldestEnqueued time.Time `json:"oldestEnqueued,omitzero"`
}

// Store persists the serialized queue between runs. Load returns (nil, nil)
// when nothing has been saved yet.
type Store interface {
	Save(data []byte) error
	Load() ([]byte, error)
	Close() error
}

// DropRecorder is an optional Store extension that keeps an audit trail of
// operations dropped after exhausting their retry budget.
type DropRecorder interface {
	RecordDrop(op *Operation, reason string) error
}

// Queue buffers operations while offline. All mutations go through its
// methods; the slice stays FIFO by enqueue time.
type Queue struct {
	mu     sync.Mutex
	ops    []*Operation
	limits Limits
	store  Store
	logger *slog.Logger
}

// New creates a queue backed by store. A nil store disables persistence.
func New(limits Limits, store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultLimits()
	if limits.MaxSize <= 0 {
		limits.MaxSize = def.MaxSize
	}
	if limits.MaxRetryAttempts <= 0 {
		limits.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if limits.SyncBatchSize <= 0 {
		limits.SyncBatchSize = def.SyncBatchSize
	}
	return &Queue{
		ops:    make([]*Operation, 0, limits.MaxSize),
		limits: limits,
		store:  store,
		logger: logger.With("component", "queue"),
	}
}

// Limits returns the bounds the queue was built with.
func (q *Queue) Limits() Limits {
	return q.limits
}

// Restore loads the persisted snapshot. Called once before the queue is
// handed out. Any failure (missing data, corrupt snapshot, version skew)
// leaves the queue empty: losing queued work beats refusing to start.
func (q *Queue) Restore() {
	if q.store == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		q.logger.Warn("restore failed, starting empty", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	ops, err := decodeSnapshot(data)
	if err != nil {
		q.logger.Warn("snapshot unusable, starting empty", "error", err)
		return
	}

	q.ops = ops
	if len(ops) > q.limits.MaxSize {
		// Size bound is enforced on enqueue; an oversized restore converges.
		q.logger.Warn("restored more operations than maxSize", "restored", len(ops), "maxSize", q.limits.MaxSize)
	}
	q.logger.Info("queue restored", "operations", len(ops))
}

// Enqueue adds an operation, filling in ID, idempotency key, and enqueue
// time when absent. On a full queue it evicts the oldest operation below
// the background threshold; if none qualifies it returns false and the
// queue is unchanged.
func (q *Queue) Enqueue(op *Operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) >= q.limits.MaxSize && !q.evictBelowBackground() {
		q.logger.Warn("queue full, no evictable operation", "name", op.Name, "priority", op.Priority)
		return false
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	if op.Priority < 0 {
		op.Priority = 0
	} else if op.Priority > 100 {
		op.Priority = 100
	}

	q.ops = append(q.ops, op)
	q.persistLocked()
	q.logger.Debug("operation queued", "id", op.ID, "kind", op.Kind, "name", op.Name, "priority", op.Priority)
	return true
}

// Remove deletes an operation by ID. Removing an absent ID is a no-op,
// but the state is re-persisted either way.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	q.persistLocked()
}

// RecordFailure increments the retry count for an operation and reports
// the new count. ok is false when the operation is no longer queued.
func (q *Queue) RecordFailure(id string) (retries int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			op.RetryCount++
			q.persistLocked()
			return op.RetryCount, true
		}
	}
	return 0, false
}

// Drop removes an operation that exhausted its retry budget and records it
// in the audit trail when the store supports one. This is the single place
// a permanent failure is logged.
func (q *Queue) Drop(id, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID != id {
			continue
		}
		q.ops = append(q.ops[:i], q.ops[i+1:]...)
		q.persistLocked()
		if rec, okRec := q.store.(DropRecorder); okRec {
			if err := rec.RecordDrop(op, reason); err != nil {
				q.logger.Warn("drop audit failed", "id", id, "error", err)
			}
		}
		q.logger.Error("operation permanently failed", "id", op.ID, "kind", op.Kind, "name", op.Name,
			"retries", op.RetryCount, "reason", reason)
		return true
	}
	return false
}

// Clear empties the queue. Idempotent.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = q.ops[:0]
	q.persistLocked()
}

// Snapshot returns a copy of the queued operations in enqueue order.
// Callers get shared pointers for reading; mutations go through the queue.
func (q *Queue) Snapshot() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Len returns the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Status reports partitioned counts for UI and operator surfaces.
func (q *Queue) Status(syncInProgress bool) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{Total: len(q.ops), SyncInProgress: syncInProgress}
	for _, op := range q.ops {
		switch {
		case op.Priority >= q.limits.ImmediateThreshold:
			st.Immediate++
		case op.Priority >= q.limits.BackgroundThreshold:
			st.Background++
		default:
			st.Deferred++
		}
		if st.OldestEnqueued.IsZero() || op.EnqueuedAt.Before(st.OldestEnqueued) {
			st.OldestEnqueued = op.EnqueuedAt
		}
	}
	return st
}

// evictBelowBackground removes the oldest operation whose priority is below
// the background threshold. Returns false when nothing qualifies.
// Must be called with lock held.
func (q *Queue) evictBelowBackground() bool {
	for i, op := range q.ops {
		if op.Priority < q.limits.BackgroundThreshold {
			q.logger.Debug("evicting queued operation", "id", op.ID, "name", op.Name, "priority", op.Priority)
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true
		}
	}
	return false
}

// persistLocked saves the current state best-effort. A persistence failure
// never unwinds the in-memory mutation. Must be called with lock held.
func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}

	data, err := encodeSnapshot(q.ops)
	if err != nil {
		q.logger.Warn("snapshot encode failed", "error", err)
		return
	}
	if err := q.store.Save(data); err != nil {
		q.logger.Warn("persist failed, continuing in memory", "error", err)
	}
}
