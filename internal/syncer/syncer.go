// Package syncer drains the offline queue against the remote backend.
// A pass classifies the queued operations into priority buckets and
// settles each bucket in bounded concurrent batches. At most one pass
// runs at a time; connectivity restoration is the only automatic
// trigger.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strideworks/solesync/internal/classify"
	"github.com/strideworks/solesync/internal/queue"
)

// RemoteCaller executes a single queued operation against the backend.
type RemoteCaller interface {
	Call(ctx context.Context, op *queue.Operation) (json.RawMessage, error)
}

// Config holds pass pacing and retry limits.
type Config struct {
	SyncBatchSize    int
	MaxRetryAttempts int
	OpTimeout        time.Duration
	BucketPause      time.Duration
	DeferredPause    time.Duration
	BatchPause       time.Duration
}

// Stats are cumulative counters across passes.
type Stats struct {
	Passes     int       `json:"passes"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	LastPassAt time.Time `json:"lastPassAt"`
}

// Coordinator runs sync passes over the queue.
type Coordinator struct {
	cfg        Config
	queue      *queue.Queue
	classifier *classify.Classifier
	caller     RemoteCaller
	logger     *slog.Logger

	mu        sync.Mutex
	running   bool
	connected func() bool
	stats     Stats
}

// New creates a coordinator. Zero config values fall back to workable
// minimums so a partially filled Config cannot wedge a pass.
func New(cfg Config, q *queue.Queue, cls *classify.Classifier, caller RemoteCaller, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncBatchSize < 1 {
		cfg.SyncBatchSize = 1
	}
	if cfg.MaxRetryAttempts < 1 {
		cfg.MaxRetryAttempts = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		queue:      q,
		classifier: cls,
		caller:     caller,
		logger:     logger.With("component", "syncer"),
	}
}

// SetConnected installs the connectivity gate consulted before a pass.
// Without a gate the coordinator assumes it is connected.
func (c *Coordinator) SetConnected(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = fn
}

// Running reports whether a pass is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns a copy of the cumulative counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// StartSync runs one pass. It is a no-op while disconnected or while
// another pass is in flight. The in-progress flag is released on every
// exit path, including a panicking pass.
func (c *Coordinator) StartSync(ctx context.Context, uctx classify.UserContext) {
	if !c.connectedNow() {
		c.logger.Debug("sync skipped, not connected")
		return
	}
	if !c.tryBegin() {
		c.logger.Debug("sync already in progress")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sync pass panicked", "panic", r)
		}
		c.release()
	}()

	c.runPass(ctx, uctx)
}

// ManualSync is the user-initiated trigger. It returns false only when
// disconnected; a pass that is already running still counts as true
// because a sync is happening.
func (c *Coordinator) ManualSync(ctx context.Context, uctx classify.UserContext) bool {
	if !c.connectedNow() {
		c.logger.Info("manual sync refused, not connected")
		return false
	}
	c.StartSync(ctx, uctx)
	return true
}

func (c *Coordinator) connectedNow() bool {
	c.mu.Lock()
	fn := c.connected
	c.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn()
}

func (c *Coordinator) tryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Coordinator) runPass(ctx context.Context, uctx classify.UserContext) {
	ops := c.queue.Snapshot()
	if len(ops) == 0 {
		c.logger.Debug("sync pass skipped, queue empty")
		return
	}

	start := time.Now()
	part := c.classifier.Classify(ctx, ops, uctx)
	c.logger.Info("sync pass started",
		"total", part.Total(),
		"immediate", len(part.Immediate),
		"background", len(part.Background),
		"deferred", len(part.Deferred))

	var synced, failed, dropped int
	pauses := [3]time.Duration{0, c.cfg.BucketPause, c.cfg.DeferredPause}
	for i, bucket := range part.Ordered() {
		if len(bucket.Ops) == 0 {
			continue
		}
		c.pause(ctx, pauses[i])
		s, f, d := c.processBucket(ctx, bucket.Ops, bucket.Label)
		synced += s
		failed += f
		dropped += d
	}

	c.mu.Lock()
	c.stats.Passes++
	c.stats.Synced += synced
	c.stats.Failed += failed
	c.stats.Dropped += dropped
	c.stats.LastPassAt = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Info("sync pass finished",
		"synced", synced,
		"failed", failed,
		"dropped", dropped,
		"remaining", c.queue.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// processBucket settles ops in sub-batches of SyncBatchSize. Operations
// within a sub-batch run concurrently and all settle; one failure never
// cancels its siblings.
func (c *Coordinator) processBucket(ctx context.Context, ops []*queue.Operation, label string) (synced, failed, dropped int) {
	size := c.cfg.SyncBatchSize
	var nSynced, nFailed, nDropped atomic.Int64

	for at := 0; at < len(ops); at += size {
		end := min(at+size, len(ops))
		batch := ops[at:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for _, op := range batch {
			op := op
			g.Go(func() error {
				ok, wasDropped := c.executeOperation(gctx, op)
				switch {
				case ok:
					nSynced.Add(1)
				case wasDropped:
					nDropped.Add(1)
				default:
					nFailed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(ops) {
			c.pause(ctx, c.cfg.BatchPause)
		}
	}

	c.logger.Debug("bucket settled",
		"bucket", label,
		"ops", len(ops),
		"synced", nSynced.Load(),
		"failed", nFailed.Load(),
		"dropped", nDropped.Load())
	return int(nSynced.Load()), int(nFailed.Load()), int(nDropped.Load())
}

// executeOperation runs one remote call under the per-operation timeout.
// Success removes the operation; failure records a retry and drops the
// operation once it has exhausted MaxRetryAttempts.
func (c *Coordinator) executeOperation(ctx context.Context, op *queue.Operation) (ok, wasDropped bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	if _, err := c.caller.Call(opCtx, op); err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		retries, found := c.queue.RecordFailure(op.ID)
		if !found {
			// Removed out from under us (Clear); nothing left to retry.
			return false, false
		}
		if retries >= c.cfg.MaxRetryAttempts {
			c.queue.Drop(op.ID, err.Error())
			return false, true
		}
		c.logger.Warn("operation failed, will retry",
			"op", op.ID,
			"name", op.Name,
			"retries", retries,
			"max", c.cfg.MaxRetryAttempts,
			"timeout", timedOut,
			"error", err)
		return false, false
	}

	c.queue.Remove(op.ID)
	c.logger.Debug("operation synced", "op", op.ID, "name", op.Name)
	return true, false
}

func (c *Coordinator) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
