// Package maintenance runs the daemon's housekeeping jobs on cron
// schedules: pruning and compacting the snapshot store, and logging a
// periodic operator heartbeat.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strideworks/solesync/internal/netmon"
	"github.com/strideworks/solesync/internal/queue"
	"github.com/strideworks/solesync/internal/syncer"
)

// Store is the slice of the snapshot store the compaction job touches.
type Store interface {
	PruneDropped(olderThan time.Time) (int64, error)
	Compact() error
}

// JobState tracks one job's execution history.
type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitzero"`
	NextRunAt  time.Time `json:"nextRunAt,omitzero"`
	RunCount   int64     `json:"runCount"`
	ErrorCount int64     `json:"errorCount"`
	LastError  string    `json:"lastError,omitempty"`
}

type job struct {
	name     string
	expr     string
	schedule cron.Schedule
	run      func(ctx context.Context) error

	mu    sync.Mutex
	state JobState
}

// Runner executes registered jobs when their schedules come due.
type Runner struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	byName  map[string]*job
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRunner creates an empty runner. Jobs are registered with Add before
// Start.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger.With("component", "maintenance"),
		byName: make(map[string]*job),
	}
}

// Add registers a job under a unique name with a standard cron schedule.
func (r *Runner) Add(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("maintenance: invalid schedule for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("maintenance: job %s already registered", name)
	}
	j := &job{name: name, expr: expr, schedule: schedule, run: run}
	r.jobs = append(r.jobs, j)
	r.byName[name] = j
	return nil
}

// Start launches the schedule loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("maintenance: already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	now := time.Now()
	for _, j := range jobs {
		j.mu.Lock()
		j.state.NextRunAt = j.schedule.Next(now)
		j.mu.Unlock()
	}

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("maintenance started", "jobs", len(jobs))
	return nil
}

// Stop halts the schedule loop. In-flight jobs finish first.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("maintenance stopped")
}

// RunNow executes a job immediately, bypassing its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("maintenance: unknown job %s", name)
	}
	return r.execute(ctx, j)
}

// States returns a snapshot of every job's state, keyed by name.
func (r *Runner) States() map[string]JobState {
	r.mu.Lock()
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	out := make(map[string]JobState, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out[j.name] = j.state
		j.mu.Unlock()
	}
	return out
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	// Schedules have minute granularity; a sub-minute tick keeps runs
	// from landing a full period late.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.runDue(ctx, now)
		}
	}
}

func (r *Runner) runDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		due := !j.state.NextRunAt.IsZero() && !now.Before(j.state.NextRunAt)
		j.mu.Unlock()
		if !due {
			continue
		}

		_ = r.execute(ctx, j)

		j.mu.Lock()
		j.state.NextRunAt = j.schedule.Next(time.Now())
		j.mu.Unlock()
	}
}

func (r *Runner) execute(ctx context.Context, j *job) error {
	start := time.Now()
	err := j.run(ctx)
	elapsed := time.Since(start)

	j.mu.Lock()
	j.state.LastRunAt = start
	j.state.RunCount++
	if err != nil {
		j.state.ErrorCount++
		j.state.LastError = err.Error()
	} else {
		j.state.LastError = ""
	}
	runs, errs := j.state.RunCount, j.state.ErrorCount
	j.mu.Unlock()

	if err != nil {
		r.logger.Error("job failed",
			"job", j.name, "error", err, "elapsed", elapsed, "runs", runs, "errors", errs)
		return err
	}
	r.logger.Debug("job completed", "job", j.name, "elapsed", elapsed, "runs", runs)
	return nil
}

// CompactionJob prunes drop records older than retention and compacts
// the store.
func CompactionJob(store Store, retention time.Duration, logger *slog.Logger) func(context.Context) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(context.Context) error {
		cutoff := time.Now().Add(-retention)
		pruned, err := store.PruneDropped(cutoff)
		if err != nil {
			return fmt.Errorf("maintenance: prune dropped: %w", err)
		}
		if err := store.Compact(); err != nil {
			return fmt.Errorf("maintenance: compact: %w", err)
		}
		logger.Info("store compacted", "pruned", pruned, "cutoff", cutoff.Format(time.RFC3339))
		return nil
	}
}

// StatusJob logs the queue, connection, and sync counters as an operator
// heartbeat.
func StatusJob(q *queue.Queue, coord *syncer.Coordinator, mon *netmon.Monitor, logger *slog.Logger) func(context.Context) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(context.Context) error {
		st := q.Status(coord.Running())
		conn := mon.State()
		stats := coord.Stats()
		logger.Info("status heartbeat",
			"state", conn.State,
			"queued", st.Total,
			"immediate", st.Immediate,
			"background", st.Background,
			"deferred", st.Deferred,
			"passes", stats.Passes,
			"synced", stats.Synced,
			"dropped", stats.Dropped)
		return nil
	}
}
