// Package manager wires the queue, connectivity monitor, classifier,
// and sync coordinator into the facade the daemon surfaces. All
// collaborators are injected; Build performs the production wiring.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/strideworks/solesync/internal/backend"
	"github.com/strideworks/solesync/internal/classify"
	"github.com/strideworks/solesync/internal/config"
	"github.com/strideworks/solesync/internal/maintenance"
	"github.com/strideworks/solesync/internal/netmon"
	"github.com/strideworks/solesync/internal/notify"
	"github.com/strideworks/solesync/internal/queue"
	"github.com/strideworks/solesync/internal/syncer"
)

// Deps carries the manager's collaborators. Watcher, Worker, Maintenance,
// and Store are optional.
type Deps struct {
	Queue       *queue.Queue
	Monitor     *netmon.Monitor
	Watcher     *netmon.WSWatcher
	Classifier  *classify.Classifier
	Coordinator *syncer.Coordinator
	Bus         *notify.Bus
	Worker      notify.WorkerLink
	Maintenance *maintenance.Runner
	Store       queue.Store
	Rules       *classify.Rules
}

// workerOutboxSize caps transition messages waiting on the broker.
const workerOutboxSize = 16

// Manager is the daemon's public surface over the offline sync machinery.
type Manager struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	workerCh chan notify.WorkerMessage
	workerWG sync.WaitGroup

	mu      sync.Mutex
	uctx    classify.UserContext
	started bool
	cleaned bool
}

// New creates a manager from pre-built collaborators.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Rules == nil {
		deps.Rules = classify.DefaultRules()
	}
	if deps.Bus == nil {
		deps.Bus = notify.NewBus(logger)
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "manager"),
	}
}

// Build performs the production wiring from config: sqlite-backed queue,
// backend client serving as probe, ranker and remote caller, monitor,
// optional websocket watcher, optional MQTT worker link, and the
// maintenance jobs.
func Build(cfg *config.Config, logger *slog.Logger) (_ *Manager, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := queue.OpenSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("manager: open store: %w", err)
	}

	// The manager owns the store and the worker link once Build returns;
	// error paths below must not leak them.
	var worker notify.WorkerLink
	defer func() {
		if err != nil {
			if worker != nil {
				_ = worker.Close()
			}
			_ = store.Close()
		}
	}()

	q := queue.New(queue.Limits{
		MaxSize:             cfg.Queue.MaxSize,
		MaxRetryAttempts:    cfg.Queue.MaxRetryAttempts,
		SyncBatchSize:       cfg.Queue.SyncBatchSize,
		ImmediateThreshold:  cfg.Queue.PriorityThresholds.Immediate,
		BackgroundThreshold: cfg.Queue.PriorityThresholds.Background,
	}, store, logger)

	client := backend.New(backend.Config{
		BaseURL:       cfg.Backend.URL,
		DeploymentKey: cfg.Backend.DeploymentKey,
		DeviceID:      cfg.Backend.DeviceID,
		CallTimeout:   time.Duration(cfg.Backend.CallTimeoutSeconds) * time.Second,
		TokenTTL:      time.Duration(cfg.Backend.TokenTTLMinutes) * time.Minute,
	}, logger)

	rules := classify.DefaultRules()
	if cfg.Queue.RulesPath != "" {
		loaded, err := classify.LoadRules(cfg.Queue.RulesPath)
		switch {
		case err == nil:
			rules = loaded
		case errors.Is(err, os.ErrNotExist):
			// A rules file that simply does not exist is the normal case.
			logger.Debug("no priority rules file, using defaults", "path", cfg.Queue.RulesPath)
		default:
			logger.Warn("priority rules unavailable, using defaults", "path", cfg.Queue.RulesPath, "error", err)
		}
	}

	classifier := classify.NewClassifier(classify.Thresholds{
		Immediate:  cfg.Queue.PriorityThresholds.Immediate,
		Background: cfg.Queue.PriorityThresholds.Background,
	}, client, logger)

	coordinator := syncer.New(syncer.Config{
		SyncBatchSize:    cfg.Queue.SyncBatchSize,
		MaxRetryAttempts: cfg.Queue.MaxRetryAttempts,
		OpTimeout:        time.Duration(cfg.Sync.OpTimeoutSeconds) * time.Second,
		BucketPause:      time.Duration(cfg.Sync.BucketPauseMillis) * time.Millisecond,
		DeferredPause:    time.Duration(cfg.Sync.DeferredPauseMillis) * time.Millisecond,
		BatchPause:       time.Duration(cfg.Sync.BatchPauseMillis) * time.Millisecond,
	}, q, classifier, client, logger)

	monitor := netmon.NewMonitor(netmon.Config{
		CheckInterval: time.Duration(cfg.Monitor.CheckIntervalSeconds) * time.Second,
		ProbeTimeout:  time.Duration(cfg.Monitor.ProbeTimeoutSeconds) * time.Second,
		Dwell:         time.Duration(cfg.Monitor.DwellMillis) * time.Millisecond,
	}, client, logger)

	var watcher *netmon.WSWatcher
	if cfg.Monitor.RealtimeEvents {
		watcher = netmon.NewWSWatcher(cfg.Backend.URL, monitor, logger)
	}

	if cfg.Worker.Enabled {
		link, err := notify.NewMQTTWorkerLink(notify.MQTTConfig{
			BrokerURL:   cfg.Worker.BrokerURL,
			ClientID:    cfg.Worker.ClientID,
			TopicPrefix: cfg.Worker.TopicPrefix,
			Username:    cfg.Worker.Username,
			Password:    cfg.Worker.Password,
		}, logger)
		if err != nil {
			// The worker is advisory; a dead broker must not block startup.
			logger.Warn("worker link unavailable", "error", err)
		} else {
			worker = link
		}
	}

	var maint *maintenance.Runner
	if cfg.Maintenance.Enabled {
		maint = maintenance.NewRunner(logger)
		retention := time.Duration(cfg.Maintenance.DroppedRetentionDays) * 24 * time.Hour
		if err := maint.Add("compaction", cfg.CompactionScheduleOrDefault(),
			maintenance.CompactionJob(store, retention, logger)); err != nil {
			return nil, err
		}
		if err := maint.Add("status", cfg.StatusScheduleOrDefault(),
			maintenance.StatusJob(q, coordinator, monitor, logger)); err != nil {
			return nil, err
		}
	}

	return New(cfg, Deps{
		Queue:       q,
		Monitor:     monitor,
		Watcher:     watcher,
		Classifier:  classifier,
		Coordinator: coordinator,
		Bus:         notify.NewBus(logger),
		Worker:      worker,
		Maintenance: maint,
		Store:       store,
		Rules:       rules,
	}, logger), nil
}

// QueueOperation captures a remote call for later sync. A negative
// priority resolves through the rules file. It reports the assigned
// operation ID and whether the operation was accepted.
func (m *Manager) QueueOperation(kind queue.Kind, name string, args json.RawMessage, priority int, opCtx queue.OpContext) (string, bool) {
	if priority < 0 {
		priority = m.deps.Rules.PriorityFor(name)
	}
	if opCtx == (queue.OpContext{}) {
		u := m.UserContext()
		opCtx = queue.OpContext{Route: u.Route, DeviceClass: u.DeviceClass, NetworkClass: u.NetworkClass}
	}

	op := &queue.Operation{
		Kind:     kind,
		Name:     name,
		Args:     args,
		Priority: priority,
		Context:  opCtx,
	}
	if !m.deps.Queue.Enqueue(op) {
		return "", false
	}
	return op.ID, true
}

// ManualSync runs a user-initiated pass. False means disconnected.
func (m *Manager) ManualSync(ctx context.Context) bool {
	return m.deps.Coordinator.ManualSync(ctx, m.UserContext())
}

// ClearQueue discards every pending operation.
func (m *Manager) ClearQueue() {
	m.deps.Queue.Clear()
}

// QueueStatus reports the partitioned queue counts.
func (m *Manager) QueueStatus() queue.Status {
	return m.deps.Queue.Status(m.deps.Coordinator.Running())
}

// ConnectionState returns the monitor's current view of the link.
func (m *Manager) ConnectionState() netmon.ConnectionState {
	return m.deps.Monitor.State()
}

// SyncStats returns the coordinator's cumulative counters.
func (m *Manager) SyncStats() syncer.Stats {
	return m.deps.Coordinator.Stats()
}

// MaintenanceStates reports housekeeping job state, nil when maintenance
// is disabled.
func (m *Manager) MaintenanceStates() map[string]maintenance.JobState {
	if m.deps.Maintenance == nil {
		return nil
	}
	return m.deps.Maintenance.States()
}

// AddConnectionListener subscribes fn to state changes and returns its
// unsubscribe func.
func (m *Manager) AddConnectionListener(fn func(netmon.ConnectionState)) func() {
	return m.deps.Bus.Subscribe(fn)
}

// IsOffline reports whether the backend is currently unreachable.
func (m *Manager) IsOffline() bool {
	return !m.deps.Monitor.IsConnected()
}

// SetUserContext records the activity context attached to future
// operations and sync passes.
func (m *Manager) SetUserContext(uctx classify.UserContext) {
	m.mu.Lock()
	m.uctx = uctx
	m.mu.Unlock()
}

// UserContext returns the current activity context.
func (m *Manager) UserContext() classify.UserContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uctx
}

// Start restores the queue and launches the monitor, the watcher, and
// maintenance. Transitions publish to the bus; arriving at connected
// also kicks off a sync pass, and the worker link hears about outages
// and recoveries.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager: already started")
	}
	m.started = true
	if m.deps.Worker != nil {
		m.workerCh = make(chan notify.WorkerMessage, workerOutboxSize)
	}
	m.mu.Unlock()

	m.deps.Queue.Restore()
	m.deps.Coordinator.SetConnected(m.deps.Monitor.IsConnected)
	m.deps.Monitor.OnTransition(m.onTransition)

	if m.workerCh != nil {
		m.workerWG.Add(1)
		go m.forwardWorkerMessages()
	}

	if err := m.deps.Monitor.Start(ctx); err != nil {
		return err
	}
	if m.deps.Watcher != nil {
		if err := m.deps.Watcher.Start(ctx); err != nil {
			return err
		}
	}
	if m.deps.Maintenance != nil {
		if err := m.deps.Maintenance.Start(ctx); err != nil {
			return err
		}
	}

	m.logger.Info("sync manager started",
		"queued", m.deps.Queue.Len(),
		"backend", m.cfg.Backend.URL,
		"worker", m.deps.Worker != nil)
	return nil
}

func (m *Manager) onTransition(old, state netmon.ConnectionState) {
	m.deps.Bus.Publish(state)

	switch {
	case state.State == netmon.StateConnected && old.State != netmon.StateConnected:
		// The pass must outlive the transition and any later shutdown.
		go m.deps.Coordinator.StartSync(context.Background(), m.UserContext())
		if old.State == netmon.StateDisconnected {
			m.postWorker(notify.NewWorkerMessage(notify.MessageConnectionRestored, ""))
		}
	case state.State == netmon.StateDisconnected:
		m.postWorker(notify.NewWorkerMessage(notify.MessageEnableOfflineMode, state.DisconnectReason))
	}
}

// postWorker hands a message to the outbox goroutine. Broker publishes
// can block for seconds; the transition handler must not.
func (m *Manager) postWorker(msg notify.WorkerMessage) {
	if m.workerCh == nil {
		return
	}
	select {
	case m.workerCh <- msg:
	default:
		m.logger.Warn("worker outbox full, dropping message", "type", msg.Type)
	}
}

// forwardWorkerMessages delivers outbox messages one at a time, keeping
// broker delivery in transition order.
func (m *Manager) forwardWorkerMessages() {
	defer m.workerWG.Done()
	for msg := range m.workerCh {
		notify.NotifyWorker(context.Background(), m.deps.Worker, msg, m.logger)
	}
}

// Cleanup stops the monitor, watcher, and maintenance, drains the worker
// outbox, then closes the worker link and the store. The queue is left
// intact and an in-flight pass is not aborted. Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	m.cleaned = true
	outbox := m.workerCh
	m.mu.Unlock()

	if m.deps.Maintenance != nil {
		m.deps.Maintenance.Stop()
	}
	if m.deps.Watcher != nil {
		m.deps.Watcher.Stop()
	}
	m.deps.Monitor.Stop()
	m.deps.Bus.Clear()

	// Watcher and monitor are stopped, so no transition can post again;
	// flush what is queued before the link closes.
	if outbox != nil {
		close(outbox)
		m.workerWG.Wait()
	}

	if m.deps.Worker != nil {
		if err := m.deps.Worker.Close(); err != nil {
			m.logger.Warn("worker link close failed", "error", err)
		}
	}
	if m.deps.Store != nil {
		if err := m.deps.Store.Close(); err != nil {
			m.logger.Warn("store close failed", "error", err)
		}
	}

	m.logger.Info("sync manager stopped")
}
