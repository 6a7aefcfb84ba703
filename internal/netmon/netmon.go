// Package netmon tracks reachability of the sync backend. A fixed-interval
// probe is the authoritative signal; realtime sources feed faster hints
// through SignalOnline/SignalOffline. Transitions are reported synchronously,
// in order, to a single handler.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State of the backend link.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// ConnectionState is the observable link state.
type ConnectionState struct {
	State             State     `json:"state"`
	HasBeenConnected  bool      `json:"hasBeenConnected"` // monotone once true
	LastConnectedAt   time.Time `json:"lastConnectedAt,omitzero"`
	DisconnectReason  string    `json:"disconnectReason,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"` // failed probes since last connected
}

// Probe performs one authoritative reachability round-trip.
type Probe interface {
	Check(ctx context.Context) error
}

// Config tunes connectivity detection.
type Config struct {
	CheckInterval time.Duration // poll cadence, default 2s
	ProbeTimeout  time.Duration // per-probe deadline, default 3s
	Dwell         time.Duration // 0 applies flips immediately; >0 requires the
	// observed state to hold for the window before the transition lands
}

// Monitor polls the probe and folds realtime hints into one state machine.
type Monitor struct {
	cfg    Config
	probe  Probe
	logger *slog.Logger

	// notifyMu serializes observations from commit through the handler
	// call so concurrent probe results and hints cannot deliver
	// transitions out of order. Always acquired before mu.
	notifyMu sync.Mutex

	mu           sync.Mutex
	state        ConnectionState
	pending      State
	pendingSince time.Time
	onTransition func(old, new ConnectionState)
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewMonitor creates a monitor starting in the connecting state.
func NewMonitor(cfg Config, probe Probe, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 2 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		probe:  probe,
		logger: logger.With("component", "netmon"),
		state:  ConnectionState{State: StateConnecting},
	}
}

// OnTransition registers the handler invoked synchronously on every state
// change. Calls arrive one at a time in transition order; signaling the
// monitor from inside the handler deadlocks. Register before Start.
func (m *Monitor) OnTransition(fn func(old, new ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Start launches the poll loop. The first probe fires immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("netmon: already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("connection monitor started", "interval", m.cfg.CheckInterval, "dwell", m.cfg.Dwell)
	return nil
}

// Stop halts polling. In-flight handler calls finish first. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("connection monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.check(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check performs one authoritative probe round-trip.
func (m *Monitor) check(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.probe.Check(cctx)
	latency := time.Since(start)

	if err != nil {
		m.logger.Debug("probe failed", "latency", latency, "error", err)
		m.observe(StateDisconnected, err.Error())
		return
	}
	m.logger.Debug("probe ok", "latency", latency)
	m.observe(StateConnected, "")
}

// SignalOnline feeds a fast online hint (realtime stream established, OS
// network event). The next probe confirms or overrides it.
func (m *Monitor) SignalOnline(source string) {
	m.logger.Debug("online hint", "source", source)
	m.observe(StateConnected, "")
}

// SignalOffline feeds a fast offline hint.
func (m *Monitor) SignalOffline(source, reason string) {
	m.logger.Debug("offline hint", "source", source, "reason", reason)
	m.observe(StateDisconnected, reason)
}

// State returns a copy of the current connection state.
func (m *Monitor) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the backend is currently reachable.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.State == StateConnected
}

// observe folds one observation into the state machine and fires the
// transition handler when the state actually changes. notifyMu is held
// until the handler returns, so a later observation cannot overtake an
// earlier one's delivery.
func (m *Monitor) observe(target State, reason string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()

	old := m.state
	if target == old.State {
		if target == StateDisconnected {
			m.state.ReconnectAttempts++
		}
		m.pending = ""
		m.mu.Unlock()
		return
	}

	if m.cfg.Dwell > 0 {
		now := time.Now()
		if m.pending != target {
			m.pending = target
			m.pendingSince = now
			m.mu.Unlock()
			return
		}
		if now.Sub(m.pendingSince) < m.cfg.Dwell {
			m.mu.Unlock()
			return
		}
	}
	m.pending = ""

	switch target {
	case StateConnected:
		m.state.State = StateConnected
		m.state.HasBeenConnected = true
		m.state.LastConnectedAt = time.Now().UTC()
		m.state.ReconnectAttempts = 0
		m.state.DisconnectReason = ""
	case StateDisconnected:
		m.state.State = StateDisconnected
		m.state.DisconnectReason = reason
	}

	next := m.state
	handler := m.onTransition
	m.mu.Unlock()

	m.logger.Info("connection state changed", "from", old.State, "to", next.State, "reason", reason)
	if handler != nil {
		handler(old, next)
	}
}
