package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	redialBaseDelay = time.Second
	redialMaxDelay  = 30 * time.Second
	dialTimeout     = 5 * time.Second
)

// WSWatcher keeps a websocket open to the backend event stream and turns
// its lifecycle into monitor hints: an established socket means online, a
// broken read means offline. Dial failures only back off; the poll probe
// stays the authority on unreachability.
type WSWatcher struct {
	url     string
	monitor *Monitor
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWSWatcher derives the ws:// event URL from the backend base URL.
func NewWSWatcher(baseURL string, monitor *Monitor, logger *slog.Logger) *WSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	url := "ws" + strings.TrimPrefix(strings.TrimSuffix(baseURL, "/"), "http") + "/api/events"
	return &WSWatcher{
		url:     url,
		monitor: monitor,
		logger:  logger.With("component", "wswatcher"),
	}
}

// Start launches the dial/read loop.
func (w *WSWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("netmon: watcher already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("realtime watcher started", "url", w.url)
	return nil
}

// Stop closes the watcher. Idempotent.
func (w *WSWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("realtime watcher stopped")
}

func (w *WSWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	attempt := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := websocket.Dial(dctx, w.url, nil)
		cancel()
		if err != nil {
			w.logger.Debug("event stream dial failed", "attempt", attempt, "error", err)
			if !w.sleep(ctx, backoffDelay(attempt)) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		w.monitor.SignalOnline("realtime")
		w.read(ctx, conn)

		// A socket dropped by shutdown is not an offline hint.
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.monitor.SignalOffline("realtime", "event stream closed")
	}
}

// read blocks on the socket until it breaks or the watcher stops. Event
// payloads are ignored; the open socket itself is the signal.
func (w *WSWatcher) read(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.Read(rctx); err != nil {
				return
			}
		}
	}()

	select {
	case <-w.stopCh:
	case <-ctx.Done():
	case <-done:
	}
}

// sleep waits for d or until shutdown; false means stop.
func (w *WSWatcher) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay grows exponentially from redialBaseDelay up to redialMaxDelay.
// attempt is unbounded during a long outage, so large exponents pin to the
// cap before the product can overflow time.Duration.
func backoffDelay(attempt int) time.Duration {
	if attempt >= 6 {
		// 2^5 * redialBaseDelay already exceeds redialMaxDelay.
		return redialMaxDelay
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * redialBaseDelay
	if delay > redialMaxDelay {
		return redialMaxDelay
	}
	return delay
}
