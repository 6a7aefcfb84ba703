// Package notify fans connection-state changes out to in-process listeners
// and, when configured, to an external worker over MQTT. Listener faults
// are isolated; the worker link is best-effort.
package notify

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/strideworks/solesync/internal/netmon"
)

// Bus delivers state changes to subscribed listeners in subscription
// order, synchronously with the transition that caused them.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]func(netmon.ConnectionState)
	nextID    int
	logger    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[int]func(netmon.ConnectionState)),
		logger:    logger.With("component", "notify"),
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
// Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(fn func(netmon.ConnectionState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Publish invokes every listener with the new state. A panicking listener
// is logged and skipped; the rest still run.
func (b *Bus) Publish(state netmon.ConnectionState) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(netmon.ConnectionState), len(ids))
	for i, id := range ids {
		fns[i] = b.listeners[id]
	}
	b.mu.Unlock()

	for i, fn := range fns {
		b.invoke(ids[i], fn, state)
	}
}

// Len reports the number of subscribed listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Clear drops all listeners.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[int]func(netmon.ConnectionState))
}

func (b *Bus) invoke(id int, fn func(netmon.ConnectionState), state netmon.ConnectionState) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("connection listener panicked", "listener", id, "panic", r)
		}
	}()
	fn(state)
}
