package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message types understood by the external worker.
const (
	MessageConnectionRestored = "CONNECTION_RESTORED"
	MessageEnableOfflineMode  = "ENABLE_OFFLINE_MODE"
)

// WorkerMessage is the payload posted to the external worker when the
// connection state flips.
type WorkerMessage struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// NewWorkerMessage builds a message with a fresh ID and timestamp.
func NewWorkerMessage(msgType, detail string) WorkerMessage {
	return WorkerMessage{
		ID:     uuid.New().String(),
		Type:   msgType,
		At:     time.Now().UTC(),
		Detail: detail,
	}
}

// WorkerLink posts messages to an external worker process.
type WorkerLink interface {
	Post(ctx context.Context, msg WorkerMessage) error
	Close() error
}

// NotifyWorker sends msg over link. A nil link means no worker is
// configured and is not an error; a failed post is logged and swallowed
// so connectivity handling never stalls on the worker.
func NotifyWorker(ctx context.Context, link WorkerLink, msg WorkerMessage, logger *slog.Logger) {
	if link == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := link.Post(ctx, msg); err != nil {
		logger.Debug("worker post failed", "type", msg.Type, "error", err)
	}
}
