// Package classify partitions queued operations into sync buckets. A remote
// ranker can reorder the partition using operation metadata and client
// context; any ranker problem falls back to a deterministic local rule the
// caller cannot distinguish from the remote path.
package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/strideworks/solesync/internal/queue"
)

// UserContext describes where the client currently is. Forwarded to the
// ranker verbatim; never interpreted locally.
type UserContext struct {
	Route        string `json:"route,omitempty"`
	DeviceClass  string `json:"deviceClass,omitempty"`
	NetworkClass string `json:"networkClass,omitempty"`
}

// OpSummary is the metadata-only view of a queued operation sent to the
// ranker. Payloads stay local.
type OpSummary struct {
	ID         string     `json:"id"`
	Kind       queue.Kind `json:"kind"`
	Name       string     `json:"name"`
	Priority   int        `json:"priority"`
	RetryCount int        `json:"retryCount"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
}

// RankedIDs is the ranker's verdict: operation IDs per bucket.
type RankedIDs struct {
	Immediate  []string `json:"immediate"`
	Background []string `json:"background"`
	Deferred   []string `json:"deferred"`
}

// Partition is the per-pass bucket split. Buckets keep enqueue order.
type Partition struct {
	Immediate  []*queue.Operation
	Background []*queue.Operation
	Deferred   []*queue.Operation
}

// Bucket pairs a label with its operations for ordered processing.
type Bucket struct {
	Label string
	Ops   []*queue.Operation
}

// Ordered returns the buckets in strict sync order.
func (p Partition) Ordered() []Bucket {
	return []Bucket{
		{"immediate", p.Immediate},
		{"background", p.Background},
		{"deferred", p.Deferred},
	}
}

// Total counts operations across all buckets.
func (p Partition) Total() int {
	return len(p.Immediate) + len(p.Background) + len(p.Deferred)
}

// RemoteRanker scores a queue snapshot remotely.
type RemoteRanker interface {
	Prioritize(ctx context.Context, ops []OpSummary, uctx UserContext) (*RankedIDs, error)
}

// Thresholds drive the local partition rule.
type Thresholds struct {
	Immediate  int
	Background int
}

// Classifier wraps the ranker with the local fallback.
type Classifier struct {
	ranker     RemoteRanker
	thresholds Thresholds
	logger     *slog.Logger
}

// NewClassifier creates a classifier. A nil ranker means local-only.
func NewClassifier(thresholds Thresholds, ranker RemoteRanker, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		ranker:     ranker,
		thresholds: thresholds,
		logger:     logger.With("component", "classify"),
	}
}

// Classify partitions ops for one sync pass. The result is ephemeral:
// nothing is written back to the operations.
func (c *Classifier) Classify(ctx context.Context, ops []*queue.Operation, uctx UserContext) Partition {
	if c.ranker == nil || len(ops) == 0 {
		return PartitionByThreshold(ops, c.thresholds)
	}

	ranked, err := c.ranker.Prioritize(ctx, Summaries(ops), uctx)
	if err != nil || ranked == nil {
		c.logger.Debug("ranker unavailable, partitioning locally", "error", err)
		return PartitionByThreshold(ops, c.thresholds)
	}

	return c.applyRanked(ops, ranked)
}

// PartitionByThreshold is the deterministic local rule: priority >=
// Immediate goes first, >= Background second, the rest last. Pure function
// of its inputs.
func PartitionByThreshold(ops []*queue.Operation, th Thresholds) Partition {
	var p Partition
	for _, op := range ops {
		switch {
		case op.Priority >= th.Immediate:
			p.Immediate = append(p.Immediate, op)
		case op.Priority >= th.Background:
			p.Background = append(p.Background, op)
		default:
			p.Deferred = append(p.Deferred, op)
		}
	}
	return p
}

// Summaries strips payloads for the ranker call.
func Summaries(ops []*queue.Operation) []OpSummary {
	out := make([]OpSummary, len(ops))
	for i, op := range ops {
		out[i] = OpSummary{
			ID:         op.ID,
			Kind:       op.Kind,
			Name:       op.Name,
			Priority:   op.Priority,
			RetryCount: op.RetryCount,
			EnqueuedAt: op.EnqueuedAt,
		}
	}
	return out
}

// applyRanked places each operation in the ranker's bucket. IDs the ranker
// never mentioned fall back to the local rule; IDs it invented are ignored.
// Iterating ops in enqueue order keeps every bucket FIFO.
func (c *Classifier) applyRanked(ops []*queue.Operation, ranked *RankedIDs) Partition {
	buckets := make(map[string]int, len(ops))
	for _, id := range ranked.Immediate {
		setOnce(buckets, id, 0)
	}
	for _, id := range ranked.Background {
		setOnce(buckets, id, 1)
	}
	for _, id := range ranked.Deferred {
		setOnce(buckets, id, 2)
	}

	var p Partition
	for _, op := range ops {
		bucket, mentioned := buckets[op.ID]
		if !mentioned {
			switch {
			case op.Priority >= c.thresholds.Immediate:
				bucket = 0
			case op.Priority >= c.thresholds.Background:
				bucket = 1
			default:
				bucket = 2
			}
		}
		switch bucket {
		case 0:
			p.Immediate = append(p.Immediate, op)
		case 1:
			p.Background = append(p.Background, op)
		default:
			p.Deferred = append(p.Deferred, op)
		}
	}
	return p
}

// setOnce keeps the first bucket a duplicated ID was listed in.
func setOnce(m map[string]int, id string, bucket int) {
	if _, ok := m[id]; !ok {
		m[id] = bucket
	}
}
