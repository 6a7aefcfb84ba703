package classify

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/strideworks/solesync/internal/queue"
)

// fakeRanker records calls and returns a canned verdict.
type fakeRanker struct {
	mu     sync.Mutex
	calls  int
	seen   []OpSummary
	ranked *RankedIDs
	err    error
}

func (r *fakeRanker) Prioritize(ctx context.Context, ops []OpSummary, uctx UserContext) (*RankedIDs, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.seen = ops
	return r.ranked, r.err
}

func testThresholds() Thresholds {
	return Thresholds{Immediate: 80, Background: 50}
}

func mkOps(priorities ...int) []*queue.Operation {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ops := make([]*queue.Operation, len(priorities))
	for i, p := range priorities {
		ops[i] = &queue.Operation{
			ID:         ids(i),
			Kind:       queue.KindMutation,
			Name:       "runs:record",
			Priority:   p,
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return ops
}

func ids(i int) string {
	return string(rune('a' + i))
}

func opIDs(ops []*queue.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestPartitionByThreshold(t *testing.T) {
	ops := mkOps(90, 60, 20)
	p := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"a"}) {
		t.Errorf("immediate: expected [a], got %v", opIDs(p.Immediate))
	}
	if !reflect.DeepEqual(opIDs(p.Background), []string{"b"}) {
		t.Errorf("background: expected [b], got %v", opIDs(p.Background))
	}
	if !reflect.DeepEqual(opIDs(p.Deferred), []string{"c"}) {
		t.Errorf("deferred: expected [c], got %v", opIDs(p.Deferred))
	}
}

func TestPartitionBoundaries(t *testing.T) {
	ops := mkOps(80, 79, 50, 49)
	p := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"a"}) {
		t.Errorf("priority 80 belongs to immediate, got %v", opIDs(p.Immediate))
	}
	if !reflect.DeepEqual(opIDs(p.Background), []string{"b", "c"}) {
		t.Errorf("priorities 79 and 50 belong to background, got %v", opIDs(p.Background))
	}
	if !reflect.DeepEqual(opIDs(p.Deferred), []string{"d"}) {
		t.Errorf("priority 49 belongs to deferred, got %v", opIDs(p.Deferred))
	}
}

func TestPartitionDeterministic(t *testing.T) {
	ops := mkOps(95, 80, 73, 50, 12, 0, 100)

	first := PartitionByThreshold(ops, testThresholds())
	second := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(first, second) {
		t.Error("local partition must be deterministic for identical input")
	}
}

func TestPartitionKeepsFIFO(t *testing.T) {
	ops := mkOps(90, 85, 95)
	p := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"a", "b", "c"}) {
		t.Errorf("bucket must keep enqueue order, got %v", opIDs(p.Immediate))
	}
}

func TestClassifyUsesRanker(t *testing.T) {
	ops := mkOps(90, 60, 20)
	// The ranker promotes the low-priority op and demotes the high one.
	ranker := &fakeRanker{ranked: &RankedIDs{
		Immediate: []string{"c"},
		Deferred:  []string{"a"},
		Background: []string{
			"b",
		},
	}}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	p := c.Classify(context.Background(), ops, UserContext{Route: "/shoes"})

	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"c"}) {
		t.Errorf("expected ranker verdict for immediate, got %v", opIDs(p.Immediate))
	}
	if !reflect.DeepEqual(opIDs(p.Deferred), []string{"a"}) {
		t.Errorf("expected ranker verdict for deferred, got %v", opIDs(p.Deferred))
	}
	if ranker.calls != 1 {
		t.Errorf("expected one ranker call, got %d", ranker.calls)
	}
}

func TestClassifyFallbackOnRankerError(t *testing.T) {
	ops := mkOps(90, 60, 20)
	ranker := &fakeRanker{err: errors.New("service unavailable")}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	got := c.Classify(context.Background(), ops, UserContext{})
	want := PartitionByThreshold(ops, testThresholds())

	// A ranker failure is invisible: the result is exactly the local rule.
	if !reflect.DeepEqual(got, want) {
		t.Error("fallback partition must match the local rule")
	}
}

func TestClassifyFallbackOnNilVerdict(t *testing.T) {
	ops := mkOps(90, 20)
	c := NewClassifier(testThresholds(), &fakeRanker{}, slog.Default())

	got := c.Classify(context.Background(), ops, UserContext{})
	want := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(got, want) {
		t.Error("nil verdict must fall back to the local rule")
	}
}

func TestClassifyNilRanker(t *testing.T) {
	ops := mkOps(90, 20)
	c := NewClassifier(testThresholds(), nil, slog.Default())

	got := c.Classify(context.Background(), ops, UserContext{})
	want := PartitionByThreshold(ops, testThresholds())

	if !reflect.DeepEqual(got, want) {
		t.Error("nil ranker must use the local rule")
	}
}

func TestClassifyIgnoresUnknownIDs(t *testing.T) {
	ops := mkOps(90)
	ranker := &fakeRanker{ranked: &RankedIDs{
		Immediate: []string{"a", "ghost"},
		Deferred:  []string{"phantom"},
	}}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	p := c.Classify(context.Background(), ops, UserContext{})

	if p.Total() != 1 {
		t.Fatalf("expected 1 operation total, got %d", p.Total())
	}
	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"a"}) {
		t.Errorf("expected [a] immediate, got %v", opIDs(p.Immediate))
	}
}

func TestClassifyUnmentionedUseLocalRule(t *testing.T) {
	ops := mkOps(90, 60, 20)
	// The ranker only speaks to op b; a and c fall back to thresholds.
	ranker := &fakeRanker{ranked: &RankedIDs{Deferred: []string{"b"}}}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	p := c.Classify(context.Background(), ops, UserContext{})

	if !reflect.DeepEqual(opIDs(p.Immediate), []string{"a"}) {
		t.Errorf("unmentioned a belongs to immediate, got %v", opIDs(p.Immediate))
	}
	if !reflect.DeepEqual(opIDs(p.Deferred), []string{"b", "c"}) {
		t.Errorf("expected [b c] deferred, got %v", opIDs(p.Deferred))
	}
}

func TestClassifyDuplicateIDKeepsFirstBucket(t *testing.T) {
	ops := mkOps(20)
	ranker := &fakeRanker{ranked: &RankedIDs{
		Immediate: []string{"a"},
		Deferred:  []string{"a"},
	}}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	p := c.Classify(context.Background(), ops, UserContext{})

	if len(p.Immediate) != 1 || len(p.Deferred) != 0 {
		t.Errorf("duplicated id should keep its first bucket, got %d/%d/%d",
			len(p.Immediate), len(p.Background), len(p.Deferred))
	}
}

func TestClassifyEmptyQueueSkipsRanker(t *testing.T) {
	ranker := &fakeRanker{}
	c := NewClassifier(testThresholds(), ranker, slog.Default())

	p := c.Classify(context.Background(), nil, UserContext{})

	if p.Total() != 0 {
		t.Errorf("expected empty partition, got %d", p.Total())
	}
	if ranker.calls != 0 {
		t.Errorf("empty queue should not call the ranker, got %d calls", ranker.calls)
	}
}

func TestSummariesCarryMetadataOnly(t *testing.T) {
	op := &queue.Operation{
		ID:         "op-1",
		Kind:       queue.KindAction,
		Name:       "runs:export",
		Args:       []byte(`{"secret":"payload"}`),
		Priority:   70,
		RetryCount: 2,
		EnqueuedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	s := Summaries([]*queue.Operation{op})

	if len(s) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(s))
	}
	if s[0].ID != "op-1" || s[0].Kind != queue.KindAction || s[0].Name != "runs:export" {
		t.Errorf("summary fields mangled: %+v", s[0])
	}
	if s[0].Priority != 70 || s[0].RetryCount != 2 {
		t.Errorf("summary counters mangled: %+v", s[0])
	}
}

func TestOrderedBuckets(t *testing.T) {
	p := PartitionByThreshold(mkOps(90, 60, 20), testThresholds())

	labels := []string{}
	for _, b := range p.Ordered() {
		labels = append(labels, b.Label)
	}
	if !reflect.DeepEqual(labels, []string{"immediate", "background", "deferred"}) {
		t.Errorf("bucket order wrong: %v", labels)
	}
}
