package window

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowbus/flowbus/operator"
)

// TumblingAssigner buckets a timestamp into floor(t / size) * size windows
// (spec §4.11 event-time tumbling window).
type TumblingAssigner struct {
	Size int64 // window length, same unit as the timestamps assigned (unix nanos)
}

func (a TumblingAssigner) Assign(ts int64) []Window {
	start := (ts / a.Size) * a.Size
	return []Window{{Start: start, End: start + a.Size}}
}

// TumblingOperator buffers elements by event-time window and emits every
// window whose end has passed on a watermark (spec §4.11: "On watermark
// Wm, emits every window whose end <= Wm"). Late elements (event time <
// current watermark) are dropped by default. The operator emits each
// ready window as a single []operator.Element batch.
type TumblingOperator struct {
	name      string
	assigner  TumblingAssigner
	extractTs func(elem operator.Element) int64
	node      *operator.Node

	mu        sync.Mutex
	buckets   map[int64][]operator.Element // keyed by window start
	watermark int64
}

// NewTumblingOperator builds a TumblingOperator named name, bucketing by
// assigner and extracting event time via extractTs.
func NewTumblingOperator(name string, assigner TumblingAssigner, extractTs func(elem operator.Element) int64) *TumblingOperator {
	return &TumblingOperator{
		name:      name,
		assigner:  assigner,
		extractTs: extractTs,
		buckets:   make(map[int64][]operator.Element),
	}
}

func (t *TumblingOperator) Attach(n *operator.Node) { t.node = n }

func (t *TumblingOperator) Name() string { return t.name }

func (t *TumblingOperator) Process(ctx context.Context, elem operator.Element) error {
	ts := t.extractTs(elem)

	t.mu.Lock()
	if ts < t.watermark {
		t.mu.Unlock()
		return nil // late element, dropped by default
	}
	windows := t.assigner.Assign(ts)
	for _, w := range windows {
		t.buckets[w.Start] = append(t.buckets[w.Start], elem)
	}
	t.mu.Unlock()
	return nil
}

func (t *TumblingOperator) ProcessWatermark(ctx context.Context, wm operator.Watermark) error {
	t.mu.Lock()
	if wm.Time <= t.watermark {
		t.mu.Unlock()
		return nil
	}
	t.watermark = wm.Time

	var ready []int64
	for start := range t.buckets {
		if start+t.assigner.Size <= wm.Time {
			ready = append(ready, start)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	batches := make(map[int64][]operator.Element, len(ready))
	for _, start := range ready {
		batches[start] = t.buckets[start]
		delete(t.buckets, start)
	}
	t.mu.Unlock()

	for _, start := range ready {
		for _, d := range t.node.Downstream() {
			if err := d.Enqueue(ctx, batches[start]); err != nil {
				return err
			}
		}
	}
	return operator.Broadcast(ctx, t.node.Downstream(), wm)
}

func (t *TumblingOperator) Snapshot() operator.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := make(operator.State, len(t.buckets)+1)
	st["watermark"] = t.watermark
	for start, elems := range t.buckets {
		st[fmt.Sprintf("bucket_%d", start)] = elems
	}
	return st
}

func (t *TumblingOperator) Restore(st operator.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[int64][]operator.Element)
	for k, v := range st {
		if k == "watermark" {
			if wm, ok := toInt64(v); ok {
				t.watermark = wm
			}
			continue
		}
		var start int64
		if _, err := fmt.Sscanf(k, "bucket_%d", &start); err == nil {
			if elems, ok := v.([]operator.Element); ok {
				t.buckets[start] = elems
			}
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
