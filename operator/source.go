package operator

import "context"

// TimestampExtractor pulls the event-time timestamp (unix nanos) out of an
// element, for Sources that emit watermarks (spec §4.9).
type TimestampExtractor func(elem Element) int64

// SourceOperator is the graph's entry point: it is driven by its own Emit
// rather than by an upstream Node, and its only state is the highest event
// time seen so far (snapshotted as "max_ts"). Downstream wiring happens via
// the owning Node's ConnectTo.
type SourceOperator struct {
	name      string
	node      *Node
	extractor TimestampExtractor
	maxTs     int64
}

// NewSourceOperator builds a SourceOperator named name. extractor may be
// nil, in which case no watermarks are emitted.
func NewSourceOperator(name string, extractor TimestampExtractor) *SourceOperator {
	return &SourceOperator{name: name, extractor: extractor}
}

// Attach binds the operator to the Node wrapping it, so Emit can reach
// downstream. Called once by graph construction code.
func (s *SourceOperator) Attach(n *Node) { s.node = n }

func (s *SourceOperator) Name() string { return s.name }

// Emit pushes elem to every downstream Sender and, if a TimestampExtractor
// is configured, advances and broadcasts the watermark.
func (s *SourceOperator) Emit(ctx context.Context, elem Element) error {
	for _, d := range s.node.Downstream() {
		if err := d.Enqueue(ctx, elem); err != nil {
			return err
		}
	}
	if s.extractor == nil {
		return nil
	}
	ts := s.extractor(elem)
	if ts > s.maxTs {
		s.maxTs = ts
		return Broadcast(ctx, s.node.Downstream(), Watermark{Time: ts})
	}
	return nil
}

// Process is a no-op: a SourceOperator is driven by Emit, not by an
// upstream enqueue.
func (s *SourceOperator) Process(ctx context.Context, elem Element) error { return nil }

func (s *SourceOperator) ProcessWatermark(ctx context.Context, wm Watermark) error {
	return Broadcast(ctx, s.node.Downstream(), wm)
}

func (s *SourceOperator) Snapshot() State { return State{"max_ts": s.maxTs} }

func (s *SourceOperator) Restore(st State) {
	if v, ok := toInt64(st["max_ts"]); ok {
		s.maxTs = v
	}
}
