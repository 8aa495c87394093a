package operator

import "context"

// SinkFunc performs a side effect for one element. Returning an error fails
// that element's Process call (logged by the owning Node, not retried —
// retry/redelivery is the executor's concern upstream of the graph).
type SinkFunc func(ctx context.Context, elem Element) error

// SinkOperator is a terminal Operator (spec §4.9): it has no downstream and
// is stateless by default.
type SinkOperator struct {
	name string
	fn   SinkFunc
}

// NewSinkOperator builds a SinkOperator named name that calls fn for every
// element it receives.
func NewSinkOperator(name string, fn SinkFunc) *SinkOperator {
	return &SinkOperator{name: name, fn: fn}
}

func (s *SinkOperator) Name() string { return s.name }

func (s *SinkOperator) Process(ctx context.Context, elem Element) error {
	return s.fn(ctx, elem)
}

func (s *SinkOperator) ProcessWatermark(ctx context.Context, wm Watermark) error { return nil }

func (s *SinkOperator) Snapshot() State { return State{} }

func (s *SinkOperator) Restore(st State) {}
