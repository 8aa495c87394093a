package operator

import "context"

// Predicate reports whether an element should pass (spec §4.9: Filter
// p: T -> bool).
type Predicate func(elem Element) bool

// FilterOperator forwards only elements for which pred returns true.
type FilterOperator struct {
	name string
	pred Predicate
	node *Node
}

// NewFilterOperator builds a FilterOperator named name.
func NewFilterOperator(name string, pred Predicate) *FilterOperator {
	return &FilterOperator{name: name, pred: pred}
}

func (f *FilterOperator) Attach(n *Node) { f.node = n }

func (f *FilterOperator) Name() string { return f.name }

func (f *FilterOperator) Process(ctx context.Context, elem Element) error {
	if !f.pred(elem) {
		return nil
	}
	for _, d := range f.node.Downstream() {
		if err := d.Enqueue(ctx, elem); err != nil {
			return err
		}
	}
	return nil
}

func (f *FilterOperator) ProcessWatermark(ctx context.Context, wm Watermark) error {
	return Broadcast(ctx, f.node.Downstream(), wm)
}

func (f *FilterOperator) Snapshot() State  { return State{} }
func (f *FilterOperator) Restore(st State) {}
