package operator

import "context"

// MapFunc transforms one element into another (spec §4.9: Map f: T -> U).
type MapFunc func(elem Element) (Element, error)

// MapOperator applies fn to each element and forwards the result to every
// downstream Sender.
type MapOperator struct {
	name string
	fn   MapFunc
	node *Node
}

// NewMapOperator builds a MapOperator named name.
func NewMapOperator(name string, fn MapFunc) *MapOperator {
	return &MapOperator{name: name, fn: fn}
}

func (m *MapOperator) Attach(n *Node) { m.node = n }

func (m *MapOperator) Name() string { return m.name }

func (m *MapOperator) Process(ctx context.Context, elem Element) error {
	out, err := m.fn(elem)
	if err != nil {
		return err
	}
	for _, d := range m.node.Downstream() {
		if err := d.Enqueue(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (m *MapOperator) ProcessWatermark(ctx context.Context, wm Watermark) error {
	return Broadcast(ctx, m.node.Downstream(), wm)
}

func (m *MapOperator) Snapshot() State { return State{} }
func (m *MapOperator) Restore(st State) {}
