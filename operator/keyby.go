package operator

import "context"

// KeyFunc extracts the partitioning key of an element (spec §4.9: KeyBy
// k: T -> K).
type KeyFunc func(elem Element) any

// KeyByOperator wraps each element as a Keyed{Key, Value} pair and forwards
// it downstream, the input to any keyed aggregation (Reduce, windows).
type KeyByOperator struct {
	name string
	key  KeyFunc
	node *Node
}

// NewKeyByOperator builds a KeyByOperator named name.
func NewKeyByOperator(name string, key KeyFunc) *KeyByOperator {
	return &KeyByOperator{name: name, key: key}
}

func (k *KeyByOperator) Attach(n *Node) { k.node = n }

func (k *KeyByOperator) Name() string { return k.name }

func (k *KeyByOperator) Process(ctx context.Context, elem Element) error {
	out := Keyed{Key: k.key(elem), Value: elem}
	for _, d := range k.node.Downstream() {
		if err := d.Enqueue(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeyByOperator) ProcessWatermark(ctx context.Context, wm Watermark) error {
	return Broadcast(ctx, k.node.Downstream(), wm)
}

func (k *KeyByOperator) Snapshot() State  { return State{} }
func (k *KeyByOperator) Restore(st State) {}
