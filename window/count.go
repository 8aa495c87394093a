package window

import (
	"context"
	"sync"

	"github.com/flowbus/flowbus/operator"
)

// CountOperator accumulates Size elements then emits them as a single
// []operator.Element batch (spec §4.11 count window).
type CountOperator struct {
	name string
	size int
	node *operator.Node

	mu  sync.Mutex
	buf []operator.Element
}

// NewCountOperator builds a CountOperator named name that batches every
// size elements.
func NewCountOperator(name string, size int) *CountOperator {
	return &CountOperator{name: name, size: size}
}

func (c *CountOperator) Attach(n *operator.Node) { c.node = n }

func (c *CountOperator) Name() string { return c.name }

func (c *CountOperator) Process(ctx context.Context, elem operator.Element) error {
	c.mu.Lock()
	c.buf = append(c.buf, elem)
	var batch []operator.Element
	if len(c.buf) >= c.size {
		batch = c.buf
		c.buf = nil
	}
	c.mu.Unlock()

	if batch == nil {
		return nil
	}
	for _, d := range c.node.Downstream() {
		if err := d.Enqueue(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (c *CountOperator) ProcessWatermark(ctx context.Context, wm operator.Watermark) error {
	return operator.Broadcast(ctx, c.node.Downstream(), wm)
}

func (c *CountOperator) Snapshot() operator.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return operator.State{"buf": append([]operator.Element{}, c.buf...)}
}

func (c *CountOperator) Restore(st operator.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := st["buf"].([]operator.Element); ok {
		c.buf = append([]operator.Element{}, buf...)
	}
}
