package operator

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowbus/flowbus/ferrors"
)

var metricInboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowbus",
	Subsystem: "operator",
	Name:      "inbox_depth",
	Help:      "Current number of buffered elements in an operator's inbox.",
}, []string{"operator"})

// Node wraps an Operator with a bounded inbox and a fan-out list of
// downstream Senders, implementing the back-pressure contract of spec
// §4.9: Enqueue blocks the caller while the inbox is full.
type Node struct {
	op         Operator
	inbox      chan Element
	downstream []Sender
	logger     log.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// attacher is implemented by operators that forward output to downstream
// Senders (everything but Sink) and need a back-reference to their owning
// Node to reach Downstream().
type attacher interface {
	Attach(n *Node)
}

// NewNode builds a Node around op with the given inbox capacity.
func NewNode(op Operator, cfg Config, logger log.Logger) *Node {
	cfg.applyDefaults()
	n := &Node{
		op:     op,
		inbox:  make(chan Element, cfg.InboxCapacity),
		logger: nopIfNil(logger),
		done:   make(chan struct{}),
	}
	if a, ok := op.(attacher); ok {
		a.Attach(n)
	}
	return n
}

// ConnectTo adds downstream as a recipient of op's output. Operators decide
// for themselves (in Process) what, if anything, to forward; ConnectTo only
// registers the edge that a Map/Filter/etc. implementation forwards along.
func (n *Node) ConnectTo(downstream Sender) {
	n.downstream = append(n.downstream, downstream)
}

// Downstream returns the registered downstream Senders, for operator
// implementations (map.go etc.) that need to forward their own output.
func (n *Node) Downstream() []Sender { return n.downstream }

// Enqueue implements Sender: it blocks until the inbox has room or ctx is
// cancelled.
func (n *Node) Enqueue(ctx context.Context, elem Element) error {
	select {
	case n.inbox <- elem:
		metricInboxDepth.WithLabelValues(n.op.Name()).Set(float64(len(n.inbox)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ferrors.ErrCancelled, ctx.Err())
	}
}

// SendWatermark implements Sender: watermarks bypass the inbox and are
// delivered immediately (spec §4.9).
func (n *Node) SendWatermark(ctx context.Context, wm Watermark) error {
	if err := n.op.ProcessWatermark(ctx, wm); err != nil {
		return fmt.Errorf("%w: operator %s watermark: %v", ferrors.ErrHandler, n.op.Name(), err)
	}
	return nil
}

// Run drains the inbox, calling op.Process for each element, until ctx is
// cancelled and the inbox is empty.
func (n *Node) Run(ctx context.Context) {
	n.wg.Add(1)
	defer n.wg.Done()
	defer close(n.done)

	for {
		select {
		case elem := <-n.inbox:
			metricInboxDepth.WithLabelValues(n.op.Name()).Set(float64(len(n.inbox)))
			if err := n.op.Process(ctx, elem); err != nil {
				level.Error(n.logger).Log("msg", "operator processing failed", "operator", n.op.Name(), "err", err)
			}
		case <-ctx.Done():
			// Drain whatever is already buffered before exiting, so a
			// graceful shutdown doesn't silently drop enqueued work.
			for {
				select {
				case elem := <-n.inbox:
					if err := n.op.Process(context.Background(), elem); err != nil {
						level.Error(n.logger).Log("msg", "operator processing failed during drain", "operator", n.op.Name(), "err", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (n *Node) Wait() {
	<-n.done
}
