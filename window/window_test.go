package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbus/flowbus/operator"
)

type capture struct {
	mu   sync.Mutex
	vals []operator.Element
}

func newCaptureSink() (*operator.SinkOperator, *capture) {
	c := &capture{}
	return operator.NewSinkOperator("collect", func(ctx context.Context, elem operator.Element) error {
		c.mu.Lock()
		c.vals = append(c.vals, elem)
		c.mu.Unlock()
		return nil
	}), c
}

func (c *capture) snapshot() []operator.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]operator.Element, len(c.vals))
	copy(out, c.vals)
	return out
}

func TestTumblingAssignerBucketsByFloorDivision(t *testing.T) {
	a := TumblingAssigner{Size: 10}
	assert.Equal(t, []Window{{Start: 0, End: 10}}, a.Assign(5))
	assert.Equal(t, []Window{{Start: 10, End: 20}}, a.Assign(19))
	assert.Equal(t, []Window{{Start: 20, End: 30}}, a.Assign(20))
}

func TestCountOperatorEmitsEveryNElements(t *testing.T) {
	g := operator.NewGraph()
	countOp := NewCountOperator("batch3", 3)
	countNode := operator.NewNode(countOp, operator.Config{}, nil)
	g.Add(countNode)

	sinkOp, sink := newCaptureSink()
	sinkNode := operator.NewNode(sinkOp, operator.Config{}, nil)
	g.Add(sinkNode)
	countNode.ConnectTo(sinkNode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	for _, v := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, countNode.Enqueue(ctx, v))
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	batch := sink.snapshot()[0].([]operator.Element)
	assert.Equal(t, []operator.Element{1, 2, 3}, batch)
}

func TestTumblingOperatorEmitsOnWatermarkPastWindowEnd(t *testing.T) {
	g := operator.NewGraph()
	tumblingOp := NewTumblingOperator("tumble", TumblingAssigner{Size: 10}, func(elem operator.Element) int64 {
		return elem.(int64)
	})
	tumblingNode := operator.NewNode(tumblingOp, operator.Config{}, nil)
	g.Add(tumblingNode)

	sinkOp, sink := newCaptureSink()
	sinkNode := operator.NewNode(sinkOp, operator.Config{}, nil)
	g.Add(sinkNode)
	tumblingNode.ConnectTo(sinkNode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.NoError(t, tumblingNode.Enqueue(ctx, int64(3)))
	require.NoError(t, tumblingNode.Enqueue(ctx, int64(7)))
	require.NoError(t, tumblingNode.Enqueue(ctx, int64(15))) // falls in next window

	require.Eventually(t, func() bool {
		return len(tumblingOp.buckets) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tumblingNode.SendWatermark(ctx, operator.Watermark{Time: 10}))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	batch := sink.snapshot()[0].([]operator.Element)
	assert.ElementsMatch(t, []operator.Element{int64(3), int64(7)}, batch)
}

func TestTumblingOperatorDropsLateElements(t *testing.T) {
	tumblingOp := NewTumblingOperator("tumble", TumblingAssigner{Size: 10}, func(elem operator.Element) int64 {
		return elem.(int64)
	})
	node := operator.NewNode(tumblingOp, operator.Config{}, nil)
	_ = node

	ctx := context.Background()
	require.NoError(t, tumblingOp.ProcessWatermark(ctx, operator.Watermark{Time: 20}))
	require.NoError(t, tumblingOp.Process(ctx, int64(5))) // event time 5 < watermark 20: late

	tumblingOp.mu.Lock()
	defer tumblingOp.mu.Unlock()
	assert.Empty(t, tumblingOp.buckets)
}

func TestSlidingOperatorEmitsOnExpiry(t *testing.T) {
	g := operator.NewGraph()
	slidingOp := NewSlidingOperator("sliding", 30*time.Millisecond, context.Background(), nil)
	slidingNode := operator.NewNode(slidingOp, operator.Config{}, nil)
	g.Add(slidingNode)

	sinkOp, sink := newCaptureSink()
	sinkNode := operator.NewNode(sinkOp, operator.Config{}, nil)
	g.Add(sinkNode)
	slidingNode.ConnectTo(sinkNode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.NoError(t, slidingNode.Enqueue(ctx, "a"))
	require.NoError(t, slidingNode.Enqueue(ctx, "b"))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	batch := sink.snapshot()[0].([]operator.Element)
	assert.Equal(t, []operator.Element{"a", "b"}, batch)
}
