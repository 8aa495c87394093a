package window

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/flowbus/flowbus/operator"
)

// SlidingOperator buffers elements and, on the first element after an
// emission (or since start), arms a timer for Size; when the timer fires
// the buffer is emitted as one batch (spec §4.11 processing-time sliding
// window). Emission happens off the operator's own Process goroutine, so
// it takes a background context at construction rather than reusing
// whatever context a given Process call arrived with.
type SlidingOperator struct {
	name string
	size time.Duration
	ctx  context.Context
	node *operator.Node

	logger log.Logger

	mu      sync.Mutex
	buf     []operator.Element
	timer   *time.Timer
	armedAt int64 // unix nanos, for snapshot/restore
}

// NewSlidingOperator builds a SlidingOperator named name with window
// length size. bg is used as the context for timer-triggered emissions.
func NewSlidingOperator(name string, size time.Duration, bg context.Context, logger log.Logger) *SlidingOperator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SlidingOperator{name: name, size: size, ctx: bg, logger: logger}
}

func (s *SlidingOperator) Attach(n *operator.Node) { s.node = n }

func (s *SlidingOperator) Name() string { return s.name }

func (s *SlidingOperator) Process(ctx context.Context, elem operator.Element) error {
	s.mu.Lock()
	s.buf = append(s.buf, elem)
	if s.timer == nil {
		s.armedAt = time.Now().UnixNano()
		s.timer = time.AfterFunc(s.size, s.emit)
	}
	s.mu.Unlock()
	return nil
}

func (s *SlidingOperator) emit() {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.timer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, d := range s.node.Downstream() {
		if err := d.Enqueue(s.ctx, batch); err != nil {
			level.Warn(s.logger).Log("msg", "sliding window emit failed", "operator", s.name, "err", err)
			return
		}
	}
}

func (s *SlidingOperator) ProcessWatermark(ctx context.Context, wm operator.Watermark) error {
	return operator.Broadcast(ctx, s.node.Downstream(), wm)
}

func (s *SlidingOperator) Snapshot() operator.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return operator.State{
		"buf":      append([]operator.Element{}, s.buf...),
		"armed_at": s.armedAt,
	}
}

func (s *SlidingOperator) Restore(st operator.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := st["buf"].([]operator.Element); ok {
		s.buf = append([]operator.Element{}, buf...)
	}
	if armedAt, ok := toInt64(st["armed_at"]); ok {
		s.armedAt = armedAt
	}
	// Re-arm against the window's original deadline rather than a fresh
	// full window, so a restart doesn't silently extend every in-flight
	// window by up to Size.
	if len(s.buf) > 0 {
		elapsed := time.Duration(time.Now().UnixNano() - s.armedAt)
		remaining := s.size - elapsed
		if remaining < 0 {
			remaining = 0
		}
		s.timer = time.AfterFunc(remaining, s.emit)
	}
}
