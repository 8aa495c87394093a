package operator

import "context"

// Broadcast forwards wm to every downstream Sender, stopping at the first
// error. Used by Source and passthrough operators (Map, Filter, KeyBy) to
// implement the "watermarks propagate immediately" rule of spec §4.9.
func Broadcast(ctx context.Context, downstream []Sender, wm Watermark) error {
	for _, d := range downstream {
		if err := d.SendWatermark(ctx, wm); err != nil {
			return err
		}
	}
	return nil
}

// MultiInputTracker computes the watermark an operator with several named
// upstream inputs should emit: the minimum across all inputs' latest
// watermark, so a window operator never advances past event time still
// live on a slower input. Single-input operators don't need this — they
// can forward the incoming watermark directly.
type MultiInputTracker struct {
	latest        map[string]int64
	combinedCache int64
}

// NewMultiInputTracker returns a tracker seeded at the zero watermark for
// each named input.
func NewMultiInputTracker(inputs ...string) *MultiInputTracker {
	t := &MultiInputTracker{latest: make(map[string]int64, len(inputs))}
	for _, in := range inputs {
		t.latest[in] = 0
	}
	return t
}

// Advance records a new watermark from input and returns the combined
// (minimum-across-inputs) watermark along with whether it advanced past
// the previous combined value.
func (t *MultiInputTracker) Advance(input string, wm Watermark) (combined Watermark, advanced bool) {
	if wm.Time > t.latest[input] {
		t.latest[input] = wm.Time
	}

	min := int64(-1)
	for _, v := range t.latest {
		if min == -1 || v < min {
			min = v
		}
	}
	if min < 0 {
		min = 0
	}

	prev := t.combined()
	t.combinedCache = min
	return Watermark{Time: min}, min > prev
}

func (t *MultiInputTracker) combined() int64 {
	return t.combinedCache
}
