// Package operator implements the Operator Runtime (spec §4.9): a
// dataflow graph of named operators connected by bounded, back-pressuring
// inboxes, with watermarks bypassing the inbox to propagate immediately.
// Goroutines + buffered channels stand in for the original's cooperative
// event loop (REDESIGN FLAGS item 2). Grounded in friggdb/pool/pool.go's
// worker-pool idiom (bounded work queue, one goroutine per worker) and
// z5labs-humus's at_most_once.go staged-pipeline shape
// (other_examples/544cf35c_z5labs-humus__queue-kafka-at_most_once.go.go).
package operator

import (
	"context"
	"flag"

	"github.com/go-kit/log"
)

// Element is one value flowing through the graph. KeyBy wraps T into a
// Keyed value; everything else passes its native type through unchanged.
type Element any

// Keyed is the output of a KeyBy operator: an element tagged with its
// extracted key.
type Keyed struct {
	Key   any
	Value any
}

// Watermark is a monotonically non-decreasing event-time bound: "no future
// element with event time < Time will appear" (spec §4.9).
type Watermark struct {
	Time int64 // unix nanos
}

// State is the opaque snapshot an operator returns from Snapshot and
// accepts back via Restore (spec §4.9's snapshot_state/restore_state).
type State map[string]any

// Operator is the capability set of spec §4.9: process an element, react
// to a watermark, and snapshot/restore state. Implementations must not
// retain ctx beyond the call.
type Operator interface {
	Name() string
	Process(ctx context.Context, elem Element) error
	ProcessWatermark(ctx context.Context, wm Watermark) error
	Snapshot() State
	Restore(s State)
}

// Sender is implemented by operators that can be fed by an upstream stage;
// Node wraps every Operator with one, giving it an inbox and a fan-out list
// of downstream Senders.
type Sender interface {
	Enqueue(ctx context.Context, elem Element) error
	SendWatermark(ctx context.Context, wm Watermark) error
}

// Config configures a Node's inbox (spec.md §6 table: inbox capacity).
type Config struct {
	InboxCapacity int `yaml:"inbox_capacity"`
}

const defaultInboxCapacity = 100

// RegisterFlags installs flags with the given prefix, following the
// friggdb/cmd-frigg convention of one RegisterFlags per component Config.
func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.InboxCapacity, prefix+"inbox-capacity", defaultInboxCapacity, "buffered element capacity of each node's inbox")
}

func (c *Config) applyDefaults() {
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = defaultInboxCapacity
	}
}

func nopIfNil(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}
