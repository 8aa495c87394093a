package executor

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/record"
)

var metricDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "flowbus",
	Subsystem: "executor",
	Name:      "dead_lettered_total",
	Help:      "Total records routed to the dead letter sink after exhausting redeliveries.",
})

// LogDeadLetterSink is the default DeadLetterSink (spec_full §4.13): it
// reuses a second log.Log instance as a durable, append-only record of
// records that could not be processed, writing the failure cause alongside
// the original payload so it can be read back for operator inspection or
// manual replay.
type LogDeadLetterSink struct {
	log    flog.Log
	logger log.Logger
}

// NewLogDeadLetterSink builds a LogDeadLetterSink writing to dl, a log.Log
// opened against its own directory distinct from the primary log.
func NewLogDeadLetterSink(dl flog.Log, logger log.Logger) *LogDeadLetterSink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LogDeadLetterSink{log: dl, logger: logger}
}

// Send appends r to the dead-letter log, tagging its EventType with cause
// so a reader can distinguish why each record landed here without needing
// a side channel.
func (s *LogDeadLetterSink) Send(ctx context.Context, r *record.Record, cause error) error {
	dl := *r
	dl.EventType = fmt.Sprintf("dead-letter:%s:%v", r.EventType, cause)

	if err := s.log.Append(ctx, &dl); err != nil {
		return fmt.Errorf("dead letter append: %w", err)
	}
	metricDeadLettered.Inc()
	level.Info(s.logger).Log("msg", "record dead-lettered", "id", r.ID, "partition", r.Partition, "offset", r.Offset, "cause", cause)
	return nil
}
