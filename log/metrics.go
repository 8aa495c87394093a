package log

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowbus",
		Subsystem: "log",
		Name:      "appends_total",
		Help:      "Total number of records appended, per partition.",
	}, []string{"partition"})

	metricSegmentRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowbus",
		Subsystem: "log",
		Name:      "segment_rotations_total",
		Help:      "Total number of active-segment rotations, per partition.",
	}, []string{"partition"})

	metricRecoveryTruncatedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowbus",
		Subsystem: "log",
		Name:      "recovery_truncated_bytes_total",
		Help:      "Bytes discarded from a partition's tail segment during crash recovery.",
	}, []string{"partition"})

	metricHighWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowbus",
		Subsystem: "log",
		Name:      "high_watermark",
		Help:      "Next offset to be assigned for each partition.",
	}, []string{"partition"})
)
