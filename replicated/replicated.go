// Package replicated implements the Replicated Log (spec §4.8): it wraps a
// log.Log with leader-based synchronous fan-out replication. Leadership is
// delegated to cluster.Coordinator; fan-out uses golang.org/x/sync/errgroup
// the same way grafana-tempo uses it to parallelise block-list polling
// (friggdb/friggdb.go's use of errgroup for concurrent backend work),
// generalized here to concurrent per-peer HTTP POSTs with a bounded
// timeout.
package replicated

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/flowbus/flowbus/cluster"
	"github.com/flowbus/flowbus/ferrors"
	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/record"
)

// Config configures a replicated Log (spec.md §6 table).
type Config struct {
	ReplicationTimeout time.Duration `yaml:"replication_timeout"`
}

const defaultReplicationTimeout = 2 * time.Second

// RegisterFlags installs flags with the given prefix, following the
// friggdb/cmd-frigg convention of one RegisterFlags per component Config.
func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.ReplicationTimeout, prefix+"replication-timeout", defaultReplicationTimeout, "per-peer timeout for synchronous replication POSTs")
}

func (c *Config) applyDefaults() {
	if c.ReplicationTimeout <= 0 {
		c.ReplicationTimeout = defaultReplicationTimeout
	}
}

var metricReplicationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowbus",
	Subsystem: "replication",
	Name:      "peer_attempts_total",
	Help:      "Total replicate-to-peer attempts, labelled by outcome.",
}, []string{"outcome"})

// Log wraps a log.Log with leader-based synchronous fan-out (spec §4.8).
type Log struct {
	cfg         Config
	local       flog.Log
	coordinator *cluster.Coordinator
	peerPort    func(cluster.Node) string // formats a peer's follower-ingest URL, injectable for tests
	httpClient  *http.Client
	logger      log.Logger
}

// New builds a replicated Log over local, using coordinator for leadership
// and peer discovery.
func New(cfg Config, local flog.Log, coordinator *cluster.Coordinator, logger log.Logger) *Log {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Log{
		cfg:         cfg,
		local:       local,
		coordinator: coordinator,
		peerPort:    func(n cluster.Node) string { return fmt.Sprintf("http://%s:%d/internal/replicate", n.Host, n.Port) },
		httpClient:  &http.Client{Timeout: cfg.ReplicationTimeout},
		logger:      logger,
	}
}

// Append implements the leader path of spec §4.8: acquire leadership for
// the record's partition, append locally, then fan out to every peer
// best-effort (a peer failure does not fail the call).
func (l *Log) Append(ctx context.Context, r *record.Record) error {
	partition := flog.Partition(r.Key, l.local.Partitions())

	won, err := l.coordinator.TryAcquireLeadership(ctx, partition)
	if err != nil {
		return fmt.Errorf("%w: %v", ferrors.ErrStoreUnavailable, err)
	}
	if !won {
		return fmt.Errorf("%w: partition %d", ferrors.ErrNotLeader, partition)
	}

	if err := l.local.Append(ctx, r); err != nil {
		return err
	}

	peers, err := l.coordinator.GetOtherNodes(ctx)
	if err != nil {
		level.Warn(l.logger).Log("msg", "failed to enumerate peers, skipping replication", "err", err)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if err := l.replicateTo(gctx, peer, r); err != nil {
				level.Warn(l.logger).Log("msg", "replication to peer failed", "peer", peer.ID, "err", err)
				metricReplicationAttempts.WithLabelValues("failure").Inc()
				return nil // best-effort: a peer failure does not fail Append
			}
			metricReplicationAttempts.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait() // stage functions above never return non-nil; kept for future strict-quorum mode

	return nil
}

func (l *Log) replicateTo(ctx context.Context, peer cluster.Node, r *record.Record) error {
	payload, err := record.Marshal(r)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.peerPort(peer), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build replicate request: %v", ferrors.ErrReplicationFailed, err)
	}
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ferrors.ErrReplicationFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: peer %s returned status %d", ferrors.ErrReplicationFailed, peer.ID, resp.StatusCode)
	}
	return nil
}

// Read is served from the local log unconditionally (spec §4.8: "a
// follower may be stale").
func (l *Log) Read(ctx context.Context, partition int32, fromOffset int64) ([]*record.Record, error) {
	return l.local.Read(ctx, partition, fromOffset)
}

func (l *Log) HighWatermark(partition int32) int64 { return l.local.HighWatermark(partition) }
func (l *Log) Partitions() int32                   { return l.local.Partitions() }
func (l *Log) Close() error                        { return l.local.Close() }
