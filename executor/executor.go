// Package executor implements the Partitioned Executor (spec §4.6): it
// orchestrates a source.Source under a lease and dedup discipline, using an
// explicit Emitter chain (lease-gate → dedup-gate → downstream → mark) so
// each concern is a distinct, composable stage rather than one monolithic
// callback — REDESIGN FLAGS item 1 ("no monkey-patched callback chain").
// Grounded in z5labs-humus's at_most_once.go
// (other_examples/544cf35c_z5labs-humus__queue-kafka-at_most_once.go.go),
// which wraps a consume loop in exactly this kind of small ordered stage
// pipeline.
package executor

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/flowbus/flowbus/ferrors"
	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/record"
	"github.com/flowbus/flowbus/store"
)

// Downstream is the next stage a record is handed to once it has cleared
// the lease and dedup gates. It may block (back-pressure).
type Downstream func(ctx context.Context, r *record.Record) error

// DeadLetterSink receives records that have exhausted their redelivery
// budget (supplemented feature, spec_full §4.13).
type DeadLetterSink interface {
	Send(ctx context.Context, r *record.Record, cause error) error
}

// Config configures an Executor (spec.md §6 table plus the dead-letter
// supplement).
type Config struct {
	Group              string        `yaml:"group"`
	LeaseRenewInterval time.Duration `yaml:"lease_renew_interval"`
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
	DedupTTLSeconds    int64         `yaml:"dedup_ttl_seconds"`
	MaxRedeliveries    int           `yaml:"max_redeliveries"`
}

const (
	defaultLeaseRenewInterval = 2 * time.Second
	defaultDedupTTLSeconds    = 86400
	defaultMaxRedeliveries    = 5
)

// RegisterFlags installs flags with the given prefix, following the
// friggdb/cmd-frigg convention of one RegisterFlags per component Config.
func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Group, prefix+"group", "", "consumer group name this executor processes under")
	f.DurationVar(&c.LeaseRenewInterval, prefix+"lease-renew-interval", defaultLeaseRenewInterval, "interval between partition lease renewals")
	f.DurationVar(&c.LeaseTTL, prefix+"lease-ttl", 0, "TTL on a held partition lease (defaults to 3x the renew interval)")
	f.Int64Var(&c.DedupTTLSeconds, prefix+"dedup-ttl-seconds", defaultDedupTTLSeconds, "how long a processed record ID is remembered for dedup")
	f.IntVar(&c.MaxRedeliveries, prefix+"max-redeliveries", defaultMaxRedeliveries, "handler failures tolerated before routing to the dead letter sink")
}

func (c *Config) applyDefaults() {
	if c.LeaseRenewInterval <= 0 {
		c.LeaseRenewInterval = defaultLeaseRenewInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 3 * c.LeaseRenewInterval // invariant: TTL >= 3x renewal interval
	}
	if c.DedupTTLSeconds <= 0 {
		c.DedupTTLSeconds = defaultDedupTTLSeconds
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = defaultMaxRedeliveries
	}
}

// Executor gates records from a source.Source through lease ownership and
// deduplication before handing them to Downstream.
type Executor struct {
	cfg        Config
	owner      string
	lease      store.LeaseManager
	dedup      store.DedupStore
	offset     store.OffsetStore
	log        flog.Log
	downstream Downstream
	deadLetter DeadLetterSink
	logger     log.Logger

	mu          sync.RWMutex
	held        map[int32]bool
	redeliverAt map[string]int // record ID -> attempt count, cleared on success/dead-letter
}

// New builds an Executor. owner identifies this process to the
// LeaseManager. offset and l are used only for the Lag introspection
// method (spec_full §4.14); either may be nil if that surface is unused.
func New(cfg Config, owner string, lease store.LeaseManager, dedup store.DedupStore, offset store.OffsetStore, l flog.Log, downstream Downstream, deadLetter DeadLetterSink, logger log.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Executor{
		cfg:         cfg,
		owner:       owner,
		lease:       lease,
		dedup:       dedup,
		offset:      offset,
		log:         l,
		downstream:  downstream,
		deadLetter:  deadLetter,
		logger:      logger,
		held:        make(map[int32]bool),
		redeliverAt: make(map[string]int),
	}
}

// Lag returns the number of records not yet committed for partition under
// this executor's group: the log's high watermark minus the committed
// offset. Returns 0 if offset/log weren't supplied to New.
func (e *Executor) Lag(ctx context.Context, partition int32) int64 {
	if e.offset == nil || e.log == nil {
		return 0
	}
	committed, err := e.offset.Get(ctx, e.cfg.Group, partition, 0)
	if err != nil {
		return 0
	}
	hw := e.log.HighWatermark(partition)
	if hw < committed {
		return 0
	}
	return hw - committed
}

// Holds reports whether this executor currently believes it holds the
// lease for partition (used by source.Source callers, and exposed for the
// admin introspection supplement, spec_full §4.14).
func (e *Executor) Holds(partition int32) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.held[partition]
}

// MaintainLeases runs the lease acquire/renew loop (spec §4.6 "Lease
// maintenance") until ctx is cancelled. partitions is the full assignment;
// partitions this process fails to (re)acquire are marked not-held so
// Emit drops their records.
func (e *Executor) MaintainLeases(ctx context.Context, partitions []int32) {
	ticker := time.NewTicker(e.cfg.LeaseRenewInterval)
	defer ticker.Stop()

	e.renewAll(ctx, partitions)
	for {
		select {
		case <-ctx.Done():
			e.releaseAll(context.Background(), partitions)
			return
		case <-ticker.C:
			e.renewAll(ctx, partitions)
		}
	}
}

func (e *Executor) renewAll(ctx context.Context, partitions []int32) {
	ttlSeconds := int64(e.cfg.LeaseTTL / time.Second)
	for _, p := range partitions {
		ok, err := e.lease.Acquire(ctx, e.cfg.Group, p, e.owner, ttlSeconds)
		e.mu.Lock()
		wasHeld := e.held[p]
		e.held[p] = ok
		e.mu.Unlock()

		if err != nil {
			level.Error(e.logger).Log("msg", "lease renewal error", "partition", p, "err", err)
			continue
		}
		if wasHeld && !ok {
			level.Warn(e.logger).Log("msg", "lease lost, pausing partition", "partition", p)
		} else if !wasHeld && ok {
			level.Info(e.logger).Log("msg", "lease acquired", "partition", p)
		}
	}
}

func (e *Executor) releaseAll(ctx context.Context, partitions []int32) {
	for _, p := range partitions {
		if err := e.lease.Release(ctx, e.cfg.Group, p, e.owner); err != nil {
			level.Warn(e.logger).Log("msg", "lease release failed", "partition", p, "err", err)
		}
		e.mu.Lock()
		e.held[p] = false
		e.mu.Unlock()
	}
}

// Emit is the source.Emit-compatible entrypoint implementing the literal
// Check -> Downstream -> Mark pipeline of spec §4.6: a record is only ever
// marked processed once downstream has actually accepted it, so a failed
// attempt gets a real redelivery instead of being silently treated as done.
func (e *Executor) Emit(ctx context.Context, r *record.Record) error {
	if !e.Holds(r.Partition) {
		// Drop-and-do-not-commit: returning an error here makes the calling
		// source.Source's poll loop for this partition exit without
		// committing this record's offset. The loop is not restarted when
		// the lease is reacquired; the record is read again only by a poll
		// loop started later for the partition.
		return fmt.Errorf("%w: partition %d", ferrors.ErrLeaseLost, r.Partition)
	}

	id := r.ID.String()
	seen, err := e.dedup.HasProcessed(ctx, e.cfg.Group, id)
	if err != nil {
		return fmt.Errorf("%w: dedup check: %v", ferrors.ErrStoreUnavailable, err)
	}
	if seen {
		level.Debug(e.logger).Log("msg", "skipping already-processed record", "id", id, "partition", r.Partition, "offset", r.Offset)
		return nil
	}

	if err := e.downstream(ctx, r); err != nil {
		return e.handleDownstreamError(ctx, r, id, err)
	}

	if err := e.dedup.MarkProcessed(ctx, e.cfg.Group, id, e.cfg.DedupTTLSeconds); err != nil {
		return fmt.Errorf("%w: dedup mark: %v", ferrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Executor) handleDownstreamError(ctx context.Context, r *record.Record, id string, cause error) error {
	e.mu.Lock()
	e.redeliverAt[id]++
	attempts := e.redeliverAt[id]
	e.mu.Unlock()

	if attempts < e.cfg.MaxRedeliveries || e.deadLetter == nil {
		return fmt.Errorf("%w: %v", ferrors.ErrHandler, cause)
	}

	level.Warn(e.logger).Log("msg", "routing to dead letter sink after max redeliveries", "id", id, "partition", r.Partition, "offset", r.Offset, "attempts", attempts)
	if dlErr := e.deadLetter.Send(ctx, r, cause); dlErr != nil {
		return fmt.Errorf("%w: dead letter send failed: %v", ferrors.ErrHandler, dlErr)
	}

	// Mark processed so the partition isn't blocked on an undeliverable
	// record forever.
	if err := e.dedup.MarkProcessed(ctx, e.cfg.Group, id, e.cfg.DedupTTLSeconds); err != nil {
		level.Error(e.logger).Log("msg", "failed to mark dead-lettered record processed", "id", id, "err", err)
	}
	e.mu.Lock()
	delete(e.redeliverAt, id)
	e.mu.Unlock()
	return nil
}
