// Package store defines the external-store contracts the rest of flowbus
// depends on — offset commits, dedup membership, partition leases, and a
// generic compare-and-swap KV primitive (spec §4.2–§4.4) — plus an
// in-memory implementation of each for tests and single-process
// deployments, and a Redis-backed implementation for durable, shared
// deployments. The split mirrors tempo's pkg/cache.Client interface with
// in-memory and redis.RedisClient implementations
// (grafana-tempo/pkg/cache/redis_client_test.go): callers code to the
// interface, and the backing store is swapped in config.
package store

import "context"

// OffsetStore tracks, per (group, partition), the next offset a consumer
// group should read from (spec §4.2).
type OffsetStore interface {
	// Get returns the committed offset for group/partition, or defaultOffset
	// if none has been committed yet.
	Get(ctx context.Context, group string, partition int32, defaultOffset int64) (int64, error)

	// Commit durably records offset as the next offset to read for
	// group/partition. Commits must be monotonic from the caller's
	// perspective; the store itself does not enforce ordering.
	Commit(ctx context.Context, group string, partition int32, offset int64) error
}

// DedupStore answers "have I already processed this record ID" for a given
// consumer group, with a bounded retention window (spec §4.3). Check and
// mark are deliberately separate operations (spec §4.6's
// Check -> Downstream -> Mark): a caller must only mark an id processed
// once its handler has actually succeeded, or a failed attempt would be
// silently treated as done.
type DedupStore interface {
	// HasProcessed reports whether id has already been marked processed for
	// group.
	HasProcessed(ctx context.Context, group string, id string) (bool, error)

	// MarkProcessed marks id as processed for group, retained for ttl
	// seconds.
	MarkProcessed(ctx context.Context, group string, id string, ttl int64) error
}

// LeaseManager grants exclusive, time-bounded ownership of a partition to a
// single worker, used to keep at-most-once delivery contained to one
// process at a time (spec §4.4).
type LeaseManager interface {
	// Acquire attempts to take or renew the lease on (group, partition) for
	// owner. It succeeds if the lease is unheld, already expired, or already
	// held by owner. ttlSeconds is the duration the lease is valid for from
	// now.
	Acquire(ctx context.Context, group string, partition int32, owner string, ttlSeconds int64) (acquired bool, err error)

	// Release gives up the lease on (group, partition) if owner currently
	// holds it. Releasing a lease you don't hold is a no-op, not an error.
	Release(ctx context.Context, group string, partition int32, owner string) error
}

// KVStore is the minimal compare-and-swap primitive the cluster coordinator
// and replicated log build leader election and membership on top of
// (spec §4.7–§4.8).
type KVStore interface {
	// Get returns the current value stored at key and its version, or
	// ok=false if key does not exist.
	Get(ctx context.Context, key string) (value string, version int64, ok bool, err error)

	// CompareAndSwap sets key to newValue only if its current version
	// equals expectedVersion (0 meaning "key must not exist"), expiring the
	// new value after ttlSeconds (0 meaning no expiry). On success it
	// returns the new version.
	CompareAndSwap(ctx context.Context, key, newValue string, expectedVersion int64, ttlSeconds int64) (newVersion int64, ok bool, err error)

	// SetWithTTL unconditionally sets key to value, expiring it after
	// ttlSeconds. Used for heartbeats where CAS semantics aren't needed.
	SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns every live key with the given prefix, used to
	// enumerate registered cluster nodes.
	ListPrefix(ctx context.Context, prefix string) (map[string]string, error)
}
