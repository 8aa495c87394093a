// Package ferrors defines the closed set of error kinds flowbus components
// report. Callers are expected to compare with errors.Is, never by message.
package ferrors

import "errors"

// Sentinel error kinds, one per failure mode in the component design.
var (
	// ErrLogCorruption indicates a CRC or framing mismatch was found outside
	// the active segment's tail, i.e. in a position recovery cannot safely
	// truncate.
	ErrLogCorruption = errors.New("flowbus: log corruption")

	// ErrStorageIO wraps an underlying filesystem error encountered while
	// appending or reading the log.
	ErrStorageIO = errors.New("flowbus: storage I/O error")

	// ErrSerialization indicates a record payload failed to encode or decode.
	ErrSerialization = errors.New("flowbus: serialization error")

	// ErrNotLeader is returned by a replicated append when the caller does
	// not currently hold leadership for the record's partition.
	ErrNotLeader = errors.New("flowbus: not leader for partition")

	// ErrLeaseLost indicates a worker's partition lease was not renewed and
	// it must stop emitting/committing for that partition.
	ErrLeaseLost = errors.New("flowbus: lease lost")

	// ErrStoreUnavailable indicates a backing store (offset, dedup, lease,
	// KV) could not be reached within its bounded retry budget.
	ErrStoreUnavailable = errors.New("flowbus: store unavailable")

	// ErrReplicationFailed indicates a peer did not acknowledge a replicated
	// append.
	ErrReplicationFailed = errors.New("flowbus: replication failed")

	// ErrHandler wraps an error returned by downstream record processing.
	ErrHandler = errors.New("flowbus: handler error")

	// ErrCancelled indicates the caller's context was cancelled or the
	// component is draining/shutting down.
	ErrCancelled = errors.New("flowbus: cancelled")
)
