// Package record defines the unit of the flowbus log and its wire codec.
//
// Payloads are encoded with msgpack, a self-describing key/value format:
// unmarshaling into a Record ignores any map keys it doesn't recognize,
// which satisfies forward compatibility for producers running a newer
// schema version than a given consumer.
package record

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flowbus/flowbus/ferrors"
)

// Record is the unit of the log (spec §3).
type Record struct {
	ID        uuid.UUID `msgpack:"id"`
	Key       []byte    `msgpack:"key"`
	Value     []byte    `msgpack:"value"`
	EventType string    `msgpack:"event_type"`
	Timestamp int64     `msgpack:"timestamp"` // unix nanos, event time
	Partition int32     `msgpack:"partition"`
	Offset    int64     `msgpack:"offset"`
}

// NewID generates a fresh record identifier. Producers that need
// idempotent re-publication should derive a stable ID instead of calling
// this, since dedup keys on ID.
func NewID() uuid.UUID {
	return uuid.New()
}

// Marshal encodes a record's fields into its on-disk/on-wire payload.
// The frame length and CRC wrapping the payload are the log layer's
// responsibility (see package log), not this package's.
func Marshal(r *Record) ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal record: %v", ferrors.ErrSerialization, err)
	}
	return b, nil
}

// Unmarshal decodes a payload produced by Marshal. Unrecognized fields in
// b are silently dropped.
func Unmarshal(b []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", ferrors.ErrSerialization, err)
	}
	return &r, nil
}
