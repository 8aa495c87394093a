// Package log implements the partitioned, append-only, CRC-framed event
// log (spec §4.1). It is grounded in friggdb's WAL (github.com/grafana/frigg
// friggdb/wal.go, friggdb/wal_head_block.go): a segment-per-range-of-offsets
// layout under a single data directory, an active segment that is appended
// to and sealed on rotation, and a recovery pass that trusts sealed segments
// and only ever rescans the tail.
package log

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/flowbus/flowbus/ferrors"
	"github.com/flowbus/flowbus/record"
)

// Log is the partitioned append-only log contract (spec §4.1).
type Log interface {
	// Append assigns a partition and offset to r, durably writes it, and
	// fills in r.Partition/r.Offset. Safe for concurrent use; appends to
	// different partitions proceed independently.
	Append(ctx context.Context, r *record.Record) error

	// Read returns every record in partition with Offset >= fromOffset, in
	// ascending offset order. An empty result is not an error — it means
	// the caller has caught up and should poll again later.
	Read(ctx context.Context, partition int32, fromOffset int64) ([]*record.Record, error)

	// HighWatermark returns the next offset to be assigned for partition.
	HighWatermark(partition int32) int64

	// Partitions returns the configured partition count.
	Partitions() int32

	Close() error
}

type partitionState struct {
	mu       sync.RWMutex
	active   *os.File
	activeAt int64 // start offset of the active segment
	nextOff  int64
	segments []segmentMeta // sealed segments only, ascending
}

type partitionedLog struct {
	cfg    Config
	logger log.Logger

	states []*partitionState // len == cfg.NumPartitions
}

// Open opens (creating if necessary) a partitioned log rooted at
// cfg.DataDir, running crash recovery on each partition's tail segment.
func Open(cfg Config, logger log.Logger) (Log, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ferrors.ErrStorageIO, err)
	}

	l := &partitionedLog{
		cfg:    cfg,
		logger: logger,
		states: make([]*partitionState, cfg.NumPartitions),
	}

	for p := int32(0); p < cfg.NumPartitions; p++ {
		st, err := recoverPartition(cfg.DataDir, p, logger)
		if err != nil {
			return nil, err
		}
		l.states[p] = st
		metricHighWatermark.WithLabelValues(strconv.Itoa(int(p))).Set(float64(st.nextOff))
	}

	return l, nil
}

// recoverPartition implements the recovery algorithm of spec §4.1: sealed
// segments are trusted as-is (fast path), and only the tail segment is
// scanned frame-by-frame, truncated at the first short/mismatched frame.
func recoverPartition(dataDir string, p int32, logger log.Logger) (*partitionState, error) {
	segments, err := listSegments(dataDir, p)
	if err != nil {
		return nil, err
	}

	st := &partitionState{}

	if len(segments) == 0 {
		f, createErr := createSegmentFile(dataDir, p, 0)
		if createErr != nil {
			return nil, createErr
		}
		st.active = f
		st.activeAt = 0
		st.nextOff = 0
		return st, nil
	}

	// All but the last segment are immutable; trust their record counts
	// implicitly from the next segment's start offset (fast path, O(1) per
	// segment rather than rescanning content).
	st.segments = segments[:len(segments)-1]
	tail := segments[len(segments)-1]

	f, err := os.OpenFile(tail.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open tail segment %s: %v", ferrors.ErrStorageIO, tail.path, err)
	}

	validOffset := tail.startOffset
	var pos int64
	for {
		fr, n, ok, rerr := readFrame(f)
		if rerr != nil {
			f.Close()
			return nil, rerr
		}
		if !ok {
			break
		}
		if !fr.crcOK {
			level.Warn(logger).Log("msg", "crc mismatch in tail segment, truncating", "partition", p, "offset", validOffset, "pos", pos)
			break
		}
		pos += int64(n)
		validOffset++
	}

	info, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat tail segment %s: %v", ferrors.ErrStorageIO, tail.path, statErr)
	}
	if truncatedBytes := info.Size() - pos; truncatedBytes > 0 {
		metricRecoveryTruncatedBytes.WithLabelValues(strconv.Itoa(int(p))).Add(float64(truncatedBytes))
	}

	if truncErr := f.Truncate(pos); truncErr != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate tail segment %s: %v", ferrors.ErrStorageIO, tail.path, truncErr)
	}
	if _, seekErr := f.Seek(pos, 0); seekErr != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek tail segment %s: %v", ferrors.ErrStorageIO, tail.path, seekErr)
	}

	st.active = f
	st.activeAt = tail.startOffset
	st.nextOff = validOffset
	return st, nil
}

func createSegmentFile(dataDir string, p int32, startOffset int64) (*os.File, error) {
	path := dataDir + string(os.PathSeparator) + segmentFileName(p, startOffset)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create segment %s: %v", ferrors.ErrStorageIO, path, err)
	}
	return f, nil
}

func (l *partitionedLog) partitionState(p int32) (*partitionState, error) {
	if p < 0 || p >= int32(len(l.states)) {
		return nil, fmt.Errorf("%w: partition %d out of range [0,%d)", ferrors.ErrStorageIO, p, len(l.states))
	}
	return l.states[p], nil
}

func (l *partitionedLog) Append(ctx context.Context, r *record.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ferrors.ErrCancelled, err)
	}

	p := Partition(r.Key, l.cfg.NumPartitions)
	st, err := l.partitionState(p)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if info, statErr := st.active.Stat(); statErr == nil && info.Size() >= l.cfg.MaxSegmentSize {
		if rotErr := l.rotateLocked(p, st); rotErr != nil {
			return rotErr
		}
	}

	offset := st.nextOff
	r.Partition = p
	r.Offset = offset
	if r.ID == [16]byte{} {
		r.ID = record.NewID()
	}

	payload, err := record.Marshal(r)
	if err != nil {
		return err
	}

	if _, err := writeFrame(st.active, payload); err != nil {
		return err
	}
	if err := st.active.Sync(); err != nil {
		return fmt.Errorf("%w: fsync partition %d: %v", ferrors.ErrStorageIO, p, err)
	}

	st.nextOff = offset + 1
	metricAppendsTotal.WithLabelValues(strconv.Itoa(int(p))).Inc()
	metricHighWatermark.WithLabelValues(strconv.Itoa(int(p))).Set(float64(st.nextOff))
	return nil
}

// rotateLocked seals the active segment and opens a new one starting at the
// partition's current high watermark. Caller must hold st.mu.
func (l *partitionedLog) rotateLocked(p int32, st *partitionState) error {
	if err := st.active.Close(); err != nil {
		return fmt.Errorf("%w: close segment during rotation: %v", ferrors.ErrStorageIO, err)
	}
	st.segments = append(st.segments, segmentMeta{
		partition:   p,
		startOffset: st.activeAt,
		path:        l.cfg.DataDir + string(os.PathSeparator) + segmentFileName(p, st.activeAt),
	})

	newStart := st.nextOff
	f, err := createSegmentFile(l.cfg.DataDir, p, newStart)
	if err != nil {
		return err
	}
	st.active = f
	st.activeAt = newStart
	metricSegmentRotationsTotal.WithLabelValues(strconv.Itoa(int(p))).Inc()
	level.Info(l.logger).Log("msg", "rotated active segment", "partition", p, "new_start_offset", newStart)
	return nil
}

func (l *partitionedLog) Read(ctx context.Context, partition int32, fromOffset int64) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ferrors.ErrCancelled, err)
	}

	st, err := l.partitionState(partition)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	segments := make([]segmentMeta, len(st.segments), len(st.segments)+1)
	copy(segments, st.segments)
	segments = append(segments, segmentMeta{partition: partition, startOffset: st.activeAt, path: l.activePath(partition, st)})
	st.mu.RUnlock()

	var out []*record.Record
	for i, seg := range segments {
		sealed := i < len(segments)-1
		if i < len(segments)-1 {
			nextStart := segments[i+1].startOffset
			if nextStart <= fromOffset {
				continue // entire sealed segment is before fromOffset
			}
		}

		recs, err := l.readSegment(seg, fromOffset, sealed)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (l *partitionedLog) activePath(p int32, st *partitionState) string {
	return l.cfg.DataDir + string(os.PathSeparator) + segmentFileName(p, st.activeAt)
}

func (l *partitionedLog) readSegment(seg segmentMeta, fromOffset int64, sealed bool) ([]*record.Record, error) {
	f, err := os.Open(seg.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open segment %s: %v", ferrors.ErrStorageIO, seg.path, err)
	}
	defer f.Close()

	var out []*record.Record
	offset := seg.startOffset
	for {
		fr, _, ok, rerr := readFrame(f)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			break
		}
		if !fr.crcOK {
			return nil, fmt.Errorf("%w: partition %d offset %d: crc mismatch reading %s segment", ferrors.ErrLogCorruption, seg.partition, offset, sealKind(sealed))
		}
		if offset >= fromOffset {
			r, derr := record.Unmarshal(fr.payload)
			if derr != nil {
				// Poison record: skip it rather than halt the partition
				// (spec §7 SerializationError policy). The caller is
				// responsible for marking it processed upstream.
				offset++
				continue
			}
			r.Partition = seg.partition
			r.Offset = offset
			out = append(out, r)
		}
		offset++
	}
	return out, nil
}

func sealKind(sealed bool) string {
	if sealed {
		return "sealed"
	}
	return "active"
}

func (l *partitionedLog) HighWatermark(partition int32) int64 {
	st, err := l.partitionState(partition)
	if err != nil {
		return -1
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.nextOff
}

func (l *partitionedLog) Partitions() int32 {
	return l.cfg.NumPartitions
}

func (l *partitionedLog) Close() error {
	var firstErr error
	for _, st := range l.states {
		st.mu.Lock()
		if err := st.active.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		st.mu.Unlock()
	}
	return firstErr
}
