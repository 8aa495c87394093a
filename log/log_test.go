package log

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbus/flowbus/record"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DataDir:        t.TempDir(),
		NumPartitions:  2,
		MaxSegmentSize: 1 << 20,
	}
}

func newRecord(key, value string) *record.Record {
	return &record.Record{
		ID:        record.NewID(),
		Key:       []byte(key),
		Value:     []byte(value),
		EventType: "test.event",
		Timestamp: 1,
	}
}

// S1: appended records are readable back in order, with assigned offsets.
func TestAppendAndReadInOrder(t *testing.T) {
	l, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r := newRecord("same-key", "v")
		require.NoError(t, l.Append(ctx, r))
	}

	p := Partition([]byte("same-key"), l.Partitions())
	recs, err := l.Read(ctx, p, 0)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, int64(i), r.Offset)
	}
	assert.Equal(t, int64(5), l.HighWatermark(p))
}

func TestReadFromMidOffsetSkipsEarlierRecords(t *testing.T) {
	l, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	var p int32
	for i := 0; i < 4; i++ {
		r := newRecord("k", "v")
		require.NoError(t, l.Append(ctx, r))
		p = r.Partition
	}

	recs, err := l.Read(ctx, p, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].Offset)
	assert.Equal(t, int64(3), recs[1].Offset)
}

func TestSegmentRotation(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSegmentSize = frameHeaderSize + 16 // force rotation after ~1 small record
	l, err := Open(cfg, nil)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	var p int32
	for i := 0; i < 6; i++ {
		r := newRecord("rotate-key", "0123456789")
		require.NoError(t, l.Append(ctx, r))
		p = r.Partition
	}

	segs, err := listSegments(cfg.DataDir, p)
	require.NoError(t, err)
	assert.Greater(t, len(segs), 1, "expected more than one segment after rotation")

	recs, err := l.Read(ctx, p, 0)
	require.NoError(t, err)
	require.Len(t, recs, 6)
	for i, r := range recs {
		assert.Equal(t, int64(i), r.Offset)
	}
}

// S2: a torn write at the tail of the active segment is truncated on reopen,
// and the log continues serving everything written before the tear.
func TestRecoveryTruncatesTornTailFrame(t *testing.T) {
	cfg := testConfig(t)
	l, err := Open(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	var p int32
	for i := 0; i < 3; i++ {
		r := newRecord("recover-key", "v")
		require.NoError(t, l.Append(ctx, r))
		p = r.Partition
	}
	require.NoError(t, l.Close())

	// Simulate a crash mid-write: append a frame header that claims a
	// payload far longer than what actually follows.
	path := filepath.Join(cfg.DataDir, segmentFileName(p, 0))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], 9999)
	binary.BigEndian.PutUint32(header[4:8], 0)
	_, err = f.Write(header[:])
	require.NoError(t, err)
	_, err = f.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Read(ctx, p, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), reopened.HighWatermark(p))

	// The torn frame must actually have been truncated from disk, not just
	// skipped in memory, so a subsequent append lands contiguously.
	r := newRecord("recover-key", "v2")
	require.NoError(t, reopened.Append(ctx, r))
	assert.Equal(t, int64(3), r.Offset)
}

func TestRecoveryTruncatesCRCMismatch(t *testing.T) {
	cfg := testConfig(t)
	l, err := Open(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	r := newRecord("crc-key", "v")
	require.NoError(t, l.Append(ctx, r))
	p := r.Partition
	require.NoError(t, l.Close())

	path := filepath.Join(cfg.DataDir, segmentFileName(p, 0))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	payload := []byte("corrupt-me")
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], 0xDEADBEEF) // wrong crc
	_, err = f.Write(header[:])
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Read(ctx, p, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1), reopened.HighWatermark(p))
}

func TestReadUnknownPartitionErrors(t *testing.T) {
	l, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Read(context.Background(), 99, 0)
	assert.Error(t, err)
}

func TestPartitionIsDeterministicAndInRange(t *testing.T) {
	const n = int32(8)
	p1 := Partition([]byte("stable-key"), n)
	p2 := Partition([]byte("stable-key"), n)
	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, int32(0))
	assert.Less(t, p1, n)
}
