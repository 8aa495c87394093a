package log

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/flowbus/flowbus/ferrors"
)

// frameHeaderSize is the on-disk size of the length+crc header preceding
// every record payload (spec §3, §6): `len:u32 ‖ crc32:u32 ‖ payload`.
const frameHeaderSize = 8

// segmentMeta describes one on-disk segment file for a partition.
type segmentMeta struct {
	partition  int32
	startOffset int64
	path       string
}

func segmentFileName(partition int32, startOffset int64) string {
	return fmt.Sprintf("partition_%d_%d.bin", partition, startOffset)
}

// parseSegmentFileName extracts the partition and start offset encoded in a
// segment file name, returning ok=false for anything that doesn't match the
// `partition_<p>_<startOffset>.bin` pattern.
func parseSegmentFileName(name string) (partition int32, startOffset int64, ok bool) {
	if !strings.HasPrefix(name, "partition_") || !strings.HasSuffix(name, ".bin") {
		return 0, 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "partition_"), ".bin")
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	p, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	off, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return int32(p), off, true
}

// listSegments returns every segment belonging to partition p under dir,
// sorted ascending by start offset.
func listSegments(dir string, p int32) ([]segmentMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list segments: %v", ferrors.ErrStorageIO, err)
	}

	var metas []segmentMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		partition, start, ok := parseSegmentFileName(e.Name())
		if !ok || partition != p {
			continue
		}
		metas = append(metas, segmentMeta{
			partition:   partition,
			startOffset: start,
			path:        filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].startOffset < metas[j].startOffset })
	return metas, nil
}

// writeFrame appends one length‖crc32‖payload frame to w and returns the
// number of bytes written.
func writeFrame(w io.Writer, payload []byte) (int, error) {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(header[:]); err != nil {
		return 0, fmt.Errorf("%w: write frame header: %v", ferrors.ErrStorageIO, err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, fmt.Errorf("%w: write frame payload: %v", ferrors.ErrStorageIO, err)
	}
	return frameHeaderSize + len(payload), nil
}

// frame is one decoded length-prefixed record frame.
type frame struct {
	payload []byte
	crcOK   bool
}

// readFrame reads a single frame from r. ok is false when there is no
// complete, well-formed frame at the current position (EOF, short header,
// short payload, or a declared zero length acting as an EOF marker) —
// these are exactly the conditions under which recovery truncates.
func readFrame(r io.Reader) (f frame, n int, ok bool, err error) {
	var header [frameHeaderSize]byte
	read, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return frame{}, read, false, nil
		}
		return frame{}, read, false, fmt.Errorf("%w: read frame header: %v", ferrors.ErrStorageIO, err)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	crc := binary.BigEndian.Uint32(header[4:8])
	if length == 0 {
		// Zero-length frame is an EOF marker, never a real record.
		return frame{}, frameHeaderSize, false, nil
	}

	payload := make([]byte, length)
	pread, err := io.ReadFull(r, payload)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return frame{}, frameHeaderSize + pread, false, nil
		}
		return frame{}, frameHeaderSize + pread, false, fmt.Errorf("%w: read frame payload: %v", ferrors.ErrStorageIO, err)
	}

	ok = crc32.ChecksumIEEE(payload) == crc
	return frame{payload: payload, crcOK: ok}, frameHeaderSize + len(payload), true, nil
}
