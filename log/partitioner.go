package log

import "github.com/cespare/xxhash/v2"

// Partition returns hash(key) mod numPartitions, the partition assignment
// rule of spec §3. xxhash is used rather than crypto hashes or FNV because
// it's already a direct dependency pulled in for this purpose (see
// DESIGN.md); it is not required to be stable across flowbus versions.
func Partition(key []byte, numPartitions int32) int32 {
	if numPartitions <= 0 {
		return 0
	}
	h := xxhash.Sum64(key)
	return int32(h % uint64(numPartitions))
}
