package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

func offsetKey(group string, partition int32) string {
	return fmt.Sprintf("%s/%d", group, partition)
}

// memOffsetStore is an in-process OffsetStore for tests and single-node
// deployments.
type memOffsetStore struct {
	mu      sync.RWMutex
	offsets map[string]int64
}

func NewMemOffsetStore() OffsetStore {
	return &memOffsetStore{offsets: make(map[string]int64)}
}

func (s *memOffsetStore) Get(_ context.Context, group string, partition int32, defaultOffset int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off, ok := s.offsets[offsetKey(group, partition)]; ok {
		return off, nil
	}
	return defaultOffset, nil
}

func (s *memOffsetStore) Commit(_ context.Context, group string, partition int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[offsetKey(group, partition)] = offset
	return nil
}

// memDedupStore is an in-process DedupStore backed by a TTL-bounded LRU,
// following the same expirable-cache shape tempo uses for its in-memory
// trace cache (grafana-tempo/pkg/cache). Each group's cache takes its TTL
// from the first MarkProcessed call for that group; the ttl of later calls
// is ignored.
type memDedupStore struct {
	mu     sync.Mutex
	caches map[string]*lru.LRU[string, struct{}]
	size   int
}

// NewMemDedupStore returns a DedupStore holding up to maxEntriesPerGroup
// seen-IDs per group before the oldest are evicted, independent of TTL.
func NewMemDedupStore(maxEntriesPerGroup int) DedupStore {
	if maxEntriesPerGroup <= 0 {
		maxEntriesPerGroup = 100_000
	}
	return &memDedupStore{
		caches: make(map[string]*lru.LRU[string, struct{}]),
		size:   maxEntriesPerGroup,
	}
}

func (s *memDedupStore) cacheFor(group string, ttl int64) *lru.LRU[string, struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[group]
	if !ok {
		c = lru.NewLRU[string, struct{}](s.size, nil, time.Duration(ttl)*time.Second)
		s.caches[group] = c
	}
	return c
}

func (s *memDedupStore) HasProcessed(_ context.Context, group string, id string) (bool, error) {
	s.mu.Lock()
	c, ok := s.caches[group]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	_, seen := c.Get(id)
	return seen, nil
}

func (s *memDedupStore) MarkProcessed(_ context.Context, group string, id string, ttl int64) error {
	s.cacheFor(group, ttl).Add(id, struct{}{})
	return nil
}

func leaseKey(group string, partition int32) string {
	return fmt.Sprintf("%s/%d", group, partition)
}

type leaseState struct {
	owner   string
	expires time.Time
}

// memLeaseManager is an in-process LeaseManager.
type memLeaseManager struct {
	mu     sync.Mutex
	leases map[string]leaseState
	now    func() time.Time
}

func NewMemLeaseManager() LeaseManager {
	return &memLeaseManager{leases: make(map[string]leaseState), now: time.Now}
}

func (m *memLeaseManager) Acquire(_ context.Context, group string, partition int32, owner string, ttlSeconds int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leaseKey(group, partition)
	now := m.now()
	cur, held := m.leases[key]
	if held && cur.owner != owner && cur.expires.After(now) {
		return false, nil
	}
	m.leases[key] = leaseState{owner: owner, expires: now.Add(time.Duration(ttlSeconds) * time.Second)}
	return true, nil
}

func (m *memLeaseManager) Release(_ context.Context, group string, partition int32, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leaseKey(group, partition)
	if cur, ok := m.leases[key]; ok && cur.owner == owner {
		delete(m.leases, key)
	}
	return nil
}

type kvEntry struct {
	value   string
	version int64
	expires time.Time // zero means no expiry
}

// memKVStore is an in-process KVStore used by the cluster coordinator and
// replicated log in tests and single-node mode.
type memKVStore struct {
	mu   sync.Mutex
	data map[string]kvEntry
	now  func() time.Time
}

func NewMemKVStore() KVStore {
	return &memKVStore{data: make(map[string]kvEntry), now: time.Now}
}

func (s *memKVStore) liveLocked(key string) (kvEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return kvEntry{}, false
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.data, key)
		return kvEntry{}, false
	}
	return e, true
}

func (s *memKVStore) Get(_ context.Context, key string) (string, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok {
		return "", 0, false, nil
	}
	return e.value, e.version, true, nil
}

func (s *memKVStore) CompareAndSwap(_ context.Context, key, newValue string, expectedVersion int64, ttlSeconds int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	curVersion := int64(0)
	if ok {
		curVersion = e.version
	}
	if curVersion != expectedVersion {
		return curVersion, false, nil
	}

	newVersion := curVersion + 1
	entry := kvEntry{value: newValue, version: newVersion}
	if ttlSeconds > 0 {
		entry.expires = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	s.data[key] = entry
	return newVersion, true, nil
}

func (s *memKVStore) SetWithTTL(_ context.Context, key, value string, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.liveLocked(key)
	s.data[key] = kvEntry{value: value, version: cur.version + 1, expires: s.now().Add(time.Duration(ttlSeconds) * time.Second)}
	return nil
}

func (s *memKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memKVStore) ListPrefix(_ context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			if e, ok := s.liveLocked(k); ok {
				out[k] = e.value
			}
		}
	}
	return out, nil
}
