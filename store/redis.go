package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flowbus/flowbus/ferrors"
)

// RedisConfig configures a shared Redis-backed store, following the shape
// of tempo's pkg/cache RedisConfig (Endpoint/Timeout/Expiration fields;
// grafana-tempo/pkg/cache/redis_client_test.go).
type RedisConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

func newUniversalClient(cfg RedisConfig) redis.UniversalClient {
	endpoints := strings.Split(cfg.Endpoint, ",")
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       endpoints,
		DialTimeout: cfg.Timeout,
	})
}

// casScript atomically compares the version stored in the hash at key
// against expectedVersion and, if it matches, writes newValue with version
// expectedVersion+1, re-arming the key's TTL (ARGV[3], 0 meaning none) so a
// winner that never releases the key still loses it on crash. Returns the
// new version on success and -1 on a stale CAS; the caller distinguishes the
// two by comparing the result against expectedVersion+1.
const casScript = `
local v = redis.call('HGET', KEYS[1], 'version')
local cur = tonumber(v) or 0
local expected = tonumber(ARGV[1])
if cur ~= expected then
  return -1
end
local newVersion = cur + 1
redis.call('HSET', KEYS[1], 'value', ARGV[2], 'version', newVersion)
local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return newVersion
`

type redisOffsetStore struct {
	client redis.UniversalClient
}

// NewRedisOffsetStore returns an OffsetStore backed by Redis strings, one
// per (group, partition).
func NewRedisOffsetStore(cfg RedisConfig) OffsetStore {
	return &redisOffsetStore{client: newUniversalClient(cfg)}
}

func (s *redisOffsetStore) Get(ctx context.Context, group string, partition int32, defaultOffset int64) (int64, error) {
	v, err := s.client.Get(ctx, "flowbus:offset:"+offsetKey(group, partition)).Result()
	if err == redis.Nil {
		return defaultOffset, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get offset: %v", ferrors.ErrStoreUnavailable, err)
	}
	off, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse offset: %v", ferrors.ErrSerialization, err)
	}
	return off, nil
}

func (s *redisOffsetStore) Commit(ctx context.Context, group string, partition int32, offset int64) error {
	if err := s.client.Set(ctx, "flowbus:offset:"+offsetKey(group, partition), offset, 0).Err(); err != nil {
		return fmt.Errorf("%w: commit offset: %v", ferrors.ErrStoreUnavailable, err)
	}
	return nil
}

type redisDedupStore struct {
	client redis.UniversalClient
}

// NewRedisDedupStore returns a DedupStore backed by Redis keys with a
// per-mark TTL.
func NewRedisDedupStore(cfg RedisConfig) DedupStore {
	return &redisDedupStore{client: newUniversalClient(cfg)}
}

func (s *redisDedupStore) HasProcessed(ctx context.Context, group string, id string) (bool, error) {
	key := fmt.Sprintf("flowbus:dedup:%s:%s", group, id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: dedup check: %v", ferrors.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *redisDedupStore) MarkProcessed(ctx context.Context, group string, id string, ttl int64) error {
	key := fmt.Sprintf("flowbus:dedup:%s:%s", group, id)
	if err := s.client.Set(ctx, key, "1", time.Duration(ttl)*time.Second).Err(); err != nil {
		return fmt.Errorf("%w: dedup mark: %v", ferrors.ErrStoreUnavailable, err)
	}
	return nil
}

type redisLeaseManager struct {
	client redis.UniversalClient
}

// NewRedisLeaseManager returns a LeaseManager backed by Redis, using a Lua
// script so "extend if mine, or take if free/expired" happens atomically.
func NewRedisLeaseManager(cfg RedisConfig) LeaseManager {
	return &redisLeaseManager{client: newUniversalClient(cfg)}
}

const acquireLeaseScript = `
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`

func (m *redisLeaseManager) Acquire(ctx context.Context, group string, partition int32, owner string, ttlSeconds int64) (bool, error) {
	key := "flowbus:lease:" + leaseKey(group, partition)
	res, err := m.client.Eval(ctx, acquireLeaseScript, []string{key}, owner, ttlSeconds).Result()
	if err != nil {
		return false, fmt.Errorf("%w: acquire lease: %v", ferrors.ErrStoreUnavailable, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (m *redisLeaseManager) Release(ctx context.Context, group string, partition int32, owner string) error {
	key := "flowbus:lease:" + leaseKey(group, partition)
	cur, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: release lease: %v", ferrors.ErrStoreUnavailable, err)
	}
	if cur != owner {
		return nil
	}
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: release lease: %v", ferrors.ErrStoreUnavailable, err)
	}
	return nil
}

type redisKVStore struct {
	client redis.UniversalClient
}

// NewRedisKVStore returns a KVStore backed by Redis hashes, one per key,
// storing {value, version} fields so CompareAndSwap can run as a single Lua
// script (spec §4.7's leader-election CAS requirement).
func NewRedisKVStore(cfg RedisConfig) KVStore {
	return &redisKVStore{client: newUniversalClient(cfg)}
}

func (s *redisKVStore) Get(ctx context.Context, key string) (string, int64, bool, error) {
	res, err := s.client.HGetAll(ctx, "flowbus:kv:"+key).Result()
	if err != nil {
		return "", 0, false, fmt.Errorf("%w: get %s: %v", ferrors.ErrStoreUnavailable, key, err)
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	version, _ := strconv.ParseInt(res["version"], 10, 64)
	return res["value"], version, true, nil
}

func (s *redisKVStore) CompareAndSwap(ctx context.Context, key, newValue string, expectedVersion int64, ttlSeconds int64) (int64, bool, error) {
	res, err := s.client.Eval(ctx, casScript, []string{"flowbus:kv:" + key}, expectedVersion, newValue, ttlSeconds).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: cas %s: %v", ferrors.ErrStoreUnavailable, key, err)
	}
	newVersion, _ := res.(int64)
	return newVersion, newVersion == expectedVersion+1, nil
}

func (s *redisKVStore) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error {
	pipe := s.client.TxPipeline()
	fullKey := "flowbus:kv:" + key
	pipe.HSet(ctx, fullKey, "value", value)
	pipe.HIncrBy(ctx, fullKey, "version", 1)
	pipe.Expire(ctx, fullKey, time.Duration(ttlSeconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set-with-ttl %s: %v", ferrors.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *redisKVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, "flowbus:kv:"+key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ferrors.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *redisKVStore) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	iter := s.client.Scan(ctx, 0, "flowbus:kv:"+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		val, err := s.client.HGet(ctx, fullKey, "value").Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("%w: list prefix %s: %v", ferrors.ErrStoreUnavailable, prefix, err)
		}
		trimmed := strings.TrimPrefix(fullKey, "flowbus:kv:")
		out[trimmed] = val
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan prefix %s: %v", ferrors.ErrStoreUnavailable, prefix, err)
	}
	return out, nil
}
