package store

import (
	"flag"
	"time"
)

// Config selects and configures the backing implementation shared by
// OffsetStore, DedupStore, LeaseManager, and KVStore.
type Config struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`

	DedupMaxEntriesPerGroup int `yaml:"dedup_max_entries_per_group"`
}

func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Backend, prefix+"backend", "memory", "store backend: memory or redis")
	f.StringVar(&c.Redis.Endpoint, prefix+"redis.endpoint", "", "comma-separated redis host:port addresses")
	f.DurationVar(&c.Redis.Timeout, prefix+"redis.timeout", 2*time.Second, "redis dial timeout")
	f.IntVar(&c.DedupMaxEntriesPerGroup, prefix+"dedup-max-entries-per-group", 100_000, "max in-memory dedup entries retained per group")
}

// Stores bundles one instance of each store contract, built from Config.
type Stores struct {
	Offset OffsetStore
	Dedup  DedupStore
	Lease  LeaseManager
	KV     KVStore
}

// New builds a Stores from cfg, wiring every store to the same backend.
func New(cfg Config) Stores {
	if cfg.Backend == "redis" {
		return Stores{
			Offset: NewRedisOffsetStore(cfg.Redis),
			Dedup:  NewRedisDedupStore(cfg.Redis),
			Lease:  NewRedisLeaseManager(cfg.Redis),
			KV:     NewRedisKVStore(cfg.Redis),
		}
	}
	return Stores{
		Offset: NewMemOffsetStore(),
		Dedup:  NewMemDedupStore(cfg.DedupMaxEntriesPerGroup),
		Lease:  NewMemLeaseManager(),
		KV:     NewMemKVStore(),
	}
}
