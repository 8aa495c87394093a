package log

import (
	"flag"
	"strconv"
)

// Config configures a partitioned Log (spec §6 "Configuration" table).
type Config struct {
	DataDir        string `yaml:"data_dir"`
	NumPartitions  int32  `yaml:"num_partitions"`
	MaxSegmentSize int64  `yaml:"max_segment_size"`
}

const (
	defaultNumPartitions  = 4
	defaultMaxSegmentSize = 100 * 1024 * 1024 // 100 MiB
)

// RegisterFlags installs flags with the given prefix, following the
// friggdb/cmd-frigg convention of one RegisterFlags per component Config.
func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.DataDir, prefix+"data-dir", "./data", "directory holding partition segment files")
	f.Func(prefix+"num-partitions", "number of partitions", func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		c.NumPartitions = int32(n)
		return nil
	})
	f.Int64Var(&c.MaxSegmentSize, prefix+"max-segment-size", defaultMaxSegmentSize, "rotate the active segment once it exceeds this many bytes")
}

func (c *Config) applyDefaults() {
	if c.NumPartitions <= 0 {
		c.NumPartitions = defaultNumPartitions
	}
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = defaultMaxSegmentSize
	}
}
