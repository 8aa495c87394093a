// Package checkpoint implements the Checkpoint Manager (spec §4.10):
// periodic collection of every operator's snapshot state, persisted
// atomically via write-temp-then-rename, and restored by name before
// sources start. Grounded in friggdb's write-temp-then-rename block
// completion idiom (friggdb/wal_head_block.go / friggdb/complete_block.go)
// generalized from "finished trace block" to "checkpoint snapshot file",
// and in ClusterCockpit's walCheckpoint.go
// (other_examples/39c16707_ClusterCockpit-cc-backend__pkg-metricstore-walCheckpoint.go.go)
// for the periodic-checkpoint-id idiom.
package checkpoint

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowbus/flowbus/ferrors"
	"github.com/flowbus/flowbus/operator"
)

// Config configures a Manager (spec.md §6 table).
type Config struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

const defaultInterval = 30 * time.Second

// RegisterFlags installs flags with the given prefix, following the
// friggdb/cmd-frigg convention of one RegisterFlags per component Config.
func (c *Config) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Dir, prefix+"dir", "./checkpoints", "directory holding checkpoint snapshot files")
	f.DurationVar(&c.Interval, prefix+"interval", defaultInterval, "interval between automatic checkpoints")
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
}

var metricCheckpointsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "flowbus",
	Subsystem: "checkpoint",
	Name:      "writes_total",
	Help:      "Total number of checkpoint files successfully written.",
})

var metricCheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "flowbus",
	Subsystem: "checkpoint",
	Name:      "write_failures_total",
	Help:      "Total number of checkpoint write attempts that failed.",
})

// Manager periodically walks a *operator.Graph, collecting and persisting
// its state.
type Manager struct {
	cfg    Config
	graph  *operator.Graph
	logger log.Logger
}

// New builds a Manager over graph, persisting under cfg.Dir.
func New(cfg Config, graph *operator.Graph, logger log.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{cfg: cfg, graph: graph, logger: logger}
}

func checkpointFileName(id int64) string {
	return fmt.Sprintf("checkpoint_%020d.json", id)
}

func parseCheckpointID(name string) (int64, bool) {
	if !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Run walks the graph and persists a checkpoint every cfg.Interval, until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context, idSource func() int64) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id := idSource()
			if err := m.Write(ctx, id); err != nil {
				level.Error(m.logger).Log("msg", "checkpoint write failed", "id", id, "err", err)
				metricCheckpointFailures.Inc()
			} else {
				metricCheckpointsWritten.Inc()
			}
		}
	}
}

// Write persists the current graph snapshot under id, atomically.
func (m *Manager) Write(ctx context.Context, id int64) error {
	snapshot := m.graph.Snapshot()

	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint: %v", ferrors.ErrSerialization, err)
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: create checkpoint dir: %v", ferrors.ErrStorageIO, err)
	}

	final := filepath.Join(m.cfg.Dir, checkpointFileName(id))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("%w: write checkpoint temp file: %v", ferrors.ErrStorageIO, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename checkpoint into place: %v", ferrors.ErrStorageIO, err)
	}

	level.Info(m.logger).Log("msg", "wrote checkpoint", "id", id, "path", final)
	return nil
}

// Latest returns the highest checkpoint id present under cfg.Dir, or
// ok=false if none exists.
func (m *Manager) Latest() (id int64, ok bool, err error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: list checkpoints: %v", ferrors.ErrStorageIO, err)
	}

	var ids []int64
	for _, e := range entries {
		if cid, ok := parseCheckpointID(e.Name()); ok {
			ids = append(ids, cid)
		}
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids[0], true, nil
}

// Restore loads the checkpoint at id and dispatches it into the graph by
// operator name. Call this before starting any sources (spec §4.10).
func (m *Manager) Restore(id int64) error {
	path := filepath.Join(m.cfg.Dir, checkpointFileName(id))
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read checkpoint %s: %v", ferrors.ErrStorageIO, path, err)
	}

	var snapshot map[string]operator.State
	if err := json.Unmarshal(b, &snapshot); err != nil {
		return fmt.Errorf("%w: unmarshal checkpoint %s: %v", ferrors.ErrSerialization, path, err)
	}

	m.graph.Restore(snapshot)
	level.Info(m.logger).Log("msg", "restored checkpoint", "id", id, "path", path)
	return nil
}
