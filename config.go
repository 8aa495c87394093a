// Package flowbus composes the per-component Config structs (log, store,
// source, executor, cluster, replicated, operator, checkpoint) into one
// root configuration, the same aggregation shape as
// cmd/frigg/app/config.go's App Config wrapping friggdb.Config,
// storage.Config, etc. flowbus itself stays a library; this file exists so
// a caller's own main package (or tests) has one place to load YAML and
// register flags for every component at once, without each component
// package needing to know about the others.
package flowbus

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowbus/flowbus/checkpoint"
	"github.com/flowbus/flowbus/cluster"
	"github.com/flowbus/flowbus/executor"
	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/operator"
	"github.com/flowbus/flowbus/replicated"
	"github.com/flowbus/flowbus/source"
	"github.com/flowbus/flowbus/store"
)

// Config aggregates every component's Config, mirroring the table in
// spec.md §6.
type Config struct {
	Log        flog.Config       `yaml:"log"`
	Store      store.Config      `yaml:"store"`
	Source     source.Config     `yaml:"source"`
	Executor   executor.Config   `yaml:"executor"`
	Cluster    cluster.Config    `yaml:"cluster"`
	Replicated replicated.Config `yaml:"replicated"`
	Operator   operator.Config   `yaml:"operator"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
}

// RegisterFlags installs flags for every component under its own prefix,
// following friggdb/config.go's per-component RegisterFlags convention.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.Log.RegisterFlags("log.", f)
	c.Store.RegisterFlags("store.", f)
	c.Source.RegisterFlags("source.", f)
	c.Executor.RegisterFlags("executor.", f)
	c.Cluster.RegisterFlags("cluster.", f)
	c.Replicated.RegisterFlags("replicated.", f)
	c.Operator.RegisterFlags("operator.", f)
	c.Checkpoint.RegisterFlags("checkpoint.", f)
}

// LoadConfigFile reads and parses a YAML config file at path into a fresh
// Config. It applies no defaults: fields absent from the file keep their
// zero value, which each component's constructor then replaces with its own
// default. Grounded in
// cmd/frigg/main.go's config-file-then-flag-overrides loading order.
func LoadConfigFile(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c, nil
}
