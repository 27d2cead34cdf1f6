// Package config defines the YAML configuration of annisdb.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/annisdb/pkg/graphstorage"
	"github.com/sanonone/annisdb/pkg/join"
	"github.com/sanonone/annisdb/pkg/query"
)

// Config is the top-level structure of the configuration file.
type Config struct {
	// DataDir holds one directory per corpus.
	DataDir      string             `yaml:"data_dir"`
	Cache        CacheConfig        `yaml:"cache"`
	Join         JoinConfig         `yaml:"join"`
	GraphStorage GraphStorageConfig `yaml:"graphstorage"`
	Log          LogConfig          `yaml:"log"`
}

type CacheConfig struct {
	// MaxSizeBytes bounds the estimated memory of all loaded corpora. Zero
	// disables eviction.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

type JoinConfig struct {
	ParallelWorkers int    `yaml:"parallel_workers"` // 0 = logical cores
	QueueSize       int    `yaml:"queue_size"`
	ChunkSize       int    `yaml:"chunk_size"`
	DefaultStrategy string `yaml:"default_strategy"` // "seed", "nestedloop", "parallel"
}

type GraphStorageConfig struct {
	Dedup string `yaml:"dedup"` // "always", "heuristic"
	// Overrides forces an implementation for components, keyed by
	// "Type/layer/name".
	Overrides map[string]string `yaml:"overrides"`
}

type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Default returns the configuration used when no file is given.
func Default() Config {
	parallel := join.DefaultParallelOptions()
	return Config{
		DataDir: "./data",
		Cache: CacheConfig{
			MaxSizeBytes: 1 << 30,
		},
		Join: JoinConfig{
			QueueSize:       parallel.QueueSize,
			ChunkSize:       parallel.ChunkSize,
			DefaultStrategy: join.Seed.String(),
		},
		GraphStorage: GraphStorageConfig{
			Dedup: "always",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path on top of the defaults. Environment
// variables in the file are expanded. Unknown fields are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be verified by decoding alone.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("cache.max_size_bytes must not be negative")
	}
	if c.Join.ParallelWorkers < 0 || c.Join.QueueSize < 0 || c.Join.ChunkSize < 0 {
		return fmt.Errorf("join settings must not be negative")
	}
	if _, err := join.ParseStrategy(c.Join.DefaultStrategy); err != nil {
		return fmt.Errorf("join.default_strategy: %w", err)
	}
	if _, err := graphstorage.ParseDedupPolicy(c.GraphStorage.Dedup); err != nil {
		return fmt.Errorf("graphstorage.dedup: %w", err)
	}
	known := graphstorage.NewRegistry(graphstorage.DedupAlways, nil).Names()
	for component, impl := range c.GraphStorage.Overrides {
		if !slices.Contains(known, impl) {
			return fmt.Errorf("graphstorage.overrides[%s]: unknown implementation %q", component, impl)
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Registry creates the graph storage registry for the configured policy.
func (c Config) Registry() (*graphstorage.Registry, error) {
	dedup, err := graphstorage.ParseDedupPolicy(c.GraphStorage.Dedup)
	if err != nil {
		return nil, err
	}
	return graphstorage.NewRegistry(dedup, c.GraphStorage.Overrides), nil
}

// QueryOptions returns the execution options for queries. The worker pool is
// created here, callers should share the returned options between queries.
func (c Config) QueryOptions(logger *slog.Logger) (query.Options, error) {
	strategy, err := join.ParseStrategy(c.Join.DefaultStrategy)
	if err != nil {
		return query.Options{}, err
	}
	return query.Options{
		Pool: join.NewWorkerPool(c.Join.ParallelWorkers),
		Parallel: join.ParallelOptions{
			Workers:   c.Join.ParallelWorkers,
			QueueSize: c.Join.QueueSize,
			ChunkSize: c.Join.ChunkSize,
		},
		DefaultStrategy: strategy,
		Logger:          logger,
	}, nil
}
