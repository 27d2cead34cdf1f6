// Package cli implements the annisdb command line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sanonone/annisdb/pkg/config"
	"github.com/sanonone/annisdb/pkg/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string // overrides data_dir of the config file
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the annisdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "annisdb",
		Short: "annisdb - query linguistic annotation graphs",
		Long: `Query engine for multi-layer linguistic corpora stored as annotation graphs.

Corpora live in sub directories of the data directory. Queries are given in
the JSON query description format.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "corpus directory (overrides the configuration)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewOptimizeCommand(opts))

	return cmd
}

// env is what every command needs: the effective configuration, a logger
// writing to stderr and the corpus cache.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	cache  *engine.Cache
}

func setup(opts *RootOptions, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	cacheOpts := engine.DefaultOptions(cfg.DataDir)
	cacheOpts.MaxSizeBytes = cfg.Cache.MaxSizeBytes
	cacheOpts.Registry = registry
	cacheOpts.MaintenanceInterval = 0
	cacheOpts.Logger = logger
	cache, err := engine.Open(cacheOpts)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, cache: cache}, nil
}

func (e *env) Close() {
	e.cache.Close()
}
