package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/annisdb/pkg/graphstorage"
	"github.com/sanonone/annisdb/pkg/join"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annisdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	t.Setenv("ANNISDB_TEST_DIR", "/srv/corpora")
	path := writeConfig(t, `
data_dir: ${ANNISDB_TEST_DIR}
cache:
  max_size_bytes: 1048576
join:
  parallel_workers: 3
  default_strategy: parallel
graphstorage:
  dedup: heuristic
  overrides:
    Dominance/tiger/: adjacencylist
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/corpora", cfg.DataDir)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, 3, cfg.Join.ParallelWorkers)
	// untouched values keep their defaults
	assert.Equal(t, Default().Join.QueueSize, cfg.Join.QueueSize)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	opts, err := cfg.QueryOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, join.ParallelNestedLoop, opts.DefaultStrategy)
	assert.Equal(t, 3, opts.Pool.Size())

	registry, err := cfg.Registry()
	require.NoError(t, err)
	stats := graphstorage.Statistics{Valid: true}
	assert.Equal(t, graphstorage.ImplAdjacencyList, registry.Optimal("Dominance/tiger/", stats))
	assert.Equal(t, graphstorage.ImplPrePostOrder, registry.Optimal("Dominance/other/", stats))
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown field": "data_dir: x\ncache:\n  max_size: 10\n",
		"syntax":        "join: [",
		"strategy":      "join:\n  default_strategy: hash\n",
		"dedup":         "graphstorage:\n  dedup: never\n",
		"override":      "graphstorage:\n  overrides:\n    Dominance/tiger/: skiplist\n",
		"level":         "log:\n  level: loud\n",
		"negative":      "cache:\n  max_size_bytes: -1\n",
		"empty dir":     "data_dir: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
