package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics without complex initialization.

var (
	// 1. Join Tuples (Counter)
	// Counts the pairs emitted by each join strategy.
	JoinTuplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annisdb_join_tuples_total",
			Help: "Total number of matching pairs produced by join strategies",
		},
		[]string{"strategy"}, // Labels
	)

	// 2. Parallel Degrades (Counter)
	// Counts parallel joins that ran synchronously because no worker was free.
	ParallelJoinDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annisdb_parallel_join_degraded_total",
			Help: "Number of parallel nested loop scans executed synchronously",
		},
	)

	// 3. Graph Storage Build Duration (Histogram)
	// Measures how long converting a component to another implementation takes.
	GraphStorageBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annisdb_graphstorage_build_duration_seconds",
			Help:    "Duration of graph storage construction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"impl"},
	)

	// 4. Loaded Components (Gauge)
	// Tracks the number of graph storages resident in memory per corpus.
	LoadedComponents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "annisdb_loaded_components",
			Help: "Number of graph storages loaded into memory",
		},
		[]string{"corpus"},
	)

	// 5. Cache Evictions (Counter)
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annisdb_cache_evictions_total",
			Help: "Number of corpora evicted from the corpus cache",
		},
	)

	// 6. Query Results (Counter)
	QueryResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annisdb_query_results_total",
			Help: "Total number of result tuples returned by queries",
		},
	)
)
