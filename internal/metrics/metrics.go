// Package metrics holds the Prometheus collectors shared across the store,
// cache and resilience layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by outcome (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgraph_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictions counts entries removed by expiry or invalidation.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgraph_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
		[]string{"reason"},
	)

	// CacheEntries tracks the number of live entries after each sweep.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskgraph_cache_entries",
			Help: "Number of entries held by the cache",
		},
	)

	// StoreLatency tracks backing store call latency.
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskgraph_store_latency_seconds",
			Help:    "Backing store call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "operation"},
	)

	// RetryAttempts counts retries scheduled by the retry executor.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgraph_retry_attempts_total",
			Help: "Total number of retried store operations",
		},
		[]string{"policy", "kind"},
	)

	// ClassifiedErrors counts errors surfaced to callers by kind.
	ClassifiedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgraph_classified_errors_total",
			Help: "Total number of classified errors returned to callers",
		},
		[]string{"kind", "severity"},
	)

	// BreakerState reports circuit state per breaker (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskgraph_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	// DanglingDependencies reports dependency ids that resolve to no task.
	DanglingDependencies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskgraph_dangling_dependencies",
			Help: "Dependency references pointing at tasks missing from the last snapshot",
		},
	)

	// DroppedEvents counts change events dropped because a subscriber was full.
	DroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgraph_events_dropped_total",
			Help: "Change events dropped for slow subscribers",
		},
	)

	// DBConnectionPoolUsage tracks the database connection pool usage percentage.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskgraph_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
