// Prometheus metrics for the memory engine.
package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestTotal counts ingest decisions.
	// Labels: outcome (created, merged, discarded, error)
	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "ingest_total",
			Help:      "Total ingest operations by dedup outcome",
		},
		[]string{"outcome"},
	)

	// queryDuration tracks retrieval latency.
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "query_duration_seconds",
			Help:      "Duration of retrieval operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// queryResults tracks how many memories each retrieval returned.
	queryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "query_results",
			Help:      "Number of memories returned per retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// correctionTotal counts evidence applications.
	// Labels: evidence (confirming, contradicting, superseding, irrelevant),
	// transitioned (true, false)
	correctionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "corrections_total",
			Help:      "Total evidence applications by type and effect",
		},
		[]string{"evidence", "transitioned"},
	)

	// tierMoves counts tier reclassifications.
	// Labels: direction (promote, demote)
	tierMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "tier_moves_total",
			Help:      "Total tier reclassifications by direction",
		},
		[]string{"direction"},
	)

	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "cache_evictions_total",
			Help:      "Total cache evictions under capacity pressure",
		},
	)

	// shareTotal counts scope promotions.
	// Labels: outcome (promoted, reinforced)
	shareTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "shares_total",
			Help:      "Total scope promotions by outcome",
		},
		[]string{"outcome"},
	)

	// conflictRetries counts version races resolved by internal retry.
	conflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "memory",
			Name:      "conflict_retries_total",
			Help:      "Total write retries after losing a version race",
		},
	)
)
