// Package metrics holds the process-wide Prometheus collectors. They register
// with the default registry once, at package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputeJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfia_recompute_jobs_processed_total",
		Help: "Recompute jobs handled, by outcome (succeeded, failed, skipped, dead)",
	}, []string{"outcome"})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dfia_recompute_duration_seconds",
		Help:    "Duration of one license recompute including item writes",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfia_outbox_published_total",
		Help: "Recompute jobs published to Pub/Sub, by outcome (sent, failed, dead)",
	}, []string{"outcome"})

	BalanceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfia_balance_cache_hits_total",
		Help: "License balance reads served from Redis",
	})

	BalanceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfia_balance_cache_misses_total",
		Help: "License balance reads computed from the ledger",
	})

	BalanceCacheStaleWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfia_balance_cache_stale_writes_total",
		Help: "Computed balances not cached because the license was evicted mid-calculation",
	})

	NegativeBalanceClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfia_negative_balance_clamps_total",
		Help: "License balances that were negative and clamped to zero (over-allocation)",
	})
)

// ObserveRecompute records the duration of a recompute started at start.
func ObserveRecompute(start time.Time) {
	RecomputeDuration.Observe(time.Since(start).Seconds())
}

func IncRecomputeOutcome(outcome string) {
	RecomputeJobsProcessed.WithLabelValues(outcome).Inc()
}

func IncOutboxPublished(outcome string) {
	OutboxPublished.WithLabelValues(outcome).Inc()
}
