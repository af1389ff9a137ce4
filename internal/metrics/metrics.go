// Package metrics defines the Prometheus collectors shared across the
// archive. Collectors register themselves at import via promauto and are
// exposed by the /metrics endpoint in cmd/telarcd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts fetch requests by resolution and outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Fetch requests by resolution and outcome.",
	}, []string{"resolution", "outcome"})

	// FetchDuration observes fetch latency by resolution.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telarc",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Fetch latency by resolution.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"resolution"})

	// TimeCacheHits and TimeCacheMisses count TIME column cache lookups.
	TimeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "fetch",
		Name:      "time_cache_hits_total",
		Help:      "TIME column cache hits.",
	})
	TimeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "fetch",
		Name:      "time_cache_misses_total",
		Help:      "TIME column cache misses.",
	})

	// RecentMergeFailures counts non-fatal recent-source failures.
	RecentMergeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "fetch",
		Name:      "recent_merge_failures_total",
		Help:      "Recent-data source failures absorbed as partial results.",
	})

	// StatsRowsAppended counts statistics rows written by the updater.
	StatsRowsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "stats",
		Name:      "rows_appended_total",
		Help:      "Statistics rows appended by content and resolution.",
	}, []string{"content", "resolution"})

	// BundlesPublished counts sync bundles written to the object store.
	BundlesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "sync",
		Name:      "bundles_published_total",
		Help:      "Sync bundles published by content.",
	}, []string{"content"})

	// BundlesApplied counts sync bundles applied to the local replica.
	BundlesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "sync",
		Name:      "bundles_applied_total",
		Help:      "Sync bundles applied by content.",
	}, []string{"content"})

	// SyncRowLag reports how many rows the replica trails the publisher.
	SyncRowLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "telarc",
		Subsystem: "sync",
		Name:      "row_lag",
		Help:      "Rows the local replica trails the published index.",
	}, []string{"content"})

	// RemoteRequests counts remote-execution calls by method and outcome.
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telarc",
		Subsystem: "remote",
		Name:      "requests_total",
		Help:      "Remote execution requests by method and outcome.",
	}, []string{"method", "outcome"})
)
