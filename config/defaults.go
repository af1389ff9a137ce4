// Package config provides configuration defaults for the telarc daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via telarc.yaml.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default query server listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:9440"

	// DefaultMaxBodyBytes limits request body size to prevent OOM.
	// 1 MiB covers any reasonable argument payload.
	// Override via config: server.max_body_bytes
	DefaultMaxBodyBytes = 1 << 20
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultMaxGlobMatches is the largest channel set one glob pattern
	// may expand to in a multi-channel fetch.
	// Override via config: fetch.max_glob_matches
	DefaultMaxGlobMatches = 100

	// DefaultFetchWorkers is the number of concurrent per-channel reads
	// during multi-channel fetches.
	// Override via config: fetch.workers
	DefaultFetchWorkers = 8

	// DefaultTimeCacheTTL is how long decoded TIME columns stay cached.
	// Entries also revalidate against the catalog revision.
	// Override via config: fetch.time_cache_ttl
	DefaultTimeCacheTTL = 5 * time.Minute

	// DefaultTimeCacheSize is the TIME cache entry capacity.
	// Override via config: fetch.time_cache_size
	DefaultTimeCacheSize = 64
)

// =============================================================================
// Recent-Data Defaults
// =============================================================================

const (
	// DefaultRecentCapacity is the per-channel sample capacity of the
	// in-memory recent ring. At typical telemetry cadences this holds
	// the last couple of days.
	// Override via config: recent.capacity
	DefaultRecentCapacity = 4096
)

// =============================================================================
// Statistics Defaults
// =============================================================================

const (
	// DefaultStatsInterval is how often the aggregation pass extends the
	// 5-minute and daily statistics files.
	// Override via config: stats.interval
	DefaultStatsInterval = 5 * time.Minute

	// DefaultStatsWorkers is the number of channels aggregated in
	// parallel per content type.
	// Override via config: stats.workers
	DefaultStatsWorkers = 4
)

// =============================================================================
// Sync Defaults
// =============================================================================

const (
	// DefaultSyncInterval is the publisher and applier loop cadence.
	// Override via config: sync.interval
	DefaultSyncInterval = time.Minute

	// DefaultSyncWorkers is the number of content types published or
	// applied in parallel.
	// Override via config: sync.workers
	DefaultSyncWorkers = 4

	// DefaultBundleSpan caps the file-time span of one published bundle.
	// Override via config: sync.publish.max_bundle_span
	DefaultBundleSpan = 24 * time.Hour

	// DefaultBundleRows caps the rows of one published bundle.
	// Override via config: sync.publish.max_bundle_rows
	DefaultBundleRows = 1_000_000

	// DefaultPublishLag withholds records younger than this from
	// publication, leaving ingestion time to settle.
	// Override via config: sync.publish.lag
	DefaultPublishLag = 5 * time.Minute
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownGrace is how long in-flight queries and loops get
	// to finish during shutdown. This follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	DefaultShutdownGrace = 30 * time.Second
)
