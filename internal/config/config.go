// Package config loads and validates the daemon configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/sattrk/telarc/config"
	"github.com/sattrk/telarc/internal/errors"
)

// Config is the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for the archive, the catalog and
	// sync state.
	DataDir string `yaml:"data_dir"`

	// Log configures the slog output.
	Log LogConfig `yaml:"log"`

	// Server configures the query HTTP server.
	Server ServerConfig `yaml:"server"`

	// Catalog configures the metastore.
	Catalog CatalogConfig `yaml:"catalog"`

	// Fetch configures the query engine.
	Fetch FetchConfig `yaml:"fetch"`

	// Recent configures the in-memory recent-data ring.
	Recent RecentConfig `yaml:"recent"`

	// Stats configures the periodic statistics aggregation.
	Stats StatsConfig `yaml:"stats"`

	// Sync configures archive replication.
	Sync SyncConfig `yaml:"sync"`
}

// LogConfig configures the slog output.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the handler: text (tinted on a terminal) or json.
	Format string `yaml:"format"`
}

// ServerConfig configures the query HTTP server.
type ServerConfig struct {
	// Listen is the bind address.
	Listen string `yaml:"listen"`

	// ReadTimeout bounds reading one request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds answering one request, engine time included.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxBodyBytes caps a request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Metrics mounts /metrics on the same listener.
	Metrics bool `yaml:"metrics"`
}

// CatalogConfig configures the metastore.
type CatalogConfig struct {
	// DSN is the database path. Empty lands the catalog under DataDir;
	// the daemon never runs it in memory.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// FetchConfig configures the query engine.
type FetchConfig struct {
	// MaxGlobMatches caps one pattern's expansion in multi-channel
	// fetches.
	MaxGlobMatches int `yaml:"max_glob_matches"`

	// TimeCacheTTL is how long decoded TIME columns stay cached.
	TimeCacheTTL time.Duration `yaml:"time_cache_ttl"`

	// TimeCacheSize is the TIME cache entry capacity.
	TimeCacheSize int `yaml:"time_cache_size"`

	// RecentEpsilon is added to the archive tail timestamp before
	// querying the recent ring.
	RecentEpsilon float64 `yaml:"recent_epsilon"`

	// Workers bounds concurrent per-channel reads.
	Workers int `yaml:"workers"`

	// SteppedOn lists channels needing the one-sample bad-run
	// extension. Absent keeps the built-in list; an explicit empty
	// list disables the extension.
	SteppedOn []string `yaml:"stepped_on"`
}

// RecentConfig configures the in-memory recent-data ring.
type RecentConfig struct {
	// Enabled builds the ring. Something must feed it: an embedder's
	// ingest path pushes arriving samples.
	Enabled bool `yaml:"enabled"`

	// Capacity is the per-channel sample capacity.
	Capacity int `yaml:"capacity"`
}

// StatsConfig configures the periodic statistics aggregation.
type StatsConfig struct {
	// Enabled runs the aggregation loop.
	Enabled bool `yaml:"enabled"`

	// Interval is the loop cadence.
	Interval time.Duration `yaml:"interval"`

	// Workers bounds channels aggregated in parallel per content type.
	Workers int `yaml:"workers"`
}

// SyncConfig configures archive replication.
type SyncConfig struct {
	// Role selects the replication side: empty (off), publisher or
	// replica.
	Role string `yaml:"role"`

	// Interval is the publish or apply loop cadence.
	Interval time.Duration `yaml:"interval"`

	// Workers bounds content types processed in parallel.
	Workers int `yaml:"workers"`

	// CursorDir holds the replica's per-content cursors. Empty lands
	// them under DataDir.
	CursorDir string `yaml:"cursor_dir"`

	// Publish bounds the bundles a publisher cuts.
	Publish PublishConfig `yaml:"publish"`

	// Object selects the shared object store.
	Object ObjectConfig `yaml:"object"`
}

// PublishConfig bounds the bundles a publisher cuts.
type PublishConfig struct {
	// MaxBundleSpan caps the file-time span of one bundle.
	MaxBundleSpan time.Duration `yaml:"max_bundle_span"`

	// MaxBundleRows caps the rows of one bundle.
	MaxBundleRows int64 `yaml:"max_bundle_rows"`

	// Lag withholds records younger than this from publication.
	Lag time.Duration `yaml:"lag"`
}

// ObjectConfig selects the shared object store.
type ObjectConfig struct {
	// Backend is the store kind: dir, s3 or memory (testing only).
	Backend string `yaml:"backend"`

	// Dir is the root of the dir backend. Empty lands it under
	// DataDir, which only makes sense when both sides share the host.
	Dir string `yaml:"dir"`

	// S3 configures the s3 backend.
	S3 S3Config `yaml:"s3"`
}

// S3Config describes an S3 bucket or a compatible endpoint.
type S3Config struct {
	// Bucket is the bucket name.
	Bucket string `yaml:"bucket"`

	// Region is the AWS region.
	Region string `yaml:"region"`

	// Endpoint is a non-AWS endpoint URL, empty for AWS.
	Endpoint string `yaml:"endpoint"`

	// ForcePathStyle is required by most S3-compatible servers.
	ForcePathStyle bool `yaml:"force_path_style"`

	// AccessKeyID and SecretAccessKey are static credentials; empty
	// uses the default chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// CreateBucket creates the bucket at startup when missing.
	CreateBucket bool `yaml:"create_bucket"`
}

// Load loads configuration from a YAML file. Missing keys keep their
// defaults; a missing file surfaces as fs.ErrNotExist so callers can
// fall back to DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return config, nil
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/telarc",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Listen:       defaults.DefaultListenAddress,
			MaxBodyBytes: defaults.DefaultMaxBodyBytes,
			Metrics:      true,
		},
		Catalog: CatalogConfig{
			QueryTimeout: 30 * time.Second,
		},
		Fetch: FetchConfig{
			MaxGlobMatches: defaults.DefaultMaxGlobMatches,
			TimeCacheTTL:   defaults.DefaultTimeCacheTTL,
			TimeCacheSize:  defaults.DefaultTimeCacheSize,
			Workers:        defaults.DefaultFetchWorkers,
		},
		Recent: RecentConfig{
			Capacity: defaults.DefaultRecentCapacity,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Interval: defaults.DefaultStatsInterval,
			Workers:  defaults.DefaultStatsWorkers,
		},
		Sync: SyncConfig{
			Interval: defaults.DefaultSyncInterval,
			Workers:  defaults.DefaultSyncWorkers,
			Publish: PublishConfig{
				MaxBundleSpan: defaults.DefaultBundleSpan,
				MaxBundleRows: defaults.DefaultBundleRows,
				Lag:           defaults.DefaultPublishLag,
			},
		},
	}
}
