package config

import (
	"path/filepath"

	"github.com/sattrk/telarc/internal/errors"
)

// Roles a daemon can take in replication.
const (
	RoleOff       = ""
	RolePublisher = "publisher"
	RoleReplica   = "replica"
)

// Object store backends.
const (
	BackendDir    = "dir"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}
	c.Log.validate(v)
	c.Server.validate(v)
	c.Catalog.validate(v)
	c.Fetch.validate(v)
	c.Recent.validate(v)
	c.Stats.validate(v)
	c.Sync.validate(v)

	return v.Err()
}

func (c *LogConfig) validate(v *errors.ValidationErrors) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"":      true, // Empty defaults to info
	}
	if !validLevels[c.Level] {
		v.AddField("log.level", "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
		"":     true, // Empty defaults to text
	}
	if !validFormats[c.Format] {
		v.AddField("log.format", "must be one of: text, json")
	}
}

func (c *ServerConfig) validate(v *errors.ValidationErrors) {
	if c.Listen == "" {
		v.AddMissing("server.listen")
	}
	if c.ReadTimeout < 0 {
		v.AddField("server.read_timeout", "must not be negative")
	}
	if c.WriteTimeout < 0 {
		v.AddField("server.write_timeout", "must not be negative")
	}
	if c.IdleTimeout < 0 {
		v.AddField("server.idle_timeout", "must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		v.AddField("server.max_body_bytes", "must not be negative")
	}
}

func (c *CatalogConfig) validate(v *errors.ValidationErrors) {
	if c.MaxOpenConns < 0 {
		v.AddField("catalog.max_open_conns", "must not be negative")
	}
	if c.MaxIdleConns < 0 {
		v.AddField("catalog.max_idle_conns", "must not be negative")
	}
	if c.QueryTimeout < 0 {
		v.AddField("catalog.query_timeout", "must not be negative")
	}
}

func (c *FetchConfig) validate(v *errors.ValidationErrors) {
	if c.MaxGlobMatches < 0 {
		v.AddField("fetch.max_glob_matches", "must not be negative")
	}
	if c.TimeCacheSize < 0 {
		v.AddField("fetch.time_cache_size", "must not be negative")
	}
	if c.RecentEpsilon < 0 {
		v.AddField("fetch.recent_epsilon", "must not be negative")
	}
	if c.Workers < 0 {
		v.AddField("fetch.workers", "must not be negative")
	}
}

func (c *RecentConfig) validate(v *errors.ValidationErrors) {
	if c.Enabled && c.Capacity < 1 {
		v.AddField("recent.capacity", "must be positive when enabled")
	}
}

func (c *StatsConfig) validate(v *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}
	if c.Interval <= 0 {
		v.AddField("stats.interval", "must be positive when enabled")
	}
	if c.Workers < 0 {
		v.AddField("stats.workers", "must not be negative")
	}
}

func (c *SyncConfig) validate(v *errors.ValidationErrors) {
	switch c.Role {
	case RoleOff:
		return
	case RolePublisher, RoleReplica:
	default:
		v.AddField("sync.role", "must be one of: publisher, replica")
		return
	}

	if c.Interval <= 0 {
		v.AddField("sync.interval", "must be positive")
	}
	if c.Workers < 0 {
		v.AddField("sync.workers", "must not be negative")
	}
	if c.Publish.MaxBundleSpan < 0 {
		v.AddField("sync.publish.max_bundle_span", "must not be negative")
	}
	if c.Publish.MaxBundleRows < 0 {
		v.AddField("sync.publish.max_bundle_rows", "must not be negative")
	}
	if c.Publish.Lag < 0 {
		v.AddField("sync.publish.lag", "must not be negative")
	}
	c.Object.validate(v)
}

func (c *ObjectConfig) validate(v *errors.ValidationErrors) {
	switch c.Backend {
	case BackendDir, BackendMemory:
	case BackendS3:
		if c.S3.Bucket == "" {
			v.AddMissing("sync.object.s3.bucket")
		}
		if c.S3.Region == "" {
			v.AddMissing("sync.object.s3.region")
		}
	case "":
		v.AddMissing("sync.object.backend")
	default:
		v.AddField("sync.object.backend", "must be one of: dir, s3, memory")
	}
}

// StoreDir returns the column store root.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// CatalogDSN returns the metastore path, defaulted under DataDir.
func (c *Config) CatalogDSN() string {
	if c.Catalog.DSN != "" {
		return c.Catalog.DSN
	}
	return filepath.Join(c.DataDir, "catalog.duckdb")
}

// CursorDir returns the replica cursor directory, defaulted under
// DataDir.
func (c *Config) CursorDir() string {
	if c.Sync.CursorDir != "" {
		return c.Sync.CursorDir
	}
	return filepath.Join(c.DataDir, "cursors")
}

// ObjectDir returns the dir backend root, defaulted under DataDir.
func (c *Config) ObjectDir() string {
	if c.Sync.Object.Dir != "" {
		return c.Sync.Object.Dir
	}
	return filepath.Join(c.DataDir, "bundles")
}
