package config

import (
	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/fetch"
	"github.com/sattrk/telarc/internal/objstore"
	"github.com/sattrk/telarc/internal/remote"
	"github.com/sattrk/telarc/internal/sync"
)

// ToCatalogConfig converts the catalog section to the metastore config.
func ToCatalogConfig(c *Config) catalog.Config {
	return catalog.Config{
		DSN:             c.CatalogDSN(),
		MaxOpenConns:    c.Catalog.MaxOpenConns,
		MaxIdleConns:    c.Catalog.MaxIdleConns,
		ConnMaxLifetime: c.Catalog.ConnMaxLifetime,
		QueryTimeout:    c.Catalog.QueryTimeout,
	}
}

// ToFetchConfig converts the fetch section to the engine config.
func ToFetchConfig(c *Config) fetch.Config {
	def := fetch.DefaultConfig()
	out := fetch.Config{
		MaxGlobMatches: c.Fetch.MaxGlobMatches,
		TimeCacheTTL:   c.Fetch.TimeCacheTTL,
		TimeCacheSize:  c.Fetch.TimeCacheSize,
		RecentEpsilon:  c.Fetch.RecentEpsilon,
		Workers:        c.Fetch.Workers,
		SteppedOn:      c.Fetch.SteppedOn,
	}
	if out.RecentEpsilon == 0 {
		out.RecentEpsilon = def.RecentEpsilon
	}
	// Absent keeps the built-in list; an explicit empty list disables.
	if out.SteppedOn == nil {
		out.SteppedOn = def.SteppedOn
	}
	return out
}

// ToServerConfig converts the server section to the query server config.
func ToServerConfig(c *Config) remote.ServerConfig {
	return remote.ServerConfig{
		Listen:       c.Server.Listen,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		IdleTimeout:  c.Server.IdleTimeout,
		MaxBodyBytes: c.Server.MaxBodyBytes,
	}
}

// ToPublisherConfig converts the publish section to the publisher
// config.
func ToPublisherConfig(c *Config) sync.PublisherConfig {
	return sync.PublisherConfig{
		MaxBundleSpan: c.Sync.Publish.MaxBundleSpan,
		MaxBundleRows: c.Sync.Publish.MaxBundleRows,
		Lag:           c.Sync.Publish.Lag,
	}
}

// ToS3Config converts the s3 section to the object store config.
func ToS3Config(c *Config) objstore.S3Config {
	return objstore.S3Config{
		Bucket:          c.Sync.Object.S3.Bucket,
		Region:          c.Sync.Object.S3.Region,
		Endpoint:        c.Sync.Object.S3.Endpoint,
		ForcePathStyle:  c.Sync.Object.S3.ForcePathStyle,
		AccessKeyID:     c.Sync.Object.S3.AccessKeyID,
		SecretAccessKey: c.Sync.Object.S3.SecretAccessKey,
		SessionToken:    c.Sync.Object.S3.SessionToken,
		CreateBucket:    c.Sync.Object.S3.CreateBucket,
	}
}
