package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sattrk/telarc/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}
	if cfg.Server.Listen == "" {
		t.Error("expected default server.listen")
	}
	if cfg.Fetch.Workers <= 0 {
		t.Error("expected positive fetch.workers")
	}
	if !cfg.Stats.Enabled {
		t.Error("expected stats enabled by default")
	}
	if cfg.Sync.Role != RoleOff {
		t.Error("expected sync off by default")
	}
	if cfg.Sync.Publish.MaxBundleRows <= 0 {
		t.Error("expected positive max_bundle_rows")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	cfg = DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty data_dir")
	}

	cfg = DefaultConfig()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}

	cfg = DefaultConfig()
	cfg.Fetch.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative fetch.workers")
	}

	cfg = DefaultConfig()
	cfg.Stats.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero stats.interval while enabled")
	}

	cfg = DefaultConfig()
	cfg.Stats.Enabled = false
	cfg.Stats.Interval = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled stats should not validate interval: %v", err)
	}

	cfg = DefaultConfig()
	cfg.Recent.Enabled = true
	cfg.Recent.Capacity = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero recent.capacity while enabled")
	}
}

func TestSyncValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.Role = "mirror"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown sync.role")
	}

	// A role without an object backend is unusable.
	cfg = DefaultConfig()
	cfg.Sync.Role = RolePublisher
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for publisher without object backend")
	}

	cfg = DefaultConfig()
	cfg.Sync.Role = RolePublisher
	cfg.Sync.Object.Backend = BackendDir
	if err := cfg.Validate(); err != nil {
		t.Errorf("publisher over dir backend should be valid: %v", err)
	}

	cfg = DefaultConfig()
	cfg.Sync.Role = RoleReplica
	cfg.Sync.Object.Backend = BackendS3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for s3 backend without bucket and region")
	}

	cfg.Sync.Object.S3.Bucket = "telarc-bundles"
	cfg.Sync.Object.S3.Region = "us-east-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("replica over s3 backend should be valid: %v", err)
	}

	// Sync off ignores the object section entirely.
	cfg = DefaultConfig()
	cfg.Sync.Object.Backend = "tape"
	if err := cfg.Validate(); err != nil {
		t.Errorf("sync off should not validate object backend: %v", err)
	}
}

func TestValidationErrorsCollect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Log.Format = "xml"
	cfg.Server.ReadTimeout = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("expected 3 collected errors, got %d: %v", len(verrs.Errors), err)
	}
}

func TestLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "telarc.yaml")

	configContent := `
data_dir: /srv/telarc
log:
  level: debug
  format: json
server:
  listen: 127.0.0.1:9441
  write_timeout: 2m
fetch:
  workers: 16
  stepped_on: []
stats:
  interval: 10m
sync:
  role: publisher
  interval: 30s
  object:
    backend: dir
    dir: /srv/bundles
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "/srv/telarc" {
		t.Errorf("expected data_dir=/srv/telarc, got %s", cfg.DataDir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Server.Listen != "127.0.0.1:9441" {
		t.Errorf("expected overridden listen, got %s", cfg.Server.Listen)
	}
	if cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("expected write_timeout=2m, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Fetch.Workers != 16 {
		t.Errorf("expected fetch.workers=16, got %d", cfg.Fetch.Workers)
	}
	if cfg.Stats.Interval != 10*time.Minute {
		t.Errorf("expected stats.interval=10m, got %v", cfg.Stats.Interval)
	}
	if cfg.Sync.Role != RolePublisher {
		t.Errorf("expected publisher role, got %q", cfg.Sync.Role)
	}

	// Missing keys keep their defaults.
	if cfg.Fetch.MaxGlobMatches != DefaultConfig().Fetch.MaxGlobMatches {
		t.Errorf("expected default max_glob_matches, got %d", cfg.Fetch.MaxGlobMatches)
	}
	if !cfg.Stats.Enabled {
		t.Error("expected stats to stay enabled")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Callers fall back to defaults on this condition.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configPath, []byte("data_dir: [unterminated"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestToFetchConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Absent stepped_on keeps the built-in list.
	fc := ToFetchConfig(cfg)
	if len(fc.SteppedOn) == 0 {
		t.Error("expected built-in stepped_on list")
	}
	if fc.RecentEpsilon <= 0 {
		t.Error("expected positive recent epsilon")
	}

	// An explicit empty list disables the extension.
	cfg.Fetch.SteppedOn = []string{}
	fc = ToFetchConfig(cfg)
	if len(fc.SteppedOn) != 0 {
		t.Errorf("expected empty stepped_on, got %v", fc.SteppedOn)
	}

	cfg.Fetch.SteppedOn = []string{"tephin"}
	fc = ToFetchConfig(cfg)
	if len(fc.SteppedOn) != 1 || fc.SteppedOn[0] != "tephin" {
		t.Errorf("expected configured stepped_on, got %v", fc.SteppedOn)
	}
}

func TestToCatalogConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/telarc"

	cc := ToCatalogConfig(cfg)
	if cc.DSN != "/data/telarc/catalog.duckdb" {
		t.Errorf("expected defaulted DSN, got %s", cc.DSN)
	}

	cfg.Catalog.DSN = "/elsewhere/cat.duckdb"
	cc = ToCatalogConfig(cfg)
	if cc.DSN != "/elsewhere/cat.duckdb" {
		t.Errorf("expected configured DSN, got %s", cc.DSN)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/telarc"

	if got := cfg.StoreDir(); got != "/data/telarc/archive" {
		t.Errorf("StoreDir: got %s", got)
	}
	if got := cfg.CursorDir(); got != "/data/telarc/cursors" {
		t.Errorf("CursorDir: got %s", got)
	}
	if got := cfg.ObjectDir(); got != "/data/telarc/bundles" {
		t.Errorf("ObjectDir: got %s", got)
	}

	cfg.Sync.CursorDir = "/fast/cursors"
	cfg.Sync.Object.Dir = "/shared/bundles"
	if got := cfg.CursorDir(); got != "/fast/cursors" {
		t.Errorf("CursorDir override: got %s", got)
	}
	if got := cfg.ObjectDir(); got != "/shared/bundles" {
		t.Errorf("ObjectDir override: got %s", got)
	}
}
