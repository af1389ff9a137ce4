// telarcd is the telemetry archive daemon. It serves the query API over
// HTTP and runs the aggregation and replication loops configured for
// this node.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	defaults "github.com/sattrk/telarc/config"
	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/fetch"
	"github.com/sattrk/telarc/internal/archive/stats"
	"github.com/sattrk/telarc/internal/config"
	"github.com/sattrk/telarc/internal/derived"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
	"github.com/sattrk/telarc/internal/objstore"
	"github.com/sattrk/telarc/internal/remote"
	"github.com/sattrk/telarc/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "/etc/telarc/config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "archive root directory (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("telarcd %s\n", version)
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	usingDefaults := false
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg = config.DefaultConfig()
		usingDefaults = true
	}

	// CLI overrides.
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	initLogging(cfg.Log)
	log := logging.Component("telarcd")
	log.Info("starting", "version", version, "data_dir", cfg.DataDir)
	if usingDefaults {
		log.Info("no config file found, using defaults", "path", *cfgPath)
	}

	// =========================================================================
	// Archive store and catalog
	// =========================================================================

	store, err := colstore.NewStore(cfg.StoreDir())
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	cat, err := catalog.New(config.ToCatalogConfig(cfg))
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}
	defer func() {
		if err := cat.Close(); err != nil {
			log.Warn("close catalog", "error", err)
		}
	}()

	// =========================================================================
	// Query engine and HTTP server
	// =========================================================================

	var recent fetch.RecentSource
	if cfg.Recent.Enabled {
		recent = fetch.NewRing(cfg.Recent.Capacity)
	}
	engine, err := fetch.NewEngine(store, cat, derived.Default(), recent, config.ToFetchConfig(cfg))
	if err != nil {
		return errors.Wrap(err, "create engine")
	}
	defer engine.Close()

	srv := remote.NewServer(engine, config.ToServerConfig(cfg))
	if cfg.Server.Metrics {
		srv.Router().Handle("/metrics", promhttp.Handler())
	}

	// =========================================================================
	// Background loops
	// =========================================================================

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Replicas receive aggregate rows through bundles; running the
	// updater there as well would append the same buckets twice.
	if cfg.Stats.Enabled && cfg.Sync.Role != config.RoleReplica {
		updater := stats.NewUpdater(store, cat)
		g.Go(func() error {
			runEvery(gctx, log, "stats update", cfg.Stats.Interval, func(ctx context.Context) (int, error) {
				return updater.UpdateAll(ctx, cfg.Stats.Workers)
			})
			return nil
		})
	}

	switch cfg.Sync.Role {
	case config.RolePublisher:
		obj, err := newObjectStore(ctx, cfg)
		if err != nil {
			return errors.Wrap(err, "open object store")
		}
		pub := sync.NewPublisher(store, cat, obj, nil, config.ToPublisherConfig(cfg))
		g.Go(func() error {
			runEvery(gctx, log, "bundle publish", cfg.Sync.Interval, func(ctx context.Context) (int, error) {
				return pub.PublishAll(ctx, cfg.Sync.Workers)
			})
			return nil
		})
	case config.RoleReplica:
		obj, err := newObjectStore(ctx, cfg)
		if err != nil {
			return errors.Wrap(err, "open object store")
		}
		cursors, err := sync.NewCursorStore(cfg.CursorDir())
		if err != nil {
			return errors.Wrap(err, "open cursor store")
		}
		app := sync.NewApplier(store, cat, obj, cursors)
		g.Go(func() error {
			runEvery(gctx, log, "bundle apply", cfg.Sync.Interval, func(ctx context.Context) (int, error) {
				return app.ApplyAll(ctx, cfg.Sync.Workers)
			})
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shCtx, release := context.WithTimeout(context.Background(), defaults.DefaultShutdownGrace)
		defer release()
		return srv.Shutdown(shCtx)
	})

	// =========================================================================
	// Run
	// =========================================================================

	runErr := srv.Run()
	cancel()
	if err := g.Wait(); err != nil {
		log.Warn("shutdown", "error", err)
	}
	return runErr
}

// initLogging installs the global handler: colored text for terminals,
// JSON for log collectors.
func initLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Format == "json" {
		logging.Init(level, true)
		return
	}
	logging.InitWithHandler(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
}

// runEvery runs fn once immediately and then on every tick until the
// context is canceled. Failures are logged and the loop keeps going.
func runEvery(ctx context.Context, log *slog.Logger, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		n, err := fn(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn(name+" failed", "error", err)
		case n > 0:
			log.Info(name, "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	switch cfg.Sync.Object.Backend {
	case config.BackendDir:
		return objstore.NewDir(cfg.ObjectDir())
	case config.BackendS3:
		return objstore.NewS3(ctx, config.ToS3Config(cfg))
	case config.BackendMemory:
		return objstore.NewMemory(), nil
	}
	return nil, errors.New("unknown object backend " + cfg.Sync.Object.Backend)
}
