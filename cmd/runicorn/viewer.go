package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/api"
	"github.com/runicorn/runicorn/internal/blobstore"
	"github.com/runicorn/runicorn/internal/config"
	"github.com/runicorn/runicorn/internal/metrics"
	"github.com/runicorn/runicorn/internal/ratelimit"
	"github.com/runicorn/runicorn/internal/remote"
	"github.com/runicorn/runicorn/internal/store"
	"github.com/runicorn/runicorn/internal/telemetry"
	"github.com/runicorn/runicorn/internal/watcher"
)

func newViewerCmd(storageOverride, configPath *string) *cobra.Command {
	var host string
	var port int
	var logLevel string

	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Run the long-lived Viewer server (HTTP/WS API + run watcher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Viewer.Host = host
			}
			if port != 0 {
				cfg.Viewer.Port = port
			}
			if logLevel != "" {
				cfg.Viewer.LogLevel = logLevel
			}
			return runViewer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func runViewer(ctx context.Context, cfg *config.Config) error {
	log, err := buildLogger(cfg.Viewer.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := storageRoot(cfg)
	if err := os.MkdirAll(root.Dir, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	log.Info("starting runicorn viewer",
		zap.String("version", version),
		zap.String("storage_root", root.Dir),
		zap.String("host", cfg.Viewer.Host),
		zap.Int("port", cfg.Viewer.Port),
	)

	// --- Blob store ---
	blobs, err := blobstore.New(root.Archive(), log)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	// --- SQLite mirror ---
	gormDB, err := store.OpenWithRecovery(store.Config{
		Path:     root.DB(),
		Logger:   log,
		LogLevel: gormLogLevel(cfg.Viewer.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("open sqlite mirror: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	experiments := store.NewExperimentRepository(gormDB)
	metricRows := store.NewMetricRepository(gormDB)
	environments := store.NewEnvironmentRepository(gormDB)
	files := store.NewFileRepository(gormDB)
	tags := store.NewTagRepository(gormDB)

	reconciler := store.NewReconciler(root, experiments, metricRows, environments, files, log)
	if err := reconciler.Tick(ctx); err != nil {
		log.Warn("initial reconciliation failed", zap.Error(err))
	}

	// --- Metrics engine ---
	cache, err := metrics.NewCache(1000)
	if err != nil {
		return fmt.Errorf("init metrics cache: %w", err)
	}
	engine := metrics.NewEngine(cache, log)

	// --- Run watcher ---
	recycleBin := watcher.NewRecycleBin(root, experiments, log)
	w, err := watcher.New(watcher.Config{
		ReconcileEvery:  30 * time.Second,
		ZombieThreshold: time.Duration(cfg.Security.ZombieThresholdHours) * time.Hour,
		RetentionDays:   30,
	}, reconciler, experiments, root, recycleBin, log)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			log.Warn("watcher shutdown error", zap.Error(err))
		}
	}()

	// --- Remote supervisor ---
	knownHostsPath := filepath.Join(root.Dir, "known_hosts")
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		knownHostsPath = filepath.Join(home, ".runicorn", "known_hosts")
	}
	knownHosts, err := remote.NewKnownHosts(knownHostsPath)
	if err != nil {
		return fmt.Errorf("init known_hosts store: %w", err)
	}
	pool := remote.NewPool(log)
	defer pool.Close()
	sessions := remote.NewRegistry(log)
	connections := remote.NewConnectionRegistry()

	// --- Rate limiting ---
	rlCfg, err := config.LoadRateLimitConfig(cfg.RateLimitConfigPath)
	if err != nil {
		return fmt.Errorf("load rate limit config: %w", err)
	}
	limiter := ratelimit.New(rlCfg, log)
	if err := limiter.WatchConfig(cfg.RateLimitConfigPath, ctx.Done()); err != nil {
		log.Warn("rate limit config hot-reload unavailable", zap.Error(err))
	}
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep(30 * time.Minute)
			}
		}
	}()

	// --- Telemetry sampling ---
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := engine.Cache().Stats()
				telemetry.SetCacheStats(telemetry.CacheStats{
					Entries:            s.Entries,
					Hits:               s.Hits,
					Misses:             s.Misses,
					IncrementalUpdates: s.IncrementalUpdates,
				})
			}
		}
	}()

	// --- HTTP/WS surface ---
	srv := api.NewServer(experiments, metricRows, tags, engine, blobs, recycleBin, root,
		knownHosts, pool, sessions, connections, cfg, limiter, log)
	router := api.NewRouter(api.RouterConfig{Server: srv})

	addr := fmt.Sprintf("%s:%d", cfg.Viewer.Host, cfg.Viewer.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down runicorn viewer")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server graceful shutdown error", zap.Error(err))
	}

	log.Info("runicorn viewer stopped")
	return nil
}
