// Package watcher keeps the SQLite mirror warm and detects zombie runs
// with a coarse periodic scan of the storage root. It does not subscribe
// to filesystem notifications; changes on disk are picked up by the next
// scheduled scan.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

// Watcher wraps gocron and coordinates the three periodic jobs a running
// Viewer needs: mirror reconciliation, zombie sweep, and recycle-bin
// retention cleanup. Each runs in singleton mode so a slow tick never
// overlaps with the next.
type Watcher struct {
	cron    gocron.Scheduler
	recon   *store.Reconciler
	exps    store.ExperimentRepository
	root    runfs.StorageRoot
	bin     *RecycleBin
	log     *zap.Logger

	zombieThreshold time.Duration
	reconcileEvery  time.Duration
	retentionDays   int
}

// Config configures the watcher's job intervals and thresholds.
type Config struct {
	ReconcileEvery  time.Duration // default 30s
	ZombieThreshold time.Duration // default 48h, unified single value
	RetentionDays   int           // recycle bin retention before permanent delete
}

// New builds a Watcher. Call Start to begin scheduling.
func New(cfg Config, recon *store.Reconciler, exps store.ExperimentRepository, root runfs.StorageRoot, bin *RecycleBin, log *zap.Logger) (*Watcher, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("watcher: create scheduler: %w", err)
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 30 * time.Second
	}
	if cfg.ZombieThreshold <= 0 {
		cfg.ZombieThreshold = 48 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Watcher{
		cron:            sched,
		recon:           recon,
		exps:            exps,
		root:            root,
		bin:             bin,
		log:             log.Named("watcher"),
		zombieThreshold: cfg.ZombieThreshold,
		reconcileEvery:  cfg.ReconcileEvery,
		retentionDays:   cfg.RetentionDays,
	}, nil
}

// Start schedules all three jobs in singleton mode and starts the
// underlying gocron scheduler. An initial reconciliation runs immediately
// rather than waiting for the
// first tick.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.recon.Tick(ctx); err != nil {
		w.log.Warn("initial reconciliation failed", zap.Error(err))
	}

	if _, err := w.cron.NewJob(
		gocron.DurationJob(w.reconcileEvery),
		gocron.NewTask(func() { w.runReconcile(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("reconcile"),
	); err != nil {
		return fmt.Errorf("watcher: schedule reconcile: %w", err)
	}

	if _, err := w.cron.NewJob(
		gocron.DurationJob(w.reconcileEvery),
		gocron.NewTask(func() { w.runZombieSweep(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("zombie-sweep"),
	); err != nil {
		return fmt.Errorf("watcher: schedule zombie sweep: %w", err)
	}

	if _, err := w.cron.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() { w.runRetentionSweep(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("recycle-bin-retention"),
	); err != nil {
		return fmt.Errorf("watcher: schedule retention sweep: %w", err)
	}

	w.cron.Start()
	w.log.Info("watcher started",
		zap.Duration("reconcile_every", w.reconcileEvery),
		zap.Duration("zombie_threshold", w.zombieThreshold),
		zap.Int("retention_days", w.retentionDays))
	return nil
}

// Stop gracefully shuts the scheduler down, waiting for any in-flight tick
// to finish.
func (w *Watcher) Stop() error {
	if err := w.cron.Shutdown(); err != nil {
		return fmt.Errorf("watcher: shutdown: %w", err)
	}
	w.log.Info("watcher stopped")
	return nil
}

func (w *Watcher) runReconcile(ctx context.Context) {
	if err := w.recon.Tick(ctx); err != nil {
		w.log.Error("reconciliation tick failed", zap.Error(err))
	}
}

func (w *Watcher) runZombieSweep(ctx context.Context) {
	n, err := SweepZombies(ctx, w.exps, w.zombieThreshold, w.log)
	if err != nil {
		w.log.Error("zombie sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("zombie sweep transitioned runs", zap.Int("count", n))
	}
}

func (w *Watcher) runRetentionSweep(ctx context.Context) {
	n, err := w.bin.SweepExpired(ctx, time.Duration(w.retentionDays)*24*time.Hour)
	if err != nil {
		w.log.Error("recycle bin retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("recycle bin retention sweep purged entries", zap.Int("count", n))
	}
}
