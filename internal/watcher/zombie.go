package watcher

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

// SweepZombies transitions experiments stuck in status="running" to
// "interrupted" when either the row's updated_at is older than threshold,
// or its recorded PID is confirmed dead — the latter check only applies
// when the row's hostname matches the machine running this sweep, since a
// PID is only meaningful on the host that owned it.
func SweepZombies(ctx context.Context, exps store.ExperimentRepository, threshold time.Duration, log *zap.Logger) (int, error) {
	hostname, _ := os.Hostname()
	cutoff := time.Now().Add(-threshold)

	rows, _, err := exps.List(ctx, store.ListOptions{Limit: 0})
	if err != nil {
		return 0, fmt.Errorf("zombie sweep: list: %w", err)
	}

	transitioned := 0
	for i := range rows {
		exp := &rows[i]
		if exp.Status != "running" {
			continue
		}

		stale := exp.UpdatedAt.Before(cutoff)
		dead := exp.Hostname != "" && exp.Hostname == hostname && exp.PID > 0 && !processAlive(exp.PID)

		if !stale && !dead {
			continue
		}

		exp.Status = "interrupted"
		if err := exps.Upsert(ctx, exp); err != nil {
			log.Warn("failed to transition zombie run", zap.String("run_id", exp.RunID), zap.Error(err))
			continue
		}
		log.Info("transitioned zombie run to interrupted",
			zap.String("run_id", exp.RunID),
			zap.Bool("stale_heartbeat", stale),
			zap.Bool("dead_pid", dead))
		transitioned++
	}
	return transitioned, nil
}

// processAlive reports whether pid is still running on this host. On
// POSIX systems, os.FindProcess always succeeds; sending signal 0 is the
// portable way to probe liveness without actually signaling the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
