package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
)

// Reconciler walks a storage root and brings the SQLite mirror in line
// with what is actually on disk. It is the only writer
// of the experiments/metrics/environments/experiment_files tables driven
// by filesystem state; everything else in this package only reads or
// handles explicit user actions (soft-delete, restore).
type Reconciler struct {
	root    runfs.StorageRoot
	exps    ExperimentRepository
	metrics MetricRepository
	envs    EnvironmentRepository
	files   FileRepository
	log     *zap.Logger
}

func NewReconciler(root runfs.StorageRoot, exps ExperimentRepository, metrics MetricRepository, envs EnvironmentRepository, files FileRepository, log *zap.Logger) *Reconciler {
	return &Reconciler{root: root, exps: exps, metrics: metrics, envs: envs, files: files, log: log.Named("reconciler")}
}

// Tick performs one full reconciliation pass: walk every run directory
// under root, upsert its experiments row, mirror its metrics/environment/
// files into their tables, and delete rows for run_ids no longer present
// on disk.
func (rc *Reconciler) Tick(ctx context.Context) error {
	start := time.Now()
	runDirs, err := rc.root.DiscoverRunDirs()
	if err != nil {
		return fmt.Errorf("reconcile: discover run dirs: %w", err)
	}

	var liveRunIDs []string
	var upserted, skipped int

	for _, dir := range runDirs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		layout := runfs.New(dir)
		meta, err := runfs.ReadMeta(layout.Meta())
		if err != nil {
			rc.log.Warn("skipping run with unreadable meta.json", zap.String("dir", dir), zap.Error(err))
			skipped++
			continue
		}
		if meta.RunID == "" || !runfs.RunIDPattern.MatchString(meta.RunID) {
			rc.log.Warn("skipping run with invalid run_id", zap.String("dir", dir))
			skipped++
			continue
		}

		exp := &Experiment{
			RunID:         meta.RunID,
			Path:          meta.ResolvedPath(),
			Alias:         meta.Alias,
			PID:           meta.PID,
			Hostname:      meta.Hostname,
			PythonVersion: meta.PythonVersion,
			Platform:      meta.Platform,
			RunDir:        dir,
			Status:        "running",
		}
		exp.CreatedAt = unixToTime(meta.CreatedAt)
		exp.UpdatedAt = exp.CreatedAt

		if status, err := runfs.ReadStatus(layout.Status()); err == nil {
			exp.Status = status.Status
			if status.UpdatedAt != 0 {
				exp.UpdatedAt = unixToTime(status.UpdatedAt)
			}
			if status.StartedAt != 0 {
				t := unixToTime(status.StartedAt)
				exp.StartedAt = &t
			}
			if status.EndedAt != 0 {
				t := unixToTime(status.EndedAt)
				exp.EndedAt = &t
				if exp.StartedAt != nil {
					d := status.EndedAt - status.StartedAt
					exp.DurationSeconds = &d
				}
			}
			if status.BestMetric != nil {
				exp.BestMetricName = status.BestMetric.Name
				v := status.BestMetric.Value
				s := status.BestMetric.Step
				exp.BestMetricValue = &v
				exp.BestMetricStep = &s
				exp.BestMetricMode = status.BestMetric.Mode
			}
		}

		if err := rc.foldSummary(layout); err != nil {
			rc.log.Warn("summary fold failed", zap.String("run_id", meta.RunID), zap.Error(err))
		}

		metricCount, err := rc.syncMetrics(ctx, meta.RunID, layout)
		if err != nil {
			rc.log.Warn("metric sync failed", zap.String("run_id", meta.RunID), zap.Error(err))
		}
		exp.MetricCount = metricCount

		if err := rc.syncEnvironment(ctx, meta.RunID, layout); err != nil {
			rc.log.Warn("environment sync failed", zap.String("run_id", meta.RunID), zap.Error(err))
		}
		if err := rc.syncFiles(ctx, meta.RunID, layout); err != nil {
			rc.log.Warn("file sync failed", zap.String("run_id", meta.RunID), zap.Error(err))
		}

		if err := rc.exps.Upsert(ctx, exp); err != nil {
			rc.log.Error("upsert failed", zap.String("run_id", meta.RunID), zap.Error(err))
			skipped++
			continue
		}
		liveRunIDs = append(liveRunIDs, meta.RunID)
		upserted++
	}

	// Soft-deleted runs live under recycle_bin/, which DiscoverRunDirs
	// skips; their rows are kept so the recycle bin can restore them.
	if binEntries, err := os.ReadDir(rc.root.RecycleBin()); err == nil {
		for _, e := range binEntries {
			if e.IsDir() {
				liveRunIDs = append(liveRunIDs, e.Name())
			}
		}
	}

	removed, err := rc.exps.DeleteMissing(ctx, liveRunIDs)
	if err != nil {
		return fmt.Errorf("reconcile: delete missing: %w", err)
	}

	rc.log.Info("reconciliation tick complete",
		zap.Int("upserted", upserted),
		zap.Int("skipped", skipped),
		zap.Int64("removed", removed),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// foldSummary recomputes a run's summary.json by replaying every
// type=summary event in events.jsonl and merging each update object
// key-by-key into an accumulator.
func (rc *Reconciler) foldSummary(layout runfs.Layout) error {
	folded, err := runfs.FoldSummary(layout.Events())
	if err != nil {
		return fmt.Errorf("fold summary events: %w", err)
	}
	if len(folded) == 0 {
		return nil
	}
	return runfs.WriteSummary(layout.Summary(), folded)
}

// syncMetrics replays a run's events.jsonl and mirrors every metric
// observation into the metrics table, so SQL-side aggregate queries
// (best-experiment, path-stats views) stay in sync with the
// events.jsonl source of truth. It returns the number of metric points
// seen, used to populate Experiment.MetricCount without a second scan.
func (rc *Reconciler) syncMetrics(ctx context.Context, runID string, layout runfs.Layout) (int64, error) {
	rows, err := collectMetricRows(runID, layout.Events())
	if err != nil {
		return 0, fmt.Errorf("collect metric rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := rc.metrics.BulkUpsert(ctx, rows); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// syncEnvironment mirrors a run's captured environment.json, if any, into
// the environments table.
func (rc *Reconciler) syncEnvironment(ctx context.Context, runID string, layout runfs.Layout) error {
	env, err := runfs.ReadEnvironment(layout.Environment())
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env == nil {
		return nil
	}
	gpuInfo, err := json.Marshal(env.GPUInfo)
	if err != nil {
		return fmt.Errorf("marshal gpu_info: %w", err)
	}
	envVars, err := json.Marshal(env.EnvVariables)
	if err != nil {
		return fmt.Errorf("marshal env_variables: %w", err)
	}
	return rc.envs.Upsert(ctx, &Environment{
		RunID:         runID,
		GitCommit:     env.GitCommit,
		GitBranch:     env.GitBranch,
		GitDirty:      env.GitDirty,
		GitRemote:     env.GitRemote,
		PythonVersion: env.PythonVersion,
		PythonExe:     env.PythonExe,
		CondaEnv:      env.CondaEnv,
		CPUCount:      env.CPUCount,
		MemoryTotalGB: env.MemoryTotalGB,
		GPUInfo:       string(gpuInfo),
		EnvVariables:  string(envVars),
		CapturedAt:    unixToTime(env.CapturedAt),
	})
}

// syncFiles mirrors a run's assets.json manifest into the
// experiment_files table, one row per tracked snapshot or media member.
func (rc *Reconciler) syncFiles(ctx context.Context, runID string, layout runfs.Layout) error {
	manifest, err := runfs.ReadAssetsManifest(layout.AssetsManifest())
	if err != nil {
		return fmt.Errorf("read assets manifest: %w", err)
	}
	if len(manifest.Entries) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]ExperimentFile, 0, len(manifest.Entries))
	for _, e := range manifest.Entries {
		rows = append(rows, ExperimentFile{
			RunID:     runID,
			FileType:  classifyAssetFile(e.Path),
			FilePath:  e.Path,
			FileSize:  e.Size,
			FileHash:  e.Digest,
			CreatedAt: now,
		})
	}
	return rc.files.BulkUpsert(ctx, rows)
}

// classifyAssetFile maps an assets.json entry path to the experiment_files
// file_type column: anything under media/ is logged media, everything else
// is a code snapshot member.
func classifyAssetFile(path string) string {
	if strings.HasPrefix(path, "media/") {
		return "media"
	}
	return "snapshot"
}

// collectMetricRows replays every metric event in eventsPath into Metric
// rows ready for MetricRepository.BulkUpsert.
func collectMetricRows(runID, eventsPath string) ([]Metric, error) {
	f, err := os.Open(eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	now := time.Now()
	var rows []Metric
	_, err = runfs.ScanEvents(f, 0, runfs.EventVisitor{
		Metric: func(_ int64, e runfs.MetricEvent) {
			if e.Value == nil {
				return
			}
			rows = append(rows, Metric{
				RunID:      runID,
				Timestamp:  e.Ts,
				MetricName: e.Name,
				Value:      *e.Value,
				Step:       e.Step,
				Stage:      e.Stage,
				RecordedAt: now,
			})
		},
	})
	if err != nil {
		return rows, err
	}
	return rows, nil
}

func unixToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
