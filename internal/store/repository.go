package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by repository Get/Update/Delete methods when no
// matching row exists.
var ErrNotFound = errors.New("store: not found")

// ListOptions carries pagination and ordering for list queries.
type ListOptions struct {
	Limit  int
	Offset int
	// IncludeDeleted, when true, includes soft-deleted experiments (runs
	// still sitting in the recycle bin) in list results.
	IncludeDeleted bool
}

// ExperimentRepository is the GORM-backed read/write surface over the
// experiments table. Every write is also idempotent under re-application
// since the reconciler may replay the same meta.json/status.json snapshot
// on every tick.
type ExperimentRepository interface {
	Upsert(ctx context.Context, exp *Experiment) error
	Get(ctx context.Context, runID string) (*Experiment, error)
	List(ctx context.Context, opts ListOptions) ([]Experiment, int64, error)
	ListByPath(ctx context.Context, pathPrefix string, opts ListOptions) ([]Experiment, int64, error)
	SoftDelete(ctx context.Context, runID, reason string) error
	Restore(ctx context.Context, runID string) error
	HardDelete(ctx context.Context, runID string) error
	// DeleteMissing removes rows whose run_id is not present in liveRunIDs,
	// used by the reconciler to drop entries for directories that vanished
	// from the filesystem between ticks.
	DeleteMissing(ctx context.Context, liveRunIDs []string) (int64, error)
	PathStats(ctx context.Context) ([]PathStat, error)
	BestExperiments(ctx context.Context, path string) ([]BestExperiment, error)
	RecentActivity(ctx context.Context, limit int) ([]RecentActivity, error)
}

type gormExperimentRepository struct {
	db *gorm.DB
}

func NewExperimentRepository(db *gorm.DB) ExperimentRepository {
	return &gormExperimentRepository{db: db}
}

// Upsert inserts or fully replaces an experiment row keyed by run_id,
// matching the reconciler's "re-derive from meta.json/status.json on every
// tick" model rather than a partial column update.
func (r *gormExperimentRepository) Upsert(ctx context.Context, exp *Experiment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(exp).Error
	if err != nil {
		return fmt.Errorf("experiments: upsert: %w", err)
	}
	return nil
}

func (r *gormExperimentRepository) Get(ctx context.Context, runID string) (*Experiment, error) {
	var exp Experiment
	err := r.db.WithContext(ctx).First(&exp, "run_id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("experiments: get: %w", err)
	}
	return &exp, nil
}

func (r *gormExperimentRepository) List(ctx context.Context, opts ListOptions) ([]Experiment, int64, error) {
	return r.query(ctx, "", opts)
}

func (r *gormExperimentRepository) ListByPath(ctx context.Context, pathPrefix string, opts ListOptions) ([]Experiment, int64, error) {
	return r.query(ctx, pathPrefix, opts)
}

func (r *gormExperimentRepository) query(ctx context.Context, pathPrefix string, opts ListOptions) ([]Experiment, int64, error) {
	base := r.db.WithContext(ctx).Model(&Experiment{})
	if !opts.IncludeDeleted {
		base = base.Where("deleted_at IS NULL")
	}
	if pathPrefix != "" {
		base = base.Where("path = ? OR path LIKE ?", pathPrefix, pathPrefix+"/%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("experiments: list count: %w", err)
	}

	var rows []Experiment
	q := base.Order("created_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("experiments: list: %w", err)
	}
	return rows, total, nil
}

func (r *gormExperimentRepository) SoftDelete(ctx context.Context, runID, reason string) error {
	result := r.db.WithContext(ctx).Model(&Experiment{}).
		Where("run_id = ? AND deleted_at IS NULL", runID).
		Updates(map[string]interface{}{
			"deleted_at":    gorm.Expr("CURRENT_TIMESTAMP"),
			"delete_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("experiments: soft delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormExperimentRepository) Restore(ctx context.Context, runID string) error {
	result := r.db.WithContext(ctx).Model(&Experiment{}).
		Where("run_id = ? AND deleted_at IS NOT NULL", runID).
		Updates(map[string]interface{}{
			"deleted_at":    nil,
			"delete_reason": "",
		})
	if result.Error != nil {
		return fmt.Errorf("experiments: restore: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormExperimentRepository) HardDelete(ctx context.Context, runID string) error {
	result := r.db.WithContext(ctx).Exec("DELETE FROM experiments WHERE run_id = ?", runID)
	if result.Error != nil {
		return fmt.Errorf("experiments: hard delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormExperimentRepository) DeleteMissing(ctx context.Context, liveRunIDs []string) (int64, error) {
	q := r.db.WithContext(ctx)
	var result *gorm.DB
	if len(liveRunIDs) == 0 {
		result = q.Exec("DELETE FROM experiments")
	} else {
		result = q.Exec("DELETE FROM experiments WHERE run_id NOT IN ?", liveRunIDs)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("experiments: delete missing: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormExperimentRepository) PathStats(ctx context.Context) ([]PathStat, error) {
	var rows []PathStat
	if err := r.db.WithContext(ctx).Raw("SELECT * FROM v_path_stats ORDER BY path").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("experiments: path stats: %w", err)
	}
	return rows, nil
}

func (r *gormExperimentRepository) BestExperiments(ctx context.Context, path string) ([]BestExperiment, error) {
	var rows []BestExperiment
	q := r.db.WithContext(ctx).Raw("SELECT * FROM v_best_experiments WHERE path = ? ORDER BY rank", path)
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("experiments: best experiments: %w", err)
	}
	return rows, nil
}

func (r *gormExperimentRepository) RecentActivity(ctx context.Context, limit int) ([]RecentActivity, error) {
	var rows []RecentActivity
	q := r.db.WithContext(ctx).Raw("SELECT * FROM v_recent_activity ORDER BY updated_at DESC LIMIT ?", limit)
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("experiments: recent activity: %w", err)
	}
	return rows, nil
}

// MetricRepository persists individual metric observations for SQL-side
// aggregate queries; the authoritative time series for charting still
// comes from events.jsonl via internal/metrics, not from this table.
type MetricRepository interface {
	BulkUpsert(ctx context.Context, rows []Metric) error
	CountForRun(ctx context.Context, runID string) (int64, error)
	DeleteForRun(ctx context.Context, runID string) error
}

type gormMetricRepository struct {
	db *gorm.DB
}

func NewMetricRepository(db *gorm.DB) MetricRepository {
	return &gormMetricRepository{db: db}
}

// BulkUpsert writes rows in batches of 500 per transaction, each an
// upsert so a replayed reconciliation tick over an unchanged tail is a
// no-op.
func (r *gormMetricRepository) BulkUpsert(ctx context.Context, rows []Metric) error {
	const batchSize = 500
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "timestamp"}, {Name: "metric_name"}},
			UpdateAll: true,
		}).Create(&batch).Error
		if err != nil {
			return fmt.Errorf("metrics: bulk upsert: %w", err)
		}
	}
	return nil
}

func (r *gormMetricRepository) CountForRun(ctx context.Context, runID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Metric{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("metrics: count for run: %w", err)
	}
	return count, nil
}

func (r *gormMetricRepository) DeleteForRun(ctx context.Context, runID string) error {
	if err := r.db.WithContext(ctx).Exec("DELETE FROM metrics WHERE run_id = ?", runID).Error; err != nil {
		return fmt.Errorf("metrics: delete for run: %w", err)
	}
	return nil
}
