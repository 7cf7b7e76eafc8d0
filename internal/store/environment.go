package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnvironmentRepository persists the single captured environment snapshot
// for a run.
type EnvironmentRepository interface {
	Upsert(ctx context.Context, env *Environment) error
	Get(ctx context.Context, runID string) (*Environment, error)
}

type gormEnvironmentRepository struct {
	db *gorm.DB
}

func NewEnvironmentRepository(db *gorm.DB) EnvironmentRepository {
	return &gormEnvironmentRepository{db: db}
}

func (r *gormEnvironmentRepository) Upsert(ctx context.Context, env *Environment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(env).Error
	if err != nil {
		return fmt.Errorf("environments: upsert: %w", err)
	}
	return nil
}

func (r *gormEnvironmentRepository) Get(ctx context.Context, runID string) (*Environment, error) {
	var env Environment
	err := r.db.WithContext(ctx).First(&env, "run_id = ?", runID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("environments: get: %w", err)
	}
	return &env, nil
}

// TagRepository manages the free-form tags attached to a run.
type TagRepository interface {
	Add(ctx context.Context, runID, tag string) error
	Remove(ctx context.Context, runID, tag string) error
	ListForRun(ctx context.Context, runID string) ([]string, error)
}

type gormTagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) TagRepository {
	return &gormTagRepository{db: db}
}

func (r *gormTagRepository) Add(ctx context.Context, runID, tag string) error {
	row := ExperimentTag{RunID: runID, Tag: tag}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("experiment_tags: add: %w", err)
	}
	return nil
}

func (r *gormTagRepository) Remove(ctx context.Context, runID, tag string) error {
	if err := r.db.WithContext(ctx).Delete(&ExperimentTag{}, "run_id = ? AND tag = ?", runID, tag).Error; err != nil {
		return fmt.Errorf("experiment_tags: remove: %w", err)
	}
	return nil
}

func (r *gormTagRepository) ListForRun(ctx context.Context, runID string) ([]string, error) {
	var tags []string
	err := r.db.WithContext(ctx).Model(&ExperimentTag{}).
		Where("run_id = ?", runID).
		Order("tag ASC").
		Pluck("tag", &tags).Error
	if err != nil {
		return nil, fmt.Errorf("experiment_tags: list: %w", err)
	}
	return tags, nil
}

// FileRepository tracks the files the archive must be able to account for
// (code snapshot members, logged media), one row per (run_id, file_type,
// file_path).
type FileRepository interface {
	BulkUpsert(ctx context.Context, rows []ExperimentFile) error
	ListForRun(ctx context.Context, runID string) ([]ExperimentFile, error)
	DeleteForRun(ctx context.Context, runID string) error
}

type gormFileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) FileRepository {
	return &gormFileRepository{db: db}
}

func (r *gormFileRepository) BulkUpsert(ctx context.Context, rows []ExperimentFile) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "file_type"}, {Name: "file_path"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("experiment_files: bulk upsert: %w", err)
	}
	return nil
}

func (r *gormFileRepository) ListForRun(ctx context.Context, runID string) ([]ExperimentFile, error) {
	var rows []ExperimentFile
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("file_type, file_path").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("experiment_files: list for run: %w", err)
	}
	return rows, nil
}

func (r *gormFileRepository) DeleteForRun(ctx context.Context, runID string) error {
	if err := r.db.WithContext(ctx).Exec("DELETE FROM experiment_files WHERE run_id = ?", runID).Error; err != nil {
		return fmt.Errorf("experiment_files: delete for run: %w", err)
	}
	return nil
}
