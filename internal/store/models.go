package store

import "time"

// Experiment mirrors the experiments table: the SQLite-side
// projection of a run directory's meta.json + status.json. Every column is
// derived from the filesystem by the reconciler; the run_id primary key
// matches the directory's run_id exactly, never a synthesized surrogate.
type Experiment struct {
	RunID           string `gorm:"column:run_id;primaryKey"`
	Path            string `gorm:"column:path;index"`
	Alias           string `gorm:"column:alias"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
	StartedAt       *time.Time `gorm:"column:started_at"`
	EndedAt         *time.Time `gorm:"column:ended_at"`
	Status          string `gorm:"column:status;index"`
	PID             int    `gorm:"column:pid"`
	Hostname        string `gorm:"column:hostname"`
	PythonVersion   string `gorm:"column:python_version"`
	Platform        string `gorm:"column:platform"`
	BestMetricName  string `gorm:"column:best_metric_name"`
	BestMetricValue *float64 `gorm:"column:best_metric_value"`
	BestMetricStep  *int64   `gorm:"column:best_metric_step"`
	BestMetricMode  string   `gorm:"column:best_metric_mode"`
	DeletedAt       *time.Time `gorm:"column:deleted_at;index"`
	DeleteReason    string     `gorm:"column:delete_reason"`
	RunDir          string     `gorm:"column:run_dir"`
	DurationSeconds *float64   `gorm:"column:duration_seconds"`
	MetricCount     int64      `gorm:"column:metric_count"`
}

func (Experiment) TableName() string { return "experiments" }

// Metric mirrors the metrics table, one row per (run, timestamp, name)
// observation, mirrored from events.jsonl by the reconciler's
// syncMetrics pass. The composite primary key keys off (run_id,
// timestamp, metric_name), so a re-run of a reconciliation tick upserts
// rather than duplicates.
type Metric struct {
	RunID      string    `gorm:"column:run_id;primaryKey"`
	Timestamp  float64   `gorm:"column:timestamp;primaryKey"`
	MetricName string    `gorm:"column:metric_name;primaryKey"`
	Value      float64   `gorm:"column:value"`
	Step       int64     `gorm:"column:step"`
	Stage      string    `gorm:"column:stage"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (Metric) TableName() string { return "metrics" }

// ExperimentTag mirrors experiment_tags, a free-form label attached to a
// run (distinct from Path, which is structural).
type ExperimentTag struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Tag       string    `gorm:"column:tag;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ExperimentTag) TableName() string { return "experiment_tags" }

// Environment mirrors environments, a single captured snapshot of the
// process environment a run executed in.
type Environment struct {
	RunID         string `gorm:"column:run_id;primaryKey"`
	GitCommit     string `gorm:"column:git_commit"`
	GitBranch     string `gorm:"column:git_branch"`
	GitDirty      bool   `gorm:"column:git_dirty"`
	GitRemote     string `gorm:"column:git_remote"`
	PythonVersion string `gorm:"column:python_version"`
	PythonExe     string `gorm:"column:python_exe"`
	CondaEnv      string `gorm:"column:conda_env"`
	CPUCount      int    `gorm:"column:cpu_count"`
	MemoryTotalGB float64 `gorm:"column:memory_total_gb"`
	GPUInfo       string  `gorm:"column:gpu_info"` // JSON-encoded list, opaque to SQL
	EnvVariables  string  `gorm:"column:env_variables"` // JSON-encoded map, opaque to SQL
	CapturedAt    time.Time `gorm:"column:captured_at"`
}

func (Environment) TableName() string { return "environments" }

// ExperimentFile mirrors experiment_files, one row per asset or snapshot
// member tracked for a run (code snapshot entries, logged media).
type ExperimentFile struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	FileType  string    `gorm:"column:file_type;primaryKey"` // "snapshot", "media", "log"
	FilePath  string    `gorm:"column:file_path;primaryKey"`
	FileSize  int64     `gorm:"column:file_size"`
	FileHash  string    `gorm:"column:file_hash"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ExperimentFile) TableName() string { return "experiment_files" }

// PathStat is the result row shape of the v_path_stats view: per-path
// aggregate counts used by the path-hierarchy browser.
type PathStat struct {
	Path        string `gorm:"column:path"`
	RunCount    int64  `gorm:"column:run_count"`
	RunningCount int64 `gorm:"column:running_count"`
	LastActivity time.Time `gorm:"column:last_activity"`
}

// BestExperiment is the result row shape of the v_best_experiments view:
// the window-ranked best run per path by its primary metric's mode.
type BestExperiment struct {
	Path            string  `gorm:"column:path"`
	RunID           string  `gorm:"column:run_id"`
	BestMetricName  string  `gorm:"column:best_metric_name"`
	BestMetricValue float64 `gorm:"column:best_metric_value"`
	Rank            int64   `gorm:"column:rank"`
}

// RecentActivity is the result row shape of the v_recent_activity view:
// runs bucketed by recency (today / this_week / older) for the dashboard.
type RecentActivity struct {
	RunID    string `gorm:"column:run_id"`
	Path     string `gorm:"column:path"`
	Status   string `gorm:"column:status"`
	Bucket   string `gorm:"column:bucket"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}
