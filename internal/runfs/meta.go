package runfs

import (
	"encoding/json"
	"fmt"
	"os"
)

// PrimaryMetric describes the optimization target for a run.
type PrimaryMetric struct {
	Name string `json:"name"`
	Mode string `json:"mode"` // "max" or "min"
}

// Meta mirrors the meta.json contract. It is written once by
// the writer SDK at run init and never mutated afterward.
type Meta struct {
	RunID         string         `json:"run_id"`
	Path          string         `json:"path"`
	Alias         string         `json:"alias,omitempty"`
	CreatedAt     float64        `json:"created_at"`
	PythonVersion string         `json:"python_version"`
	Platform      string         `json:"platform"`
	PID           int            `json:"pid"`
	Hostname      string         `json:"hostname"`
	PrimaryMetric *PrimaryMetric `json:"primary_metric,omitempty"`

	// Legacy fields, present only in older writer output. Path should be
	// synthesized from these only when Path itself is empty.
	Project string `json:"project,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ResolvedPath returns Path verbatim if set, otherwise synthesizes
// "<project>/<name>" from the legacy fields. Synthesis is one-way: the
// result is never written back to meta.json.
func (m Meta) ResolvedPath() string {
	if m.Path != "" {
		return m.Path
	}
	if m.Project != "" && m.Name != "" {
		return m.Project + "/" + m.Name
	}
	return m.Name
}

// BestMetric describes the current best value tracked for a run's primary
// metric, embedded in status.json and mirrored into SQLite.
type BestMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Step  int64   `json:"step"`
	Mode  string  `json:"mode"`
}

// Status mirrors status.json: the writer's last-known status plus
// timestamps, updated on every heartbeat.
type Status struct {
	Status    string      `json:"status"` // running, finished, failed, interrupted
	StartedAt float64     `json:"started_at,omitempty"`
	EndedAt   float64     `json:"ended_at,omitempty"`
	UpdatedAt float64     `json:"updated_at"`
	BestMetric *BestMetric `json:"best_metric,omitempty"`
}

// ReadMeta loads and parses meta.json. Missing required fields are not
// validated here — callers decide how strict to be for their use case.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runfs: read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("runfs: parse meta: %w", err)
	}
	return &m, nil
}

// ReadStatus loads and parses status.json.
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runfs: read status: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("runfs: parse status: %w", err)
	}
	return &s, nil
}

// WriteStatus atomically overwrites status.json (write-temp, fsync,
// rename), used by the best-metric write-through path in internal/metrics.
func WriteStatus(path string, s *Status) error {
	return atomicWriteJSON(path, s)
}

// Environment mirrors environment.json: a single snapshot of the process
// environment captured by the writer SDK at run start.
type Environment struct {
	GitCommit     string            `json:"git_commit,omitempty"`
	GitBranch     string            `json:"git_branch,omitempty"`
	GitDirty      bool              `json:"git_dirty,omitempty"`
	GitRemote     string            `json:"git_remote,omitempty"`
	PythonVersion string            `json:"python_version,omitempty"`
	PythonExe     string            `json:"python_exe,omitempty"`
	CondaEnv      string            `json:"conda_env,omitempty"`
	CPUCount      int               `json:"cpu_count,omitempty"`
	MemoryTotalGB float64           `json:"memory_total_gb,omitempty"`
	GPUInfo       json.RawMessage   `json:"gpu_info,omitempty"`
	EnvVariables  map[string]string `json:"env_variables,omitempty"`
	CapturedAt    float64           `json:"captured_at"`
}

// ReadEnvironment loads environment.json, returning (nil, nil) if the
// writer SDK never captured one for this run.
func ReadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runfs: read environment: %w", err)
	}
	var e Environment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("runfs: parse environment: %w", err)
	}
	return &e, nil
}

// ReadSummary loads summary.json, returning an empty map if the file does
// not yet exist (a run may not have emitted any summary updates yet).
func ReadSummary(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("runfs: read summary: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("runfs: parse summary: %w", err)
	}
	return m, nil
}

// WriteSummary atomically overwrites summary.json. Called by the watcher's
// reconciliation tick after folding all summary events — see
// internal/runfs.FoldSummary.
func WriteSummary(path string, m map[string]any) error {
	return atomicWriteJSON(path, m)
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("runfs: marshal: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("runfs: create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("runfs: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("runfs: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("runfs: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("runfs: rename into place: %w", err)
	}
	return nil
}
