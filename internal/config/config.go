// Package config loads Runicorn's process-wide configuration. Precedence,
// lowest to highest: the YAML file, environment variables, command-line
// flags. Each field's YAML key is its struct tag; the recognized
// environment variables are listed in applyEnvOverrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.yaml.in/yaml/v2"
)

// Storage holds on-disk layout configuration.
type Storage struct {
	UserRootDir string `yaml:"user_root_dir"`
}

// Viewer holds HTTP listener configuration.
type Viewer struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// Remote holds SSH supervisor defaults.
type Remote struct {
	SSHTimeoutSeconds int    `yaml:"ssh_timeout"`
	KeepaliveSeconds  int    `yaml:"keepalive"`
	MaxConnections    int    `yaml:"max_connections"`
	AutoPortRange     string `yaml:"auto_port_range"` // "20000-20100"
}

// Assets holds blob-store and snapshot configuration.
type Assets struct {
	ArchiveDir           string `yaml:"archive_dir"`
	MaxSnapshotSizeMB    int    `yaml:"max_snapshot_size_mb"`
	EnableDeduplication  bool   `yaml:"enable_deduplication"`
}

// EnhancedLogging holds writer-side capture toggles that the Viewer merely
// persists and reports back; it never itself captures console output.
type EnhancedLogging struct {
	CaptureConsole bool   `yaml:"capture_console"`
	TqdmMode       string `yaml:"tqdm_mode"`
}

// Security holds rate-limiting and zombie-detection thresholds.
type Security struct {
	EnableRateLimit      bool `yaml:"enable_rate_limit"`
	RateLimitPerMinute   int  `yaml:"rate_limit_per_minute"`
	ZombieThresholdHours int  `yaml:"zombie_threshold_hours"`
}

// Config is the fully resolved, process-wide configuration.
type Config struct {
	Storage         Storage         `yaml:"storage"`
	Viewer          Viewer          `yaml:"viewer"`
	Remote          Remote          `yaml:"remote"`
	Assets          Assets          `yaml:"assets"`
	EnhancedLogging EnhancedLogging `yaml:"enhanced_logging"`
	Security        Security        `yaml:"security"`

	// RateLimitConfigPath points at the separate JSON rate-limit document
	// Not part of the YAML file itself.
	RateLimitConfigPath string `yaml:"-"`
}

// Default returns the built-in defaults, used when no config file exists
// and no environment/flag overrides are supplied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: Storage{UserRootDir: filepath.Join(home, ".runicorn", "storage")},
		Viewer:  Viewer{Host: "127.0.0.1", Port: 8000, LogLevel: "info"},
		Remote: Remote{
			SSHTimeoutSeconds: 30,
			KeepaliveSeconds:  15,
			MaxConnections:    8,
			AutoPortRange:     "20000-21000",
		},
		Assets: Assets{
			ArchiveDir:          "archive",
			MaxSnapshotSizeMB:   500,
			EnableDeduplication: true,
		},
		EnhancedLogging: EnhancedLogging{CaptureConsole: true, TqdmMode: "auto"},
		Security: Security{
			EnableRateLimit:      true,
			RateLimitPerMinute:   120,
			ZombieThresholdHours: 48,
		},
		RateLimitConfigPath: filepath.Join(home, ".config", "runicorn", "rate_limit.json"),
	}
}

// DefaultPath returns the platform default location of config.yaml.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "runicorn", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "runicorn", "config.yaml")
}

// Load reads path (if it exists), applies environment variable overrides,
// and returns the resolved Config. A missing file is not an error — the
// defaults are used and only environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place for every recognized
// RUNICORN_* environment variable.
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolv := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true"
		}
	}

	str("RUNICORN_STORAGE_ROOT", &cfg.Storage.UserRootDir)
	str("RUNICORN_VIEWER_HOST", &cfg.Viewer.Host)
	intv("RUNICORN_VIEWER_PORT", &cfg.Viewer.Port)
	str("RUNICORN_LOG_LEVEL", &cfg.Viewer.LogLevel)
	intv("RUNICORN_SSH_TIMEOUT", &cfg.Remote.SSHTimeoutSeconds)
	intv("RUNICORN_ZOMBIE_THRESHOLD_HOURS", &cfg.Security.ZombieThresholdHours)
	boolv("RUNICORN_ENABLE_RATE_LIMIT", &cfg.Security.EnableRateLimit)
	str("RUNICORN_RATE_LIMIT_CONFIG", &cfg.RateLimitConfigPath)
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
