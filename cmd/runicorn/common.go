package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runicorn/runicorn/internal/config"
	"github.com/runicorn/runicorn/internal/runfs"
)

// loadConfig resolves the effective configuration for a CLI invocation:
// config.yaml (or the --config override) overridden by environment
// variables, with --storage taking final precedence over everything else
// ("each takes --storage PATH that may override the
// configured root").
func loadConfig(configPath, storageOverride string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storageOverride != "" {
		cfg.Storage.UserRootDir = storageOverride
	}
	return cfg, nil
}

// storageRoot resolves the runfs.StorageRoot for a loaded config.
func storageRoot(cfg *config.Config) runfs.StorageRoot {
	return runfs.NewStorageRoot(cfg.Storage.UserRootDir)
}

// buildLogger constructs the process-wide zap logger for a given level,
// using zap's debug/production presets as a base.
func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}

// writeFileIfAbsent writes data to path unless a file already exists
// there, creating parent directories as needed.
func writeFileIfAbsent(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return argErrorf("file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// gormLogLevel maps the application log level string to a GORM logger
// verbosity.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
