package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RateLimitRule describes a token-bucket shape for one endpoint (or the
// default bucket shared by unconfigured endpoints).
type RateLimitRule struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
	BurstSize     int `json:"burst_size,omitempty"`
}

// RateLimitSettings are process-wide toggles independent of any one
// endpoint's bucket shape.
type RateLimitSettings struct {
	EnableRateLimiting bool `json:"enable_rate_limiting"`
	WhitelistLocalhost bool `json:"whitelist_localhost"`
	LogViolations      bool `json:"log_violations"`
}

// RateLimitConfig is the schema of the standalone rate_limit.json document
// It is hot-reloadable independent of config.yaml.
type RateLimitConfig struct {
	Default   RateLimitRule            `json:"default"`
	Endpoints map[string]RateLimitRule `json:"endpoints"`
	Settings  RateLimitSettings        `json:"settings"`
}

// DefaultRateLimitConfig returns sane built-in defaults, used when the
// rate_limit.json file is absent.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Default: RateLimitRule{MaxRequests: 120, WindowSeconds: 60, BurstSize: 20},
		Endpoints: map[string]RateLimitRule{
			"/api/runs/{id}/metrics":      {MaxRequests: 300, WindowSeconds: 60, BurstSize: 60},
			"/api/runs/{id}/metrics_step": {MaxRequests: 300, WindowSeconds: 60, BurstSize: 60},
			"/api/runs/{id}/logs/ws":      {MaxRequests: 30, WindowSeconds: 60, BurstSize: 10},
			"/api/remote/connect":         {MaxRequests: 10, WindowSeconds: 60, BurstSize: 3},
		},
		Settings: RateLimitSettings{
			EnableRateLimiting: true,
			WhitelistLocalhost: false,
			LogViolations:      true,
		},
	}
}

// LoadRateLimitConfig reads the JSON document at path, falling back to
// DefaultRateLimitConfig when the file does not exist.
func LoadRateLimitConfig(path string) (*RateLimitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRateLimitConfig(), nil
		}
		return nil, fmt.Errorf("config: read rate limit config: %w", err)
	}
	var cfg RateLimitConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse rate limit config: %w", err)
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = map[string]RateLimitRule{}
	}
	return &cfg, nil
}
