// Package config loads runtime configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BreakerSettings mirror the circuit breaker tunables.
type BreakerSettings struct {
	FailureRateThreshold  float64 `json:"failure_rate_threshold"`
	SlowCallRateThreshold float64 `json:"slow_call_rate_threshold"`
	SlowCallDurationMs    int     `json:"slow_call_duration_ms"`
	WindowSize            int     `json:"window_size"`
	MinimumCalls          int     `json:"minimum_calls"`
	OpenWaitMs            int     `json:"open_wait_ms"`
	HalfOpenCalls         int     `json:"half_open_calls"`
}

// MappingRule is one configured operation-to-process binding.
type MappingRule struct {
	TenantID    string `json:"tenant_id,omitempty"`
	OperationID string `json:"operation_id"`
	ProductID   string `json:"product_id,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ProcessID   string `json:"process_id"`
	Version     string `json:"version,omitempty"`
}

// RemotePlugin declares a coordinate the runtime may fetch on demand.
type RemotePlugin struct {
	ProcessID  string `json:"process_id"`
	Version    string `json:"version"`
	SourceType string `json:"source_type"` // remote-maven | remote-http | remote-git
	SourceURI  string `json:"source_uri,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// Config is the full runtime configuration.
type Config struct {
	PluginDirs []string `json:"plugin_dirs"`
	CacheDir   string   `json:"cache_dir"`

	Isolation string `json:"isolation"` // isolated | shared
	HotReload bool   `json:"hot_reload"`

	DebounceMs          int `json:"debounce_ms"`
	StabilityIntervalMs int `json:"stability_interval_ms"`
	StabilityPolls      int `json:"stability_polls"`

	EmbeddedPriority int  `json:"embedded_priority"`
	LocalPriority    int  `json:"local_priority"`
	RemotePriority   int  `json:"remote_priority"`
	LocalEnabled     bool `json:"local_enabled"`
	RemoteEnabled    bool `json:"remote_enabled"`

	RepoBaseURL     string `json:"repo_base_url"`
	FetchTimeoutSec int    `json:"fetch_timeout_sec"`
	ExecTimeoutSec  int    `json:"exec_timeout_sec"`

	BlockingPoolSize  int `json:"blocking_pool_size"`
	ExecutionPoolSize int `json:"execution_pool_size"`

	Breaker       BreakerSettings `json:"breaker"`
	Mappings      []MappingRule   `json:"mappings"`
	RemotePlugins []RemotePlugin  `json:"remote_plugins"`
	Features      map[string]bool `json:"features"`

	LogLevel string `json:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".flowplane")
	return Config{
		PluginDirs:          []string{filepath.Join(base, "plugins")},
		CacheDir:            filepath.Join(base, "cache"),
		Isolation:           "isolated",
		HotReload:           true,
		DebounceMs:          2000,
		StabilityIntervalMs: 500,
		StabilityPolls:      5,
		EmbeddedPriority:    0,
		LocalPriority:       10,
		RemotePriority:      20,
		LocalEnabled:        true,
		RemoteEnabled:       true,
		FetchTimeoutSec:     120,
		ExecTimeoutSec:      30,
		BlockingPoolSize:    4,
		ExecutionPoolSize:   16,
		Breaker: BreakerSettings{
			FailureRateThreshold:  50,
			SlowCallRateThreshold: 80,
			SlowCallDurationMs:    10000,
			WindowSize:            10,
			MinimumCalls:          5,
			OpenWaitMs:            30000,
			HalfOpenCalls:         2,
		},
		Features: make(map[string]bool),
		LogLevel: "info",
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "flowplane.json"
	}
	return filepath.Join(home, ".flowplane", "config.json")
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides. An empty path
// means the conventional location from DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("malformed config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv overrides select settings from FLOWPLANE_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FLOWPLANE_PLUGIN_DIRS"); v != "" {
		cfg.PluginDirs = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("FLOWPLANE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("FLOWPLANE_REPO_BASE_URL"); v != "" {
		cfg.RepoBaseURL = v
	}
	if v := os.Getenv("FLOWPLANE_ISOLATION"); v != "" {
		cfg.Isolation = v
	}
	if v := os.Getenv("FLOWPLANE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWPLANE_HOT_RELOAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HotReload = b
		}
	}
	if v := os.Getenv("FLOWPLANE_EXEC_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ExecTimeoutSec = n
		}
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	if len(c.PluginDirs) == 0 {
		return fmt.Errorf("at least one plugin directory must be configured")
	}
	if c.Isolation != "isolated" && c.Isolation != "shared" {
		return fmt.Errorf("isolation must be %q or %q, got %q", "isolated", "shared", c.Isolation)
	}
	for _, rp := range c.RemotePlugins {
		if rp.ProcessID == "" {
			return fmt.Errorf("remote plugin entry is missing a process id")
		}
	}
	return nil
}

// Durations derived from the millisecond/second settings.

func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c Config) StabilityInterval() time.Duration {
	return time.Duration(c.StabilityIntervalMs) * time.Millisecond
}

func (c Config) FetchTimeout() time.Duration { return time.Duration(c.FetchTimeoutSec) * time.Second }

func (c Config) ExecTimeout() time.Duration { return time.Duration(c.ExecTimeoutSec) * time.Second }

func (c Config) BreakerSlowCallDuration() time.Duration {
	return time.Duration(c.Breaker.SlowCallDurationMs) * time.Millisecond
}

func (c Config) BreakerOpenWait() time.Duration {
	return time.Duration(c.Breaker.OpenWaitMs) * time.Millisecond
}
