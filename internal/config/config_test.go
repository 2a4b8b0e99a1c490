package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "isolated", cfg.Isolation)
	assert.True(t, cfg.HotReload)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow())
	assert.Equal(t, 500*time.Millisecond, cfg.StabilityInterval())
	assert.Equal(t, 5, cfg.StabilityPolls)
	assert.Equal(t, 0, cfg.EmbeddedPriority)
	assert.Equal(t, 10, cfg.LocalPriority)
	assert.Equal(t, 20, cfg.RemotePriority)
	assert.Equal(t, 30*time.Second, cfg.ExecTimeout())
	assert.Equal(t, 30*time.Second, cfg.BreakerOpenWait())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"plugin_dirs": ["/opt/flowplane/plugins"],
		"isolation": "shared",
		"debounce_ms": 500,
		"exec_timeout_sec": 5,
		"repo_base_url": "https://repo.example.com/releases",
		"breaker": {"failure_rate_threshold": 25, "open_wait_ms": 1000},
		"mappings": [{"operation_id": "op.settle", "process_id": "payment.settle"}],
		"remote_plugins": [{"process_id": "refund.check", "version": "1.0.0", "source_type": "remote-maven", "group_id": "com.acme", "artifact_id": "refund"}],
		"features": {"instant-settlement": true}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/flowplane/plugins"}, cfg.PluginDirs)
	assert.Equal(t, "shared", cfg.Isolation)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, 5*time.Second, cfg.ExecTimeout())
	assert.Equal(t, "https://repo.example.com/releases", cfg.RepoBaseURL)
	assert.Equal(t, float64(25), cfg.Breaker.FailureRateThreshold)
	assert.Equal(t, time.Second, cfg.BreakerOpenWait())
	require.Len(t, cfg.Mappings, 1)
	assert.Equal(t, "payment.settle", cfg.Mappings[0].ProcessID)
	require.Len(t, cfg.RemotePlugins, 1)
	assert.Equal(t, "refund.check", cfg.RemotePlugins[0].ProcessID)
	assert.True(t, cfg.Features["instant-settlement"])
}

func TestLoad_EmptyPathReadsDefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".flowplane")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"isolation": "shared", "log_level": "debug"}`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "shared", cfg.Isolation)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FLOWPLANE_CACHE_DIR", "/tmp/fp-cache")
	t.Setenv("FLOWPLANE_ISOLATION", "shared")
	t.Setenv("FLOWPLANE_HOT_RELOAD", "false")
	t.Setenv("FLOWPLANE_EXEC_TIMEOUT_SEC", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fp-cache", cfg.CacheDir)
	assert.Equal(t, "shared", cfg.Isolation)
	assert.False(t, cfg.HotReload)
	assert.Equal(t, 7*time.Second, cfg.ExecTimeout())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"no plugin dirs", func(c *Config) { c.PluginDirs = nil }, true},
		{"bad isolation mode", func(c *Config) { c.Isolation = "chroot" }, true},
		{"remote plugin without process id", func(c *Config) {
			c.RemotePlugins = []RemotePlugin{{Version: "1.0.0", SourceType: "remote-maven"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
