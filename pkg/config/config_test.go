package config

import (
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Equal(t, "./data", cfg.Storage.DataDir)
		assert.False(t, cfg.Storage.InMemory)
		assert.True(t, cfg.Engine.CacheEnabled)
		assert.Equal(t, 1000, cfg.Engine.CacheSize)
		assert.Equal(t, 5*time.Minute, cfg.Engine.CacheTTL)
		assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
		assert.False(t, cfg.Engine.AllowLinkReuse)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PROXIMITY_DATA_DIR", "/var/lib/proximity")
		t.Setenv("PROXIMITY_IN_MEMORY", "yes")
		t.Setenv("PROXIMITY_CACHE_TTL", "90")
		t.Setenv("PROXIMITY_QUERY_TIMEOUT", "2m")
		t.Setenv("PROXIMITY_ALLOW_LINK_REUSE", "1")
		t.Setenv("PROXIMITY_LOG_LEVEL", "debug")

		cfg := LoadFromEnv()
		assert.Equal(t, "/var/lib/proximity", cfg.Storage.DataDir)
		assert.True(t, cfg.Storage.InMemory)
		assert.Equal(t, 90*time.Second, cfg.Engine.CacheTTL, "bare numbers are seconds")
		assert.Equal(t, 2*time.Minute, cfg.Engine.Timeout)
		assert.True(t, cfg.Engine.AllowLinkReuse)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("malformed values keep defaults", func(t *testing.T) {
		t.Setenv("PROXIMITY_CACHE_SIZE", "lots")
		t.Setenv("PROXIMITY_QUERY_TIMEOUT", "soon")

		cfg := LoadFromEnv()
		assert.Equal(t, 1000, cfg.Engine.CacheSize)
		assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
	})
}

func TestLoadFile(t *testing.T) {
	fs := memoryfs.New()
	defer vfs.Cleanup(fs)

	doc := `
storage:
  dataDir: /srv/graph
  lowMemory: true
engine:
  cacheSize: 50
  cacheTTL: 1m
  timeout: 10s
memory:
  runtimeLimit: 512MB
logging:
  level: trace
`
	require.NoError(t, vfs.WriteFile(fs, "/proximity.yaml", []byte(doc), 0o600))

	cfg, err := LoadFile(fs, "/proximity.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/srv/graph", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.LowMemory)
	assert.Equal(t, 50, cfg.Engine.CacheSize)
	assert.Equal(t, time.Minute, cfg.Engine.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout)
	assert.True(t, cfg.Engine.CacheEnabled, "unset keys keep their defaults")
	assert.Equal(t, int64(512_000_000), cfg.Memory.RuntimeLimit)
	assert.Equal(t, "trace", cfg.Logging.Level)

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("PROXIMITY_CACHE_SIZE", "7")
		cfg, err := LoadFile(fs, "/proximity.yaml")
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Engine.CacheSize)
	})

	t.Run("unknown key", func(t *testing.T) {
		require.NoError(t, vfs.WriteFile(fs, "/bad.yaml", []byte("engine:\n  turbo: true\n"), 0o600))
		_, err := LoadFile(fs, "/bad.yaml")
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		require.NoError(t, vfs.WriteFile(fs, "/empty.yaml", nil, 0o600))
		cfg, err := LoadFile(fs, "/empty.yaml")
		require.NoError(t, err)
		assert.Equal(t, Defaults().Engine, cfg.Engine)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(fs, "/missing.yaml")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"zero cache size", func(c *Config) { c.Engine.CacheSize = 0 }},
		{"negative ttl", func(c *Config) { c.Engine.CacheTTL = -time.Second }},
		{"negative timeout", func(c *Config) { c.Engine.Timeout = -time.Second }},
		{"zero pool size", func(c *Config) { c.Memory.PoolMaxSize = 0 }},
		{"negative memory limit", func(c *Config) { c.Memory.RuntimeLimit = -1 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("in memory needs no data dir", func(t *testing.T) {
		cfg := Defaults()
		cfg.Storage.DataDir = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled cache ignores size", func(t *testing.T) {
		cfg := Defaults()
		cfg.Engine.CacheEnabled = false
		cfg.Engine.CacheSize = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_String(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "Config{DataDir: ./data, InMemory: false, Cache: 1000/5m0s, Timeout: 30s, Log: info}", cfg.String())

	cfg.Engine.CacheEnabled = false
	assert.Contains(t, cfg.String(), "Cache: off")
}
