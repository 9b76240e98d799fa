// Package config handles Proximity configuration from environment variables
// and optional YAML files.
//
// Every setting has a default, may be overridden by a YAML config file, and
// may be overridden again by a PROXIMITY_ environment variable. Load the
// configuration with LoadFromEnv() or LoadFile() and check it with Validate()
// before use.
//
// Example Usage:
//
//	cfg, err := config.LoadFile(osfs.New(), "proximity.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return fmt.Errorf("invalid config: %w", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.Storage.DataDir)
//
// Environment Variables:
//
// Storage:
//   - PROXIMITY_DATA_DIR="./data"
//   - PROXIMITY_IN_MEMORY=false
//   - PROXIMITY_SYNC_WRITES=false
//   - PROXIMITY_LOW_MEMORY=false
//
// Engine:
//   - PROXIMITY_CACHE_ENABLED=true
//   - PROXIMITY_CACHE_SIZE=1000
//   - PROXIMITY_CACHE_TTL=5m
//   - PROXIMITY_ALLOW_LINK_REUSE=false
//   - PROXIMITY_QUERY_TIMEOUT=30s
//
// Memory:
//   - PROXIMITY_MEMORY_LIMIT="0" (e.g. "2GiB", "512MB", "unlimited")
//   - PROXIMITY_GC_PERCENT=100
//   - PROXIMITY_POOL_ENABLED=true
//   - PROXIMITY_POOL_MAX_SIZE=65536
//
// Logging:
//   - PROXIMITY_LOG_LEVEL="info"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// Config holds all Proximity configuration.
//
// Configuration is organized into logical sections:
//   - Storage: where and how the graph is stored
//   - Engine: pattern engine behavior
//   - Memory: Go runtime and buffer pool tuning
//   - Logging: log level
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Memory  MemoryConfig  `yaml:"memory"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the BadgerDB directory
	DataDir string `yaml:"dataDir"`
	// InMemory keeps the graph in memory only
	InMemory bool `yaml:"inMemory"`
	// SyncWrites forces fsync after each write
	SyncWrites bool `yaml:"syncWrites"`
	// LowMemory shrinks BadgerDB tables and caches
	LowMemory bool `yaml:"lowMemory"`
}

// EngineConfig holds pattern engine settings.
type EngineConfig struct {
	// CacheEnabled memoizes condition results across operators of a run
	CacheEnabled bool `yaml:"cacheEnabled"`
	// CacheSize is the maximum number of cached condition results
	CacheSize int `yaml:"cacheSize"`
	// CacheTTL expires cached results; 0 keeps them until evicted
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// AllowLinkReuse lets one link fill several edge roles of a match
	AllowLinkReuse bool `yaml:"allowLinkReuse"`
	// Timeout bounds a single query run; 0 disables it
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig holds runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimitStr is the human-readable Go memory limit ("2GB")
	RuntimeLimitStr string `yaml:"runtimeLimit"`
	// RuntimeLimit is RuntimeLimitStr in bytes; 0 means unlimited
	RuntimeLimit int64 `yaml:"-"`
	// GCPercent is the GOGC value
	GCPercent int `yaml:"gcPercent"`
	// PoolEnabled turns binding buffer pooling on
	PoolEnabled bool `yaml:"poolEnabled"`
	// PoolMaxSize is the largest buffer capacity returned to the pool
	PoolMaxSize int `yaml:"poolMaxSize"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of error, warn, info, debug, trace
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Engine: EngineConfig{
			CacheEnabled: true,
			CacheSize:    1000,
			CacheTTL:     5 * time.Minute,
			Timeout:      30 * time.Second,
		},
		Memory: MemoryConfig{
			RuntimeLimitStr: "0",
			GCPercent:       100,
			PoolEnabled:     true,
			PoolMaxSize:     1 << 16,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv returns the defaults overridden by PROXIMITY_ environment
// variables.
//
// Configuration Priority:
//  1. Environment variables (highest)
//  2. Default values (if env var not set)
func LoadFromEnv() *Config {
	config := Defaults()
	config.applyEnv()
	return config
}

// LoadFile reads a YAML config file from fs, on top of the defaults, and
// applies environment overrides last. Unknown keys are an error.
//
// Configuration Priority:
//  1. Environment variables (highest)
//  2. Config file
//  3. Default values
func LoadFile(fs vfs.FileSystem, path string) (*Config, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	// Storage settings
	c.Storage.DataDir = getEnv("PROXIMITY_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("PROXIMITY_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("PROXIMITY_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("PROXIMITY_LOW_MEMORY", c.Storage.LowMemory)

	// Engine settings
	c.Engine.CacheEnabled = getEnvBool("PROXIMITY_CACHE_ENABLED", c.Engine.CacheEnabled)
	c.Engine.CacheSize = getEnvInt("PROXIMITY_CACHE_SIZE", c.Engine.CacheSize)
	c.Engine.CacheTTL = getEnvDuration("PROXIMITY_CACHE_TTL", c.Engine.CacheTTL)
	c.Engine.AllowLinkReuse = getEnvBool("PROXIMITY_ALLOW_LINK_REUSE", c.Engine.AllowLinkReuse)
	c.Engine.Timeout = getEnvDuration("PROXIMITY_QUERY_TIMEOUT", c.Engine.Timeout)

	// Runtime memory management settings
	c.Memory.RuntimeLimitStr = getEnv("PROXIMITY_MEMORY_LIMIT", c.Memory.RuntimeLimitStr)
	if limit, err := parseMemorySize(c.Memory.RuntimeLimitStr); err == nil {
		c.Memory.RuntimeLimit = limit
	} else {
		c.Memory.RuntimeLimit = -1
	}
	c.Memory.GCPercent = getEnvInt("PROXIMITY_GC_PERCENT", c.Memory.GCPercent)
	c.Memory.PoolEnabled = getEnvBool("PROXIMITY_POOL_ENABLED", c.Memory.PoolEnabled)
	c.Memory.PoolMaxSize = getEnvInt("PROXIMITY_POOL_MAX_SIZE", c.Memory.PoolMaxSize)

	// Logging settings
	c.Logging.Level = getEnv("PROXIMITY_LOG_LEVEL", c.Logging.Level)
}

// Validate checks the configuration for invalid values.
//
// This method checks:
//   - A data directory is set unless storage is in memory
//   - Cache and pool sizes are positive when enabled
//   - Durations are not negative
//   - The log level is known
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("data directory required unless storage is in memory")
	}

	if c.Engine.CacheEnabled && c.Engine.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Engine.CacheSize)
	}

	if c.Engine.CacheTTL < 0 {
		return fmt.Errorf("invalid cache ttl: %s", c.Engine.CacheTTL)
	}

	if c.Engine.Timeout < 0 {
		return fmt.Errorf("invalid query timeout: %s", c.Engine.Timeout)
	}

	if c.Memory.PoolEnabled && c.Memory.PoolMaxSize <= 0 {
		return fmt.Errorf("invalid pool max size: %d", c.Memory.PoolMaxSize)
	}

	if c.Memory.RuntimeLimit < 0 {
		return fmt.Errorf("invalid memory limit: %s", c.Memory.RuntimeLimitStr)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	return nil
}

// String returns a compact representation of the Config for logging.
//
// Example:
//
//	// Output: Config{DataDir: ./data, InMemory: false, Cache: 1000/5m0s, Timeout: 30s, Log: info}
func (c *Config) String() string {
	cache := "off"
	if c.Engine.CacheEnabled {
		cache = fmt.Sprintf("%d/%s", c.Engine.CacheSize, c.Engine.CacheTTL)
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, Cache: %s, Timeout: %s, Log: %s}",
		c.Storage.DataDir, c.Storage.InMemory, cache, c.Engine.Timeout, c.Logging.Level,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a memory size such as "512MB", "2GiB" or "1024".
// Decimal units are powers of 1000, IEC units powers of 1024. "", "0" and
// "unlimited" mean no limit.
func parseMemorySize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" || strings.EqualFold(s, "unlimited") {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("memory size %s out of range", s)
	}
	return int64(n), nil
}

// FormatMemorySize formats bytes in IEC units.
func FormatMemorySize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}
