package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"512mb", 512_000_000},
		{"512MiB", 512 << 20},
		{"  2GiB  ", 2 << 30},
		{"1TiB", 1 << 40},

		{"", 0},
		{"0", 0},
		{"unlimited", 0},
		{"UNLIMITED", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseMemorySize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"abc", "-1GB", "12 parsecs"} {
		_, err := parseMemorySize(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "0 B", FormatMemorySize(0))
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.5 KiB", FormatMemorySize(1536))
	assert.Equal(t, "4.0 GiB", FormatMemorySize(4<<30))
}

func TestLoadFromEnv_RuntimeMemory(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Zero(t, cfg.Memory.RuntimeLimit)
		assert.Equal(t, 100, cfg.Memory.GCPercent)
		assert.True(t, cfg.Memory.PoolEnabled)
		assert.Equal(t, 1<<16, cfg.Memory.PoolMaxSize)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PROXIMITY_MEMORY_LIMIT", "2GiB")
		t.Setenv("PROXIMITY_GC_PERCENT", "50")
		t.Setenv("PROXIMITY_POOL_ENABLED", "false")
		t.Setenv("PROXIMITY_POOL_MAX_SIZE", "500")

		cfg := LoadFromEnv()
		assert.Equal(t, int64(2<<30), cfg.Memory.RuntimeLimit)
		assert.Equal(t, "2GiB", cfg.Memory.RuntimeLimitStr)
		assert.Equal(t, 50, cfg.Memory.GCPercent)
		assert.False(t, cfg.Memory.PoolEnabled)
		assert.Equal(t, 500, cfg.Memory.PoolMaxSize)
	})

	t.Run("bad limit fails validation", func(t *testing.T) {
		t.Setenv("PROXIMITY_MEMORY_LIMIT", "lots")
		assert.Error(t, LoadFromEnv().Validate())
	})
}

func TestMemoryConfig_ApplyRuntimeMemory(t *testing.T) {
	// Defaults leave the runtime untouched.
	cfg := &MemoryConfig{GCPercent: 100}
	cfg.ApplyRuntimeMemory()
}

func BenchmarkParseMemorySize(b *testing.B) {
	for _, input := range []string{"2GiB", "512MB", "1024", "unlimited"} {
		b.Run(input, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = parseMemorySize(input)
			}
		})
	}
}
