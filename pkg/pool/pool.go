// Package pool provides object pooling for the pattern engine's binding
// tables and id buffers.
//
// Match relations are short-lived: every operator allocates a fresh one and
// the previous one is released right after. Pooling the backing slices lets a
// long pattern reuse the same few buffers instead of allocating per step.
//
// Pooled objects:
//   - Binding slices (vertex and edge binding tables)
//   - Item id slices (scratch buffers for joins)
//
// Usage:
//
//	// Get a slice from pool
//	rows := pool.GetBindings()
//	defer pool.PutBindings(rows)
//
//	// Use the slice...
//	rows = append(rows, storage.Binding{Item: 1, Match: 1, Role: "A"})
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/orneryd/proximity/pkg/storage"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize is the largest capacity kept in a pool; bigger slices are
	// dropped for the GC to collect.
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 1 << 16,
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	globalConfig = config
	initPools()
}

// initPools reinitializes all pools with their New functions.
func initPools() {
	bindingPool = sync.Pool{
		New: func() any {
			return make([]storage.Binding, 0, 64)
		},
	}
	idPool = sync.Pool{
		New: func() any {
			return make([]storage.ItemID, 0, 64)
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

// outstanding counts binding slices handed out and not yet returned.
var outstanding atomic.Int64

// Outstanding returns the number of binding slices currently checked out.
func Outstanding() int64 {
	return outstanding.Load()
}

// =============================================================================
// Binding Slice Pool
// =============================================================================

var bindingPool = sync.Pool{
	New: func() any {
		return make([]storage.Binding, 0, 64)
	},
}

// GetBindings returns an empty binding slice from the pool.
// Call PutBindings when done.
func GetBindings() []storage.Binding {
	outstanding.Add(1)
	if !globalConfig.Enabled {
		return make([]storage.Binding, 0, 64)
	}
	return bindingPool.Get().([]storage.Binding)[:0]
}

// PutBindings returns a binding slice to the pool.
// The caller must not use the slice afterwards.
func PutBindings(rows []storage.Binding) {
	outstanding.Add(-1)
	if !globalConfig.Enabled {
		return
	}
	// Don't pool very large slices (memory leak prevention)
	if cap(rows) > globalConfig.MaxSize {
		return
	}
	clear(rows)
	bindingPool.Put(rows[:0])
}

// =============================================================================
// Item ID Slice Pool
// =============================================================================

var idPool = sync.Pool{
	New: func() any {
		return make([]storage.ItemID, 0, 64)
	},
}

// GetIDs returns an empty id slice from the pool.
func GetIDs() []storage.ItemID {
	if !globalConfig.Enabled {
		return make([]storage.ItemID, 0, 64)
	}
	return idPool.Get().([]storage.ItemID)[:0]
}

// PutIDs returns an id slice to the pool.
func PutIDs(ids []storage.ItemID) {
	if !globalConfig.Enabled || cap(ids) > globalConfig.MaxSize {
		return
	}
	idPool.Put(ids[:0])
}
