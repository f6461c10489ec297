package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrCacheMiss is returned when no model is stored for a pair
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when a stored model cannot be used
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrPersist is returned when a rebuilt model could not be written
	ErrPersist = errors.New("failed to persist model")
)

// CacheLevel represents the cache tier
type CacheLevel int

const (
	// CacheLevelL1 represents the memory cache (fastest)
	CacheLevelL1 CacheLevel = iota

	// CacheLevelL2 represents the disk cache (system of record)
	CacheLevelL2

	// CacheLevelBuild means the model was recomputed from samples
	CacheLevelBuild
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "L1-Memory"
	case CacheLevelL2:
		return "L2-Disk"
	case CacheLevelBuild:
		return "Build"
	default:
		return "Unknown"
	}
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	// Configuration
	MaxEntries int // Maximum number of entries
	MaxWeight  int // Maximum total knot count

	// Current state
	Weight    int // Current total knot count
	ItemCount int // Number of items in cache

	// Performance metrics
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	HitRate   float64 // Calculated hit rate (hits / (hits + misses))

	// Timing
	LastAccess time.Time // Last access time
	LastEvict  time.Time // Last eviction time
}

// Config holds the capacity settings of a Manager. They are fixed for the
// lifetime of the manager.
type Config struct {
	// Disk cache (L2)
	Dir string // Directory for model files

	// Memory cache (L1)
	MemoryEnabled bool
	MaxEntries    int // Maximum number of models held in memory
	MaxWeight     int // Maximum total knot count held in memory

	// Admission control
	AdmitHits  int // Hits a key needs before it enters memory
	HitsWindow int // Keys tracked by the admission counter
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Dir:           "./curve_cache",
		MemoryEnabled: true,
		MaxEntries:    2000,
		MaxWeight:     200000,
		AdmitHits:     2,
		HitsWindow:    4096,
	}
}
