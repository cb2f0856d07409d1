// ABOUTME: Bloom filter over cached report keys for fast miss detection
// ABOUTME: A negative answer skips the badger lookup; a positive one may be a false positive

package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Default filter sizing.
const (
	DefaultExpectedItems     = 100_000
	DefaultFalsePositiveRate = 0.01
)

// FilterConfig sizes a FingerprintFilter.
type FilterConfig struct {
	// ExpectedItems is the number of keys the filter is sized for.
	ExpectedItems uint

	// FalsePositiveRate is the target rate at ExpectedItems, e.g. 0.01.
	FalsePositiveRate float64
}

// FilterStats describes the filter's shape and fill.
type FilterStats struct {
	Capacity          uint    `json:"capacity"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	BitSetSize        uint64  `json:"bitset_bytes"`
	HashFunctions     uint    `json:"hash_functions"`
	ApproxItems       uint32  `json:"approx_items"`
}

// FingerprintFilter is a concurrency-safe bloom filter of cache keys.
type FingerprintFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	config FilterConfig
}

// NewFingerprintFilter creates an empty filter. Zero fields use defaults.
func NewFingerprintFilter(cfg FilterConfig) *FingerprintFilter {
	if cfg.ExpectedItems == 0 {
		cfg.ExpectedItems = DefaultExpectedItems
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = DefaultFalsePositiveRate
	}
	return &FingerprintFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		config: cfg,
	}
}

// Add records key.
func (f *FingerprintFilter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(key)
}

// MayContain reports false only when key was definitely never added.
func (f *FingerprintFilter) MayContain(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(key)
}

// Clear empties the filter.
func (f *FingerprintFilter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.ClearAll()
}

// Stats returns the filter's sizing and estimated item count.
func (f *FingerprintFilter) Stats() FilterStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FilterStats{
		Capacity:          f.config.ExpectedItems,
		FalsePositiveRate: f.config.FalsePositiveRate,
		BitSetSize:        uint64(f.filter.Cap() / 8),
		HashFunctions:     f.filter.K(),
		ApproxItems:       f.filter.ApproximatedSize(),
	}
}
