package server

import (
	"fmt"
	"sync/atomic"
)

// Limits on the tunable knobs, matching the persisted schema's expectations.
const (
	minWorkers         = 1
	maxWorkers         = 20
	minProductsPerPage = 1
	maxProductsPerPage = 1000
)

// Snapshot is one immutable view of the tunable configuration. Handlers read
// a snapshot once and use it for the whole request, so a concurrent update
// can never produce a half-applied view.
type Snapshot struct {
	Version            int64 `json:"version"`
	MaxWorkers         int   `json:"max_workers"`
	MaxProductsPerPage int   `json:"max_products_per_page"`
}

// Settings holds the current snapshot behind an atomic pointer.
type Settings struct {
	current atomic.Pointer[Snapshot]
}

// NewSettings seeds version 1 with the given values, clamped to the limits.
func NewSettings(workers, productsPerPage int) *Settings {
	s := &Settings{}
	s.current.Store(&Snapshot{
		Version:            1,
		MaxWorkers:         clamp(workers, minWorkers, maxWorkers),
		MaxProductsPerPage: clamp(productsPerPage, minProductsPerPage, maxProductsPerPage),
	})
	return s
}

// Load returns the current snapshot.
func (s *Settings) Load() Snapshot {
	return *s.current.Load()
}

// Update swaps in a new snapshot with the provided overrides. Nil fields keep
// their current value. Out-of-range values are rejected, not clamped, so a
// caller learns about its mistake.
func (s *Settings) Update(workers, productsPerPage *int) (Snapshot, error) {
	if workers != nil && (*workers < minWorkers || *workers > maxWorkers) {
		return Snapshot{}, fmt.Errorf("max_workers must be between %d and %d", minWorkers, maxWorkers)
	}
	if productsPerPage != nil && (*productsPerPage < minProductsPerPage || *productsPerPage > maxProductsPerPage) {
		return Snapshot{}, fmt.Errorf("max_products_per_page must be between %d and %d", minProductsPerPage, maxProductsPerPage)
	}

	for {
		old := s.current.Load()
		next := &Snapshot{
			Version:            old.Version + 1,
			MaxWorkers:         old.MaxWorkers,
			MaxProductsPerPage: old.MaxProductsPerPage,
		}
		if workers != nil {
			next.MaxWorkers = *workers
		}
		if productsPerPage != nil {
			next.MaxProductsPerPage = *productsPerPage
		}
		if s.current.CompareAndSwap(old, next) {
			return *next, nil
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
