// Package invalidation records region-wide invalidation points.
//
// A hard invalidation makes every entry created before it a miss.
// A soft invalidation makes those entries stale: still servable while one
// caller regenerates them.
package invalidation

import (
	"context"
	"time"
)

// Strategy abstracts where invalidation timestamps live.
// Use Local (default) for in-process regions, or Redis to share
// invalidations across replicas and restarts.
type Strategy interface {
	// Invalidate records an invalidation at the given time.
	Invalidate(ctx context.Context, hard bool, at time.Time) error
	// IsHardInvalidated reports whether an entry created at created is hard-invalidated.
	IsHardInvalidated(ctx context.Context, created time.Time) (bool, error)
	// IsSoftInvalidated reports whether an entry created at created is soft-invalidated.
	IsSoftInvalidated(ctx context.Context, created time.Time) (bool, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
