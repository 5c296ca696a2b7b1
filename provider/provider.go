// Package provider defines the storage abstraction used by regioncache regions.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression or expiry prefixes), they MUST be fully reversed so that the
// bytes returned by Get are identical to the bytes provided to Set.
//
// Values written by a region are framed (creation time + payload); foreign
// writes under the same keys are treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (ttl <= 0 => no expiry). May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Mutex guards the creation of one cache key.
type Mutex interface {
	// Lock blocks until the mutex is held or ctx is done.
	Lock(ctx context.Context) error
	// TryLock acquires the mutex only if it is free.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Locker hands out per-key mutexes. Stores that can coordinate creation
// across processes (e.g. redis with distributed locks) implement it.
type Locker interface {
	Mutex(key string) Mutex
}
