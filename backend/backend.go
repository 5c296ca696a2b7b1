// Package backend turns a backend identifier plus loose constructor
// arguments (as found in application config) into a ready provider.
package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/regioncache/invalidation"
	"github.com/unkn0wn-root/regioncache/provider"
)

var ErrUnknownBackend = errors.New("backend: unknown backend")

// Backend is what a region needs from its store.
type Backend struct {
	Provider provider.Provider
	// Locker coordinates value creation across processes; nil => in-process key locks.
	Locker provider.Locker
	// Invalidation shares region invalidations; nil => invalidation.Local.
	Invalidation invalidation.Strategy
	// TTL is passed to every Set (0 => no backend expiry). Keep it longer than
	// the region expiration so stale values stay servable during regeneration.
	TTL time.Duration
}

// Factory opens a backend for one region.
type Factory func(region string, args Arguments) (*Backend, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		"redis":     openRedis,
		"memory":    openMemory,
		"ristretto": openRistretto,
		"bigcache":  openBigcache,
		"bbolt":     openBbolt,
	}
)

// Register adds or replaces a backend factory.
func Register(id string, f Factory) {
	mu.Lock()
	factories[id] = f
	mu.Unlock()
}

// Registered lists known backend identifiers.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Open builds the backend id for region.
func Open(id, region string, args Arguments) (*Backend, error) {
	mu.RLock()
	f, ok := factories[id]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, id)
	}
	b, err := f(region, args)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", id, err)
	}
	return b, nil
}
