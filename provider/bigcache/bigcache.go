// Package bigcache stores region entries in a sharded off-heap byte cache.
//
// bigcache has a single eviction window for the whole cache, so the per-entry
// TTL passed by a region is ignored. Regions still judge freshness from the
// creation time framed into every value; LifeWindow only bounds memory.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

// ErrInvalidConfig is returned by New when LifeWindow is not positive.
var ErrInvalidConfig = errors.New("bigcache: invalid config")

type Config struct {
	LifeWindow         time.Duration // required
	CleanWindow        time.Duration // 0 => bigcache default
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // 0 = unlimited
}

func (c Config) build() (bc.Config, error) {
	if c.LifeWindow <= 0 {
		return bc.Config{}, fmt.Errorf("%w: life_window=%s", ErrInvalidConfig, c.LifeWindow)
	}
	conf := bc.DefaultConfig(c.LifeWindow)
	conf.Verbose = false
	if c.CleanWindow > 0 {
		conf.CleanWindow = c.CleanWindow
	}
	if c.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = c.MaxEntriesInWindow
	}
	if c.MaxEntrySize > 0 {
		conf.MaxEntrySize = c.MaxEntrySize
	}
	if c.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = c.HardMaxCacheSizeMB
	}
	return conf, nil
}

type Provider struct {
	store *bc.BigCache
}

var _ pr.Provider = (*Provider)(nil)

// New starts the cache. ctx bounds the background cleanup goroutine.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	conf, err := cfg.build()
	if err != nil {
		return nil, err
	}
	store, err := bc.New(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	return &Provider{store: store}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.store.Get(key)
	switch {
	case errors.Is(err, bc.ErrEntryNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if err := p.store.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.store.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Close(context.Context) error { return p.store.Close() }

// Len reports the number of stored entries, expired ones included until cleanup.
func (p *Provider) Len() int { return p.store.Len() }
