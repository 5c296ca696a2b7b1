// Package ristretto stores region entries in an admission-controlled
// in-process cache. Writes can be rejected under pressure; regions treat a
// rejected write as "not stored" and keep serving the freshly created value.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

// ErrInvalidConfig is returned by New for non-positive sizing parameters.
var ErrInvalidConfig = errors.New("ristretto: invalid config")

type Config struct {
	NumCounters int64 // keys tracked for admission, ~10x the expected entry count
	MaxCost     int64 // regions store every entry with cost 1, so this caps entries
	BufferItems int64
	Metrics     bool
	// SyncWrites flushes the write buffer after Set so the next Get sees it.
	SyncWrites bool
}

func (c Config) validate() error {
	switch {
	case c.NumCounters <= 0:
		return fmt.Errorf("%w: num_counters=%d", ErrInvalidConfig, c.NumCounters)
	case c.MaxCost <= 0:
		return fmt.Errorf("%w: max_cost=%d", ErrInvalidConfig, c.MaxCost)
	case c.BufferItems <= 0:
		return fmt.Errorf("%w: buffer_items=%d", ErrInvalidConfig, c.BufferItems)
	}
	return nil
}

type Provider struct {
	cache *rc.Cache
	flush bool
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cache, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Provider{cache: cache, flush: cfg.SyncWrites}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, found := p.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	if b, ok := raw.([]byte); ok && b != nil {
		return b, true, nil
	}
	// Only []byte is ever stored here; anything else is dropped.
	p.cache.Del(key)
	return nil, false, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	admitted := p.cache.SetWithTTL(key, value, cost, max(ttl, 0))
	if p.flush {
		p.cache.Wait()
	}
	return admitted, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.cache.Del(key)
	return nil
}

func (p *Provider) Close(context.Context) error {
	p.cache.Wait()
	p.cache.Close()
	return nil
}

// Metrics is nil unless Config.Metrics was set.
func (p *Provider) Metrics() *rc.Metrics { return p.cache.Metrics }
