package regioncache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/regioncache/backend"
	"github.com/unkn0wn-root/regioncache/config"
	"github.com/unkn0wn-root/regioncache/keygen"
)

// KeyGenerator renders the storage key of one call.
type KeyGenerator func(namespace string, sig keygen.Signature, positional []any, kw map[string]any) (string, error)

// MultiKeyGenerator renders one storage key per argument of a multi call.
type MultiKeyGenerator func(namespace string, args []any, kw map[string]any) ([]string, error)

// Options configure every region built by New.
type Options struct {
	Logger Logger
	Hooks  Hooks

	// KeyMangler maps generated keys to storage keys. Default: keygen.SHA1.
	KeyMangler keygen.Mangler

	KeyGenerator      KeyGenerator      // default: keygen.FunctionKey
	MultiKeyGenerator MultiKeyGenerator // default: keygen.MultiKeys
}

// Cache owns the configured regions and, per region, the decorators that
// memoize functions on it. Everything is built by New; lookups never touch
// the backend.
type Cache struct {
	log     Logger
	mu      sync.RWMutex
	order   []string
	regions map[string]*Region
	single  map[string]*Decorator
	multi   map[string]*MultiDecorator
	closed  bool
}

// New validates cfg, opens one backend per region and builds its
// decorators. On failure everything opened so far is closed again.
func New(cfg config.Config, opts Options) (*Cache, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	opts = opts.withDefaults()

	c := &Cache{
		log:     opts.Logger,
		regions: make(map[string]*Region, len(cfg.Regions)),
		single:  make(map[string]*Decorator, len(cfg.Regions)),
		multi:   make(map[string]*MultiDecorator, len(cfg.Regions)),
	}
	args := backend.Arguments(cfg.Arguments())
	for _, spec := range cfg.Regions {
		b, err := backend.Open(cfg.Backend, spec.Name, args)
		if err != nil {
			_ = c.Close(context.Background())
			return nil, &ConfigError{Region: spec.Name, Err: err}
		}
		r, err := NewRegion(spec.Name, time.Duration(spec.Expiration)*time.Second, b, opts)
		if err != nil {
			_ = b.Provider.Close(context.Background())
			_ = c.Close(context.Background())
			return nil, &ConfigError{Region: spec.Name, Err: err}
		}
		c.add(r, opts)
	}
	c.log.Info("regions configured", Fields{"backend": cfg.Backend, "regions": c.order})
	return c, nil
}

// NewWithRegions builds a Cache over regions the caller already opened.
func NewWithRegions(opts Options, regions ...*Region) (*Cache, error) {
	opts = opts.withDefaults()
	c := &Cache{
		log:     opts.Logger,
		regions: make(map[string]*Region, len(regions)),
		single:  make(map[string]*Decorator, len(regions)),
		multi:   make(map[string]*MultiDecorator, len(regions)),
	}
	for _, r := range regions {
		if _, dup := c.regions[r.name]; dup {
			return nil, &ConfigError{Region: r.name, Err: config.ErrDuplicateRegion}
		}
		c.add(r, opts)
	}
	return c, nil
}

func (c *Cache) add(r *Region, opts Options) {
	c.order = append(c.order, r.name)
	c.regions[r.name] = r
	c.single[r.name] = &Decorator{region: r, keys: opts.KeyGenerator}
	c.multi[r.name] = &MultiDecorator{region: r, keys: opts.MultiKeyGenerator}
}

// Region returns the named region.
func (c *Cache) Region(name string) (*Region, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.regions[name]
	if !ok {
		return nil, &RegionError{Name: name}
	}
	return r, nil
}

// Decorator returns the single-key decorator of the named region.
func (c *Cache) Decorator(name string) (*Decorator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.single[name]
	if !ok {
		return nil, &RegionError{Name: name}
	}
	return d, nil
}

// MultiDecorator returns the multi-key decorator of the named region.
func (c *Cache) MultiDecorator(name string) (*MultiDecorator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.multi[name]
	if !ok {
		return nil, &RegionError{Name: name}
	}
	return d, nil
}

// Regions lists region names in configuration order.
func (c *Cache) Regions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// InvalidateRegion invalidates every value of one region.
func (c *Cache) InvalidateRegion(ctx context.Context, name string, hard bool) error {
	r, err := c.Region(name)
	if err != nil {
		return err
	}
	return r.Invalidate(ctx, hard)
}

// InvalidateAll invalidates every region, returning the joined errors.
func (c *Cache) InvalidateAll(ctx context.Context, hard bool) error {
	var errs []error
	for _, name := range c.Regions() {
		if err := c.InvalidateRegion(ctx, name, hard); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every region. Regions sharing a file or client release it
// once the last one closes.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	names := append([]string(nil), c.order...)
	c.mu.Unlock()

	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := c.regions[name].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
