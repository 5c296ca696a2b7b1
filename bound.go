package regioncache

import "context"

// Bound is a function memoized by CacheOnRegion or CacheOnRegionMulti.
// Its region name and multi flag select the decorator that Cache.Invalidate,
// Cache.Refresh and Cache.Set delegate to.
type Bound interface {
	RegionName() string
	IsMulti() bool

	invalidateOn(ctx context.Context, t target, args []any) error
	refreshOn(ctx context.Context, t target, args []any) (any, error)
	setOn(ctx context.Context, t target, value any, args []any) error
}

var (
	_ Bound = (*Cached[int])(nil)
	_ Bound = (*CachedMulti[int])(nil)
)

// target is the decorator resolved from a Bound's tags; exactly one is set.
type target struct {
	single *Decorator
	multi  *MultiDecorator
}

func (c *Cache) resolve(f Bound) (target, error) {
	if f == nil || f.RegionName() == "" {
		return target{}, ErrNotBound
	}
	if f.IsMulti() {
		d, err := c.MultiDecorator(f.RegionName())
		return target{multi: d}, err
	}
	d, err := c.Decorator(f.RegionName())
	return target{single: d}, err
}

// Invalidate deletes the value f cached for args.
func (c *Cache) Invalidate(ctx context.Context, f Bound, args ...any) error {
	t, err := c.resolve(f)
	if err != nil {
		return err
	}
	return f.invalidateOn(ctx, t, args)
}

// Refresh reruns f for args and stores the result. Multi functions return
// their []V.
func (c *Cache) Refresh(ctx context.Context, f Bound, args ...any) (any, error) {
	t, err := c.resolve(f)
	if err != nil {
		return nil, err
	}
	return f.refreshOn(ctx, t, args)
}

// Set stores value as f's result for args without calling f. Multi
// functions take a []V paired with args by position.
func (c *Cache) Set(ctx context.Context, f Bound, value any, args ...any) error {
	t, err := c.resolve(f)
	if err != nil {
		return err
	}
	return f.setOn(ctx, t, value, args)
}
