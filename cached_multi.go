package regioncache

import (
	"context"
	"fmt"
)

// MultiFunc computes one value per argument, in order.
type MultiFunc[V any] func(ctx context.Context, args []any) ([]V, error)

// CachedMulti caches a MultiFunc per argument: a call fetches every
// argument's value separately and runs fn once with only the missing ones.
type CachedMulti[V any] struct {
	cache  *Cache
	dec    *MultiDecorator
	region string
	fn     MultiFunc[V]
	b      binding[V]
}

// CacheOnRegionMulti memoizes fn on the named region's multi decorator.
func CacheOnRegionMulti[V any](c *Cache, region string, fn MultiFunc[V], opts ...FuncOption) (*CachedMulti[V], error) {
	if c == nil {
		return nil, ErrNotBound
	}
	if fn == nil {
		return nil, errNilFunc
	}
	if _, err := c.MultiDecorator(region); err != nil {
		return nil, err
	}
	b, err := bind[V](fn, opts)
	if err != nil {
		return nil, err
	}
	return &CachedMulti[V]{cache: c, region: region, fn: fn, b: b}, nil
}

// MemoizeMulti wraps fn directly with a multi decorator.
func MemoizeMulti[V any](d *MultiDecorator, fn MultiFunc[V], opts ...FuncOption) (*CachedMulti[V], error) {
	if d == nil {
		return nil, ErrNotBound
	}
	if fn == nil {
		return nil, errNilFunc
	}
	b, err := bind[V](fn, opts)
	if err != nil {
		return nil, err
	}
	return &CachedMulti[V]{dec: d, region: d.region.name, fn: fn, b: b}, nil
}

func (f *CachedMulti[V]) RegionName() string {
	if f == nil {
		return ""
	}
	return f.region
}

func (f *CachedMulti[V]) IsMulti() bool { return true }

func (f *CachedMulti[V]) Namespace() string { return f.b.ns }

func (f *CachedMulti[V]) decorator() (*MultiDecorator, error) {
	if f == nil || f.region == "" {
		return nil, ErrNotBound
	}
	if f.dec != nil {
		return f.dec, nil
	}
	if f.cache == nil {
		return nil, ErrNotBound
	}
	return f.cache.MultiDecorator(f.region)
}

// Call returns one value per argument.
func (f *CachedMulti[V]) Call(ctx context.Context, args ...any) ([]V, error) {
	d, err := f.decorator()
	if err != nil {
		return nil, err
	}
	return f.call(ctx, d, args, true)
}

func (f *CachedMulti[V]) call(ctx context.Context, d *MultiDecorator, args []any, heal bool) ([]V, error) {
	keys, args, err := f.keys(d, args)
	if err != nil {
		return nil, err
	}
	argOf := make(map[string]any, len(keys))
	for i, k := range keys {
		argOf[k] = args[i]
	}

	made := make(map[string]V)
	payloads, err := d.region.getOrCreateMulti(ctx, keys, f.b.expiration(d.region), func(ctx context.Context, need []string) ([]Created, error) {
		in := make([]any, len(need))
		for i, k := range need {
			in[i] = argOf[k]
		}
		vals, err := f.fn(ctx, in)
		if err != nil {
			return nil, err
		}
		if len(vals) != len(need) {
			return nil, fmt.Errorf("%w: got %d want %d", ErrResultCount, len(vals), len(need))
		}
		out := make([]Created, len(vals))
		for i, v := range vals {
			p, err := f.b.codec.Encode(v)
			if err != nil {
				return nil, err
			}
			made[need[i]] = v
			out[i] = Created{Payload: p, Cacheable: f.b.cacheable(v)}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]V, len(keys))
	for i, k := range keys {
		if v, ok := made[k]; ok {
			out[i] = v
			continue
		}
		v, err := f.b.codec.Decode(payloads[i])
		if err != nil {
			if !heal {
				return nil, err
			}
			d.region.discard(ctx, k, "value_decode")
			return f.call(ctx, d, args, false)
		}
		out[i] = v
	}
	return out, nil
}

// Peek returns cached values without calling fn; found[i] reports hits.
func (f *CachedMulti[V]) Peek(ctx context.Context, args ...any) (vals []V, found []bool, err error) {
	d, err := f.decorator()
	if err != nil {
		return nil, nil, err
	}
	keys, _, err := f.keys(d, args)
	if err != nil {
		return nil, nil, err
	}
	raw, hit, err := d.region.getMulti(ctx, keys, f.b.expiration(d.region))
	if err != nil {
		return nil, nil, err
	}
	vals = make([]V, len(keys))
	found = make([]bool, len(keys))
	for i := range keys {
		if !hit[i] {
			continue
		}
		v, err := f.b.codec.Decode(raw[i])
		if err != nil {
			d.region.discard(ctx, keys[i], "value_decode")
			continue
		}
		vals[i], found[i] = v, true
	}
	return vals, found, nil
}

// Invalidate deletes the cached value of every argument.
func (f *CachedMulti[V]) Invalidate(ctx context.Context, args ...any) error {
	d, err := f.decorator()
	if err != nil {
		return err
	}
	return f.invalidateOn(ctx, target{multi: d}, args)
}

// Refresh calls fn for every argument and stores the results.
func (f *CachedMulti[V]) Refresh(ctx context.Context, args ...any) ([]V, error) {
	d, err := f.decorator()
	if err != nil {
		return nil, err
	}
	return f.refresh(ctx, d, args)
}

// Set stores values[i] as the result for args[i].
func (f *CachedMulti[V]) Set(ctx context.Context, values []V, args ...any) error {
	d, err := f.decorator()
	if err != nil {
		return err
	}
	return f.set(ctx, d, values, args)
}

// keys renders one key per positional argument; a trailing Kw is handed to
// the key generator, which rejects it by default.
func (f *CachedMulti[V]) keys(d *MultiDecorator, args []any) ([]string, []any, error) {
	pos, kw := splitKw(args)
	keys, err := d.keys(f.b.ns, pos, kw)
	if err != nil {
		return nil, nil, err
	}
	return keys, pos, nil
}

func (f *CachedMulti[V]) refresh(ctx context.Context, d *MultiDecorator, args []any) ([]V, error) {
	keys, args, err := f.keys(d, args)
	if err != nil {
		return nil, err
	}
	vals, err := f.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(keys) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrResultCount, len(vals), len(keys))
	}
	items := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if !f.b.cacheable(v) {
			continue
		}
		p, err := f.b.codec.Encode(v)
		if err != nil {
			return nil, err
		}
		items[keys[i]] = p
	}
	if err := d.region.SetMulti(ctx, items); err != nil {
		return nil, err
	}
	return vals, nil
}

func (f *CachedMulti[V]) set(ctx context.Context, d *MultiDecorator, values []V, args []any) error {
	keys, _, err := f.keys(d, args)
	if err != nil {
		return err
	}
	if len(values) != len(keys) {
		return fmt.Errorf("%w: %d values for %d arguments", ErrValueType, len(values), len(keys))
	}
	items := make(map[string][]byte, len(keys))
	for i, v := range values {
		p, err := f.b.codec.Encode(v)
		if err != nil {
			return err
		}
		items[keys[i]] = p
	}
	return d.region.SetMulti(ctx, items)
}

func (f *CachedMulti[V]) invalidateOn(ctx context.Context, t target, args []any) error {
	if t.multi == nil {
		return fmt.Errorf("%w: %s is multi-key", ErrNotBound, f.region)
	}
	keys, _, err := f.keys(t.multi, args)
	if err != nil {
		return err
	}
	return t.multi.region.DeleteMulti(ctx, keys)
}

func (f *CachedMulti[V]) refreshOn(ctx context.Context, t target, args []any) (any, error) {
	if t.multi == nil {
		return nil, fmt.Errorf("%w: %s is multi-key", ErrNotBound, f.region)
	}
	return f.refresh(ctx, t.multi, args)
}

func (f *CachedMulti[V]) setOn(ctx context.Context, t target, value any, args []any) error {
	if t.multi == nil {
		return fmt.Errorf("%w: %s is multi-key", ErrNotBound, f.region)
	}
	vals, ok := value.([]V)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrValueType, value)
	}
	return f.set(ctx, t.multi, vals, args)
}
