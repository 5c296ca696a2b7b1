package regioncache

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
)

// Args are the bound arguments of a call, ordered like the signature.
type Args struct {
	names  []string
	values []any
}

func (a Args) Len() int      { return len(a.values) }
func (a Args) At(i int) any  { return a.values[i] }
func (a Args) Values() []any { return a.values }

// Get returns the argument bound to name, or nil.
func (a Args) Get(name string) any {
	for i, n := range a.names {
		if n == name {
			return a.values[i]
		}
	}
	return nil
}

func (a Args) String(name string) string { return cast.ToString(a.Get(name)) }
func (a Args) Int(name string) int       { return cast.ToInt(a.Get(name)) }

// Func is a function that can be memoized on a region.
type Func[V any] func(ctx context.Context, args Args) (V, error)

// Cached is a function memoized on a region. It remembers its region so
// Cache.Invalidate, Cache.Refresh and Cache.Set can find it again.
type Cached[V any] struct {
	cache  *Cache
	dec    *Decorator
	region string
	fn     Func[V]
	b      binding[V]
}

// CacheOnRegion memoizes fn on the named region. The region's decorator is
// looked up on every call.
func CacheOnRegion[V any](c *Cache, region string, fn Func[V], opts ...FuncOption) (*Cached[V], error) {
	if c == nil {
		return nil, ErrNotBound
	}
	if fn == nil {
		return nil, errNilFunc
	}
	if _, err := c.Decorator(region); err != nil {
		return nil, err
	}
	b, err := bind[V](fn, opts)
	if err != nil {
		return nil, err
	}
	return &Cached[V]{cache: c, region: region, fn: fn, b: b}, nil
}

// Memoize wraps fn directly with a decorator.
func Memoize[V any](d *Decorator, fn Func[V], opts ...FuncOption) (*Cached[V], error) {
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
	return &Cached[V]{dec: d, region: d.region.name, fn: fn, b: b}, nil
}

func (f *Cached[V]) RegionName() string {
	if f == nil {
		return ""
	}
	return f.region
}

func (f *Cached[V]) IsMulti() bool { return false }

// Namespace is the key prefix of this function.
func (f *Cached[V]) Namespace() string { return f.b.ns }

func (f *Cached[V]) decorator() (*Decorator, error) {
	if f == nil || f.region == "" {
		return nil, ErrNotBound
	}
	if f.dec != nil {
		return f.dec, nil
	}
	if f.cache == nil {
		return nil, ErrNotBound
	}
	return f.cache.Decorator(f.region)
}

// Call returns the cached value for args, running fn when needed.
func (f *Cached[V]) Call(ctx context.Context, args ...any) (V, error) {
	var zero V
	d, err := f.decorator()
	if err != nil {
		return zero, err
	}
	return f.call(ctx, d, args, true)
}

func (f *Cached[V]) call(ctx context.Context, d *Decorator, args []any, heal bool) (V, error) {
	var zero V
	key, bound, err := f.prepare(d, args)
	if err != nil {
		return zero, err
	}
	var made *V
	payload, err := d.getOrCreate(ctx, key, f.b.expiration(d.region), func(ctx context.Context) (Created, error) {
		v, err := f.fn(ctx, bound)
		if err != nil {
			return Created{}, err
		}
		made = &v
		p, err := f.b.codec.Encode(v)
		if err != nil {
			return Created{}, err
		}
		return Created{Payload: p, Cacheable: f.b.cacheable(v)}, nil
	})
	if err != nil {
		return zero, err
	}
	if made != nil {
		return *made, nil
	}
	v, err := f.b.codec.Decode(payload)
	if err != nil {
		if !heal {
			return zero, err
		}
		// written by an incompatible codec or type; drop and regenerate once
		d.region.discard(ctx, key, "value_decode")
		return f.call(ctx, d, args, false)
	}
	return v, nil
}

// Peek returns the cached value without calling fn.
func (f *Cached[V]) Peek(ctx context.Context, args ...any) (V, bool, error) {
	var zero V
	d, err := f.decorator()
	if err != nil {
		return zero, false, err
	}
	key, _, err := f.prepare(d, args)
	if err != nil {
		return zero, false, err
	}
	p, ok, err := d.region.get(ctx, key, f.b.expiration(d.region))
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := f.b.codec.Decode(p)
	if err != nil {
		d.region.discard(ctx, key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// Invalidate deletes the cached value for args.
func (f *Cached[V]) Invalidate(ctx context.Context, args ...any) error {
	d, err := f.decorator()
	if err != nil {
		return err
	}
	return f.invalidateOn(ctx, target{single: d}, args)
}

// Refresh calls fn unconditionally and stores its result.
func (f *Cached[V]) Refresh(ctx context.Context, args ...any) (V, error) {
	var zero V
	d, err := f.decorator()
	if err != nil {
		return zero, err
	}
	return f.refresh(ctx, d, args)
}

// Set stores value for args without calling fn.
func (f *Cached[V]) Set(ctx context.Context, value V, args ...any) error {
	d, err := f.decorator()
	if err != nil {
		return err
	}
	return f.set(ctx, d, value, args)
}

func (f *Cached[V]) prepare(d *Decorator, args []any) (string, Args, error) {
	pos, kw := splitKw(args)
	values, err := f.b.sig.Bind(pos, kw)
	if err != nil {
		return "", Args{}, err
	}
	key, err := d.keys(f.b.ns, f.b.sig, pos, kw)
	if err != nil {
		return "", Args{}, err
	}
	return key, Args{names: f.b.sig.Params, values: values}, nil
}

func (f *Cached[V]) refresh(ctx context.Context, d *Decorator, args []any) (V, error) {
	var zero V
	key, bound, err := f.prepare(d, args)
	if err != nil {
		return zero, err
	}
	v, err := f.fn(ctx, bound)
	if err != nil {
		return zero, err
	}
	if !f.b.cacheable(v) {
		return v, nil
	}
	p, err := f.b.codec.Encode(v)
	if err != nil {
		return zero, err
	}
	if err := d.region.Set(ctx, key, p); err != nil {
		return zero, err
	}
	return v, nil
}

func (f *Cached[V]) set(ctx context.Context, d *Decorator, value V, args []any) error {
	key, _, err := f.prepare(d, args)
	if err != nil {
		return err
	}
	p, err := f.b.codec.Encode(value)
	if err != nil {
		return err
	}
	return d.region.Set(ctx, key, p)
}

func (f *Cached[V]) invalidateOn(ctx context.Context, t target, args []any) error {
	if t.single == nil {
		return fmt.Errorf("%w: %s is single-key", ErrNotBound, f.region)
	}
	key, _, err := f.prepare(t.single, args)
	if err != nil {
		return err
	}
	return t.single.region.Delete(ctx, key)
}

func (f *Cached[V]) refreshOn(ctx context.Context, t target, args []any) (any, error) {
	if t.single == nil {
		return nil, fmt.Errorf("%w: %s is single-key", ErrNotBound, f.region)
	}
	return f.refresh(ctx, t.single, args)
}

func (f *Cached[V]) setOn(ctx context.Context, t target, value any, args []any) error {
	if t.single == nil {
		return fmt.Errorf("%w: %s is single-key", ErrNotBound, f.region)
	}
	v, ok := value.(V)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrValueType, value)
	}
	return f.set(ctx, t.single, v, args)
}
