package regioncache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/regioncache/backend"
	"github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/config"
	"github.com/unkn0wn-root/regioncache/keygen"
	"github.com/unkn0wn-root/regioncache/provider/memory"
)

func newMemoryCache(t *testing.T, regions ...config.RegionSpec) *Cache {
	t.Helper()
	c, err := New(config.Config{Backend: "memory", Regions: regions}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// fooBar mirrors func(foo, bar, a="b") and counts its calls.
func fooBar(t *testing.T, c *Cache, region, name string) *Cached[int] {
	t.Helper()
	var called int
	f, err := CacheOnRegion[int](c, region, func(context.Context, Args) (int, error) {
		called++
		return called, nil
	}, WithName(name), WithSignature(keygen.Params("foo", "bar").WithDefault("a", "b")))
	if err != nil {
		t.Fatalf("CacheOnRegion: %v", err)
	}
	return f
}

func expectCall(t *testing.T, f *Cached[int], want int, args ...any) {
	t.Helper()
	got, err := f.Call(context.Background(), args...)
	if err != nil {
		t.Fatalf("Call%v: %v", args, err)
	}
	if got != want {
		t.Fatalf("Call%v = %d want %d", args, got, want)
	}
}

func TestSimpleCached(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "my_region", Expiration: 5}, config.RegionSpec{Name: "region2", Expiration: 5})
	f := fooBar(t, c, "my_region", "my_function")
	ctx := context.Background()

	expectCall(t, f, 1, "a", "hi")
	expectCall(t, f, 1, "a", "hi")
	expectCall(t, f, 2, "b", "hi")
	expectCall(t, f, 3, "b", "hi", "c")
	expectCall(t, f, 1, "a", "hi", Kw{"a": "b"})
	expectCall(t, f, 1, "a", "hi", "b")

	if err := c.Invalidate(ctx, f, "a", "hi", Kw{"a": "b"}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	expectCall(t, f, 4, "a", "hi")
	expectCall(t, f, 4, "a", "hi", Kw{"a": "b"})

	v, err := c.Refresh(ctx, f, "a", "hi", Kw{"a": "b"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if v.(int) != 5 {
		t.Fatalf("Refresh = %v want 5", v)
	}
	expectCall(t, f, 5, "a", "hi")
}

func TestSetStoresWithoutCalling(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "region2", Expiration: 5})
	f := fooBar(t, c, "region2", "my_func")
	ctx := context.Background()

	expectCall(t, f, 1, "a", "hi")
	expectCall(t, f, 1, "a", "hi", Kw{"a": "b"})

	if err := c.Set(ctx, f, 99, "a", "hi", Kw{"a": "b"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectCall(t, f, 99, "a", "hi", Kw{"a": "b"})
	expectCall(t, f, 99, "a", "hi")

	if _, err := f.Refresh(ctx, "a", "hi"); err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 2, "a", "hi")

	if err := c.Set(ctx, f, "ninety-nine", "a", "hi"); !errors.Is(err, ErrValueType) {
		t.Fatalf("Set with wrong type: got %v", err)
	}
}

func TestDefaultConfigRegion(t *testing.T) {
	c, err := New(config.Config{Backend: "memory"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())
	r, err := c.Region(config.DefaultRegion)
	if err != nil {
		t.Fatalf("default region missing: %v", err)
	}
	if r.Expiration() != time.Hour {
		t.Fatalf("expiration got %v", r.Expiration())
	}
}

func TestUnknownRegion(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "known", Expiration: 1})

	_, err := c.Region("nope")
	var re *RegionError
	if !errors.As(err, &re) || re.Name != "nope" || !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("Region: got %v", err)
	}
	if _, err := c.Decorator("nope"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("Decorator: got %v", err)
	}
	if _, err := c.MultiDecorator("nope"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("MultiDecorator: got %v", err)
	}
	if err := c.InvalidateRegion(context.Background(), "nope", true); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("InvalidateRegion: got %v", err)
	}
	_, err = CacheOnRegion[int](c, "nope", func(context.Context, Args) (int, error) { return 0, nil })
	if !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("CacheOnRegion: got %v", err)
	}
	_, err = CacheOnRegionMulti[int](c, "nope", func(context.Context, []any) ([]int, error) { return nil, nil })
	if !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("CacheOnRegionMulti: got %v", err)
	}
}

// A wrapper bound to one registry resolves its region in whichever cache
// dispatches it; a cache without that region reports it as missing.
func TestDispatchThroughOtherCache(t *testing.T) {
	a := newMemoryCache(t, config.RegionSpec{Name: "only_in_a", Expiration: 1})
	b := newMemoryCache(t, config.RegionSpec{Name: "other", Expiration: 1})
	f := fooBar(t, a, "only_in_a", "f")
	if err := b.Invalidate(context.Background(), f, "x", "y"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestUnboundFunctions(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 1})
	ctx := context.Background()

	var nilCached *Cached[int]
	if err := c.Invalidate(ctx, nilCached, 1); !errors.Is(err, ErrNotBound) {
		t.Fatalf("nil wrapper: got %v", err)
	}
	if _, err := c.Refresh(ctx, &Cached[int]{}, 1); !errors.Is(err, ErrNotBound) {
		t.Fatalf("zero wrapper: got %v", err)
	}
	if err := c.Set(ctx, nil, 1, 1); !errors.Is(err, ErrNotBound) {
		t.Fatalf("nil Bound: got %v", err)
	}
	if _, err := (&CachedMulti[int]{}).Call(ctx, 1); !errors.Is(err, ErrNotBound) {
		t.Fatalf("zero multi: got %v", err)
	}
	if _, err := CacheOnRegion[int](nil, "r", func(context.Context, Args) (int, error) { return 0, nil }); !errors.Is(err, ErrNotBound) {
		t.Fatalf("nil cache: got %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.Config{Backend: "memory", Regions: []config.RegionSpec{{Name: "r", Expiration: -1}}}, Options{})
	if !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("negative expiration: got %v", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigError, got %T", err)
	}

	_, err = New(config.Config{Backend: "dbm"}, Options{})
	if !errors.As(err, &ce) || ce.Region != config.DefaultRegion {
		t.Fatalf("unknown backend: got %v", err)
	}
}

type closeCounter struct {
	*memory.Provider
	closed *atomic.Int64
}

func (p closeCounter) Close(ctx context.Context) error {
	p.closed.Add(1)
	return p.Provider.Close(ctx)
}

// A failure on a later region closes the regions opened before it.
func TestNewClosesOnFailure(t *testing.T) {
	var closed atomic.Int64
	backend.Register("test-flaky", func(region string, _ backend.Arguments) (*backend.Backend, error) {
		if region == "b" {
			return nil, errors.New("no route to host")
		}
		return &backend.Backend{Provider: closeCounter{Provider: memory.New(), closed: &closed}}, nil
	})
	cfg := config.Config{
		Backend: "test-flaky",
		Regions: []config.RegionSpec{{Name: "a", Expiration: 1}, {Name: "b", Expiration: 1}},
	}
	_, err := New(cfg, Options{})
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Region != "b" {
		t.Fatalf("got %v", err)
	}
	if closed.Load() != 1 {
		t.Fatalf("region a closed %d times", closed.Load())
	}
}

func TestInvalidateRegionAndAll(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "a", Expiration: 60}, config.RegionSpec{Name: "b", Expiration: 60})
	ctx := context.Background()
	fa := fooBar(t, c, "a", "fa")
	fb := fooBar(t, c, "b", "fb")

	clk := newFakeClock()
	for _, name := range c.Regions() {
		r, _ := c.Region(name)
		r.now = clk.Now
	}

	expectCall(t, fa, 1, "x", "y")
	expectCall(t, fb, 1, "x", "y")
	clk.Add(time.Second)

	if err := c.InvalidateRegion(ctx, "a", true); err != nil {
		t.Fatal(err)
	}
	expectCall(t, fa, 2, "x", "y")
	expectCall(t, fb, 1, "x", "y")

	clk.Add(time.Second)
	if err := c.InvalidateAll(ctx, true); err != nil {
		t.Fatal(err)
	}
	expectCall(t, fa, 3, "x", "y")
	expectCall(t, fb, 2, "x", "y")

	if got := c.Regions(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Regions() = %v", got)
	}
}

func TestPeek(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 60})
	f := fooBar(t, c, "r", "peeked")
	ctx := context.Background()

	if _, ok, err := f.Peek(ctx, "a", "b"); err != nil || ok {
		t.Fatalf("Peek before call: ok=%v err=%v", ok, err)
	}
	expectCall(t, f, 1, "a", "b")
	v, ok, err := f.Peek(ctx, "a", "b", Kw{"a": "b"})
	if err != nil || !ok || v != 1 {
		t.Fatalf("Peek = %v %v %v", v, ok, err)
	}
}

func TestArgsAndBindErrors(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 60})
	var seen Args
	f, err := CacheOnRegion[string](c, "r", func(_ context.Context, a Args) (string, error) {
		seen = a
		return a.String("user") + "/" + a.String("page"), nil
	}, WithName("pages"), WithSignature(keygen.Params("user").WithDefault("page", 1)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	got, err := f.Call(ctx, "ann")
	if err != nil || got != "ann/1" {
		t.Fatalf("Call = %q %v", got, err)
	}
	if seen.Len() != 2 || seen.Int("page") != 1 || seen.At(0) != "ann" || seen.Get("missing") != nil {
		t.Fatalf("bound args %+v", seen.Values())
	}

	if _, err := f.Call(ctx); !errors.Is(err, keygen.ErrMissingArgument) {
		t.Fatalf("missing arg: got %v", err)
	}
	if _, err := f.Call(ctx, "ann", Kw{"nope": 1}); !errors.Is(err, keygen.ErrUnknownKeyword) {
		t.Fatalf("unknown kw: got %v", err)
	}
}

func TestFuncOptions(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 60})

	var n atomic.Int64
	f, err := CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) {
		return int(n.Add(1)), nil
	},
		WithName("opts"),
		WithNamespace("v2"),
		WithShouldCache(func(v int) bool { return v > 1 }),
		WithCodec[int](codec.Msgpack[int]{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if f.Namespace() != "opts|v2" {
		t.Fatalf("namespace %q", f.Namespace())
	}
	expectCall(t, f, 1, "k") // not cached
	expectCall(t, f, 2, "k")
	expectCall(t, f, 2, "k")

	_, err = CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) { return 0, nil },
		WithShouldCache(func(string) bool { return true }))
	if !errors.Is(err, ErrOptionType) {
		t.Fatalf("mismatched option: got %v", err)
	}
	_, err = CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) { return 0, nil },
		WithExpiration(-time.Second))
	if !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("negative expiration: got %v", err)
	}
}

func TestFunctionExpirationOverride(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 3600})
	r, _ := c.Region("r")
	clk := newFakeClock()
	r.now = clk.Now

	var n int
	f, err := CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) {
		n++
		return n, nil
	}, WithName("short"), WithExpiration(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 1)
	clk.Add(2 * time.Second)
	expectCall(t, f, 2)
}

func TestValueDecodeSelfHeal(t *testing.T) {
	h := &recHooks{}
	c, err := New(config.Config{Backend: "memory", Regions: []config.RegionSpec{{Name: "r", Expiration: 60}}}, Options{Hooks: h})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())

	str, err := CacheOnRegion[string](c, "r", func(context.Context, Args) (string, error) {
		return "text", nil
	}, WithName("shared"))
	if err != nil {
		t.Fatal(err)
	}
	num, err := CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) {
		return 7, nil
	}, WithName("shared"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := str.Call(ctx, 1); err != nil {
		t.Fatal(err)
	}
	// same key, incompatible payload: dropped and regenerated
	v, err := num.Call(ctx, 1)
	if err != nil || v != 7 {
		t.Fatalf("Call = %v %v", v, err)
	}
	if h.heal.Load() != 1 {
		t.Fatalf("self-heal fired %d times", h.heal.Load())
	}
}

func TestMemoizeOnDecorator(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 60})
	d, err := c.Decorator("r")
	if err != nil {
		t.Fatal(err)
	}
	var n int
	f, err := Memoize[int](d, func(context.Context, Args) (int, error) { n++; return n, nil }, WithName("m"))
	if err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 1, "x")
	expectCall(t, f, 1, "x")
	if f.RegionName() != "r" || f.IsMulti() {
		t.Fatalf("tags %q %v", f.RegionName(), f.IsMulti())
	}
	key, err := d.Key("m", keygen.Signature{}, "x")
	if err != nil || key != `m|"x"` {
		t.Fatalf("Key = %q %v", key, err)
	}
	if err := c.Invalidate(context.Background(), f, "x"); err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 2, "x")
}

func TestCustomKeyGenerator(t *testing.T) {
	var seen []string
	opts := Options{
		KeyGenerator: func(ns string, sig keygen.Signature, pos []any, kw map[string]any) (string, error) {
			k, err := keygen.FunctionKey(ns, sig, pos, kw)
			seen = append(seen, k)
			return strings.ToUpper(k), err
		},
	}
	c, err := New(config.Config{Backend: "memory", Regions: []config.RegionSpec{{Name: "r"}}}, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())
	f, err := CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) { return 1, nil }, WithName("g"))
	if err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 1, "a")
	if len(seen) != 1 || seen[0] != `g|"a"` {
		t.Fatalf("generator saw %v", seen)
	}
}

func TestDistinctCallsDoNotShareEntries(t *testing.T) {
	c := newMemoryCache(t, config.RegionSpec{Name: "r", Expiration: 60})
	var n int
	f, err := CacheOnRegion[int](c, "r", func(context.Context, Args) (int, error) {
		n++
		return n, nil
	}, WithName("joined"))
	if err != nil {
		t.Fatal(err)
	}
	expectCall(t, f, 1, "a b", "c")
	expectCall(t, f, 2, "a", "b c")
	expectCall(t, f, 3, 1, "z")
	expectCall(t, f, 4, "1", "z")
	expectCall(t, f, 1, "a b", "c")
	expectCall(t, f, 3, 1, "z")
}
