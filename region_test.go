package regioncache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/regioncache/backend"
	"github.com/unkn0wn-root/regioncache/keygen"
	"github.com/unkn0wn-root/regioncache/provider/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recHooks struct {
	NopHooks
	hits, misses, stale, regen, heal, inval atomic.Int64
	backendErrs                             atomic.Int64
}

func (h *recHooks) Hit(string)                                { h.hits.Add(1) }
func (h *recHooks) Miss(string)                               { h.misses.Add(1) }
func (h *recHooks) StaleServed(string, string)                { h.stale.Add(1) }
func (h *recHooks) Regenerated(string, string, time.Duration) { h.regen.Add(1) }
func (h *recHooks) SelfHeal(string, string, string)           { h.heal.Add(1) }
func (h *recHooks) RegionInvalidated(string, bool)            { h.inval.Add(1) }
func (h *recHooks) BackendError(string, string, error)        { h.backendErrs.Add(1) }

type testRegion struct {
	*Region
	clock *fakeClock
	hooks *recHooks
	mem   *memory.Provider
}

func newTestRegion(t *testing.T, exp time.Duration) testRegion {
	t.Helper()
	mem := memory.New()
	h := &recHooks{}
	r, err := NewRegion("r", exp, &backend.Backend{Provider: mem}, Options{
		Hooks:      h,
		KeyMangler: keygen.Identity,
	})
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	clk := newFakeClock()
	r.now = clk.Now
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return testRegion{Region: r, clock: clk, hooks: h, mem: mem}
}

// counter returns a creator producing "1", "2", ... and its call count.
func counter() (CreateFunc, *atomic.Int64) {
	var n atomic.Int64
	return func(context.Context) (Created, error) {
		v := n.Add(1)
		return Created{Payload: []byte{byte('0' + v)}, Cacheable: true}, nil
	}, &n
}

func mustGetOrCreate(t *testing.T, r *Region, key string, create CreateFunc) string {
	t.Helper()
	b, err := r.GetOrCreate(context.Background(), key, create)
	if err != nil {
		t.Fatalf("GetOrCreate(%s): %v", key, err)
	}
	return string(b)
}

func TestNewRegionValidation(t *testing.T) {
	b := &backend.Backend{Provider: memory.New()}
	if _, err := NewRegion("", time.Second, b, Options{}); err == nil {
		t.Fatalf("empty name must fail")
	}
	if _, err := NewRegion("r", -time.Second, b, Options{}); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("negative expiration: got %v", err)
	}
	if _, err := NewRegion("r", time.Second, &backend.Backend{}, Options{}); err == nil {
		t.Fatalf("nil provider must fail")
	}
}

func TestGetOrCreateCachesUntilExpired(t *testing.T) {
	tr := newTestRegion(t, 5*time.Second)
	create, n := counter()

	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "1" {
		t.Fatalf("first got %q", got)
	}
	tr.clock.Add(5 * time.Second) // exactly at the edge is still fresh
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "1" {
		t.Fatalf("fresh got %q", got)
	}
	tr.clock.Add(time.Second)
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "2" {
		t.Fatalf("expired got %q", got)
	}
	if n.Load() != 2 {
		t.Fatalf("creator ran %d times", n.Load())
	}
	if tr.hooks.hits.Load() != 1 || tr.hooks.misses.Load() != 2 || tr.hooks.regen.Load() != 2 {
		t.Fatalf("hooks hits=%d misses=%d regen=%d",
			tr.hooks.hits.Load(), tr.hooks.misses.Load(), tr.hooks.regen.Load())
	}
}

func TestZeroExpirationNeverExpires(t *testing.T) {
	tr := newTestRegion(t, 0)
	create, _ := counter()
	mustGetOrCreate(t, tr.Region, "k", create)
	tr.clock.Add(10 * 365 * 24 * time.Hour)
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "1" {
		t.Fatalf("got %q want cached value", got)
	}
}

func TestStaleServedWhileLocked(t *testing.T) {
	tr := newTestRegion(t, time.Second)
	ctx := context.Background()
	create, n := counter()
	mustGetOrCreate(t, tr.Region, "k", create)
	tr.clock.Add(2 * time.Second)

	mu := tr.locker.Mutex("k")
	if err := mu.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "1" {
		t.Fatalf("got %q want stale value", got)
	}
	if tr.hooks.stale.Load() != 1 {
		t.Fatalf("stale hook not fired")
	}
	if err := mu.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "2" {
		t.Fatalf("got %q after unlock", got)
	}
	if n.Load() != 2 {
		t.Fatalf("creator ran %d times", n.Load())
	}
}

func TestMissingWaitsForLock(t *testing.T) {
	tr := newTestRegion(t, time.Minute)
	mu := tr.locker.Mutex("k")
	if err := mu.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mu.Unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	create, n := counter()
	_, err := tr.GetOrCreate(ctx, "k", create)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v want deadline exceeded", err)
	}
	if n.Load() != 0 {
		t.Fatalf("creator must not run without the lock")
	}
}

func TestSingleCreatorUnderContention(t *testing.T) {
	tr := newTestRegion(t, time.Minute)
	var n atomic.Int64
	create := func(context.Context) (Created, error) {
		n.Add(1)
		time.Sleep(20 * time.Millisecond)
		return Created{Payload: []byte("v"), Cacheable: true}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := tr.GetOrCreate(context.Background(), "k", create)
			if err == nil && string(b) != "v" {
				err = errors.New("wrong value " + string(b))
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if n.Load() != 1 {
		t.Fatalf("creator ran %d times", n.Load())
	}
	if l := tr.locker.(*keyLocks).len(); l != 0 {
		t.Fatalf("%d idle key locks left", l)
	}
}

func TestHardInvalidation(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	ctx := context.Background()
	create, _ := counter()
	mustGetOrCreate(t, tr.Region, "k", create)

	tr.clock.Add(time.Second)
	if err := tr.Invalidate(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.Get(ctx, "k"); ok {
		t.Fatalf("hard-invalidated value must be a miss")
	}

	// a held lock does not let the invalidated value through
	mu := tr.locker.Mutex("k")
	_ = mu.Lock(ctx)
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err := tr.GetOrCreate(tctx, "k", create)
	cancel()
	_ = mu.Unlock(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v want wait on lock", err)
	}

	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "2" {
		t.Fatalf("got %q want regenerated", got)
	}
	// values created after the invalidation are fresh
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "2" {
		t.Fatalf("got %q want cached", got)
	}
	if tr.hooks.inval.Load() != 1 {
		t.Fatalf("invalidation hook not fired")
	}
}

func TestSoftInvalidation(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	ctx := context.Background()
	create, _ := counter()
	mustGetOrCreate(t, tr.Region, "k", create)

	tr.clock.Add(time.Second)
	if err := tr.Invalidate(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.Get(ctx, "k"); ok {
		t.Fatalf("soft-invalidated value is not fresh")
	}

	mu := tr.locker.Mutex("k")
	_ = mu.Lock(ctx)
	got := mustGetOrCreate(t, tr.Region, "k", create)
	_ = mu.Unlock(ctx)
	if got != "1" {
		t.Fatalf("got %q want stale value served", got)
	}
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "2" {
		t.Fatalf("got %q want regenerated", got)
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	ctx := context.Background()
	if _, err := tr.mem.Set(ctx, "k", []byte("not a frame"), 1, 0); err != nil {
		t.Fatal(err)
	}
	create, _ := counter()
	if got := mustGetOrCreate(t, tr.Region, "k", create); got != "1" {
		t.Fatalf("got %q", got)
	}
	if tr.hooks.heal.Load() != 1 {
		t.Fatalf("self-heal hook fired %d times", tr.hooks.heal.Load())
	}
}

func TestUncacheableValueIsNotStored(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	var n atomic.Int64
	create := func(context.Context) (Created, error) {
		n.Add(1)
		return Created{Payload: []byte("x"), Cacheable: false}, nil
	}
	mustGetOrCreate(t, tr.Region, "k", create)
	mustGetOrCreate(t, tr.Region, "k", create)
	if n.Load() != 2 {
		t.Fatalf("creator ran %d times", n.Load())
	}
	if tr.mem.Len() != 0 {
		t.Fatalf("uncacheable value was stored")
	}
}

func TestCreatorErrorIsReturned(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	boom := errors.New("boom")
	_, err := tr.GetOrCreate(context.Background(), "k", func(context.Context) (Created, error) {
		return Created{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestGetOrCreateMulti(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	ctx := context.Background()
	if err := tr.Set(ctx, "b", []byte("B")); err != nil {
		t.Fatal(err)
	}

	var asked []string
	out, err := tr.GetOrCreateMulti(ctx, []string{"a", "b", "c", "a"}, func(_ context.Context, keys []string) ([]Created, error) {
		asked = append(asked, keys...)
		res := make([]Created, len(keys))
		for i, k := range keys {
			res[i] = Created{Payload: []byte(k + k), Cacheable: true}
		}
		return res, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"aa", "B", "cc", "aa"}
	for i := range want {
		if string(out[i]) != want[i] {
			t.Fatalf("out[%d]=%q want %q", i, out[i], want[i])
		}
	}
	if len(asked) != 2 || asked[0] != "a" || asked[1] != "c" {
		t.Fatalf("creator asked for %v", asked)
	}

	vals, found, err := tr.GetMulti(ctx, []string{"a", "zz"})
	if err != nil {
		t.Fatal(err)
	}
	if !found[0] || string(vals[0]) != "aa" || found[1] {
		t.Fatalf("GetMulti got %q %v", vals, found)
	}
}

func TestGetOrCreateMultiWrongCount(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	_, err := tr.GetOrCreateMulti(context.Background(), []string{"a", "b"}, func(context.Context, []string) ([]Created, error) {
		return []Created{{Payload: []byte("x")}}, nil
	})
	if !errors.Is(err, ErrResultCount) {
		t.Fatalf("got %v", err)
	}
}

func TestDeleteAndSetMulti(t *testing.T) {
	tr := newTestRegion(t, time.Hour)
	ctx := context.Background()
	if err := tr.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
		t.Fatal(err)
	}
	if err := tr.DeleteMulti(ctx, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.Get(ctx, "a"); ok {
		t.Fatalf("a should be gone")
	}
	if v, ok, _ := tr.Get(ctx, "b"); !ok || string(v) != "2" {
		t.Fatalf("b got %q %v", v, ok)
	}
}

func TestKeysAreMangled(t *testing.T) {
	mem := memory.New()
	r, err := NewRegion("r", 0, &backend.Backend{Provider: mem}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Set(ctx, "plain", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := mem.Get(ctx, "plain"); ok {
		t.Fatalf("key reached the provider unmangled")
	}
	if _, ok, _ := mem.Get(ctx, keygen.SHA1("plain")); !ok {
		t.Fatalf("default mangler should be SHA1")
	}
}

// failingGets fails the Get calls whose 1-based index is in fail.
type failingGets struct {
	*memory.Provider
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (p *failingGets) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	if p.fail[n] {
		return nil, false, errors.New("connection reset")
	}
	return p.Provider.Get(ctx, key)
}

type warnLog struct {
	NopLogger
	mu   sync.Mutex
	msgs []string
}

func (l *warnLog) Warn(msg string, _ Fields) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func TestRecheckFailureIsReported(t *testing.T) {
	ctx := context.Background()
	for _, multi := range []bool{false, true} {
		p := &failingGets{Provider: memory.New(), fail: map[int]bool{2: true}}
		h, lg := &recHooks{}, &warnLog{}
		r, err := NewRegion("r", time.Minute, &backend.Backend{Provider: p}, Options{
			Hooks:      h,
			Logger:     lg,
			KeyMangler: keygen.Identity,
		})
		if err != nil {
			t.Fatal(err)
		}

		if multi {
			vals, err := r.GetOrCreateMulti(ctx, []string{"k"}, func(_ context.Context, keys []string) ([]Created, error) {
				return []Created{{Payload: []byte("v"), Cacheable: true}}, nil
			})
			if err != nil || len(vals) != 1 || string(vals[0]) != "v" {
				t.Fatalf("multi: %q %v", vals, err)
			}
		} else {
			create, n := counter()
			if got := mustGetOrCreate(t, r, "k", create); got != "1" || n.Load() != 1 {
				t.Fatalf("got %q after %d creates", got, n.Load())
			}
		}
		if h.backendErrs.Load() != 1 {
			t.Fatalf("multi=%v: backend error hook fired %d times", multi, h.backendErrs.Load())
		}
		if len(lg.msgs) != 1 {
			t.Fatalf("multi=%v: warnings %v", multi, lg.msgs)
		}
		// the regenerated value was stored despite the failed read
		if b, ok, _ := p.Provider.Get(ctx, "k"); !ok || len(b) == 0 {
			t.Fatalf("multi=%v: value not stored", multi)
		}
		_ = r.Close(ctx)
	}
}
