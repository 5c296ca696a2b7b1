package regioncache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/unkn0wn-root/regioncache/backend"
	"github.com/unkn0wn-root/regioncache/internal/wire"
	"github.com/unkn0wn-root/regioncache/invalidation"
	"github.com/unkn0wn-root/regioncache/keygen"
	"github.com/unkn0wn-root/regioncache/provider"
)

// Created is the result of a creator. Cacheable=false hands Payload to the
// caller without storing it.
type Created struct {
	Payload   []byte
	Cacheable bool
}

// CreateFunc produces the value for one missing or stale key.
type CreateFunc func(ctx context.Context) (Created, error)

// CreateMultiFunc produces values for keys, in order.
type CreateMultiFunc func(ctx context.Context, keys []string) ([]Created, error)

type state uint8

const (
	missing state = iota
	stale
	fresh
)

// Region is a named cache area bound to one backend. Values are stored with
// their creation time; a value older than the region expiration is stale and
// is regenerated by the first caller while concurrent callers keep getting
// the stale value. Only one caller per key runs the creator at a time.
type Region struct {
	name       string
	expiration time.Duration // 0 => values never expire
	ttl        time.Duration
	provider   provider.Provider
	locker     provider.Locker
	inval      invalidation.Strategy
	mangle     keygen.Mangler
	log        Logger
	hooks      Hooks
	now        func() time.Time
}

// NewRegion binds a region to an opened backend.
func NewRegion(name string, expiration time.Duration, b *backend.Backend, opts Options) (*Region, error) {
	if name == "" {
		return nil, errors.New("regioncache: region name is required")
	}
	if expiration < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpiration, expiration)
	}
	if b == nil || b.Provider == nil {
		return nil, errors.New("regioncache: backend provider is required")
	}
	opts = opts.withDefaults()

	r := &Region{
		name:       name,
		expiration: expiration,
		ttl:        b.TTL,
		provider:   b.Provider,
		locker:     b.Locker,
		inval:      b.Invalidation,
		mangle:     opts.KeyMangler,
		log:        opts.Logger,
		hooks:      opts.Hooks,
		now:        time.Now,
	}
	if r.locker == nil {
		r.locker = newKeyLocks()
	}
	if r.inval == nil {
		r.inval = invalidation.NewLocal()
	}
	return r, nil
}

func (r *Region) Name() string { return r.name }

// Expiration is the default freshness window; 0 means values never expire.
func (r *Region) Expiration() time.Duration { return r.expiration }

// GetOrCreate returns the cached value for key, running create when there is
// no fresh value.
func (r *Region) GetOrCreate(ctx context.Context, key string, create CreateFunc) ([]byte, error) {
	return r.getOrCreate(ctx, key, r.expiration, create)
}

// GetOrCreateMulti is GetOrCreate for many keys; create receives only the keys
// that need a value.
func (r *Region) GetOrCreateMulti(ctx context.Context, keys []string, create CreateMultiFunc) ([][]byte, error) {
	return r.getOrCreateMulti(ctx, keys, r.expiration, create)
}

// Get returns a fresh value without creating one.
func (r *Region) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return r.get(ctx, key, r.expiration)
}

// GetMulti returns fresh values, with found[i] reporting each hit.
func (r *Region) GetMulti(ctx context.Context, keys []string) (vals [][]byte, found []bool, err error) {
	return r.getMulti(ctx, keys, r.expiration)
}

// Set stores payload as freshly created.
func (r *Region) Set(ctx context.Context, key string, payload []byte) error {
	return r.store(ctx, r.mangle(key), payload)
}

func (r *Region) SetMulti(ctx context.Context, items map[string][]byte) error {
	for key, payload := range items {
		if err := r.store(ctx, r.mangle(key), payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *Region) Delete(ctx context.Context, key string) error {
	k := r.mangle(key)
	if err := r.provider.Del(ctx, k); err != nil {
		r.hooks.BackendError(r.name, "del", err)
		return err
	}
	r.log.Debug("deleted key", Fields{"region": r.name, "key": key})
	return nil
}

func (r *Region) DeleteMulti(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := r.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate marks every value created before now as invalid. Hard
// invalidation turns them into misses; soft invalidation turns them stale,
// so they are still served while being regenerated.
func (r *Region) Invalidate(ctx context.Context, hard bool) error {
	if err := r.inval.Invalidate(ctx, hard, r.now()); err != nil {
		r.hooks.BackendError(r.name, "invalidation", err)
		return err
	}
	r.hooks.RegionInvalidated(r.name, hard)
	r.log.Info("region invalidated", Fields{"region": r.name, "hard": hard})
	return nil
}

// Close releases the invalidation store first (best effort), then the provider.
func (r *Region) Close(ctx context.Context) error {
	_ = r.inval.Close(ctx)
	return r.provider.Close(ctx)
}

func (r *Region) getOrCreate(ctx context.Context, key string, exp time.Duration, create CreateFunc) ([]byte, error) {
	k := r.mangle(key)
	e, st, err := r.lookup(ctx, k, exp)
	if err != nil {
		return nil, err
	}
	if st == fresh {
		r.hooks.Hit(r.name)
		return e.Payload, nil
	}
	r.hooks.Miss(r.name)

	mu := r.locker.Mutex(k)
	got, err := r.lock(ctx, k, mu, st == stale)
	if err != nil {
		return nil, err
	}
	if !got {
		r.hooks.StaleServed(r.name, k)
		return e.Payload, nil
	}
	defer r.unlock(ctx, k, mu)

	// another caller may have regenerated while we waited
	if e, ok := r.recheck(ctx, k, exp); ok {
		return e.Payload, nil
	}

	start := r.now()
	c, err := create(ctx)
	if err != nil {
		return nil, err
	}
	r.hooks.Regenerated(r.name, k, r.now().Sub(start))
	if c.Cacheable {
		if err := r.store(ctx, k, c.Payload); err != nil {
			return nil, err
		}
	}
	return c.Payload, nil
}

func (r *Region) getOrCreateMulti(ctx context.Context, keys []string, exp time.Duration, create CreateMultiFunc) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	// mangled key => positions in keys; duplicates share one value
	pos := make(map[string][]int, len(keys))
	orig := make(map[string]string, len(keys))
	entries := make(map[string]wire.Entry, len(keys))
	states := make(map[string]state, len(keys))
	var uniq []string
	for i, key := range keys {
		k := r.mangle(key)
		if _, seen := pos[k]; !seen {
			e, st, err := r.lookup(ctx, k, exp)
			if err != nil {
				return nil, err
			}
			entries[k], states[k], orig[k] = e, st, key
			uniq = append(uniq, k)
		}
		pos[k] = append(pos[k], i)
	}

	fill := func(k string, payload []byte) {
		for _, i := range pos[k] {
			out[i] = payload
		}
	}

	var pending []string
	for _, k := range uniq {
		if states[k] == fresh {
			r.hooks.Hit(r.name)
			fill(k, entries[k].Payload)
			continue
		}
		r.hooks.Miss(r.name)
		pending = append(pending, k)
	}
	if len(pending) == 0 {
		return out, nil
	}
	// fixed lock order so concurrent multi calls cannot deadlock
	sort.Strings(pending)

	type held struct {
		k  string
		mu provider.Mutex
	}
	var locked []held
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			r.unlock(ctx, locked[i].k, locked[i].mu)
		}
	}()

	needed := make(map[string]bool, len(pending))
	for _, k := range pending {
		mu := r.locker.Mutex(k)
		got, err := r.lock(ctx, k, mu, states[k] == stale)
		if err != nil {
			return nil, err
		}
		if !got {
			r.hooks.StaleServed(r.name, k)
			fill(k, entries[k].Payload)
			continue
		}
		locked = append(locked, held{k: k, mu: mu})
		if e, ok := r.recheck(ctx, k, exp); ok {
			fill(k, e.Payload)
			continue
		}
		needed[k] = true
	}
	if len(needed) == 0 {
		return out, nil
	}
	// creator sees keys in call order
	var createKeys, createMangled []string
	for _, k := range uniq {
		if needed[k] {
			createKeys = append(createKeys, orig[k])
			createMangled = append(createMangled, k)
		}
	}

	start := r.now()
	made, err := create(ctx, createKeys)
	if err != nil {
		return nil, err
	}
	if len(made) != len(createKeys) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrResultCount, len(made), len(createKeys))
	}
	took := r.now().Sub(start)
	for i, k := range createMangled {
		r.hooks.Regenerated(r.name, k, took)
		if made[i].Cacheable {
			if err := r.store(ctx, k, made[i].Payload); err != nil {
				return nil, err
			}
		}
		fill(k, made[i].Payload)
	}
	return out, nil
}

func (r *Region) get(ctx context.Context, key string, exp time.Duration) ([]byte, bool, error) {
	e, st, err := r.lookup(ctx, r.mangle(key), exp)
	if err != nil || st != fresh {
		return nil, false, err
	}
	return e.Payload, true, nil
}

func (r *Region) getMulti(ctx context.Context, keys []string, exp time.Duration) ([][]byte, []bool, error) {
	vals := make([][]byte, len(keys))
	found := make([]bool, len(keys))
	for i, key := range keys {
		v, ok, err := r.get(ctx, key, exp)
		if err != nil {
			return nil, nil, err
		}
		vals[i], found[i] = v, ok
	}
	return vals, found, nil
}

// recheck reports whether k turned fresh while the caller waited for its
// lock. A failed read counts as not fresh: the lock holder regenerates.
func (r *Region) recheck(ctx context.Context, k string, exp time.Duration) (wire.Entry, bool) {
	e, st, err := r.lookup(ctx, k, exp)
	if err != nil {
		r.log.Warn("lookup under lock failed, regenerating", Fields{"region": r.name, "key": k, "err": err})
		return wire.Entry{}, false
	}
	return e, st == fresh
}

// lookup loads k and classifies it against exp and recorded invalidations.
func (r *Region) lookup(ctx context.Context, k string, exp time.Duration) (wire.Entry, state, error) {
	raw, ok, err := r.provider.Get(ctx, k)
	if err != nil {
		r.hooks.BackendError(r.name, "get", err)
		return wire.Entry{}, missing, err
	}
	if !ok {
		return wire.Entry{}, missing, nil
	}
	e, err := wire.Decode(raw)
	if err != nil {
		r.heal(ctx, k, "corrupt")
		return wire.Entry{}, missing, nil
	}

	hard, err := r.inval.IsHardInvalidated(ctx, e.Created)
	if err != nil {
		r.hooks.BackendError(r.name, "invalidation", err)
		return wire.Entry{}, missing, err
	}
	if hard {
		return e, missing, nil
	}
	if exp > 0 && r.now().Sub(e.Created) > exp {
		return e, stale, nil
	}
	soft, err := r.inval.IsSoftInvalidated(ctx, e.Created)
	if err != nil {
		r.hooks.BackendError(r.name, "invalidation", err)
		return wire.Entry{}, missing, err
	}
	if soft {
		return e, stale, nil
	}
	return e, fresh, nil
}

func (r *Region) store(ctx context.Context, k string, payload []byte) error {
	ok, err := r.provider.Set(ctx, k, wire.Encode(r.now(), payload), 1, r.ttl)
	if err != nil {
		r.hooks.BackendError(r.name, "set", err)
		return err
	}
	if !ok {
		r.log.Debug("set rejected by provider (pressure)", Fields{"region": r.name, "key": k})
	}
	return nil
}

// heal deletes an entry the region cannot use.
func (r *Region) heal(ctx context.Context, k, reason string) {
	_ = r.provider.Del(ctx, k)
	r.hooks.SelfHeal(r.name, k, reason)
	r.log.Warn("self-healed entry", Fields{"region": r.name, "key": k, "reason": reason})
}

// discard is heal for callers holding the unmangled key.
func (r *Region) discard(ctx context.Context, key, reason string) {
	r.heal(ctx, r.mangle(key), reason)
}

// lock takes the creation mutex for k. With tryOnly, a held mutex
// returns (false, nil) so the caller can serve what it has.
func (r *Region) lock(ctx context.Context, k string, mu provider.Mutex, tryOnly bool) (bool, error) {
	if tryOnly {
		got, err := mu.TryLock(ctx)
		if err != nil {
			r.hooks.LockError(r.name, k, err)
			return false, err
		}
		return got, nil
	}
	if err := mu.Lock(ctx); err != nil {
		r.hooks.LockError(r.name, k, err)
		return false, err
	}
	return true, nil
}

func (r *Region) unlock(ctx context.Context, k string, mu provider.Mutex) {
	if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
		r.hooks.LockError(r.name, k, err)
		r.log.Warn("unlock failed", Fields{"region": r.name, "key": k, "err": err})
	}
}
