// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := regioncache.New(cfg, regioncache.Options{
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/regioncache"
)

// Hooks forwards events to inner on worker goroutines. Events are dropped
// when the queue is full.
type Hooks struct {
	inner   regioncache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(inner regioncache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(r string)                 { h.try(func() { h.inner.Hit(r) }) }
func (h *Hooks) Miss(r string)                { h.try(func() { h.inner.Miss(r) }) }
func (h *Hooks) StaleServed(r, k string)      { h.try(func() { h.inner.StaleServed(r, k) }) }
func (h *Hooks) SelfHeal(r, k, reason string) { h.try(func() { h.inner.SelfHeal(r, k, reason) }) }
func (h *Hooks) Regenerated(r, k string, took time.Duration) {
	h.try(func() { h.inner.Regenerated(r, k, took) })
}
func (h *Hooks) BackendError(r, op string, err error) {
	h.try(func() { h.inner.BackendError(r, op, err) })
}
func (h *Hooks) LockError(r, k string, err error) { h.try(func() { h.inner.LockError(r, k, err) }) }
func (h *Hooks) RegionInvalidated(r string, hard bool) {
	h.try(func() { h.inner.RegionInvalidated(r, hard) })
}
