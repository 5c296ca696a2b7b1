package regioncache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/regioncache/provider"
)

var errNotLocked = errors.New("regioncache: unlock of unlocked key mutex")

// keyLocks hands out in-process mutexes keyed by storage key. Entries are
// reference counted and dropped once nobody holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

var _ provider.Locker = (*keyLocks)(nil)

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

func (l *keyLocks) Mutex(key string) provider.Mutex {
	return &localMutex{set: l, key: key}
}

func (l *keyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	kl := l.m[key]
	if kl == nil {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()
	return kl
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.m, key)
	}
	l.mu.Unlock()
}

// len is used by tests to check that idle keys are dropped.
func (l *keyLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

type localMutex struct {
	set  *keyLocks
	key  string
	held *keyLock
}

func (m *localMutex) Lock(ctx context.Context) error {
	kl := m.set.acquire(m.key)
	select {
	case kl.ch <- struct{}{}:
		m.held = kl
		return nil
	case <-ctx.Done():
		m.set.release(m.key, kl)
		return ctx.Err()
	}
}

func (m *localMutex) TryLock(context.Context) (bool, error) {
	kl := m.set.acquire(m.key)
	select {
	case kl.ch <- struct{}{}:
		m.held = kl
		return true, nil
	default:
		m.set.release(m.key, kl)
		return false, nil
	}
}

func (m *localMutex) Unlock(context.Context) error {
	if m.held == nil {
		return errNotLocked
	}
	<-m.held.ch
	m.set.release(m.key, m.held)
	m.held = nil
	return nil
}
