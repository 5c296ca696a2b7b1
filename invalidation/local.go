package invalidation

import (
	"context"
	"sync"
	"time"
)

// Local keeps the latest invalidation point in-process.
// A new invalidation replaces the previous one, so a soft invalidation
// issued after a hard one downgrades it (and vice versa).
type Local struct {
	mu   sync.RWMutex
	at   time.Time
	hard bool
}

var _ Strategy = (*Local)(nil)

func NewLocal() *Local { return &Local{} }

func (s *Local) Invalidate(_ context.Context, hard bool, at time.Time) error {
	s.mu.Lock()
	s.at = at
	s.hard = hard
	s.mu.Unlock()
	return nil
}

func (s *Local) IsHardInvalidated(_ context.Context, created time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hard && covers(s.at, created), nil
}

func (s *Local) IsSoftInvalidated(_ context.Context, created time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.hard && covers(s.at, created), nil
}

func (s *Local) Close(context.Context) error { return nil }

// covers reports whether an invalidation at `at` applies to an entry created at `created`.
func covers(at, created time.Time) bool {
	return !at.IsZero() && created.Before(at)
}
