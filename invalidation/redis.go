package invalidation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares a region's invalidation point across processes and survives restarts.
// The point lives in a hash "inv:<ns>" with fields "at" (unix nanos) and "hard" (0/1).
type Redis struct {
	rdb redis.UniversalClient
	ns  string // logical namespace; the region name
}

var _ Strategy = (*Redis)(nil)

// NewRedis creates a Redis-backed invalidation strategy for one region.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace}
}

func (s *Redis) key() string { return "inv:" + s.ns }

func (s *Redis) Invalidate(ctx context.Context, hard bool, at time.Time) error {
	h := "0"
	if hard {
		h = "1"
	}
	return s.rdb.HSet(ctx, s.key(), "at", strconv.FormatInt(at.UnixNano(), 10), "hard", h).Err()
}

func (s *Redis) IsHardInvalidated(ctx context.Context, created time.Time) (bool, error) {
	at, hard, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return hard && covers(at, created), nil
}

func (s *Redis) IsSoftInvalidated(ctx context.Context, created time.Time) (bool, error) {
	at, hard, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return !hard && covers(at, created), nil
}

// Close is a no-op; the client belongs to the backend.
func (s *Redis) Close(context.Context) error { return nil }

// load returns the zero time when the region was never invalidated.
func (s *Redis) load(ctx context.Context) (time.Time, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(), "at", "hard").Result()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return time.Time{}, false, nil
	}
	ns, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis invalidation parse at %s: %w", s.key(), err)
	}
	return time.Unix(0, ns), fmt.Sprint(vals[1]) == "1", nil
}
