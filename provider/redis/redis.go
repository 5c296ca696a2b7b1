// Package redis stores region entries in redis and, optionally, serializes
// value creation across processes with SET NX locks.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Lock keys live next to the value key they guard.
const lockPrefix = "_lock"

type Config struct {
	Client goredis.UniversalClient
	// CloseClient hands ownership of Client to the provider.
	CloseClient bool

	LockTimeout time.Duration // 0 => 30s; expiry of a lock whose holder died
	LockSleep   time.Duration // 0 => 100ms; poll interval of a waiting Lock
}

type Redis struct {
	rdb      goredis.UniversalClient
	owned    bool
	lockTTL  time.Duration
	lockPoll time.Duration
}

var (
	_ pr.Provider = (*Redis)(nil)
	_ pr.Locker   = (*Redis)(nil)
)

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{
		rdb:      cfg.Client,
		owned:    cfg.CloseClient,
		lockTTL:  orDefault(cfg.LockTimeout, 30*time.Second),
		lockPoll: orDefault(cfg.LockSleep, 100*time.Millisecond),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Client is shared with redis-backed invalidation.
func (p *Redis) Client() goredis.UniversalClient { return p.rdb }

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set writes with PX ttl; a non-positive ttl keeps the key forever.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := p.rdb.Set(ctx, key, value, max(ttl, 0)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close is a no-op unless the provider owns the client. Repeated calls are fine.
func (p *Redis) Close(context.Context) error {
	if !p.owned {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

func (p *Redis) Mutex(key string) pr.Mutex {
	return &mutex{
		rdb:     p.rdb,
		key:     lockPrefix + key,
		timeout: p.lockTTL,
		sleep:   p.lockPoll,
	}
}
