package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("redis provider: lock not held")

// release deletes the lock only if it still carries our token.
var release = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type mutex struct {
	rdb     goredis.UniversalClient
	key     string
	timeout time.Duration
	sleep   time.Duration
	token   string
}

func (m *mutex) TryLock(ctx context.Context) (bool, error) {
	tok, err := newToken()
	if err != nil {
		return false, err
	}
	ok, err := m.rdb.SetNX(ctx, m.key, tok, m.timeout).Result()
	if err != nil {
		return false, err
	}
	if ok {
		m.token = tok
	}
	return ok, nil
}

func (m *mutex) Lock(ctx context.Context) error {
	t := time.NewTicker(m.sleep)
	defer t.Stop()
	for {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *mutex) Unlock(ctx context.Context) error {
	if m.token == "" {
		return ErrNotHeld
	}
	n, err := release.Run(ctx, m.rdb, []string{m.key}, m.token).Int()
	m.token = ""
	if err != nil {
		return err
	}
	if n == 0 {
		// expired (lock_timeout elapsed) and possibly taken by someone else
		return ErrNotHeld
	}
	return nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
