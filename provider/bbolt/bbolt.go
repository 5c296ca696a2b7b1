// Package bbolt stores entries in a bbolt file, one bucket per region.
// Regions pointing at the same path share one open database.
package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

var ErrNoPath = errors.New("bbolt provider: path is required")

type Config struct {
	Path   string
	Bucket string // "cache" if empty
	// OpenTimeout bounds waiting for the file lock held by another process.
	OpenTimeout time.Duration // 0 => 1s
}

type Provider struct {
	db     *shared
	bucket []byte
	now    func() time.Time
	once   sync.Once
}

var _ pr.Provider = (*Provider)(nil)

type shared struct {
	db   *bolt.DB
	path string
	refs int
}

var (
	poolMu sync.Mutex
	pool   = map[string]*shared{}
)

func New(cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}
	bucket := []byte("cache")
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	s, err := acquire(cfg.Path, timeout)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = s.release()
		return nil, err
	}
	return &Provider{db: s, bucket: bucket, now: time.Now}, nil
}

func acquire(path string, timeout time.Duration) (*shared, error) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if s, ok := pool[path]; ok {
		s.refs++
		return s, nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	s := &shared{db: db, path: path, refs: 1}
	pool[path] = s
	return s, nil
}

func (s *shared) release() error {
	poolMu.Lock()
	defer poolMu.Unlock()
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(pool, s.path)
	return s.db.Close()
}

// Layout: 8 bytes big endian expiresAt (unix seconds, 0 = never) || raw value
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	expiresAt := int64(0)
	if ttl > 0 {
		expiresAt = p.now().Add(ttl).Unix()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)

	err := p.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found, expired bool
	if err := p.db.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(p.bucket).Get([]byte(key))
		if len(v) < 8 {
			return nil
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if expiresAt > 0 && p.now().Unix() > expiresAt {
			expired = true
			return nil
		}
		// v is only valid inside the transaction
		out = append([]byte{}, v[8:]...)
		found = true
		return nil
	}); err != nil {
		return nil, false, err
	}
	if expired {
		_ = p.Del(context.Background(), key)
		return nil, false, nil
	}
	return out, found, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Delete([]byte(key))
	})
}

// Close releases this provider's reference to the shared database.
// Safe to call multiple times.
func (p *Provider) Close(_ context.Context) error {
	var err error
	p.once.Do(func() { err = p.db.release() })
	return err
}
