package backend

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/regioncache/invalidation"
	bbp "github.com/unkn0wn-root/regioncache/provider/bbolt"
	bcp "github.com/unkn0wn-root/regioncache/provider/bigcache"
	"github.com/unkn0wn-root/regioncache/provider/memory"
	rdp "github.com/unkn0wn-root/regioncache/provider/redis"
	rsp "github.com/unkn0wn-root/regioncache/provider/ristretto"
)

// openRedis understands:
//
//	url                    host:port or redis:// / rediss:// URL
//	db, password           override the URL
//	socket_timeout         seconds, read/write timeout
//	redis_expiration_time  seconds, backend TTL for every key
//	distributed_lock       lock value creation across processes
//	lock_timeout           seconds a lock may be held
//	lock_sleep             seconds between lock attempts
//	shared_invalidation    keep region invalidations in redis
func openRedis(region string, args Arguments) (*Backend, error) {
	url, err := args.String("url", "")
	if err != nil {
		return nil, err
	}
	opts := &goredis.Options{Addr: url}
	if strings.Contains(url, "://") {
		if opts, err = goredis.ParseURL(url); err != nil {
			return nil, err
		}
	}
	if opts.DB, err = args.Int("db", opts.DB); err != nil {
		return nil, err
	}
	if opts.Password, err = args.String("password", opts.Password); err != nil {
		return nil, err
	}
	sockTimeout, err := args.Seconds("socket_timeout", 0)
	if err != nil {
		return nil, err
	}
	if sockTimeout > 0 {
		opts.ReadTimeout = sockTimeout
		opts.WriteTimeout = sockTimeout
	}

	ttl, err := args.Seconds("redis_expiration_time", 0)
	if err != nil {
		return nil, err
	}
	distributed, err := args.Bool("distributed_lock", false)
	if err != nil {
		return nil, err
	}
	lockTimeout, err := args.Seconds("lock_timeout", 0)
	if err != nil {
		return nil, err
	}
	lockSleep, err := args.Seconds("lock_sleep", 0)
	if err != nil {
		return nil, err
	}
	shared, err := args.Bool("shared_invalidation", false)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)
	p, err := rdp.New(rdp.Config{
		Client:      client,
		CloseClient: true,
		LockTimeout: lockTimeout,
		LockSleep:   lockSleep,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	b := &Backend{Provider: p, TTL: ttl}
	if distributed {
		b.Locker = p
	}
	if shared {
		b.Invalidation = invalidation.NewRedis(client, region)
	}
	return b, nil
}

func openMemory(string, Arguments) (*Backend, error) {
	return &Backend{Provider: memory.New()}, nil
}

func openRistretto(_ string, args Arguments) (*Backend, error) {
	counters, err := args.Int64("num_counters", 1e6)
	if err != nil {
		return nil, err
	}
	maxCost, err := args.Int64("max_cost", 1e5)
	if err != nil {
		return nil, err
	}
	buffer, err := args.Int64("buffer_items", 64)
	if err != nil {
		return nil, err
	}
	syncWrites, err := args.Bool("sync_writes", true)
	if err != nil {
		return nil, err
	}
	ttl, err := args.Seconds("expiration_time", 0)
	if err != nil {
		return nil, err
	}
	p, err := rsp.New(rsp.Config{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: buffer,
		SyncWrites:  syncWrites,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{Provider: p, TTL: ttl}, nil
}

func openBigcache(_ string, args Arguments) (*Backend, error) {
	life, err := args.Seconds("life_window", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	maxMB, err := args.Int("hard_max_cache_size", 0)
	if err != nil {
		return nil, err
	}
	p, err := bcp.New(context.Background(), bcp.Config{
		LifeWindow:         life,
		HardMaxCacheSizeMB: maxMB,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{Provider: p}, nil
}

// openBbolt uses url as the database path and the region name as bucket.
func openBbolt(region string, args Arguments) (*Backend, error) {
	path, err := args.String("url", "")
	if err != nil {
		return nil, err
	}
	ttl, err := args.Seconds("expiration_time", 0)
	if err != nil {
		return nil, err
	}
	p, err := bbp.New(bbp.Config{Path: path, Bucket: region})
	if err != nil {
		return nil, err
	}
	return &Backend{Provider: p, TTL: ttl}, nil
}
