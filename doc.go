// Package regioncache memoizes functions in named cache regions.
//
// A Cache is built once at startup from a config.Config: one Region per
// configured (name, expiration) pair, all on the same backend. Each region
// owns two decorators, single-key and multi-key, which memoize functions by
// their call arguments.
//
// Components:
//   - Region: get-or-create engine. One caller per key regenerates a value;
//     concurrent callers wait, or get the stale value when there is one.
//   - backend: turns a backend id plus loose arguments into a provider
//     (redis, memory, ristretto, bigcache, bbolt).
//   - keygen: binds arguments to parameter names and renders keys.
//   - invalidation: region-wide hard/soft invalidation, local or in redis.
//   - codec: Codec[V] (de)serializes cached values.
//
// Keys:
//
//	<fn name>[|<namespace>]|<arg1> <arg2> ...   single-key functions
//	<fn name>[|<namespace>]|<arg>               one per argument of multi functions
//
// Generated keys are mangled (SHA-1 hex by default) before reaching the backend.
//
// Usage:
//
//	c, _ := regioncache.New(cfg, regioncache.Options{})
//	user, _ := regioncache.CacheOnRegion(c, "users", loadUser,
//		regioncache.WithSignature(keygen.Params("id")))
//	u, _ := user.Call(ctx, 42)
//	_ = c.Invalidate(ctx, user, 42)
package regioncache
