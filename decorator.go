package regioncache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/regioncache/keygen"
)

// Kw carries keyword arguments. Pass it as the last argument of a call.
type Kw map[string]any

// splitKw separates a trailing Kw from positional arguments.
func splitKw(args []any) ([]any, map[string]any) {
	if n := len(args); n > 0 {
		if kw, ok := args[n-1].(Kw); ok {
			return args[:n-1], kw
		}
	}
	return args, nil
}

// Decorator memoizes calls on one region, keyed by their bound arguments.
// Use CacheOnRegion or Memoize to wrap typed functions with it.
type Decorator struct {
	region *Region
	keys   KeyGenerator
}

func (d *Decorator) Region() *Region { return d.region }

// Key renders the generated (unmangled) key for a call.
func (d *Decorator) Key(namespace string, sig keygen.Signature, args ...any) (string, error) {
	pos, kw := splitKw(args)
	return d.keys(namespace, sig, pos, kw)
}

func (d *Decorator) getOrCreate(ctx context.Context, key string, exp time.Duration, create CreateFunc) ([]byte, error) {
	return d.region.getOrCreate(ctx, key, exp, create)
}

// MultiDecorator memoizes calls that take many arguments at once, caching
// one value per argument.
type MultiDecorator struct {
	region *Region
	keys   MultiKeyGenerator
}

func (d *MultiDecorator) Region() *Region { return d.region }

// Keys renders one generated key per argument.
func (d *MultiDecorator) Keys(namespace string, args ...any) ([]string, error) {
	pos, kw := splitKw(args)
	return d.keys(namespace, pos, kw)
}
