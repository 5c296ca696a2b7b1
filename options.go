package regioncache

import (
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/keygen"
)

// FuncOption configures a cached function.
type FuncOption func(*funcOptions)

type funcOptions struct {
	name        string
	namespace   string
	sig         keygen.Signature
	exp         time.Duration
	hasExp      bool
	shouldCache any // func(V) bool
	codec       any // codec.Codec[V]
}

// WithName replaces the function name used in keys. Closures created at the
// same source location share a runtime name, so give them distinct names.
func WithName(name string) FuncOption {
	return func(o *funcOptions) { o.name = name }
}

// WithNamespace appends a namespace to the function name in keys.
func WithNamespace(ns string) FuncOption {
	return func(o *funcOptions) { o.namespace = ns }
}

// WithSignature names the parameters (and defaults) calls are bound to.
func WithSignature(sig keygen.Signature) FuncOption {
	return func(o *funcOptions) { o.sig = sig }
}

// WithExpiration overrides the region expiration for this function.
// 0 means values never expire.
func WithExpiration(d time.Duration) FuncOption {
	return func(o *funcOptions) { o.exp, o.hasExp = d, true }
}

// WithShouldCache decides per result whether it is stored.
func WithShouldCache[V any](fn func(V) bool) FuncOption {
	return func(o *funcOptions) { o.shouldCache = fn }
}

// WithCodec replaces the default JSON codec.
func WithCodec[V any](c codec.Codec[V]) FuncOption {
	return func(o *funcOptions) { o.codec = c }
}

// binding is the typed result of applying FuncOptions.
type binding[V any] struct {
	ns          string
	sig         keygen.Signature
	exp         time.Duration
	hasExp      bool
	shouldCache func(V) bool
	codec       codec.Codec[V]
}

func bind[V any](fn any, opts []FuncOption) (binding[V], error) {
	var o funcOptions
	for _, opt := range opts {
		opt(&o)
	}
	b := binding[V]{sig: o.sig, exp: o.exp, hasExp: o.hasExp}
	if o.hasExp && o.exp < 0 {
		return b, fmt.Errorf("%w: %v", ErrInvalidExpiration, o.exp)
	}

	name := o.name
	if name == "" {
		name = funcName(fn)
	}
	b.ns = keygen.Namespace(name, o.namespace)

	if o.shouldCache != nil {
		f, ok := o.shouldCache.(func(V) bool)
		if !ok {
			return b, fmt.Errorf("%w: should-cache %T", ErrOptionType, o.shouldCache)
		}
		b.shouldCache = f
	}
	if o.codec != nil {
		c, ok := o.codec.(codec.Codec[V])
		if !ok {
			return b, fmt.Errorf("%w: codec %T", ErrOptionType, o.codec)
		}
		b.codec = c
	} else {
		b.codec = codec.JSON[V]{}
	}
	return b, nil
}

func (b binding[V]) expiration(r *Region) time.Duration {
	if b.hasExp {
		return b.exp
	}
	return r.expiration
}

func (b binding[V]) cacheable(v V) bool {
	return b.shouldCache == nil || b.shouldCache(v)
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "func"
}
