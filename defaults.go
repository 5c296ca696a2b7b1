package regioncache

import "github.com/unkn0wn-root/regioncache/keygen"

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (o Options) withDefaults() Options {
	o.Logger = coalesce[Logger](o.Logger, NopLogger{})
	o.Hooks = coalesce[Hooks](o.Hooks, NopHooks{})
	if o.KeyMangler == nil {
		o.KeyMangler = keygen.SHA1
	}
	if o.KeyGenerator == nil {
		o.KeyGenerator = keygen.FunctionKey
	}
	if o.MultiKeyGenerator == nil {
		o.MultiKeyGenerator = keygen.MultiKeys
	}
	return o
}
