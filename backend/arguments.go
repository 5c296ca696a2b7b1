package backend

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Arguments are backend constructor arguments: {"url": ...} merged with the
// configured extras. Getters coerce loosely-typed config values.
type Arguments map[string]any

func (a Arguments) String(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("argument %s: %w", key, err)
	}
	return s, nil
}

func (a Arguments) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

func (a Arguments) Int64(key string, def int64) (int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

func (a Arguments) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("argument %s: %w", key, err)
	}
	return b, nil
}

// Seconds reads a (possibly fractional) number of seconds.
func (a Arguments) Seconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("argument %s: negative duration %v", key, f)
	}
	return time.Duration(f * float64(time.Second)), nil
}
