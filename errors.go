package regioncache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/regioncache/config"
)

var (
	// ErrRegionNotFound is matched by every lookup of an unconfigured region.
	ErrRegionNotFound = errors.New("cache region not found")
	// ErrNotBound is returned for wrappers that were never bound to a region.
	ErrNotBound = errors.New("function is not bound to a cache region")
	// ErrInvalidExpiration re-exports the config error for callers of New.
	ErrInvalidExpiration = config.ErrInvalidExpiration
	// ErrValueType is returned when Set receives a value of the wrong type.
	ErrValueType = errors.New("value type does not match cached function")
	// ErrResultCount is returned when a multi function returns a different
	// number of values than it was given arguments.
	ErrResultCount = errors.New("multi function returned wrong number of values")
	// ErrOptionType is returned when a typed option does not match the wrapped function.
	ErrOptionType = errors.New("option type does not match cached function")

	errNilFunc = errors.New("regioncache: nil function")
)

// RegionError reports a lookup of an unknown region.
type RegionError struct {
	Name string
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("cache region %q not found", e.Name)
}

func (e *RegionError) Unwrap() error { return ErrRegionNotFound }

// ConfigError reports a region that could not be built. New returns it
// before any region is usable.
type ConfigError struct {
	Region string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("regioncache config: %v", e.Err)
	}
	return fmt.Sprintf("regioncache config: region %q: %v", e.Region, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
