// Package config describes the regions an application wants and the backend
// they share. A Config is built once at startup (from code, an application
// config map, a YAML file or the environment) and handed to regioncache.New.
package config

import (
	"errors"
	"fmt"
)

const (
	DefaultBackend    = "redis"
	DefaultBackendURL = "localhost:6379"
	DefaultRegion     = "default"
	DefaultExpiration = 3600 // seconds
)

var (
	ErrInvalidExpiration = errors.New("expiration must be a non-negative integer")
	ErrDuplicateRegion   = errors.New("duplicate region")
)

// RegionSpec names a region and its expiration in seconds (0 => never expires).
type RegionSpec struct {
	Name       string `yaml:"name"`
	Expiration int    `yaml:"expiration"`
}

type Config struct {
	Backend          string         `yaml:"backend"`
	BackendURL       string         `yaml:"backend_url"`
	BackendArguments map[string]any `yaml:"backend_arguments"`
	Regions          []RegionSpec   `yaml:"regions"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields; set fields are left alone.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.Regions == nil {
		c.Regions = []RegionSpec{{Name: DefaultRegion, Expiration: DefaultExpiration}}
	}
}

// Validate rejects configs that could only half-build a registry.
func (c Config) Validate() error {
	if c.Backend == "" {
		return errors.New("config: backend is required")
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for i, r := range c.Regions {
		if r.Name == "" {
			return fmt.Errorf("config: region #%d has no name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("config: %w %q", ErrDuplicateRegion, r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Expiration < 0 {
			return fmt.Errorf("config: region %q: %w (got %d)", r.Name, ErrInvalidExpiration, r.Expiration)
		}
	}
	return nil
}

// Arguments merges the backend URL with the extra backend arguments.
// Extra arguments win, including an explicit "url".
func (c Config) Arguments() map[string]any {
	args := make(map[string]any, len(c.BackendArguments)+1)
	args["url"] = c.BackendURL
	for k, v := range c.BackendArguments {
		args[k] = v
	}
	return args
}
