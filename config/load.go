package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Keys read by FromMap from an application's config store.
const (
	KeyBackend          = "CACHE_BACKEND"
	KeyBackendURL       = "CACHE_BACKEND_URL"
	KeyBackendArguments = "CACHE_BACKEND_ARGUMENTS"
	KeyRegions          = "CACHE_REGIONS"
)

// Environment variables read by FromEnv.
const (
	EnvBackend    = "REGIONCACHE_BACKEND"
	EnvBackendURL = "REGIONCACHE_BACKEND_URL"
	EnvRegions    = "REGIONCACHE_REGIONS" // "name:seconds,name:seconds"
)

// FromMap reads the CACHE_* keys of an application config map. Missing keys
// get defaults. Regions may be a list of (name, expiration) pairs, a list of
// {name, expiration} maps, or a name -> expiration map.
func FromMap(m map[string]any) (Config, error) {
	var c Config
	var err error

	if v, ok := m[KeyBackend]; ok && v != nil {
		if c.Backend, err = cast.ToStringE(v); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", KeyBackend, err)
		}
	}
	if v, ok := m[KeyBackendURL]; ok && v != nil {
		if c.BackendURL, err = cast.ToStringE(v); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", KeyBackendURL, err)
		}
	}
	if v, ok := m[KeyBackendArguments]; ok && v != nil {
		if c.BackendArguments, err = cast.ToStringMapE(v); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", KeyBackendArguments, err)
		}
	}
	if v, ok := m[KeyRegions]; ok && v != nil {
		if c.Regions, err = ParseRegions(v); err != nil {
			return Config{}, err
		}
	}

	c.SetDefaults()
	return c, c.Validate()
}

type fileConfig struct {
	Backend          string         `yaml:"backend"`
	BackendURL       string         `yaml:"backend_url"`
	BackendArguments map[string]any `yaml:"backend_arguments"`
	Regions          any            `yaml:"regions"`
}

// Load reads a YAML file:
//
//	backend: redis
//	backend_url: localhost:6379
//	backend_arguments:
//	  distributed_lock: true
//	regions:
//	  - {name: default, expiration: 3600}
//	  - [short, 60]
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse is Load without the file.
func Parse(b []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c := Config{
		Backend:          fc.Backend,
		BackendURL:       fc.BackendURL,
		BackendArguments: fc.BackendArguments,
	}
	if fc.Regions != nil {
		regions, err := ParseRegions(fc.Regions)
		if err != nil {
			return Config{}, err
		}
		c.Regions = regions
	}
	c.SetDefaults()
	return c, c.Validate()
}

// FromEnv reads REGIONCACHE_* variables. Backend arguments can not be
// expressed in the environment; set them on the returned Config.
func FromEnv() (Config, error) {
	c := Config{
		Backend:    strings.TrimSpace(os.Getenv(EnvBackend)),
		BackendURL: strings.TrimSpace(os.Getenv(EnvBackendURL)),
	}
	if s := strings.TrimSpace(os.Getenv(EnvRegions)); s != "" {
		regions, err := ParseRegions(s)
		if err != nil {
			return Config{}, err
		}
		c.Regions = regions
	}
	c.SetDefaults()
	return c, c.Validate()
}

// ParseRegions accepts every region list shape understood by the loaders.
func ParseRegions(v any) ([]RegionSpec, error) {
	switch x := v.(type) {
	case []RegionSpec:
		return x, nil
	case string:
		return parseRegionString(x)
	case map[string]any:
		return parseRegionMap(x)
	case map[string]int:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = e
		}
		return parseRegionMap(m)
	case []any:
		out := make([]RegionSpec, 0, len(x))
		for i, item := range x {
			r, err := parseRegionItem(item)
			if err != nil {
				return nil, fmt.Errorf("config: region #%d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	case [][]any:
		out := make([]RegionSpec, 0, len(x))
		for i, pair := range x {
			r, err := parseRegionItem(pair)
			if err != nil {
				return nil, fmt.Errorf("config: region #%d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config: unsupported regions value %T", v)
	}
}

func parseRegionItem(item any) (RegionSpec, error) {
	switch x := item.(type) {
	case RegionSpec:
		return x, nil
	case []any:
		if len(x) != 2 {
			return RegionSpec{}, fmt.Errorf("want (name, expiration) pair, got %d values", len(x))
		}
		name, err := cast.ToStringE(x[0])
		if err != nil {
			return RegionSpec{}, err
		}
		exp, err := ParseExpiration(x[1])
		if err != nil {
			return RegionSpec{}, fmt.Errorf("region %q: %w", name, err)
		}
		return RegionSpec{Name: name, Expiration: exp}, nil
	case map[string]any:
		name, err := cast.ToStringE(x["name"])
		if err != nil {
			return RegionSpec{}, err
		}
		exp, err := ParseExpiration(x["expiration"])
		if err != nil {
			return RegionSpec{}, fmt.Errorf("region %q: %w", name, err)
		}
		return RegionSpec{Name: name, Expiration: exp}, nil
	default:
		return RegionSpec{}, fmt.Errorf("unsupported region value %T", item)
	}
}

// parseRegionMap sorts by name so the registry order is stable.
func parseRegionMap(m map[string]any) ([]RegionSpec, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]RegionSpec, 0, len(m))
	for _, n := range names {
		exp, err := ParseExpiration(m[n])
		if err != nil {
			return nil, fmt.Errorf("config: region %q: %w", n, err)
		}
		out = append(out, RegionSpec{Name: n, Expiration: exp})
	}
	return out, nil
}

func parseRegionString(s string) ([]RegionSpec, error) {
	var out []RegionSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, exp, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("config: region %q: want name:seconds", part)
		}
		e, err := ParseExpiration(strings.TrimSpace(exp))
		if err != nil {
			return nil, fmt.Errorf("config: region %q: %w", name, err)
		}
		out = append(out, RegionSpec{Name: strings.TrimSpace(name), Expiration: e})
	}
	return out, nil
}

// ParseExpiration coerces v to a non-negative number of seconds.
func ParseExpiration(v any) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing", ErrInvalidExpiration)
	}
	var (
		n   int
		err error
	)
	// cast parses strings with base prefixes ("010" is 8); expirations are decimal.
	if s, ok := v.(string); ok {
		n, err = strconv.Atoi(strings.TrimSpace(s))
	} else {
		n, err = cast.ToIntE(v)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidExpiration, n)
	}
	return n, nil
}
