package regioncache

import "time"

// Hooks lightweight callbacks for high-signal region events.
// Implementations MUST be cheap and non-blocking.
// Regions call them on hot paths.
type Hooks interface {
	// A fresh value was served.
	Hit(region string)
	// No fresh value; the caller went on to regenerate (or wait for) it.
	Miss(region string)

	// A stale value was served because another caller holds the key lock.
	StaleServed(region, storageKey string)

	// The creator ran and produced a value.
	Regenerated(region, storageKey string, took time.Duration)

	// An entry was deleted by the region on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(region, storageKey, reason string)

	// Provider or invalidation store failed. op ∈ {"get", "set", "del", "invalidation"}
	BackendError(region, op string, err error)

	// Acquiring or releasing a key lock failed.
	LockError(region, storageKey string, err error)

	// Region-wide invalidation was recorded.
	RegionInvalidated(region string, hard bool)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                                {}
func (NopHooks) Miss(string)                               {}
func (NopHooks) StaleServed(string, string)                {}
func (NopHooks) Regenerated(string, string, time.Duration) {}
func (NopHooks) SelfHeal(string, string, string)           {}
func (NopHooks) BackendError(string, string, error)        {}
func (NopHooks) LockError(string, string, error)           {}
func (NopHooks) RegionInvalidated(string, bool)            {}
