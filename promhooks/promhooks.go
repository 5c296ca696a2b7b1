// Package promhooks exports region events as Prometheus metrics.
package promhooks

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/regioncache"
)

type Hooks struct {
	lookups       *prometheus.CounterVec
	regenerations *prometheus.HistogramVec
	selfHeals     *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	lockErrors    *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

var _ regioncache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg (prometheus.DefaultRegisterer if nil).
// Registration is all or nothing.
// namespace prefixes every metric name, e.g. "myapp" => myapp_regioncache_lookups_total.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "regioncache"
	h := &Hooks{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "lookups_total",
			Help: "Region lookups by result (hit, miss, stale).",
		}, []string{"region", "result"}),
		regenerations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "regeneration_seconds",
			Help:    "Time spent producing values for missing or stale keys.",
			Buckets: prometheus.DefBuckets,
		}, []string{"region"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "self_heals_total",
			Help: "Entries deleted on read because they could not be used.",
		}, []string{"region", "reason"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "backend_errors_total",
			Help: "Provider and invalidation store failures.",
		}, []string{"region", "op"}),
		lockErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "lock_errors_total",
			Help: "Key lock acquire/release failures.",
		}, []string{"region"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "invalidations_total",
			Help: "Region-wide invalidations.",
		}, []string{"region", "hard"}),
	}
	cs := []prometheus.Collector{
		h.lookups, h.regenerations, h.selfHeals, h.backendErrors, h.lockErrors, h.invalidations,
	}
	for i, c := range cs {
		if err := reg.Register(c); err != nil {
			// leave reg as it was so a retry with another namespace can succeed
			for _, done := range cs[:i] {
				reg.Unregister(done)
			}
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) Hit(region string)  { h.lookups.WithLabelValues(region, "hit").Inc() }
func (h *Hooks) Miss(region string) { h.lookups.WithLabelValues(region, "miss").Inc() }

func (h *Hooks) StaleServed(region, _ string) {
	h.lookups.WithLabelValues(region, "stale").Inc()
}

func (h *Hooks) Regenerated(region, _ string, took time.Duration) {
	h.regenerations.WithLabelValues(region).Observe(took.Seconds())
}

func (h *Hooks) SelfHeal(region, _, reason string) {
	h.selfHeals.WithLabelValues(region, reason).Inc()
}

func (h *Hooks) BackendError(region, op string, _ error) {
	h.backendErrors.WithLabelValues(region, op).Inc()
}

func (h *Hooks) LockError(region, _ string, _ error) {
	h.lockErrors.WithLabelValues(region).Inc()
}

func (h *Hooks) RegionInvalidated(region string, hard bool) {
	h.invalidations.WithLabelValues(region, strconv.FormatBool(hard)).Inc()
}
