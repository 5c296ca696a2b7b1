// Package sloghooks logs region events with log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/regioncache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleEvery       uint64
	RegeneratedEvery uint64
	SelfHealEvery    uint64
	// Log hits and misses at debug level. Off by default: they fire on every call.
	LogHitMiss bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr    atomic.Uint64
	regenCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(region string) {
	if h.l == nil || !h.opts.LogHitMiss {
		return
	}
	h.l.Debug("regioncache.hit", "region", region)
}

func (h *Hooks) Miss(region string) {
	if h.l == nil || !h.opts.LogHitMiss {
		return
	}
	h.l.Debug("regioncache.miss", "region", region)
}

func (h *Hooks) StaleServed(region, storageKey string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("regioncache.stale_served",
		"region", region,
		"key", h.redact(storageKey))
}

func (h *Hooks) Regenerated(region, storageKey string, took time.Duration) {
	if h.l == nil || !sample(h.opts.RegeneratedEvery, &h.regenCtr) {
		return
	}
	h.l.Debug("regioncache.regenerated",
		"region", region,
		"key", h.redact(storageKey),
		"took", took)
}

func (h *Hooks) SelfHeal(region, storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("regioncache.self_heal",
		"region", region,
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) BackendError(region, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("regioncache.backend_error",
		"region", region,
		"op", op,
		"err", err)
}

func (h *Hooks) LockError(region, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("regioncache.lock_error",
		"region", region,
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) RegionInvalidated(region string, hard bool) {
	if h.l == nil {
		return
	}
	h.l.Info("regioncache.region_invalidated",
		"region", region,
		"hard", hard)
}
