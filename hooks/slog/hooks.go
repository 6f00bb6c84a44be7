// Package sloghook logs storecache events to a *slog.Logger. Keys are
// redacted and noisy events can be sampled.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/storecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	DeclineEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
	// LogCompletions logs population and eviction completions at debug.
	LogCompletions bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	declineCtr  atomic.Uint64
}

var _ storecache.Hooks = (*Hooks)(nil)

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

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("storecache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) Bypassed(tag string) {
	if h.l == nil {
		return
	}
	h.l.Debug("storecache.bypassed", "tag", tag)
}

func (h *Hooks) PopulationDeclined(key, reason string) {
	if h.l == nil || !sample(h.opts.DeclineEvery, &h.declineCtr) {
		return
	}
	h.l.Info("storecache.population_declined",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) PopulationCompleted(key string, items int) {
	if h.l == nil || !h.opts.LogCompletions {
		return
	}
	h.l.Debug("storecache.population_completed",
		"key", h.redact(key),
		"items", items)
}

func (h *Hooks) EvictionCompleted(key string, keys int) {
	if h.l == nil || !h.opts.LogCompletions {
		return
	}
	h.l.Debug("storecache.eviction_completed",
		"key", h.redact(key),
		"keys", keys)
}

func (h *Hooks) CacheWriteFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("storecache.cache_write_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ProviderSetRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("storecache.provider_set_rejected", "key", h.redact(key))
}

func (h *Hooks) Flushed(ns string, clearErr error) {
	if h.l == nil {
		return
	}
	if clearErr != nil {
		h.l.Error("storecache.flushed",
			"ns", ns,
			"clear_err", clearErr)
		return
	}
	h.l.Info("storecache.flushed", "ns", ns)
}
