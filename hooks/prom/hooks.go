// Package promhook exports storecache events as Prometheus counters.
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/storecache"
)

const (
	FlushOK          = "ok"
	FlushClearFailed = "clear_failed"
)

type Hooks struct {
	selfHeal       *prometheus.CounterVec
	bypassed       *prometheus.CounterVec
	declined       *prometheus.CounterVec
	populations    prometheus.Counter
	populatedItems prometheus.Counter
	evictions      prometheus.Counter
	evictedKeys    prometheus.Counter
	writeFailures  prometheus.Counter
	setRejected    prometheus.Counter
	flushes        *prometheus.CounterVec
}

var _ storecache.Hooks = (*Hooks)(nil)

// New registers the counters on reg. cache is attached as a constant label
// so several caches can share a registry.
func New(reg prometheus.Registerer, cache string) *Hooks {
	f := promauto.With(reg)
	labels := prometheus.Labels{"cache": cache}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "storecache", Name: name, Help: help, ConstLabels: labels,
		})
	}
	vec := func(name, help, label string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storecache", Name: name, Help: help, ConstLabels: labels,
		}, []string{label})
	}
	return &Hooks{
		selfHeal:       vec("self_heal_total", "Entries deleted on read, by reason.", "reason"),
		bypassed:       vec("bypassed_total", "Reads sent straight to storage by the bypass predicate.", "tag"),
		declined:       vec("population_declined_total", "Cache writes that did not happen, by reason.", "reason"),
		populations:    counter("populations_total", "Completed background population jobs."),
		populatedItems: counter("populated_items_total", "Entities written by population jobs."),
		evictions:      counter("evictions_total", "Completed background eviction jobs."),
		evictedKeys:    counter("evicted_keys_total", "Keys removed by eviction jobs."),
		writeFailures:  counter("write_failures_total", "Failed provider Set and Del calls."),
		setRejected:    counter("set_rejected_total", "Provider Set calls that returned ok=false."),
		flushes:        vec("flushes_total", "Flush calls by clear result.", "result"),
	}
}

func (h *Hooks) SelfHeal(_, reason string) { h.selfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) Bypassed(tag string)       { h.bypassed.WithLabelValues(tag).Inc() }

func (h *Hooks) PopulationDeclined(_, reason string) { h.declined.WithLabelValues(reason).Inc() }

func (h *Hooks) PopulationCompleted(_ string, items int) {
	h.populations.Inc()
	h.populatedItems.Add(float64(items))
}

func (h *Hooks) EvictionCompleted(_ string, keys int) {
	h.evictions.Inc()
	h.evictedKeys.Add(float64(keys))
}

func (h *Hooks) CacheWriteFailed(string, error) { h.writeFailures.Inc() }
func (h *Hooks) ProviderSetRejected(string)     { h.setRejected.Inc() }

func (h *Hooks) Flushed(_ string, clearErr error) {
	if clearErr != nil {
		h.flushes.WithLabelValues(FlushClearFailed).Inc()
		return
	}
	h.flushes.WithLabelValues(FlushOK).Inc()
}
