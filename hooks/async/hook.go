// Package asynchook moves Hooks callbacks off the hot path. Events are queued
// to a fixed set of workers and dropped when the queue is full.
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker, queue 1000 events
//	defer hooks.Close()
//
//	users, _ := storecache.New[User](store, storecache.Options[User]{
//	    Namespace: "app:prod:user",
//	    Provider:  p,
//	    Codec:     codec.JSON[User]{},
//	    IDOf:      func(u User) string { return u.ID },
//	    Hooks:     hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/storecache"
)

type Hooks struct {
	inner   storecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ storecache.Hooks = (*Hooks)(nil)

func New(inner storecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events sent after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) Bypassed(tag string)  { h.try(func() { h.inner.Bypassed(tag) }) }
func (h *Hooks) PopulationDeclined(k, r string) {
	h.try(func() { h.inner.PopulationDeclined(k, r) })
}
func (h *Hooks) PopulationCompleted(k string, n int) {
	h.try(func() { h.inner.PopulationCompleted(k, n) })
}
func (h *Hooks) EvictionCompleted(k string, n int) {
	h.try(func() { h.inner.EvictionCompleted(k, n) })
}
func (h *Hooks) CacheWriteFailed(k string, err error) {
	h.try(func() { h.inner.CacheWriteFailed(k, err) })
}
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) Flushed(ns string, err error) { h.try(func() { h.inner.Flushed(ns, err) }) }
