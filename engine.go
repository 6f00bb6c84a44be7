package storecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/storecache/generation"
	"github.com/unkn0wn-root/storecache/internal/background"
	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/provider"
)

// engine is the type-independent half of a Cached: provider access, the
// staleness checks, generation and epoch state and the background group.
// Relations reuse the engine of their children cache.
type engine struct {
	ns     string
	p      provider.Provider
	log    Logger
	hooks  Hooks
	gen    generation.Store
	absTTL time.Duration
	slide  time.Duration
	policy EntryPolicyFunc
	bypass BypassFunc
	tag    string
	cost   SetCostFunc
	strict bool
	now    func() time.Time

	clearAll   func(ctx context.Context) error
	detach     bool
	jobTimeout time.Duration
	bg         *background.Group
	closed     atomic.Bool

	// epoch moves on every successful mutation and on Flush. Derived
	// entries carry the epoch they were built under and are rejected once
	// it moved; background writes are skipped or undone.
	epoch atomic.Uint64
	// watermark is how many leading items of the collection the snapshot
	// holds. unbounded means the whole collection.
	watermark atomic.Int64

	inflight *xsync.MapOf[string, struct{}]
	// tracked maps page and list keys to the key of the collection that
	// owns them, so mutations can evict them.
	tracked *xsync.MapOf[string, string]
	// totals holds the last total storage reported per collection key.
	totals *xsync.MapOf[string, knownTotal]
}

// knownTotal is valid while both epoch and generation are unchanged. A
// negative total means storage reported none.
type knownTotal struct {
	total int64
	epoch uint64
	gen   [16]byte
}

func (e *engine) itemKey(id string) string { return keyspace.Item(e.ns, id) }

func (e *engine) allKey() string { return keyspace.Collection(e.ns) }

// current returns the generation entries must carry. ok=false means the
// generation store failed and the cache is skipped for this call.
func (e *engine) current(ctx context.Context) ([16]byte, bool) {
	id, err := e.gen.Current(ctx)
	if err != nil {
		e.log.Warn("generation read failed", Fields{"ns": e.ns, "err": err})
		return [16]byte{}, false
	}
	return [16]byte(id), true
}

// mutated records a successful mutation.
func (e *engine) mutated(ctx context.Context) {
	e.epoch.Add(1)
	e.watermark.Store(0)
	e.scheduleEvict(ctx, "")
}

// scheduleEvict removes derived entries in the background. owner "" evicts
// the collection snapshot and every tracked key; otherwise only owner and
// the keys it owns.
func (e *engine) scheduleEvict(ctx context.Context, owner string) {
	target := owner
	if target == "" {
		target = e.allKey()
	}
	e.spawn(ctx, "evict:"+target, func(ctx context.Context) {
		n := e.evictTracked(ctx, owner)
		e.del(ctx, target)
		e.hooks.EvictionCompleted(target, n+1)
		e.log.Debug("derived entries evicted", Fields{"ns": e.ns, "key": target, "keys": n + 1})
	})
}

func (e *engine) evictTracked(ctx context.Context, owner string) int {
	var keys []string
	e.tracked.Range(func(k, o string) bool {
		if owner == "" || o == owner {
			keys = append(keys, k)
		}
		return true
	})
	n := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		e.del(ctx, k)
		e.tracked.Delete(k)
		n++
	}
	return n
}
