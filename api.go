package storecache

import (
	"context"
	"math"
	"reflect"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/generation"
	"github.com/unkn0wn-root/storecache/internal/background"
	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/provider"
	"github.com/unkn0wn-root/storecache/storage"
)

// SetCostFunc returns the cost passed to Provider.Set. items is the number
// of entities the entry holds.
type SetCostFunc func(key string, raw []byte, kind EntryKind, items int) int64

// WritePolicy controls what mutations do to item entries.
type WritePolicy uint8

const (
	// WriteAllOnMutation reads every created or updated entity back from
	// storage and caches it.
	WriteAllOnMutation WritePolicy = iota
	// OnlyRefreshIfCached reads back only when the item key already holds an entry.
	OnlyRefreshIfCached
)

// Options configure a Cached. Namespace, Provider, Codec and IDOf are
// required unless Disabled is set.
type Options[V any] struct {
	Namespace string // e.g. "user", "app:prod:order"
	Provider  provider.Provider
	Codec     codec.Codec[V]
	// IDOf returns the storage identifier of an entity.
	IDOf func(V) string

	// TypeTag is passed to Bypass. Defaults to the Go type name of V.
	TypeTag string
	Logger  Logger // nil => NopLogger
	Hooks   Hooks  // nil => NopHooks

	// AbsoluteTTL is the staleness budget measured from the write. 0 => 10m;
	// negative disables it.
	AbsoluteTTL time.Duration
	// SlidingTTL, when set, expires entries that are not read for that long.
	// It relies on the provider honoring per-entry TTLs.
	SlidingTTL time.Duration

	WritePolicy        WritePolicy
	DisableCollections bool
	PageSize           int // 0 => 50

	Bypass      BypassFunc
	EntryPolicy EntryPolicyFunc

	Generation generation.Store // nil => generation.NewLocal()
	// ClearAll runs on Flush. nil => the provider's Clear, when it is a provider.Clearer.
	ClearAll       func(ctx context.Context) error
	ComputeSetCost SetCostFunc // nil => 1 per entry

	MaxBackgroundJobs int64 // 0 => 64
	// BackgroundTimeout bounds each background job. 0 => no bound.
	BackgroundTimeout time.Duration
	// DetachBackground runs background jobs on context.WithoutCancel of the
	// caller's context, so a canceled request does not stop population.
	DetachBackground bool
	// StrictDecoding returns an assertion failure for entries that carry the
	// envelope magic but fail to decode, instead of deleting them.
	StrictDecoding bool

	Now      func() time.Time // nil => time.Now
	Disabled bool             // pass every call straight to storage
}

// New decorates store with a cache.
func New[V any](store storage.Storage[V], opts Options[V]) (*Cached[V], error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Message: "is required"}
	}
	if opts.Disabled {
		return &Cached[V]{store: store, disabled: true}, nil
	}
	switch {
	case opts.Namespace == "":
		return nil, &ConfigError{Field: "Namespace", Message: "is required"}
	case opts.Provider == nil:
		return nil, &ConfigError{Field: "Provider", Message: "is required"}
	case opts.Codec == nil:
		return nil, &ConfigError{Field: "Codec", Message: "is required"}
	case opts.IDOf == nil:
		return nil, &ConfigError{Field: "IDOf", Message: "is required"}
	case opts.PageSize < 0:
		return nil, &ConfigError{Field: "PageSize", Message: "must not be negative"}
	case opts.MaxBackgroundJobs < 0:
		return nil, &ConfigError{Field: "MaxBackgroundJobs", Message: "must not be negative"}
	case opts.SlidingTTL < 0:
		return nil, &ConfigError{Field: "SlidingTTL", Message: "must not be negative"}
	}

	e := &engine{
		ns:     opts.Namespace,
		p:      opts.Provider,
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		gen:    opts.Generation,
		absTTL: coalesce(opts.AbsoluteTTL, defaultAbsoluteTTL),
		slide:  opts.SlidingTTL,
		policy: opts.EntryPolicy,
		bypass: opts.Bypass,
		tag:    opts.TypeTag,
		cost:   opts.ComputeSetCost,
		strict: opts.StrictDecoding,
		now:    opts.Now,

		clearAll:   opts.ClearAll,
		detach:     opts.DetachBackground,
		jobTimeout: opts.BackgroundTimeout,

		inflight: xsync.NewMapOf[string, struct{}](),
		tracked:  xsync.NewMapOf[string, string](),
		totals:   xsync.NewMapOf[string, knownTotal](),
	}
	if e.absTTL < 0 {
		e.absTTL = 0
	}
	if e.gen == nil {
		e.gen = generation.NewLocal()
	}
	if e.tag == "" {
		e.tag = reflect.TypeFor[V]().String()
	}
	if e.cost == nil {
		e.cost = func(string, []byte, EntryKind, int) int64 { return 1 }
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.clearAll == nil {
		if cl, ok := opts.Provider.(provider.Clearer); ok {
			e.clearAll = cl.Clear
		}
	}
	e.bg = background.New(coalesce(opts.MaxBackgroundJobs, defaultMaxBackgroundJobs), func(r any) {
		e.log.Error("background job panicked", Fields{"ns": e.ns, "panic": r})
	})

	c := &Cached[V]{
		engine:      e,
		store:       store,
		codec:       opts.Codec,
		idOf:        opts.IDOf,
		writePolicy: opts.WritePolicy,
		collections: !opts.DisableCollections,
		pageSize:    coalesce(opts.PageSize, defaultPageSize),
	}
	c.all = &collection[V]{
		e:     e,
		items: c,
		name:  keyspace.CollectionName,
		key:   keyspace.Collection(e.ns),
		epoch: e.epoch.Load,
		mark:  &e.watermark,
		readAll: func(ctx context.Context, limit int) ([]V, error) {
			return store.ReadAll(ctx, limit)
		},
		readPage: func(ctx context.Context, offset, limit int) (storage.Page[V], error) {
			return store.ReadAllPaged(ctx, offset, limit)
		},
	}
	return c, nil
}

// unbounded is the watermark and limit of a complete collection.
const unbounded = math.MaxInt64
