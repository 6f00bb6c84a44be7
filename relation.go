package storecache

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/storage"
)

// CachedRelation caches a storage.Relation between the entities of two
// Cached stores. Children lists and parent lookups live in the children
// cache and are built under the sum of both epochs, so a mutation on either
// side invalidates them.
type CachedRelation[P, C any] struct {
	name     string
	parents  *Cached[P]
	children *Cached[C]
	rel      storage.Relation[P, C]
	disabled bool

	marks    *xsync.MapOf[string, relationMark]
	kids     *xsync.MapOf[string, *xsync.MapOf[string, struct{}]] // parent id -> populated child ids
	parentOf *xsync.MapOf[string, string]                         // parentOf key -> child id
}

var _ storage.Relation[struct{}, struct{}] = (*CachedRelation[struct{}, struct{}])(nil)

type relationMark struct {
	limit int64
	epoch uint64
}

// parentMark is the watermark of one children list. It reads as zero once
// either side mutated.
type parentMark struct {
	m     *xsync.MapOf[string, relationMark]
	pid   string
	epoch func() uint64
}

func (w parentMark) Load() int64 {
	rm, ok := w.m.Load(w.pid)
	if !ok || rm.epoch != w.epoch() {
		return 0
	}
	return rm.limit
}

func (w parentMark) Store(v int64) { w.m.Store(w.pid, relationMark{limit: v, epoch: w.epoch()}) }

// NewRelation caches rel under name. name must be unique per children namespace.
func NewRelation[P, C any](name string, parents *Cached[P], children *Cached[C], rel storage.Relation[P, C]) (*CachedRelation[P, C], error) {
	switch {
	case name == "":
		return nil, &ConfigError{Field: "name", Message: "is required"}
	case parents == nil || children == nil:
		return nil, &ConfigError{Field: "parents/children", Message: "are required"}
	case rel == nil:
		return nil, &ConfigError{Field: "rel", Message: "is required"}
	}
	return &CachedRelation[P, C]{
		name:     name,
		parents:  parents,
		children: children,
		rel:      rel,
		disabled: parents.disabled || children.disabled,
		marks:    xsync.NewMapOf[string, relationMark](),
		kids:     xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
		parentOf: xsync.NewMapOf[string, string](),
	}, nil
}

func (r *CachedRelation[P, C]) epoch() uint64 {
	return r.parents.epoch.Load() + r.children.epoch.Load()
}

func (r *CachedRelation[P, C]) listKey(parentID string) string {
	return keyspace.ChildrenOf(r.children.ns, r.name, parentID)
}

func (r *CachedRelation[P, C]) list(parentID string) *collection[C] {
	return &collection[C]{
		e:     r.children.engine,
		items: r.children,
		name:  keyspace.ChildrenCollection(r.name, parentID),
		key:   r.listKey(parentID),
		epoch: r.epoch,
		mark:  parentMark{m: r.marks, pid: parentID, epoch: r.epoch},
		readAll: func(ctx context.Context, limit int) ([]C, error) {
			return r.rel.ReadChildren(ctx, parentID, limit)
		},
		readPage: func(ctx context.Context, offset, limit int) (storage.Page[C], error) {
			return r.rel.ReadChildrenPaged(ctx, parentID, offset, limit)
		},
		track: func(ids []string) { r.remember(parentID, ids) },
	}
}

func (r *CachedRelation[P, C]) remember(parentID string, ids []string) {
	set, _ := r.kids.LoadOrCompute(parentID, func() *xsync.MapOf[string, struct{}] {
		return xsync.NewMapOf[string, struct{}]()
	})
	for _, id := range ids {
		set.Store(id, struct{}{})
	}
}

func (r *CachedRelation[P, C]) ReadChildren(ctx context.Context, parentID string, limit int) ([]C, error) {
	if r.disabled || r.children.bypassed(ctx) {
		return r.rel.ReadChildren(ctx, parentID, limit)
	}
	return r.list(parentID).readAllCached(ctx, limit)
}

func (r *CachedRelation[P, C]) ReadChildrenPaged(ctx context.Context, parentID string, offset, limit int) (storage.Page[C], error) {
	if r.disabled || r.children.bypassed(ctx) {
		return r.rel.ReadChildrenPaged(ctx, parentID, offset, limit)
	}
	return r.list(parentID).readPagedCached(ctx, offset, limit)
}

// ReadParent caches the parent under the parentOf key of childID and under
// the parent's own item key.
func (r *CachedRelation[P, C]) ReadParent(ctx context.Context, childID string) (P, error) {
	if r.disabled || r.parents.bypassed(ctx) {
		return r.rel.ReadParent(ctx, childID)
	}
	key := keyspace.ParentOf(r.children.ns, r.name, childID)
	ep := r.epoch()
	p, st, err := loadSingle(ctx, r.children.engine, r.parents.codec, key, childID, &ep)
	if err != nil {
		var zero P
		return zero, err
	}
	if st == hit {
		return p, nil
	}

	observed := r.epoch()
	observedParent := r.parents.epoch.Load()
	p, err = r.rel.ReadParent(ctx, childID)
	if err != nil {
		return p, err
	}
	if storeSingle(ctx, r.children.engine, r.parents.codec, key, p, r.epoch, observed) {
		r.parentOf.Store(key, childID)
	}
	pkey := r.parents.itemKey(r.parents.idOf(p))
	storeSingle(ctx, r.parents.engine, r.parents.codec, pkey, p, r.parents.epoch.Load, observedParent)
	return p, nil
}

// DeleteChildren removes the children of parentID from storage and their
// item entries from the cache concurrently, then evicts the children list,
// its pages and the parent lookups of the removed children.
func (r *CachedRelation[P, C]) DeleteChildren(ctx context.Context, parentID string) error {
	if r.disabled {
		return r.rel.DeleteChildren(ctx, parentID)
	}
	kids, err := r.rel.ReadChildren(ctx, parentID, 0)
	if err != nil {
		return err
	}
	ids := make(map[string]struct{}, len(kids))
	for _, k := range kids {
		ids[r.children.idOf(k)] = struct{}{}
	}
	if set, ok := r.kids.LoadAndDelete(parentID); ok {
		set.Range(func(id string, _ struct{}) bool {
			ids[id] = struct{}{}
			return true
		})
	}

	ce := r.children.engine
	dropItems := func(ctx context.Context) {
		for id := range ids {
			ce.del(ctx, ce.itemKey(id))
		}
	}
	var g errgroup.Group
	g.Go(func() error { return r.rel.DeleteChildren(ctx, parentID) })
	g.Go(func() error {
		dropItems(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	ce.mutated(ctx)
	dropItems(ctx)

	listKey := r.listKey(parentID)
	ce.spawn(ctx, "evict:"+listKey, func(ctx context.Context) {
		n := ce.evictTracked(ctx, listKey)
		ce.del(ctx, listKey)
		n++
		for id := range ids {
			pk := keyspace.ParentOf(r.children.ns, r.name, id)
			if _, ok := r.parentOf.LoadAndDelete(pk); ok {
				ce.del(ctx, pk)
				n++
			}
		}
		ce.hooks.EvictionCompleted(listKey, n)
	})
	return nil
}
