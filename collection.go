package storecache

import (
	"context"
	"slices"

	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/internal/wire"
	"github.com/unkn0wn-root/storecache/storage"
)

type watermark interface {
	Load() int64
	Store(int64)
}

// collection caches one ordered list of entities: a snapshot under key,
// fixed-size pages derived from it and every member under its item key.
type collection[V any] struct {
	e     *engine    // holds snapshot and pages
	items *Cached[V] // owns item keys and the codec
	name  string     // page family
	key   string     // snapshot key
	epoch func() uint64
	mark  watermark

	readAll  func(ctx context.Context, limit int) ([]V, error)
	readPage func(ctx context.Context, offset, limit int) (storage.Page[V], error)
	// track, when set, receives the ids of populated members.
	track func(ids []string)
}

func want(limit int) int64 {
	if limit <= 0 {
		return unbounded
	}
	return int64(limit)
}

func (col *collection[V]) pageKey(offset, limit int) string {
	return keyspace.Page(col.e.ns, col.name, offset, limit)
}

func (col *collection[V]) readAllCached(ctx context.Context, limit int) ([]V, error) {
	n := want(limit)
	if col.items.collections && col.mark.Load() >= n {
		items, _, st, err := col.loadSnapshot(ctx, 0, n, false)
		if err != nil {
			return nil, err
		}
		if st == hit {
			return items, nil
		}
	}

	observed := col.epoch()
	items, err := col.readAll(ctx, limit)
	if err != nil {
		return nil, err
	}
	snapshot := slices.Clone(items)
	col.e.spawn(ctx, col.key, func(ctx context.Context) {
		col.populate(ctx, limit, snapshot, observed)
	})
	return items, nil
}

func (col *collection[V]) readPagedCached(ctx context.Context, offset, limit int) (storage.Page[V], error) {
	if offset < 0 {
		offset = 0
	}
	pk := col.pageKey(offset, limit)
	if col.items.collections {
		p, st, err := col.loadPage(ctx, pk, offset, limit)
		if err != nil {
			return storage.Page[V]{}, err
		}
		if st == hit {
			return p, nil
		}

		end := want(limit)
		if limit > 0 {
			end = int64(offset) + int64(limit)
		}
		// an ignored page goes to storage even when the snapshot covers it
		if st != ignored && col.mark.Load() >= end {
			items, total, st, err := col.loadSnapshot(ctx, int64(offset), end, true)
			if err != nil {
				return storage.Page[V]{}, err
			}
			if st == hit {
				return storage.NewPage(items, offset, limit, total), nil
			}
		}
	}

	observed := col.epoch()
	page, err := col.readPage(ctx, offset, limit)
	if err != nil {
		return storage.Page[V]{}, err
	}
	col.recordTotal(ctx, page.Total, observed)
	if col.e.busy(col.key) {
		col.e.hooks.PopulationDeclined(pk, "collection_in_flight")
		return page, nil
	}
	items := slices.Clone(page.Items)
	total := int64(-1)
	if page.Total != nil {
		total = int64(*page.Total)
	}
	col.e.spawn(ctx, pk, func(ctx context.Context) {
		col.populatePage(ctx, pk, offset, limit, items, total, observed)
	})
	return page, nil
}

// recordTotal remembers the collection size storage reported with a page.
func (col *collection[V]) recordTotal(ctx context.Context, total *int, observed uint64) {
	gen, ok := col.e.current(ctx)
	if !ok || col.epoch() != observed {
		return
	}
	kt := knownTotal{total: -1, epoch: observed, gen: gen}
	if total != nil {
		kt.total = int64(*total)
	}
	col.e.totals.Store(col.key, kt)
}

// storageTotal returns the total storage last reported for this collection
// under the current epoch and generation. ok=false means none is known.
func (col *collection[V]) storageTotal(gen [16]byte) (*int, bool) {
	kt, ok := col.e.totals.Load(col.key)
	if !ok || kt.epoch != col.epoch() || kt.gen != gen {
		return nil, false
	}
	if kt.total < 0 {
		return nil, true
	}
	t := int(kt.total)
	return &t, true
}

// loadSnapshot serves items [from, to) from the snapshot. total is set when
// the snapshot is complete. A paged read of an incomplete snapshot needs the
// total storage reports and misses while none is known.
func (col *collection[V]) loadSnapshot(ctx context.Context, from, to int64, paged bool) ([]V, *int, lookup, error) {
	e := col.e
	gen, ok := e.current(ctx)
	if !ok {
		return nil, nil, miss, nil
	}
	raw, ok := e.get(ctx, col.key)
	if !ok {
		return nil, nil, miss, nil
	}
	s, err := wire.DecodeCollection(raw)
	if err != nil {
		return nil, nil, miss, e.corrupt(ctx, col.key, raw, err)
	}
	ep := col.epoch()
	d, err := e.admit(ctx, col.key, col.name, s.Header, gen, &ep)
	if err != nil {
		return nil, nil, miss, err
	}
	switch d {
	case Remove:
		return nil, nil, miss, nil
	case Ignore:
		return nil, nil, ignored, nil
	}
	if !s.Complete && s.Limit < to {
		return nil, nil, miss, nil
	}

	var total *int
	switch {
	case s.Complete:
		t := len(s.Items)
		total = &t
	case paged:
		if total, ok = col.storageTotal(gen); !ok {
			return nil, nil, miss, nil
		}
	}

	n := int64(len(s.Items))
	lo, hi := min(from, n), min(to, n)
	items, err := decodeItems(col.items.codec, s.Items[lo:hi])
	if err != nil {
		return nil, nil, miss, e.valueCorrupt(ctx, col.key, err)
	}
	e.touch(ctx, col.key, raw, s.Header, KindCollection, len(s.Items))
	return items, total, hit, nil
}

func (col *collection[V]) loadPage(ctx context.Context, pk string, offset, limit int) (storage.Page[V], lookup, error) {
	e := col.e
	gen, ok := e.current(ctx)
	if !ok {
		return storage.Page[V]{}, miss, nil
	}
	raw, ok := e.get(ctx, pk)
	if !ok {
		return storage.Page[V]{}, miss, nil
	}
	p, err := wire.DecodePage(raw)
	if err != nil {
		return storage.Page[V]{}, miss, e.corrupt(ctx, pk, raw, err)
	}
	ep := col.epoch()
	d, err := e.admit(ctx, pk, col.name, p.Header, gen, &ep)
	if err != nil {
		return storage.Page[V]{}, miss, err
	}
	switch d {
	case Remove:
		return storage.Page[V]{}, miss, nil
	case Ignore:
		return storage.Page[V]{}, ignored, nil
	}

	var total *int
	switch {
	case p.Truncated:
		// cut from an incomplete snapshot, the total is whatever storage says
		if total, ok = col.storageTotal(gen); !ok {
			return storage.Page[V]{}, miss, nil
		}
	case p.Total >= 0:
		t := int(p.Total)
		total = &t
	}

	items, err := decodeItems(col.items.codec, p.Items)
	if err != nil {
		return storage.Page[V]{}, miss, e.valueCorrupt(ctx, pk, err)
	}
	e.touch(ctx, pk, raw, p.Header, KindPage, len(p.Items))
	return storage.NewPage(items, offset, limit, total), hit, nil
}

// proceed reports whether a background job may keep writing.
func (col *collection[V]) proceed(ctx context.Context, key string, observed uint64) bool {
	if ctx.Err() != nil {
		col.e.hooks.PopulationDeclined(key, "canceled")
		return false
	}
	if col.epoch() != observed {
		col.e.hooks.PopulationDeclined(key, "epoch_moved")
		return false
	}
	return true
}

func (col *collection[V]) populate(ctx context.Context, limit int, items []V, observed uint64) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	written, ok := col.writeItems(ctx, col.key, items, observed)
	if ok && col.items.collections {
		ok = col.writeSnapshot(ctx, limit, items, observed)
	}
	if !col.finish(ctx, col.key, written, observed) || !ok {
		return
	}
	col.trackItems(items)
	col.e.hooks.PopulationCompleted(col.key, len(items))
	col.e.log.Debug("collection populated", Fields{"key": col.key, "items": len(items), "limit": limit})
}

func (col *collection[V]) populatePage(ctx context.Context, pk string, offset, limit int, items []V, total int64, observed uint64) {
	written, ok := col.writeItems(ctx, pk, items, observed)
	if ok && col.items.collections && col.proceed(ctx, pk, observed) {
		ok = col.writePage(ctx, pk, offset, limit, total, false, items, observed)
	}
	if !col.finish(ctx, pk, written, observed) || !ok {
		return
	}
	col.trackItems(items)
	col.e.hooks.PopulationCompleted(pk, len(items))
	col.e.log.Debug("page populated", Fields{"key": pk, "items": len(items)})
}

// finish undoes the item writes of a job overtaken by a mutation.
func (col *collection[V]) finish(ctx context.Context, key string, written []string, observed uint64) bool {
	if col.epoch() == observed {
		return true
	}
	for _, k := range written {
		col.items.del(ctx, k)
	}
	col.e.hooks.PopulationDeclined(key, "epoch_moved")
	return false
}

func (col *collection[V]) trackItems(items []V) {
	if col.track == nil {
		return
	}
	ids := make([]string, len(items))
	for i, v := range items {
		ids[i] = col.items.idOf(v)
	}
	col.track(ids)
}

func (col *collection[V]) writeItems(ctx context.Context, job string, items []V, observed uint64) ([]string, bool) {
	ie := col.items.engine
	gen, ok := ie.current(ctx)
	if !ok {
		return nil, false
	}
	written := make([]string, 0, len(items))
	for _, v := range items {
		if !col.proceed(ctx, job, observed) {
			return written, false
		}
		key := ie.itemKey(col.items.idOf(v))
		payload, err := col.items.codec.Encode(v)
		if err != nil {
			ie.log.Warn("value encode failed", Fields{"key": key, "err": err})
			continue
		}
		raw := wire.EncodeSingle(wire.Single{Header: ie.header(gen, observed), Payload: payload})
		if ie.put(ctx, key, raw, KindItem, 1) {
			written = append(written, key)
		}
	}
	return written, true
}

func (col *collection[V]) writePage(ctx context.Context, pk string, offset, limit int, total int64, truncated bool, items []V, observed uint64) bool {
	payloads, err := encodeItems(col.items.codec, items)
	if err != nil {
		col.e.log.Warn("page encode failed", Fields{"key": pk, "err": err})
		return false
	}
	return col.putPage(ctx, pk, offset, limit, total, truncated, payloads, observed)
}

func (col *collection[V]) putPage(ctx context.Context, pk string, offset, limit int, total int64, truncated bool, payloads [][]byte, observed uint64) bool {
	gen, ok := col.e.current(ctx)
	if !ok {
		return false
	}
	raw := wire.EncodePage(wire.Page{
		Header:    col.e.header(gen, observed),
		Offset:    int64(offset),
		Limit:     int64(limit),
		Total:     total,
		Truncated: truncated,
		Items:     payloads,
	})
	col.e.tracked.Store(pk, col.key)
	col.e.put(ctx, pk, raw, KindPage, len(payloads))
	return true
}

// writeSnapshot stores the snapshot and its pages. A snapshot shorter than
// its limit is complete: every page is cached with the total and the
// watermark becomes unbounded. Otherwise only the full pages are cached,
// marked truncated, and the watermark becomes the limit.
func (col *collection[V]) writeSnapshot(ctx context.Context, limit int, items []V, observed uint64) bool {
	e := col.e
	payloads, err := encodeItems(col.items.codec, items)
	if err != nil {
		e.log.Warn("snapshot encode failed", Fields{"key": col.key, "err": err})
		return false
	}
	complete := limit <= 0 || len(items) < limit
	total := int64(-1)
	if complete {
		total = int64(len(items))
	}

	ps := col.items.pageSize
	for off := 0; off < len(items) || (off == 0 && complete); off += ps {
		end := off + ps
		if end > len(items) {
			if !complete {
				break
			}
			end = len(items)
		}
		pk := col.pageKey(off, ps)
		if !col.proceed(ctx, col.key, observed) {
			return false
		}
		if !col.putPage(ctx, pk, off, ps, total, !complete, payloads[off:end], observed) {
			return false
		}
	}

	if !col.proceed(ctx, col.key, observed) {
		return false
	}
	gen, ok := e.current(ctx)
	if !ok {
		return false
	}
	stored := want(limit)
	if complete {
		stored = unbounded
	}
	raw := wire.EncodeCollection(wire.Collection{
		Header:   e.header(gen, observed),
		Limit:    stored,
		Complete: complete,
		Items:    payloads,
	})
	if col.key != e.allKey() {
		e.tracked.Store(col.key, col.key)
	}
	if !e.put(ctx, col.key, raw, KindCollection, len(items)) {
		return false
	}
	if col.epoch() == observed {
		col.mark.Store(stored)
	}
	return true
}
