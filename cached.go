package storecache

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/storage"
)

// Cached decorates a storage.Storage with a read-through, write-around
// cache. It is itself a storage.Storage and safe for concurrent use.
//
// Cache failures never fail a call: they are logged, reported to Hooks and
// the call falls back to storage. Storage errors are returned verbatim.
type Cached[V any] struct {
	*engine

	store       storage.Storage[V]
	codec       codec.Codec[V]
	idOf        func(V) string
	writePolicy WritePolicy
	collections bool
	pageSize    int
	all         *collection[V]
	disabled    bool
}

var _ storage.Storage[struct{}] = (*Cached[struct{}])(nil)

// Storage returns the decorated store.
func (c *Cached[V]) Storage() storage.Storage[V] { return c.store }

func (c *Cached[V]) Enabled() bool { return !c.disabled }

func (c *Cached[V]) Read(ctx context.Context, id string) (V, error) {
	if c.disabled || c.bypassed(ctx) {
		return c.store.Read(ctx, id)
	}
	key := c.itemKey(id)
	v, st, err := loadSingle(ctx, c.engine, c.codec, key, id, nil)
	if err != nil {
		var zero V
		return zero, err
	}
	if st == hit {
		return v, nil
	}

	observed := c.epoch.Load()
	v, err = c.store.Read(ctx, id)
	if err != nil {
		return v, err
	}
	storeSingle(ctx, c.engine, c.codec, key, v, c.epoch.Load, observed)
	return v, nil
}

func (c *Cached[V]) ReadAll(ctx context.Context, limit int) ([]V, error) {
	if c.disabled || c.bypassed(ctx) {
		return c.store.ReadAll(ctx, limit)
	}
	return c.all.readAllCached(ctx, limit)
}

func (c *Cached[V]) ReadAllPaged(ctx context.Context, offset, limit int) (storage.Page[V], error) {
	if c.disabled || c.bypassed(ctx) {
		return c.store.ReadAllPaged(ctx, offset, limit)
	}
	return c.all.readPagedCached(ctx, offset, limit)
}

func (c *Cached[V]) Create(ctx context.Context, item V) (string, error) {
	id, err := c.store.Create(ctx, item)
	if err != nil || c.disabled {
		return id, err
	}
	c.mutated(ctx)
	c.refresh(ctx, id)
	return id, nil
}

func (c *Cached[V]) CreateWithID(ctx context.Context, id string, item V) error {
	if err := c.store.CreateWithID(ctx, id, item); err != nil || c.disabled {
		return err
	}
	c.mutated(ctx)
	c.refresh(ctx, id)
	return nil
}

// CreateAndReturn caches the returned entity under IDOf(result) without a
// read-back.
func (c *Cached[V]) CreateAndReturn(ctx context.Context, item V) (V, error) {
	v, err := c.store.CreateAndReturn(ctx, item)
	if err != nil || c.disabled {
		return v, err
	}
	c.mutated(ctx)
	observed := c.epoch.Load()
	storeSingle(ctx, c.engine, c.codec, c.itemKey(c.idOf(v)), v, c.epoch.Load, observed)
	return v, nil
}

func (c *Cached[V]) Update(ctx context.Context, id string, item V) error {
	if err := c.store.Update(ctx, id, item); err != nil || c.disabled {
		return err
	}
	c.mutated(ctx)
	c.refresh(ctx, id)
	return nil
}

// Delete removes the entity from storage and the cache concurrently.
func (c *Cached[V]) Delete(ctx context.Context, id string) error {
	if c.disabled {
		return c.store.Delete(ctx, id)
	}
	key := c.itemKey(id)
	var g errgroup.Group
	g.Go(func() error {
		c.del(ctx, key)
		return nil
	})
	g.Go(func() error { return c.store.Delete(ctx, id) })
	if err := g.Wait(); err != nil {
		return err
	}
	c.mutated(ctx)
	// a read-through that raced the delete may have written the key back
	c.del(ctx, key)
	return nil
}

// DeleteAll empties storage and flushes the cache concurrently.
func (c *Cached[V]) DeleteAll(ctx context.Context) error {
	if c.disabled {
		return c.store.DeleteAll(ctx)
	}
	var flushErr, storeErr error
	var g errgroup.Group
	g.Go(func() error {
		flushErr = c.Flush(ctx)
		return nil
	})
	g.Go(func() error {
		storeErr = c.store.DeleteAll(ctx)
		return nil
	})
	_ = g.Wait()
	if storeErr != nil {
		return storeErr
	}
	// entries read back between the flush and the storage delete carry the
	// new generation; rotate once more now that storage is empty
	return errors.CombineErrors(flushErr, c.rotate(ctx))
}

// refresh applies the write policy after a mutation of id.
func (c *Cached[V]) refresh(ctx context.Context, id string) {
	key := c.itemKey(id)
	if c.writePolicy == OnlyRefreshIfCached {
		_, ok, err := c.p.Get(ctx, key)
		if err != nil {
			// presence unknown, so the pre-mutation entry may still be there
			c.log.Warn("cache get failed", Fields{"key": key, "err": err})
			c.del(ctx, key)
			return
		}
		if !ok {
			return
		}
	}
	observed := c.epoch.Load()
	v, err := c.store.Read(ctx, id)
	if err != nil {
		c.del(ctx, key)
		c.log.Warn("read-back after mutation failed", Fields{"key": key, "err": err})
		return
	}
	storeSingle(ctx, c.engine, c.codec, key, v, c.epoch.Load, observed)
}

// Close drains background jobs and closes the generation store and the
// provider. Calls after the first are no-ops.
func (c *Cached[V]) Close(ctx context.Context) error {
	if c.disabled || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.bg.Close()
	return errors.CombineErrors(c.gen.Close(ctx), c.p.Close(ctx))
}
