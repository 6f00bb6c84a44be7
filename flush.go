package storecache

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Flush invalidates every entry of this cache. ClearAll runs first; its
// failure is logged and reported to Hooks.Flushed but does not stop the
// generation rotation that makes old entries unusable. Only a rotation
// failure is returned.
func (c *Cached[V]) Flush(ctx context.Context) error {
	if c.disabled {
		return nil
	}
	return c.flush(ctx)
}

func (e *engine) flush(ctx context.Context) error {
	var clearErr error
	if e.clearAll != nil {
		if clearErr = e.clearAll(ctx); clearErr != nil {
			e.log.Warn("cache clear failed", Fields{"ns": e.ns, "err": clearErr})
		}
	}
	err := e.rotate(ctx)
	e.hooks.Flushed(e.ns, clearErr)
	if err != nil {
		e.log.Error("generation rotation failed", Fields{"ns": e.ns, "err": err})
		return err
	}
	e.log.Info("cache flushed", Fields{"ns": e.ns, "cleared": e.clearAll != nil && clearErr == nil})
	return nil
}

// rotate resets the in-memory state even when the generation store fails.
func (e *engine) rotate(ctx context.Context) error {
	_, err := e.gen.Rotate(ctx)
	e.epoch.Add(1)
	e.watermark.Store(0)
	e.tracked.Clear()
	e.totals.Clear()
	if err != nil {
		return errors.Wrapf(err, "storecache: rotate generation of %q", e.ns)
	}
	return nil
}
