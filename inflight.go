package storecache

import "context"

// spawn runs fn in the background while holding the in-flight guard for
// key. The guard is taken before spawn returns, so two callers can never
// both start a job for the same key.
func (e *engine) spawn(ctx context.Context, key string, fn func(ctx context.Context)) bool {
	if _, busy := e.inflight.LoadOrStore(key, struct{}{}); busy {
		e.hooks.PopulationDeclined(key, "in_flight")
		return false
	}
	jctx, cancel := e.jobContext(ctx)
	started := e.bg.Go(func() {
		defer e.inflight.Delete(key)
		defer cancel()
		fn(jctx)
	})
	if !started {
		cancel()
		e.inflight.Delete(key)
		reason := "saturated"
		if e.closed.Load() {
			reason = "closed"
		}
		e.hooks.PopulationDeclined(key, reason)
		e.log.Debug("background job declined", Fields{"key": key, "reason": reason})
	}
	return started
}

func (e *engine) busy(key string) bool {
	_, ok := e.inflight.Load(key)
	return ok
}

func (e *engine) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.detach {
		ctx = context.WithoutCancel(ctx)
	}
	if e.jobTimeout > 0 {
		return context.WithTimeout(ctx, e.jobTimeout)
	}
	return context.WithCancel(ctx)
}

// wait blocks until background jobs started so far have finished.
func (e *engine) wait() { e.bg.Wait() }
