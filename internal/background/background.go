// Package background runs fire-and-forget jobs with a concurrency bound.
// A job that cannot get a slot is declined, never queued.
package background

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

type Group struct {
	sem     *semaphore.Weighted
	onPanic func(recovered any)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Group running at most max jobs at once. onPanic is called
// with the recovered value when a job panics; it may be nil.
func New(max int64, onPanic func(recovered any)) *Group {
	if max <= 0 {
		max = 1
	}
	return &Group{sem: semaphore.NewWeighted(max), onPanic: onPanic}
}

// Go starts fn unless the group is saturated or closed. It reports whether
// fn was started.
func (g *Group) Go(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed || !g.sem.TryAcquire(1) {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.sem.Release(1)
		defer func() {
			if r := recover(); r != nil && g.onPanic != nil {
				g.onPanic(r)
			}
		}()
		fn()
	}()
	return true
}

// Wait blocks until every started job has returned. Jobs started while
// Wait runs are waited for as well.
func (g *Group) Wait() { g.wg.Wait() }

// Close stops accepting jobs and waits for the running ones.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}
