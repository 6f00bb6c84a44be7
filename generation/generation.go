// Package generation holds the flush token that every storecache envelope is
// stamped with. Rotating the token invalidates all entries written under the
// previous one without touching the cache.
package generation

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Store abstracts where the current generation lives.
type Store interface {
	// Current returns the active generation.
	Current(ctx context.Context) (uuid.UUID, error)
	// Rotate replaces the generation with a fresh one and returns it.
	Rotate(ctx context.Context) (uuid.UUID, error)
	Close(ctx context.Context) error
}

// Local keeps the generation in process memory. It is the default.
//
// Only the process that calls Rotate observes the new token, so with a
// shared provider every process must flush on its own or use Redis.
type Local struct {
	cur atomic.Pointer[uuid.UUID]
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	l := &Local{}
	id := uuid.New()
	l.cur.Store(&id)
	return l
}

func (l *Local) Current(context.Context) (uuid.UUID, error) { return *l.cur.Load(), nil }

func (l *Local) Rotate(context.Context) (uuid.UUID, error) {
	id := uuid.New()
	l.cur.Store(&id)
	return id, nil
}

func (l *Local) Close(context.Context) error { return nil }
