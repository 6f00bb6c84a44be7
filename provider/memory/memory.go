// Package memory is an in-process provider.Provider with per-entry TTLs.
// Values are copied on Set and Get so callers can never alias cached bytes.
package memory

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/storecache/provider"
)

type entry struct {
	b         []byte
	expiresAt time.Time // zero = no expiry
}

type Provider struct {
	m   *xsync.MapOf[string, entry]
	now func() time.Time
	max int
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Clearer  = (*Provider)(nil)
)

type Option func(*Provider)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

// WithMaxEntries makes Set reject new keys once n entries are held.
func WithMaxEntries(n int) Option { return func(p *Provider) { p.max = n } }

func New(opts ...Option) *Provider {
	p := &Provider{m: xsync.NewMapOf[string, entry](), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := p.m.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !p.now().Before(e.expiresAt) {
		p.m.Compute(key, func(cur entry, loaded bool) (entry, bool) {
			// drop only if nobody refreshed it meanwhile
			return cur, !loaded || cur.expiresAt.Equal(e.expiresAt)
		})
		return nil, false, nil
	}
	return append([]byte(nil), e.b...), true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	e := entry{b: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	if p.max > 0 && p.m.Size() >= p.max {
		if _, exists := p.m.Load(key); !exists {
			return false, nil
		}
	}
	p.m.Store(key, e)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.m.Delete(key)
	return nil
}

func (p *Provider) Clear(context.Context) error {
	p.m.Clear()
	return nil
}

// Len returns the number of held entries, expired ones included.
func (p *Provider) Len() int { return p.m.Size() }

// Keys returns the held keys in no particular order.
func (p *Provider) Keys() []string {
	keys := make([]string, 0, p.m.Size())
	p.m.Range(func(k string, _ entry) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (p *Provider) Close(context.Context) error { return nil }
