// Package sturdyc adapts viccon/sturdyc to provider.Provider. Like bigcache,
// sturdyc has one TTL for the whole client; per-entry TTLs are ignored.
package sturdyc

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/viccon/sturdyc"

	"github.com/unkn0wn-root/storecache/provider"
)

type Provider struct {
	c *sturdyc.Client[[]byte]
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Clearer  = (*Provider)(nil)
)

type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	// EvictionInterval controls how often expired entries are swept.
	EvictionInterval time.Duration
}

func New(cfg Config) (*Provider, error) {
	switch {
	case cfg.Capacity <= 0:
		return nil, errors.New("sturdyc: Capacity must be positive")
	case cfg.NumShards <= 0:
		return nil, errors.New("sturdyc: NumShards must be positive")
	case cfg.TTL <= 0:
		return nil, errors.New("sturdyc: TTL must be positive")
	case cfg.EvictionPercentage < 0 || cfg.EvictionPercentage > 100:
		return nil, errors.New("sturdyc: EvictionPercentage must be within 0..100")
	}
	var opts []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}
	c := sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, opts...)
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok || v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	// the returned bool reports an eviction, not a rejection
	p.c.Set(key, value)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

func (p *Provider) Clear(ctx context.Context) error {
	for _, k := range p.c.ScanKeys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.c.Delete(k)
	}
	return nil
}

// Size returns the number of entries held.
func (p *Provider) Size() int { return p.c.Size() }

func (p *Provider) Close(context.Context) error { return nil }
