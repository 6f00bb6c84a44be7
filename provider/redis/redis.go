// Package redis adapts a go-redis client to provider.Provider. Keys may be
// namespaced with Prefix, which is also what makes Clear possible: without a
// prefix the provider refuses to SCAN+DEL a shared database.
package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/storecache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	scanCount   int64
	closeClient bool
}

var (
	_ provider.Provider = (*Redis)(nil)
	_ provider.Clearer  = (*Redis)(nil)
)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every key, e.g. "svc:".
	Prefix string
	// ScanCount is the COUNT hint used by Clear. Defaults to 500.
	ScanCount int64
	// CloseClient closes Client on Close. Set it only when the provider owns the client.
	CloseClient bool
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 500
	}
	return &Redis{
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		scanCount:   cfg.ScanCount,
		closeClient: cfg.CloseClient,
	}, nil
}

func (p *Redis) key(k string) string { return p.prefix + k }

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.key(key)).Err()
}

// Clear deletes every key under Prefix. Not atomic: keys written while the
// scan runs may survive, which the generation rotation on Flush covers.
func (p *Redis) Clear(ctx context.Context) error {
	if p.prefix == "" {
		return errors.Wrap(provider.ErrClearUnsupported, "redis provider: Clear requires a key prefix")
	}
	var cursor uint64
	for {
		keys, next, err := p.rdb.Scan(ctx, cursor, p.prefix+"*", p.scanCount).Result()
		if err != nil {
			return errors.Wrap(err, "redis provider: scan")
		}
		if len(keys) > 0 {
			if err := p.rdb.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "redis provider: del")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close releases the client only when this provider owns it. Repeated calls are no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
