package generation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis shares the generation between processes through one key,
// gen:<namespace>. The token is cached locally and re-read every
// RefreshInterval, so a flush by another process is observed within that
// window.
type Redis struct {
	rdb     redis.UniversalClient
	key     string
	refresh time.Duration
	now     func() time.Time

	cached atomic.Pointer[snapshot]
}

type snapshot struct {
	id        uuid.UUID
	fetchedAt time.Time
}

var _ Store = (*Redis)(nil)

type RedisConfig struct {
	Client    redis.UniversalClient
	Namespace string
	// RefreshInterval bounds how stale the local copy may get. Zero reads
	// Redis on every call.
	RefreshInterval time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("generation: nil redis client")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("generation: namespace is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Redis{
		rdb:     cfg.Client,
		key:     "gen:" + cfg.Namespace,
		refresh: cfg.RefreshInterval,
		now:     cfg.Now,
	}, nil
}

func (r *Redis) Current(ctx context.Context) (uuid.UUID, error) {
	if s := r.cached.Load(); s != nil && r.refresh > 0 && r.now().Sub(s.fetchedAt) < r.refresh {
		return s.id, nil
	}

	// first writer wins; everyone else reads its token
	if err := r.rdb.SetNX(ctx, r.key, uuid.NewString(), 0).Err(); err != nil {
		return uuid.Nil, errors.Wrap(err, "generation: init")
	}
	raw, err := r.rdb.Get(ctx, r.key).Result()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generation: get")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "generation: parse %q", raw)
	}
	r.cached.Store(&snapshot{id: id, fetchedAt: r.now()})
	return id, nil
}

func (r *Redis) Rotate(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	if err := r.rdb.Set(ctx, r.key, id.String(), 0).Err(); err != nil {
		return uuid.Nil, errors.Wrap(err, "generation: rotate")
	}
	r.cached.Store(&snapshot{id: id, fetchedAt: r.now()})
	return id, nil
}

// Close leaves the client open; it belongs to the caller.
func (r *Redis) Close(context.Context) error { return nil }
