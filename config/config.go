// Package config loads storecache settings from the environment and turns
// them into Options, providers and generation stores.
//
// Every variable is prefixed with STORECACHE_, e.g. STORECACHE_PROVIDER=redis
// and STORECACHE_REDIS_ADDR=localhost:6379.
package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/generation"
	"github.com/unkn0wn-root/storecache/provider"
	bcprov "github.com/unkn0wn-root/storecache/provider/bigcache"
	memprov "github.com/unkn0wn-root/storecache/provider/memory"
	redisprov "github.com/unkn0wn-root/storecache/provider/redis"
	rprov "github.com/unkn0wn-root/storecache/provider/ristretto"
	sturdyprov "github.com/unkn0wn-root/storecache/provider/sturdyc"
)

const Prefix = "STORECACHE_"

const (
	ProviderMemory    = "memory"
	ProviderRistretto = "ristretto"
	ProviderBigcache  = "bigcache"
	ProviderRedis     = "redis"
	ProviderSturdyc   = "sturdyc"

	GenerationLocal = "local"
	GenerationRedis = "redis"

	WriteAll        = "write_all"
	RefreshIfCached = "refresh_if_cached"
)

type Config struct {
	Namespace  string `env:"NAMESPACE"`
	Provider   string `env:"PROVIDER"   envDefault:"memory"`
	Generation string `env:"GENERATION" envDefault:"local"`

	AbsoluteTTL        time.Duration `env:"ABSOLUTE_TTL"        envDefault:"10m"`
	SlidingTTL         time.Duration `env:"SLIDING_TTL"`
	PageSize           int           `env:"PAGE_SIZE"           envDefault:"50"`
	WritePolicy        string        `env:"WRITE_POLICY"        envDefault:"write_all"`
	DisableCollections bool          `env:"DISABLE_COLLECTIONS"`
	MaxBackgroundJobs  int64         `env:"MAX_BACKGROUND_JOBS" envDefault:"64"`
	BackgroundTimeout  time.Duration `env:"BACKGROUND_TIMEOUT"`
	DetachBackground   bool          `env:"DETACH_BACKGROUND"`
	StrictDecoding     bool          `env:"STRICT_DECODING"`
	Disabled           bool          `env:"DISABLED"`

	Memory    Memory    `envPrefix:"MEMORY_"`
	Ristretto Ristretto `envPrefix:"RISTRETTO_"`
	Bigcache  Bigcache  `envPrefix:"BIGCACHE_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Sturdyc   Sturdyc   `envPrefix:"STURDYC_"`
}

type Memory struct {
	MaxEntries int `env:"MAX_ENTRIES"`
}

type Ristretto struct {
	NumCounters int64 `env:"NUM_COUNTERS" envDefault:"100000"`
	MaxCost     int64 `env:"MAX_COST"     envDefault:"67108864"`
	BufferItems int64 `env:"BUFFER_ITEMS" envDefault:"64"`
	Metrics     bool  `env:"METRICS"`
}

type Bigcache struct {
	LifeWindow         time.Duration `env:"LIFE_WINDOW"           envDefault:"10m"`
	CleanWindow        time.Duration `env:"CLEAN_WINDOW"          envDefault:"1m"`
	Shards             int           `env:"SHARDS"                envDefault:"1024"`
	MaxEntriesInWindow int           `env:"MAX_ENTRIES_IN_WINDOW" envDefault:"600000"`
	MaxEntrySize       int           `env:"MAX_ENTRY_SIZE"        envDefault:"500"`
	HardMaxCacheSizeMB int           `env:"HARD_MAX_CACHE_SIZE_MB"`
}

type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
	// Prefix namespaces provider keys. Clear needs it.
	Prefix string `env:"PREFIX" envDefault:"storecache:"`
	// GenerationRefresh bounds how long a process may serve a rotated
	// generation. Zero reads Redis on every call.
	GenerationRefresh time.Duration `env:"GENERATION_REFRESH"`
}

type Sturdyc struct {
	Capacity           int           `env:"CAPACITY"            envDefault:"10000"`
	NumShards          int           `env:"NUM_SHARDS"          envDefault:"8"`
	TTL                time.Duration `env:"TTL"                 envDefault:"10m"`
	EvictionPercentage int           `env:"EVICTION_PERCENTAGE" envDefault:"10"`
	EvictionInterval   time.Duration `env:"EVICTION_INTERVAL"   envDefault:"1m"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return load(env.Options{Prefix: Prefix})
}

// LoadFrom reads environ instead of the process environment. Keys carry the
// STORECACHE_ prefix.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Prefix: Prefix, Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, errors.Wrap(err, "config: parse env")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func invalid(field, msg string) error {
	return &storecache.ConfigError{Field: Prefix + field, Message: msg}
}

// Validate reports the first invalid setting as a *storecache.ConfigError.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderRistretto, ProviderBigcache, ProviderRedis, ProviderSturdyc:
	default:
		return invalid("PROVIDER", "unknown provider "+c.Provider)
	}
	switch c.Generation {
	case GenerationLocal, GenerationRedis:
	default:
		return invalid("GENERATION", "unknown generation store "+c.Generation)
	}
	switch c.WritePolicy {
	case WriteAll, RefreshIfCached:
	default:
		return invalid("WRITE_POLICY", "unknown write policy "+c.WritePolicy)
	}
	switch {
	case c.PageSize < 0:
		return invalid("PAGE_SIZE", "must not be negative")
	case c.SlidingTTL < 0:
		return invalid("SLIDING_TTL", "must not be negative")
	case c.MaxBackgroundJobs < 0:
		return invalid("MAX_BACKGROUND_JOBS", "must not be negative")
	case c.Provider == ProviderRedis && c.Redis.Prefix == "":
		return invalid("REDIS_PREFIX", "is required so Flush can clear the provider")
	case c.Generation == GenerationRedis && c.Namespace == "":
		return invalid("NAMESPACE", "is required by the redis generation store")
	case c.usesRedis() && c.Redis.Addr == "":
		return invalid("REDIS_ADDR", "is required")
	}
	return nil
}

func (c Config) usesRedis() bool {
	return c.Provider == ProviderRedis || c.Generation == GenerationRedis
}

// Apply copies the cache settings onto opts. Provider, Codec, IDOf and
// Generation are left to the caller; Namespace is set only when empty.
func Apply[V any](c Config, opts *storecache.Options[V]) {
	if opts.Namespace == "" {
		opts.Namespace = c.Namespace
	}
	opts.AbsoluteTTL = c.AbsoluteTTL
	opts.SlidingTTL = c.SlidingTTL
	opts.PageSize = c.PageSize
	opts.DisableCollections = c.DisableCollections
	opts.MaxBackgroundJobs = c.MaxBackgroundJobs
	opts.BackgroundTimeout = c.BackgroundTimeout
	opts.DetachBackground = c.DetachBackground
	opts.StrictDecoding = c.StrictDecoding
	opts.Disabled = c.Disabled
	opts.WritePolicy = storecache.WriteAllOnMutation
	if c.WritePolicy == RefreshIfCached {
		opts.WritePolicy = storecache.OnlyRefreshIfCached
	}
}

// RedisClient opens a client for the Redis settings. The caller closes it.
func (c Config) RedisClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     c.Redis.Addr,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// NewProvider builds the configured provider. A Redis provider opens and
// owns its own client.
func (c Config) NewProvider(ctx context.Context) (provider.Provider, error) {
	switch c.Provider {
	case ProviderMemory:
		var opts []memprov.Option
		if c.Memory.MaxEntries > 0 {
			opts = append(opts, memprov.WithMaxEntries(c.Memory.MaxEntries))
		}
		return memprov.New(opts...), nil
	case ProviderRistretto:
		return built(rprov.New(rprov.Config{
			NumCounters: c.Ristretto.NumCounters,
			MaxCost:     c.Ristretto.MaxCost,
			BufferItems: c.Ristretto.BufferItems,
			Metrics:     c.Ristretto.Metrics,
		}))
	case ProviderBigcache:
		return built(bcprov.New(ctx, bcprov.Config{
			LifeWindow:         c.Bigcache.LifeWindow,
			CleanWindow:        c.Bigcache.CleanWindow,
			Shards:             c.Bigcache.Shards,
			MaxEntriesInWindow: c.Bigcache.MaxEntriesInWindow,
			MaxEntrySize:       c.Bigcache.MaxEntrySize,
			HardMaxCacheSizeMB: c.Bigcache.HardMaxCacheSizeMB,
		}))
	case ProviderRedis:
		return built(redisprov.New(redisprov.Config{
			Client:      c.RedisClient(),
			Prefix:      c.Redis.Prefix,
			CloseClient: true,
		}))
	case ProviderSturdyc:
		return built(sturdyprov.New(sturdyprov.Config{
			Capacity:           c.Sturdyc.Capacity,
			NumShards:          c.Sturdyc.NumShards,
			TTL:                c.Sturdyc.TTL,
			EvictionPercentage: c.Sturdyc.EvictionPercentage,
			EvictionInterval:   c.Sturdyc.EvictionInterval,
		}))
	}
	return nil, invalid("PROVIDER", "unknown provider "+c.Provider)
}

// built avoids returning a typed nil provider on error.
func built[P provider.Provider](p P, err error) (provider.Provider, error) {
	if err != nil {
		return nil, errors.Wrap(err, "config: build provider")
	}
	return p, nil
}

// NewGeneration builds the configured generation store. rdb is used by the
// Redis store and may be nil for the local one.
func (c Config) NewGeneration(rdb goredis.UniversalClient) (generation.Store, error) {
	switch c.Generation {
	case GenerationLocal:
		return generation.NewLocal(), nil
	case GenerationRedis:
		if rdb == nil {
			return nil, invalid("GENERATION", "redis generation store needs a client")
		}
		g, err := generation.NewRedis(generation.RedisConfig{
			Client:          rdb,
			Namespace:       c.Namespace,
			RefreshInterval: c.Redis.GenerationRefresh,
		})
		if err != nil {
			return nil, errors.Wrap(err, "config: redis generation store")
		}
		return g, nil
	}
	return nil, invalid("GENERATION", "unknown generation store "+c.Generation)
}
