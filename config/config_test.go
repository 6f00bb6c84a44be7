package config

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/generation"
	memprov "github.com/unkn0wn-root/storecache/provider/memory"
	rprov "github.com/unkn0wn-root/storecache/provider/ristretto"
	sturdyprov "github.com/unkn0wn-root/storecache/provider/sturdyc"
)

func TestDefaults(t *testing.T) {
	c, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.Provider != ProviderMemory || c.Generation != GenerationLocal || c.WritePolicy != WriteAll {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.AbsoluteTTL != 10*time.Minute || c.PageSize != 50 || c.MaxBackgroundJobs != 64 {
		t.Fatalf("unexpected cache defaults %+v", c)
	}
	if c.Redis.Prefix != "storecache:" || c.Ristretto.NumCounters != 100000 {
		t.Fatalf("unexpected provider defaults %+v", c)
	}
}

func TestOverrides(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"STORECACHE_NAMESPACE":           "app:user",
		"STORECACHE_PROVIDER":            "sturdyc",
		"STORECACHE_ABSOLUTE_TTL":        "30s",
		"STORECACHE_SLIDING_TTL":         "5s",
		"STORECACHE_WRITE_POLICY":        "refresh_if_cached",
		"STORECACHE_STURDYC_CAPACITY":    "42",
		"STORECACHE_DISABLE_COLLECTIONS": "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Namespace != "app:user" || c.Sturdyc.Capacity != 42 || !c.DisableCollections {
		t.Fatalf("overrides not applied: %+v", c)
	}

	var opts storecache.Options[string]
	Apply(c, &opts)
	if opts.Namespace != "app:user" || opts.AbsoluteTTL != 30*time.Second || opts.SlidingTTL != 5*time.Second {
		t.Fatalf("Apply: %+v", opts)
	}
	if opts.WritePolicy != storecache.OnlyRefreshIfCached || !opts.DisableCollections {
		t.Fatalf("Apply policy: %+v", opts)
	}

	opts = storecache.Options[string]{Namespace: "explicit"}
	Apply(c, &opts)
	if opts.Namespace != "explicit" {
		t.Fatalf("Apply must keep an explicit namespace")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]string{
		"STORECACHE_PROVIDER":     {"STORECACHE_PROVIDER": "memcached"},
		"STORECACHE_GENERATION":   {"STORECACHE_GENERATION": "etcd"},
		"STORECACHE_WRITE_POLICY": {"STORECACHE_WRITE_POLICY": "sometimes"},
		"STORECACHE_PAGE_SIZE":    {"STORECACHE_PAGE_SIZE": "-1"},
		"STORECACHE_NAMESPACE":    {"STORECACHE_GENERATION": "redis"},
	}
	for field, environ := range cases {
		_, err := LoadFrom(environ)
		var ce *storecache.ConfigError
		if !errors.As(err, &ce) || ce.Field != field {
			t.Fatalf("%s: want ConfigError, got %v", field, err)
		}
	}

	c, err := LoadFrom(map[string]string{"STORECACHE_PROVIDER": "redis"})
	if err != nil {
		t.Fatal(err)
	}
	c.Redis.Prefix = ""
	var ce *storecache.ConfigError
	if err := c.Validate(); !errors.As(err, &ce) || ce.Field != "STORECACHE_REDIS_PREFIX" {
		t.Fatalf("redis provider without prefix: %v", err)
	}

	if _, err := LoadFrom(map[string]string{"STORECACHE_PAGE_SIZE": "many"}); err == nil {
		t.Fatalf("unparsable value must fail")
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		check func(any) bool
	}{
		{ProviderMemory, func(p any) bool { _, ok := p.(*memprov.Provider); return ok }},
		{ProviderRistretto, func(p any) bool { _, ok := p.(*rprov.Provider); return ok }},
		{ProviderSturdyc, func(p any) bool { _, ok := p.(*sturdyprov.Provider); return ok }},
	}
	for _, tc := range cases {
		c, err := LoadFrom(map[string]string{"STORECACHE_PROVIDER": tc.name})
		if err != nil {
			t.Fatal(err)
		}
		p, err := c.NewProvider(ctx)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !tc.check(p) {
			t.Fatalf("%s: got %T", tc.name, p)
		}
		_ = p.Close(ctx)
	}
}

func TestNewGeneration(t *testing.T) {
	c, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	g, err := c.NewGeneration(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(*generation.Local); !ok {
		t.Fatalf("got %T", g)
	}

	c.Generation = GenerationRedis
	c.Namespace = "user"
	if _, err := c.NewGeneration(nil); err == nil {
		t.Fatalf("redis generation without a client must fail")
	}
}
