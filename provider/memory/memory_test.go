package memory

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/storecache/provider/providertest"
)

func TestConformance(t *testing.T) {
	providertest.Run(t, New(), providertest.Caps{Clear: true})
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	p := New(WithClock(func() time.Time { return now }))

	_, _ = p.Set(ctx, "k", []byte("v"), 1, time.Second)
	_, _ = p.Set(ctx, "forever", []byte("v"), 1, 0)

	now = now.Add(999 * time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expired too early")
	}
	now = now.Add(time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("entry must expire at its deadline")
	}
	if p.Len() != 1 {
		t.Fatalf("expired entry should be dropped on read, len=%d", p.Len())
	}
	now = now.Add(24 * time.Hour)
	if _, ok, _ := p.Get(ctx, "forever"); !ok {
		t.Fatalf("ttl<=0 means no expiry")
	}
}

func TestCopiesValues(t *testing.T) {
	ctx := context.Background()
	p := New()
	in := []byte("abc")
	_, _ = p.Set(ctx, "k", in, 1, 0)
	in[0] = 'z'
	out, _, _ := p.Get(ctx, "k")
	if string(out) != "abc" {
		t.Fatalf("Set must copy: %q", out)
	}
	out[1] = 'z'
	again, _, _ := p.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("Get must copy: %q", again)
	}
}

func TestMaxEntriesRejects(t *testing.T) {
	ctx := context.Background()
	p := New(WithMaxEntries(1))
	if ok, _ := p.Set(ctx, "a", []byte("1"), 1, 0); !ok {
		t.Fatalf("first set rejected")
	}
	if ok, _ := p.Set(ctx, "b", []byte("2"), 1, 0); ok {
		t.Fatalf("second key should be rejected when full")
	}
	if ok, _ := p.Set(ctx, "a", []byte("3"), 1, 0); !ok {
		t.Fatalf("overwrite of a held key must be accepted")
	}
	if keys := p.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("keys: %v", keys)
	}
}
