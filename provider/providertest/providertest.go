// Package providertest holds a conformance suite for provider.Provider
// implementations.
package providertest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/storecache/provider"
)

// Caps describe what an implementation supports.
type Caps struct {
	// Settle is called after writes for stores that apply them asynchronously.
	Settle func()
	// Clear is true when the provider implements provider.Clearer usefully.
	Clear bool
}

// Run exercises p. Keys are prefixed with t.Name() so a shared backend can be used.
func Run(t *testing.T, p provider.Provider, caps Caps) {
	t.Helper()
	ctx := context.Background()
	settle := caps.Settle
	if settle == nil {
		settle = func() {}
	}
	k := func(s string) string { return t.Name() + ":" + s }

	if _, ok, err := p.Get(ctx, k("missing")); ok || err != nil {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	want := []byte{0, 1, 2, 'S', 'T', 'C', 'E', 0xff}
	ok, err := p.Set(ctx, k("a"), want, int64(len(want)), time.Minute)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	settle()
	got, ok, err := p.Get(ctx, k("a"))
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes not transparent: got %x want %x", got, want)
	}

	if err := p.Del(ctx, k("a")); err != nil {
		t.Fatalf("Del: %v", err)
	}
	settle()
	if _, ok, _ := p.Get(ctx, k("a")); ok {
		t.Fatalf("key survived Del")
	}
	if err := p.Del(ctx, k("never-set")); err != nil {
		t.Fatalf("Del of missing key must not fail: %v", err)
	}

	if !caps.Clear {
		return
	}
	c, isClearer := p.(provider.Clearer)
	if !isClearer {
		t.Fatalf("%T does not implement provider.Clearer", p)
	}
	for _, s := range []string{"x", "y", "z"} {
		if _, err := p.Set(ctx, k(s), []byte(s), 1, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", s, err)
		}
	}
	settle()
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	settle()
	for _, s := range []string{"x", "y", "z"} {
		if _, ok, _ := p.Get(ctx, k(s)); ok {
			t.Fatalf("key %s survived Clear", s)
		}
	}
}
