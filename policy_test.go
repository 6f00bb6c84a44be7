package storecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/storecache/generation"
	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/storage/memory"
)

// ==============================
// Staleness
// ==============================

func TestAbsoluteTTLBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) { o.AbsoluteTTL = time.Minute })

	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute - time.Nanosecond)
	if _, err := f.cache.Read(ctx, "u0000"); err != nil || f.reads() != 1 {
		t.Fatalf("entry just inside the budget must be fresh, reads=%d err=%v", f.reads(), err)
	}
	f.clock.Advance(time.Nanosecond)
	if _, err := f.cache.Read(ctx, "u0000"); err != nil || f.reads() != 2 {
		t.Fatalf("entry at the budget must be stale, reads=%d err=%v", f.reads(), err)
	}
	if f.hooks.healed("expired") != 1 {
		t.Fatalf("expired self-heal not reported")
	}
}

func TestNegativeAbsoluteTTLDisablesExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) { o.AbsoluteTTL = -1 })
	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	if ttl := f.mp.ttl(keyspace.Item("user", "u0000")); ttl != 0 {
		t.Fatalf("provider ttl: got %v want 0", ttl)
	}
	f.clock.Advance(1000 * time.Hour)
	if _, err := f.cache.Read(ctx, "u0000"); err != nil || f.reads() != 1 {
		t.Fatalf("entry must not expire, reads=%d err=%v", f.reads(), err)
	}
}

func TestSlidingTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		o.AbsoluteTTL = 10 * time.Minute
		o.SlidingTTL = time.Minute
	})
	key := keyspace.Item("user", "u0000")

	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	if got := f.mp.ttl(key); got != time.Minute {
		t.Fatalf("write ttl: got %v want 1m", got)
	}
	f.clock.Advance(9*time.Minute + 30*time.Second)
	if _, err := f.cache.Read(ctx, "u0000"); err != nil || f.reads() != 1 {
		t.Fatalf("Read: reads=%d err=%v", f.reads(), err)
	}
	if got := f.mp.ttl(key); got != 30*time.Second {
		t.Fatalf("touch must be capped by the absolute budget: got %v", got)
	}
}

func TestSlidingTTLLongerThanAbsolute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		o.AbsoluteTTL = time.Minute
		o.SlidingTTL = time.Hour
	})
	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	if got := f.mp.ttl(keyspace.Item("user", "u0000")); got != time.Minute {
		t.Fatalf("write ttl: got %v want 1m", got)
	}
}

func TestGenerationRotationInvalidates(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewLocal()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) { o.Generation = gen })

	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Rotate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cache.Read(ctx, "u0000"); err != nil || f.reads() != 2 {
		t.Fatalf("rotated generation must miss, reads=%d err=%v", f.reads(), err)
	}
	if f.hooks.healed("gen_mismatch") != 1 {
		t.Fatalf("gen_mismatch not reported")
	}
}

func TestSharedGenerationFlushesPeers(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewLocal()
	noClear := func(context.Context) error { return nil }
	a := newFixture(t, seedUsers(1), func(o *Options[user]) { o.Generation = gen; o.ClearAll = noClear })
	b, err := New[user](a.store, Options[user]{
		Namespace: "user", Provider: a.mp, Codec: a.cache.codec, IDOf: userID,
		Generation: gen, ClearAll: noClear,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(ctx)

	if _, err := a.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := a.cache.Read(ctx, "u0000"); err != nil || a.reads() != 2 {
		t.Fatalf("peer flush must invalidate, reads=%d err=%v", a.reads(), err)
	}
}

// ==============================
// Entry policy and bypass
// ==============================

// ignoreAged ignores entries of kind written more than a minute before now.
func ignoreAged(kind EntryKind, now func() time.Time) EntryPolicyFunc {
	return func(_ context.Context, info EntryInfo) (Decision, error) {
		if info.Kind == kind && now().Sub(info.WrittenAt) > time.Minute {
			return Ignore, nil
		}
		return Use, nil
	}
}

func TestEntryPolicyIgnore(t *testing.T) {
	ctx := context.Background()
	var infos []EntryInfo
	var mu sync.Mutex
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		aged := ignoreAged(KindItem, o.Now)
		o.EntryPolicy = func(ctx context.Context, info EntryInfo) (Decision, error) {
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
			return aged(ctx, info)
		}
	})
	start := f.clock.Now()

	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := f.cache.Read(ctx, "u0000"); err != nil {
			t.Fatal(err)
		}
	}
	if f.reads() != 2 || f.mp.setCount() != 2 {
		t.Fatalf("ignored entry must be replaced by the storage value: reads=%d sets=%d", f.reads(), f.mp.setCount())
	}
	if f.hooks.healed("policy") != 0 {
		t.Fatalf("Ignore must not evict the entry")
	}
	if len(infos) != 2 {
		t.Fatalf("policy calls=%d want 2", len(infos))
	}
	info := infos[0]
	if info.Kind != KindItem || info.ID != "u0000" || !info.WrittenAt.Equal(start) || info.Key != keyspace.Item("user", "u0000") {
		t.Fatalf("unexpected entry info %+v", info)
	}
	if !infos[1].WrittenAt.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("second lookup must see the rewritten entry, got %v", infos[1].WrittenAt)
	}
}

func TestEntryPolicyRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		o.EntryPolicy = func(context.Context, EntryInfo) (Decision, error) { return Remove, nil }
	})
	for i := 0; i < 2; i++ {
		if _, err := f.cache.Read(ctx, "u0000"); err != nil {
			t.Fatal(err)
		}
	}
	if f.reads() != 2 || f.hooks.healed("policy") != 1 || f.mp.setCount() != 2 {
		t.Fatalf("Remove: reads=%d healed=%d sets=%d", f.reads(), f.hooks.healed("policy"), f.mp.setCount())
	}
}

func TestEntryPolicyError(t *testing.T) {
	ctx := context.Background()
	errDenied := errors.New("denied")
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		o.EntryPolicy = func(context.Context, EntryInfo) (Decision, error) { return Use, errDenied }
	})
	if _, err := f.cache.Read(ctx, "u0000"); err != nil {
		t.Fatal(err)
	}
	_, err := f.cache.Read(ctx, "u0000")
	if !errors.Is(err, ErrPolicy) || !errors.Is(err, errDenied) {
		t.Fatalf("want ErrPolicy wrapping the policy error, got %v", err)
	}
}

func TestEntryPolicyIgnoredSnapshotIsRepopulated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(3), func(o *Options[user]) { o.EntryPolicy = ignoreAged(KindCollection, o.Now) })

	if _, err := f.cache.ReadAll(ctx, 0); err != nil {
		t.Fatal(err)
	}
	f.cache.wait()
	f.clock.Advance(2 * time.Minute)
	if _, err := f.cache.ReadAll(ctx, 0); err != nil {
		t.Fatal(err)
	}
	f.cache.wait()
	if n := f.store.Calls(memory.OpReadAll); n != 2 {
		t.Fatalf("ignored snapshot must fall through to storage, calls=%d", n)
	}
	if f.hooks.completions() != 2 {
		t.Fatalf("ignored snapshot must be repopulated, completions=%d", f.hooks.completions())
	}

	got, err := f.cache.ReadAll(ctx, 0)
	if err != nil || len(got) != 3 {
		t.Fatalf("ReadAll: %v err=%v", ids(got), err)
	}
	if n := f.store.Calls(memory.OpReadAll); n != 2 {
		t.Fatalf("fresh snapshot must be served, calls=%d", n)
	}
}

func TestEntryPolicyIgnoredPageIsRepopulated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(30), func(o *Options[user]) { o.EntryPolicy = ignoreAged(KindPage, o.Now) })

	read := func() {
		t.Helper()
		p, err := f.cache.ReadAllPaged(ctx, 10, 5)
		if err != nil || p.Returned != 5 || p.Items[0].ID != "u0010" || p.Total == nil || *p.Total != 30 {
			t.Fatalf("ReadAllPaged(10,5): %+v err=%v", p, err)
		}
		f.cache.wait()
	}
	read()
	f.clock.Advance(2 * time.Minute)
	read()
	if n := f.store.Calls(memory.OpReadAllPaged); n != 2 {
		t.Fatalf("ignored page must fall through to storage, calls=%d", n)
	}
	read()
	if n := f.store.Calls(memory.OpReadAllPaged); n != 2 {
		t.Fatalf("repopulated page must be served, calls=%d", n)
	}
}

func TestBypass(t *testing.T) {
	ctx := context.Background()
	var tags []string
	f := newFixture(t, seedUsers(2), func(o *Options[user]) {
		o.Bypass = func(_ context.Context, tag string) bool {
			tags = append(tags, tag)
			return true
		}
	})
	for i := 0; i < 2; i++ {
		if _, err := f.cache.Read(ctx, "u0000"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.cache.ReadAll(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if f.reads() != 2 || f.mp.setCount() != 0 {
		t.Fatalf("bypassed reads must not touch the cache: reads=%d sets=%d", f.reads(), f.mp.setCount())
	}
	if f.hooks.bypassed != 3 || tags[0] != "storecache.user" {
		t.Fatalf("bypassed=%d tags=%v", f.hooks.bypassed, tags)
	}
}

func TestBypassUsesTypeTag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seedUsers(1), func(o *Options[user]) {
		o.TypeTag = "accounts"
		o.Bypass = func(_ context.Context, tag string) bool { return tag == "orders" }
	})
	for i := 0; i < 2; i++ {
		if _, err := f.cache.Read(ctx, "u0000"); err != nil {
			t.Fatal(err)
		}
	}
	if f.reads() != 1 {
		t.Fatalf("non-matching tag must use the cache, reads=%d", f.reads())
	}
}

func TestComputeSetCostSeesKinds(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	kinds := map[EntryKind]int{}
	f := newFixture(t, seedUsers(3), func(o *Options[user]) {
		o.ComputeSetCost = func(_ string, raw []byte, kind EntryKind, items int) int64 {
			mu.Lock()
			kinds[kind] += items
			mu.Unlock()
			return int64(len(raw))
		}
	})
	if _, err := f.cache.ReadAll(ctx, 0); err != nil {
		t.Fatal(err)
	}
	f.cache.wait()
	mu.Lock()
	defer mu.Unlock()
	if kinds[KindItem] != 3 || kinds[KindCollection] != 3 || kinds[KindPage] != 3 {
		t.Fatalf("cost calls by kind: %v", kinds)
	}
}
