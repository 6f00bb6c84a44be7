package storecache

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/internal/keyspace"
	"github.com/unkn0wn-root/storecache/storage"
	"github.com/unkn0wn-root/storecache/storage/memory"
)

type post struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

type relFixture struct {
	users  *Cached[user]
	posts  *Cached[post]
	userDB *memory.Store[user]
	postDB *memory.Store[post]
	rel    *memory.Relation[user, post]
	cached *CachedRelation[user, post]
	mp     *memProvider
}

func newRelFixture(t *testing.T, mutate ...func(*Options[post])) *relFixture {
	t.Helper()
	f := &relFixture{mp: newMemProvider()}
	f.userDB = newUserStore(map[string]user{
		"u1": {ID: "u1", Name: "ann"},
		"u2": {ID: "u2", Name: "bob"},
	})
	f.postDB = memory.New(map[string]post{
		"p1": {ID: "p1", UserID: "u1", Title: "a"},
		"p2": {ID: "p2", UserID: "u1", Title: "b"},
		"p3": {ID: "p3", UserID: "u2", Title: "c"},
	}, memory.Options[post]{
		IDOf:   func(p post) string { return p.ID },
		WithID: func(p post, id string) post { p.ID = id; return p },
	})
	f.rel = memory.NewRelation(f.userDB, f.postDB, func(p post) string { return p.UserID })

	var err error
	f.users, err = New[user](f.userDB, Options[user]{
		Namespace: "user", Provider: f.mp, Codec: codec.JSON[user]{}, IDOf: userID,
	})
	if err != nil {
		t.Fatal(err)
	}
	postOpts := Options[post]{
		Namespace: "post", Provider: f.mp, Codec: codec.JSON[post]{}, IDOf: func(p post) string { return p.ID },
	}
	for _, m := range mutate {
		m(&postOpts)
	}
	f.posts, err = New[post](f.postDB, postOpts)
	if err != nil {
		t.Fatal(err)
	}
	f.cached, err = NewRelation("author", f.users, f.posts, f.rel)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = f.users.Close(context.Background())
		_ = f.posts.Close(context.Background())
	})
	return f
}

func (f *relFixture) wait() {
	f.users.wait()
	f.posts.wait()
}

func TestReadChildrenCached(t *testing.T) {
	ctx := context.Background()
	f := newRelFixture(t)

	for i := 0; i < 2; i++ {
		kids, err := f.cached.ReadChildren(ctx, "u1", 0)
		if err != nil || len(kids) != 2 || kids[0].ID != "p1" {
			t.Fatalf("ReadChildren: %+v err=%v", kids, err)
		}
		f.wait()
	}
	if n := f.rel.Calls(memory.OpReadChildren); n != 1 {
		t.Fatalf("relation calls=%d want 1", n)
	}
	if _, err := f.posts.Read(ctx, "p2"); err != nil || f.postDB.Calls(memory.OpRead) != 0 {
		t.Fatalf("children must be cached as items, reads=%d err=%v", f.postDB.Calls(memory.OpRead), err)
	}

	p, err := f.cached.ReadChildrenPaged(ctx, "u1", 0, 50)
	if err != nil || p.Returned != 2 || p.Total == nil || *p.Total != 2 {
		t.Fatalf("ReadChildrenPaged: %+v err=%v", p, err)
	}
	if n := f.rel.Calls(memory.OpReadChildrenPaged); n != 0 {
		t.Fatalf("children page must come from the snapshot, calls=%d", n)
	}
}

func TestChildMutationInvalidatesList(t *testing.T) {
	ctx := context.Background()
	f := newRelFixture(t)
	if _, err := f.cached.ReadChildren(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	f.wait()

	if err := f.posts.CreateWithID(ctx, "p4", post{ID: "p4", UserID: "u1", Title: "d"}); err != nil {
		t.Fatal(err)
	}
	kids, err := f.cached.ReadChildren(ctx, "u1", 0)
	if err != nil || len(kids) != 3 {
		t.Fatalf("stale children list: %+v err=%v", kids, err)
	}
	if n := f.rel.Calls(memory.OpReadChildren); n != 2 {
		t.Fatalf("relation calls=%d want 2", n)
	}
}

func TestParentMutationInvalidatesList(t *testing.T) {
	ctx := context.Background()
	f := newRelFixture(t)
	if _, err := f.cached.ReadChildren(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	f.wait()
	if err := f.users.Update(ctx, "u1", user{ID: "u1", Name: "ann2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cached.ReadChildren(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	if n := f.rel.Calls(memory.OpReadChildren); n != 2 {
		t.Fatalf("parent mutation must invalidate the list, calls=%d", n)
	}
}

func TestReadParentCachesBothKeys(t *testing.T) {
	ctx := context.Background()
	f := newRelFixture(t)

	for i := 0; i < 2; i++ {
		u, err := f.cached.ReadParent(ctx, "p3")
		if err != nil || u.ID != "u2" {
			t.Fatalf("ReadParent: %+v err=%v", u, err)
		}
	}
	if n := f.rel.Calls(memory.OpReadParent); n != 1 {
		t.Fatalf("relation calls=%d want 1", n)
	}
	if _, err := f.users.Read(ctx, "u2"); err != nil || f.userDB.Calls(memory.OpRead) != 0 {
		t.Fatalf("parent must be cached under its item key")
	}

	if err := f.users.Update(ctx, "u2", user{ID: "u2", Name: "robert"}); err != nil {
		t.Fatal(err)
	}
	u, err := f.cached.ReadParent(ctx, "p3")
	if err != nil || u.Name != "robert" {
		t.Fatalf("stale parent: %+v err=%v", u, err)
	}
	if n := f.rel.Calls(memory.OpReadParent); n != 2 {
		t.Fatalf("relation calls=%d want 2", n)
	}
}

func TestReadParentIgnoredIsRefreshed(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	f := newRelFixture(t, func(o *Options[post]) {
		o.Now = clk.Now
		o.EntryPolicy = func(_ context.Context, info EntryInfo) (Decision, error) {
			if info.Key == keyspace.ParentOf("post", "author", "p3") && clk.Now().Sub(info.WrittenAt) > time.Minute {
				return Ignore, nil
			}
			return Use, nil
		}
	})

	calls := []int{}
	for _, advance := range []time.Duration{0, 0, 2 * time.Minute, 0} {
		clk.Advance(advance)
		if u, err := f.cached.ReadParent(ctx, "p3"); err != nil || u.ID != "u2" {
			t.Fatalf("ReadParent: %+v err=%v", u, err)
		}
		calls = append(calls, f.rel.Calls(memory.OpReadParent))
	}
	if !slices.Equal(calls, []int{1, 1, 2, 2}) {
		t.Fatalf("relation calls: got %v want [1 1 2 2]", calls)
	}
}

func TestDeleteChildren(t *testing.T) {
	ctx := context.Background()
	f := newRelFixture(t)
	if _, err := f.cached.ReadChildren(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cached.ReadParent(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	f.wait()

	if err := f.cached.DeleteChildren(ctx, "u1"); err != nil {
		t.Fatalf("DeleteChildren: %v", err)
	}
	f.wait()

	for _, key := range []string{
		keyspace.Item("post", "p1"),
		keyspace.Item("post", "p2"),
		keyspace.ChildrenOf("post", "author", "u1"),
		keyspace.ParentOf("post", "author", "p1"),
		keyspace.Page("post", keyspace.ChildrenCollection("author", "u1"), 0, 50),
	} {
		if f.mp.has(key) {
			t.Fatalf("%s survived DeleteChildren", key)
		}
	}
	if !f.mp.has(keyspace.Item("user", "u1")) {
		t.Fatalf("parent entry must be kept")
	}
	if kids, err := f.cached.ReadChildren(ctx, "u1", 0); err != nil || len(kids) != 0 {
		t.Fatalf("ReadChildren after delete: %+v err=%v", kids, err)
	}
	if _, err := f.posts.Read(ctx, "p1"); !storage.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	if _, err := f.posts.Read(ctx, "p3"); err != nil {
		t.Fatalf("other parent's children must survive: %v", err)
	}
}

func TestNewRelationValidates(t *testing.T) {
	f := newRelFixture(t)
	if _, err := NewRelation[user, post]("", f.users, f.posts, f.rel); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if _, err := NewRelation[user, post]("x", f.users, f.posts, nil); err == nil {
		t.Fatalf("nil relation must be rejected")
	}
}
