// Package memory is an in-process reference implementation of storage.Storage
// and storage.Relation. It keeps entities in a map owned by the caller and
// counts every operation, which makes it the backing store of choice in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/storecache/storage"
)

// Op names a counted storage operation.
type Op string

const (
	OpCreate            Op = "create"
	OpCreateAndReturn   Op = "create_and_return"
	OpCreateWithID      Op = "create_with_id"
	OpRead              Op = "read"
	OpUpdate            Op = "update"
	OpDelete            Op = "delete"
	OpDeleteAll         Op = "delete_all"
	OpReadAll           Op = "read_all"
	OpReadAllPaged      Op = "read_all_paged"
	OpReadChildren      Op = "read_children"
	OpReadChildrenPaged Op = "read_children_paged"
	OpReadParent        Op = "read_parent"
	OpDeleteChildren    Op = "delete_children"
)

type counter struct {
	mu    sync.Mutex
	calls map[Op]int
}

func (c *counter) inc(op Op) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[Op]int)
	}
	c.calls[op]++
	c.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (c *counter) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Options configure a Store.
type Options[V any] struct {
	// IDOf returns the identifier of an entity. Required.
	IDOf func(V) string
	// WithID returns item carrying id. Used by Create and CreateAndReturn to
	// stamp generated identifiers; nil stores the item unchanged.
	WithID func(item V, id string) V
	// NewID generates identifiers. Defaults to uuid.NewString.
	NewID func() string
}

// Store keeps entities in insertion order.
type Store[V any] struct {
	counter

	mu     sync.RWMutex
	items  map[string]V
	order  []string
	idOf   func(V) string
	withID func(V, string) V
	newID  func() string
}

var _ storage.Storage[struct{}] = (*Store[struct{}])(nil)

// New returns a Store backed by items. The map is owned by the store from
// now on; pass nil for an empty store. Seed entries are ordered by key.
func New[V any](items map[string]V, opts Options[V]) *Store[V] {
	if opts.IDOf == nil {
		panic("memory: Options.IDOf is required")
	}
	if items == nil {
		items = make(map[string]V)
	}
	order := make([]string, 0, len(items))
	for id := range items {
		order = append(order, id)
	}
	sort.Strings(order)

	s := &Store[V]{
		items:  items,
		order:  order,
		idOf:   opts.IDOf,
		withID: opts.WithID,
		newID:  opts.NewID,
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Len returns the number of stored entities.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func notFound(id string) error {
	return errors.Mark(errors.Newf("memory: %q not found", id), storage.ErrNotFound)
}

func conflict(id string) error {
	return errors.Mark(errors.Newf("memory: %q already exists", id), storage.ErrConflict)
}

func (s *Store[V]) insert(id string, item V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return conflict(id)
	}
	s.items[id] = item
	s.order = append(s.order, id)
	return nil
}

func (s *Store[V]) stamp(item V) (string, V) {
	id := s.newID()
	if s.withID != nil {
		item = s.withID(item, id)
	}
	return id, item
}

func (s *Store[V]) Create(ctx context.Context, item V) (string, error) {
	s.inc(OpCreate)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, item := s.stamp(item)
	if err := s.insert(id, item); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store[V]) CreateAndReturn(ctx context.Context, item V) (V, error) {
	s.inc(OpCreateAndReturn)
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	id, item := s.stamp(item)
	if err := s.insert(id, item); err != nil {
		return zero, err
	}
	return item, nil
}

func (s *Store[V]) CreateWithID(ctx context.Context, id string, item V) error {
	s.inc(OpCreateWithID)
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.insert(id, item)
}

func (s *Store[V]) Read(ctx context.Context, id string) (V, error) {
	s.inc(OpRead)
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	if !ok {
		return zero, notFound(id)
	}
	return v, nil
}

func (s *Store[V]) Update(ctx context.Context, id string, item V) error {
	s.inc(OpUpdate)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return notFound(id)
	}
	s.items[id] = item
	return nil
}

func (s *Store[V]) Delete(ctx context.Context, id string) error {
	s.inc(OpDelete)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store[V]) deleteLocked(id string) error {
	if _, ok := s.items[id]; !ok {
		return notFound(id)
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store[V]) DeleteAll(ctx context.Context) error {
	s.inc(OpDeleteAll)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	clear(s.items)
	s.order = s.order[:0]
	s.mu.Unlock()
	return nil
}

// slice returns items [offset, offset+limit) in insertion order and the total.
func (s *Store[V]) slice(offset, limit int, keep func(V) bool) ([]V, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	total := 0
	for _, id := range s.order {
		v := s.items[id]
		if keep != nil && !keep(v) {
			continue
		}
		if total >= offset && (limit <= 0 || len(out) < limit) {
			out = append(out, v)
		}
		total++
	}
	if out == nil {
		out = []V{}
	}
	return out, total
}

func (s *Store[V]) ReadAll(ctx context.Context, limit int) ([]V, error) {
	s.inc(OpReadAll)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, _ := s.slice(0, limit, nil)
	return items, nil
}

func (s *Store[V]) ReadAllPaged(ctx context.Context, offset, limit int) (storage.Page[V], error) {
	s.inc(OpReadAllPaged)
	if err := ctx.Err(); err != nil {
		return storage.Page[V]{}, err
	}
	items, total := s.slice(offset, limit, nil)
	return storage.NewPage(items, offset, limit, &total), nil
}

// Relation links children to parents through a parent id stored on the child.
type Relation[P, C any] struct {
	counter

	parents    *Store[P]
	children   *Store[C]
	parentIDOf func(C) string
}

var _ storage.Relation[struct{}, struct{}] = (*Relation[struct{}, struct{}])(nil)

func NewRelation[P, C any](parents *Store[P], children *Store[C], parentIDOf func(C) string) *Relation[P, C] {
	return &Relation[P, C]{parents: parents, children: children, parentIDOf: parentIDOf}
}

func (r *Relation[P, C]) of(parentID string) func(C) bool {
	return func(c C) bool { return r.parentIDOf(c) == parentID }
}

func (r *Relation[P, C]) ReadChildren(ctx context.Context, parentID string, limit int) ([]C, error) {
	r.inc(OpReadChildren)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, _ := r.children.slice(0, limit, r.of(parentID))
	return items, nil
}

func (r *Relation[P, C]) ReadChildrenPaged(ctx context.Context, parentID string, offset, limit int) (storage.Page[C], error) {
	r.inc(OpReadChildrenPaged)
	if err := ctx.Err(); err != nil {
		return storage.Page[C]{}, err
	}
	items, total := r.children.slice(offset, limit, r.of(parentID))
	return storage.NewPage(items, offset, limit, &total), nil
}

func (r *Relation[P, C]) ReadParent(ctx context.Context, childID string) (P, error) {
	r.inc(OpReadParent)
	var zero P
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.children.mu.RLock()
	child, ok := r.children.items[childID]
	r.children.mu.RUnlock()
	if !ok {
		return zero, notFound(childID)
	}
	parentID := r.parentIDOf(child)
	r.parents.mu.RLock()
	defer r.parents.mu.RUnlock()
	p, ok := r.parents.items[parentID]
	if !ok {
		return zero, notFound(parentID)
	}
	return p, nil
}

func (r *Relation[P, C]) DeleteChildren(ctx context.Context, parentID string) error {
	r.inc(OpDeleteChildren)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.children.mu.Lock()
	defer r.children.mu.Unlock()
	var ids []string
	for _, id := range r.children.order {
		if r.parentIDOf(r.children.items[id]) == parentID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		_ = r.children.deleteLocked(id)
	}
	return nil
}
