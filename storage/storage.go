// Package storage defines the authoritative CRUD surface that storecache
// decorates. Implementations must be safe for concurrent use.
//
// Implementations report missing entities with an error for which
// errors.Is(err, ErrNotFound) holds, and duplicate creates with one matching
// ErrConflict. Use errors.Mark to attach the kind to a descriptive error:
//
//	return errors.Mark(errors.Newf("user %q not found", id), storage.ErrNotFound)
package storage

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

// Storage is the CRUD surface of one entity type. A limit <= 0 means unbounded.
type Storage[V any] interface {
	// Create stores item under a storage-assigned identifier and returns it.
	Create(ctx context.Context, item V) (string, error)
	// CreateAndReturn stores item and returns the stored entity.
	CreateAndReturn(ctx context.Context, item V) (V, error)
	// CreateWithID stores item under a caller supplied identifier.
	CreateWithID(ctx context.Context, id string, item V) error

	Read(ctx context.Context, id string) (V, error)
	Update(ctx context.Context, id string, item V) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	ReadAll(ctx context.Context, limit int) ([]V, error)
	ReadAllPaged(ctx context.Context, offset, limit int) (Page[V], error)
}

// Relation is a one-to-many relation between parents P and children C.
type Relation[P, C any] interface {
	ReadChildren(ctx context.Context, parentID string, limit int) ([]C, error)
	ReadChildrenPaged(ctx context.Context, parentID string, offset, limit int) (Page[C], error)
	ReadParent(ctx context.Context, childID string) (P, error)
	DeleteChildren(ctx context.Context, parentID string) error
}

// Page is one offset/limit slice of a collection. Total is nil when unknown.
type Page[V any] struct {
	Items    []V  `json:"items"`
	Offset   int  `json:"offset"`
	Limit    int  `json:"limit"`
	Returned int  `json:"returned"`
	Total    *int `json:"total,omitempty"`
}

// NewPage builds a Page and fills Returned from items.
func NewPage[V any](items []V, offset, limit int, total *int) Page[V] {
	return Page[V]{Items: items, Offset: offset, Limit: limit, Returned: len(items), Total: total}
}

// IsNotFound reports whether err carries the ErrNotFound kind.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err carries the ErrConflict kind.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
