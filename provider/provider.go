// Package provider defines the key-value cache that storecache writes
// envelopes into.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// bytes that were passed to Set for the key, without added metadata or
// re-encoding. Transforms such as compression must be fully reversed.
//
// The key families "item:", "all:", "page:", "childrenOf:" and "parentOf:"
// are owned by storecache. Foreign values under them fail envelope
// validation and are deleted.
package provider

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClearUnsupported is returned by a Clearer that cannot clear in its
// current configuration.
var ErrClearUnsupported = errors.New("provider: clear unsupported")

// Provider is a byte store with per-entry TTLs. Safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl; ttl <= 0 means no expiry. Stores may ignore
	// cost. ok=false reports that the store rejected the write.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// Clearer is implemented by providers that can drop every entry at once.
// storecache uses it on Flush when Options.ClearAll is not set.
type Clearer interface {
	Clear(ctx context.Context) error
}
