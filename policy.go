package storecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/storecache/internal/wire"
)

// Decision tells the cache what to do with an entry that passed the
// generation and absolute TTL checks.
type Decision uint8

const (
	// Use serves the entry.
	Use Decision = iota
	// Ignore leaves the entry in place, reads storage and skips the write-back.
	Ignore
	// Remove deletes the entry and reads storage.
	Remove
)

func (d Decision) String() string {
	switch d {
	case Use:
		return "use"
	case Ignore:
		return "ignore"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// EntryKind is the shape of a cached entry.
type EntryKind uint8

const (
	KindItem EntryKind = iota + 1
	KindCollection
	KindPage
)

func (k EntryKind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindCollection:
		return "collection"
	case KindPage:
		return "page"
	default:
		return "unknown"
	}
}

func kindOf(k wire.Kind) EntryKind {
	switch k {
	case wire.KindCollection:
		return KindCollection
	case wire.KindPage:
		return KindPage
	default:
		return KindItem
	}
}

// EntryInfo describes an entry for EntryPolicyFunc. ID is the entity id for
// items and the collection name otherwise.
type EntryInfo struct {
	Key       string
	ID        string
	Kind      EntryKind
	WrittenAt time.Time
}

// EntryPolicyFunc decides whether a fresh-enough entry may be served.
// A returned error is wrapped with ErrPolicy and fails the read.
type EntryPolicyFunc func(ctx context.Context, info EntryInfo) (Decision, error)

// BypassFunc sends a read straight to storage when it returns true. tag is
// Options.TypeTag.
type BypassFunc func(ctx context.Context, tag string) bool

// admit runs the fixed checks and then the entry policy. A Remove decision
// has already been applied when admit returns.
func (e *engine) admit(ctx context.Context, key, id string, h wire.Header, gen [16]byte, wantEpoch *uint64) (Decision, error) {
	if h.Gen != gen {
		e.selfHeal(ctx, key, "gen_mismatch")
		return Remove, nil
	}
	writtenAt := time.Unix(0, h.WrittenAt)
	if e.absTTL > 0 && e.now().Sub(writtenAt) >= e.absTTL {
		e.selfHeal(ctx, key, "expired")
		return Remove, nil
	}
	if wantEpoch != nil && h.Epoch != *wantEpoch {
		e.selfHeal(ctx, key, "epoch_mismatch")
		return Remove, nil
	}
	if e.policy == nil {
		return Use, nil
	}
	d, err := e.policy(ctx, EntryInfo{Key: key, ID: id, Kind: kindOf(h.Kind), WrittenAt: writtenAt})
	if err != nil {
		return Remove, policyError(key, err)
	}
	if d == Remove {
		e.selfHeal(ctx, key, "policy")
	}
	return d, nil
}

func (e *engine) bypassed(ctx context.Context) bool {
	if e.bypass == nil || !e.bypass(ctx, e.tag) {
		return false
	}
	e.hooks.Bypassed(e.tag)
	return true
}
