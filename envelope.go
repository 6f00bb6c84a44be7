package storecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/internal/wire"
)

// lookup is the outcome of reading one entry.
type lookup uint8

const (
	miss lookup = iota
	hit
	ignored
)

func (e *engine) header(gen [16]byte, epoch uint64) wire.Header {
	return wire.Header{Gen: gen, WrittenAt: e.now().UnixNano(), Epoch: epoch}
}

// writeTTL is the provider TTL of a fresh entry.
func (e *engine) writeTTL() time.Duration {
	if e.slide > 0 && (e.absTTL <= 0 || e.slide < e.absTTL) {
		return e.slide
	}
	return e.absTTL
}

func (e *engine) get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := e.p.Get(ctx, key)
	if err != nil {
		e.log.Warn("cache get failed", Fields{"key": key, "err": err})
		return nil, false
	}
	return raw, ok
}

func (e *engine) put(ctx context.Context, key string, raw []byte, kind EntryKind, items int) bool {
	ok, err := e.p.Set(ctx, key, raw, e.cost(key, raw, kind, items), e.writeTTL())
	if err != nil {
		e.hooks.CacheWriteFailed(key, err)
		e.log.Warn("cache set failed", Fields{"key": key, "err": err})
		return false
	}
	if !ok {
		e.hooks.ProviderSetRejected(key)
		e.log.Debug("cache set rejected by provider", Fields{"key": key})
	}
	return ok
}

func (e *engine) del(ctx context.Context, key string) {
	if err := e.p.Del(ctx, key); err != nil {
		e.hooks.CacheWriteFailed(key, err)
		e.log.Warn("cache delete failed", Fields{"key": key, "err": err})
	}
}

func (e *engine) selfHeal(ctx context.Context, key, reason string) {
	e.del(ctx, key)
	e.hooks.SelfHeal(key, reason)
	e.log.Debug("self-healed entry", Fields{"key": key, "reason": reason})
}

// touch re-arms the sliding TTL of a served entry, capped by what is left
// of the absolute budget.
func (e *engine) touch(ctx context.Context, key string, raw []byte, h wire.Header, kind EntryKind, items int) {
	if e.slide <= 0 {
		return
	}
	ttl := e.slide
	if e.absTTL > 0 {
		left := e.absTTL - e.now().Sub(time.Unix(0, h.WrittenAt))
		if left <= 0 {
			return
		}
		if left < ttl {
			ttl = left
		}
	}
	if _, err := e.p.Set(ctx, key, raw, e.cost(key, raw, kind, items), ttl); err != nil {
		e.log.Warn("sliding ttl refresh failed", Fields{"key": key, "err": err})
	}
}

// corrupt handles envelope bytes that fail to decode.
func (e *engine) corrupt(ctx context.Context, key string, raw []byte, err error) error {
	if e.strict && wire.HasMagic(raw) {
		return corruptError(key, err)
	}
	e.selfHeal(ctx, key, "corrupt")
	return nil
}

// valueCorrupt handles a valid envelope whose payload the codec rejects.
func (e *engine) valueCorrupt(ctx context.Context, key string, err error) error {
	if e.strict {
		return corruptError(key, err)
	}
	e.selfHeal(ctx, key, "value_decode")
	return nil
}

func encodeItems[T any](cd codec.Codec[T], items []T) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, v := range items {
		b, err := cd.Encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func decodeItems[T any](cd codec.Codec[T], raw [][]byte) ([]T, error) {
	out := make([]T, len(raw))
	for i, b := range raw {
		v, err := cd.Decode(b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// loadSingle reads a single-value entry. wantEpoch, when set, rejects
// entries built under another epoch.
func loadSingle[T any](ctx context.Context, e *engine, cd codec.Codec[T], key, id string, wantEpoch *uint64) (T, lookup, error) {
	var zero T
	gen, ok := e.current(ctx)
	if !ok {
		return zero, miss, nil
	}
	raw, ok := e.get(ctx, key)
	if !ok {
		return zero, miss, nil
	}
	s, err := wire.DecodeSingle(raw)
	if err != nil {
		return zero, miss, e.corrupt(ctx, key, raw, err)
	}
	d, err := e.admit(ctx, key, id, s.Header, gen, wantEpoch)
	if err != nil {
		return zero, miss, err
	}
	switch d {
	case Remove:
		return zero, miss, nil
	case Ignore:
		return zero, ignored, nil
	}
	v, err := cd.Decode(s.Payload)
	if err != nil {
		return zero, miss, e.valueCorrupt(ctx, key, err)
	}
	e.touch(ctx, key, raw, s.Header, KindItem, 1)
	return v, hit, nil
}

// storeSingle writes v under key stamped with observed. The write is
// skipped when epoch() already moved past observed and undone when it
// moved while writing.
func storeSingle[T any](ctx context.Context, e *engine, cd codec.Codec[T], key string, v T, epoch func() uint64, observed uint64) bool {
	if epoch() != observed {
		e.hooks.PopulationDeclined(key, "epoch_moved")
		return false
	}
	gen, ok := e.current(ctx)
	if !ok {
		return false
	}
	payload, err := cd.Encode(v)
	if err != nil {
		e.log.Warn("value encode failed", Fields{"key": key, "err": err})
		return false
	}
	raw := wire.EncodeSingle(wire.Single{Header: e.header(gen, observed), Payload: payload})
	if !e.put(ctx, key, raw, KindItem, 1) {
		return false
	}
	if epoch() != observed {
		e.del(ctx, key)
		e.hooks.PopulationDeclined(key, "epoch_moved")
		return false
	}
	return true
}
