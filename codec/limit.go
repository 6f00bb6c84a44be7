package codec

import "github.com/cockroachdb/errors"

// ErrTooLarge is returned by Limit when a payload exceeds its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit bounds the size of payloads on both sides of Inner. Entries shared
// through a remote provider are untrusted input; a bound keeps a poisoned
// key from forcing a huge allocation in Decode. Zero disables a side.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, errors.Wrapf(ErrTooLarge, "encode %d > %d", len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, errors.Wrapf(ErrTooLarge, "decode %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
