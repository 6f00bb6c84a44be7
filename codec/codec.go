// Package codec turns entity values into the payload bytes that storecache
// envelopes carry and that storage/sqlite persists.
package codec

// Codec encodes and decodes values of V. Implementations must be safe for
// concurrent use and Decode must not retain b.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}

// Funcs adapts a pair of functions to Codec.
type Funcs[V any] struct {
	EncodeFunc func(V) ([]byte, error)
	DecodeFunc func([]byte) (V, error)
}

func (f Funcs[V]) Encode(v V) ([]byte, error) { return f.EncodeFunc(v) }
func (f Funcs[V]) Decode(b []byte) (V, error) { return f.DecodeFunc(b) }
