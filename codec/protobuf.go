package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
)

// Protobuf encodes proto messages. New returns an empty message to decode into.
type Protobuf[T proto.Message] struct {
	New           func() T
	Deterministic bool
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{New: ctor, Deterministic: true}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: c.Deterministic}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.New == nil {
		var zero T
		return zero, errors.New("codec: Protobuf.New is nil")
	}
	m := c.New()
	if err := proto.Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
