package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	headerLen = 4 + 1 + 1 + 16 + 8 + 8
)

// Kind tells which body follows the common header.
type Kind byte

const (
	KindSingle     Kind = 1
	KindCollection Kind = 2
	KindPage       Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindCollection:
		return "collection"
	case KindPage:
		return "page"
	default:
		return "unknown"
	}
}

const (
	flagComplete  byte = 1 << 0
	flagTruncated byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("storecache: corrupt entry")
	magic4     = [...]byte{'S', 'T', 'C', 'E'}
)

// HasMagic reports whether b starts with the envelope magic. Bytes that carry
// the magic were written by this module.
func HasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Header is shared by every envelope kind.
//
//	magic(4) | ver(1) | kind(1) | gen(16) | writtenAt(i64 be, unix nanos) | epoch(u64 be)
type Header struct {
	Kind      Kind
	Gen       [16]byte
	WrittenAt int64
	Epoch     uint64
}

// Single: header | vlen(u32 be) | payload(vlen)
type Single struct {
	Header
	Payload []byte
}

// Collection: header | limit(i64 be) | flags(1) | n(u32 be) | (vlen(u32 be) | payload)*n
//
// Complete is set when the snapshot holds every item of the collection.
type Collection struct {
	Header
	Limit    int64
	Complete bool
	Items    [][]byte
}

// Page: header | offset(i64 be) | limit(i64 be) | total(i64 be, -1 unknown) | flags(1) | n(u32 be) | items
type Page struct {
	Header
	Offset    int64
	Limit     int64
	Total     int64
	Truncated bool
	Items     [][]byte
}

type writer struct {
	buf bytes.Buffer
	u8  [8]byte
	u4  [4]byte
}

func (w *writer) header(h Header, kind Kind) {
	w.buf.Write(magic4[:])
	w.buf.WriteByte(version)
	w.buf.WriteByte(byte(kind))
	w.buf.Write(h.Gen[:])
	w.i64(h.WrittenAt)
	w.u64(h.Epoch)
}

func (w *writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.u8[:], v)
	w.buf.Write(w.u8[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) u32(v uint32) {
	binary.BigEndian.PutUint32(w.u4[:], v)
	w.buf.Write(w.u4[:])
}

func (w *writer) blob(p []byte) {
	w.u32(uint32(len(p)))
	w.buf.Write(p)
}

func (w *writer) items(items [][]byte) {
	w.u32(uint32(len(items)))
	for _, it := range items {
		w.blob(it)
	}
}

func itemsLen(items [][]byte) int {
	n := 4
	for _, it := range items {
		n += 4 + len(it)
	}
	return n
}

func EncodeSingle(s Single) []byte {
	var w writer
	w.buf.Grow(headerLen + 4 + len(s.Payload))
	w.header(s.Header, KindSingle)
	w.blob(s.Payload)
	return w.buf.Bytes()
}

func EncodeCollection(c Collection) []byte {
	var w writer
	w.buf.Grow(headerLen + 8 + 1 + itemsLen(c.Items))
	w.header(c.Header, KindCollection)
	w.i64(c.Limit)
	var flags byte
	if c.Complete {
		flags |= flagComplete
	}
	w.buf.WriteByte(flags)
	w.items(c.Items)
	return w.buf.Bytes()
}

func EncodePage(p Page) []byte {
	var w writer
	w.buf.Grow(headerLen + 8*3 + 1 + itemsLen(p.Items))
	w.header(p.Header, KindPage)
	w.i64(p.Offset)
	w.i64(p.Limit)
	w.i64(p.Total)
	var flags byte
	if p.Truncated {
		flags |= flagTruncated
	}
	w.buf.WriteByte(flags)
	w.items(p.Items)
	return w.buf.Bytes()
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.off { // overflow-safe bound check
		r.err = ErrCorrupt
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (r *reader) byte1() byte {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) blob() []byte {
	n := int(r.u32())
	return r.take(n)
}

func (r *reader) items() [][]byte {
	n := int(r.u32())
	if r.err != nil {
		return nil
	}
	// every item costs at least its 4 byte length prefix
	if n > (len(r.b)-r.off)/4 {
		r.err = ErrCorrupt
		return nil
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		it := r.blob()
		if r.err != nil {
			return nil
		}
		out = append(out, it)
	}
	return out
}

// done fails on trailing bytes (strict framing).
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return ErrCorrupt
	}
	return nil
}

// DecodeHeader validates and returns the common header without decoding the body.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen || !HasMagic(b) || b[4] != version {
		return Header{}, ErrCorrupt
	}
	var h Header
	h.Kind = Kind(b[5])
	copy(h.Gen[:], b[6:22])
	h.WrittenAt = int64(binary.BigEndian.Uint64(b[22:30]))
	h.Epoch = binary.BigEndian.Uint64(b[30:38])
	return h, nil
}

func open(b []byte, kind Kind) (Header, *reader, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	if h.Kind != kind {
		return Header{}, nil, ErrCorrupt
	}
	return h, &reader{b: b, off: headerLen}, nil
}

func DecodeSingle(b []byte) (Single, error) {
	h, r, err := open(b, KindSingle)
	if err != nil {
		return Single{}, err
	}
	payload := r.blob()
	if err := r.done(); err != nil {
		return Single{}, err
	}
	return Single{Header: h, Payload: payload}, nil
}

func DecodeCollection(b []byte) (Collection, error) {
	h, r, err := open(b, KindCollection)
	if err != nil {
		return Collection{}, err
	}
	c := Collection{Header: h}
	c.Limit = r.i64()
	c.Complete = r.byte1()&flagComplete != 0
	c.Items = r.items()
	if err := r.done(); err != nil {
		return Collection{}, err
	}
	return c, nil
}

func DecodePage(b []byte) (Page, error) {
	h, r, err := open(b, KindPage)
	if err != nil {
		return Page{}, err
	}
	p := Page{Header: h}
	p.Offset = r.i64()
	p.Limit = r.i64()
	p.Total = r.i64()
	p.Truncated = r.byte1()&flagTruncated != 0
	p.Items = r.items()
	if err := r.done(); err != nil {
		return Page{}, err
	}
	return p, nil
}
