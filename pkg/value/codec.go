package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/x448/float16"
)

// Binary tags. Every encoded value starts with one of these bytes.
const (
	tagNull      = 0x00
	tagStr       = 0x01
	tagNum64     = 0x02
	tagNum16     = 0x03
	tagFalse     = 0x04
	tagTrue      = 0x05
	tagList      = 0x06
	tagMap       = 0x07
	tagTombstone = 0x08
)

// maxDepth bounds nesting on decode so corrupt input cannot exhaust the stack.
const maxDepth = 512

var (
	// ErrCorrupt is returned when encoded bytes or text cannot be decoded.
	ErrCorrupt = errors.New("value: corrupt encoding")
	// ErrNotText is returned when a value has no text encoding
	// (tombstones, non-finite numbers and strings that are not valid UTF-8).
	ErrNotText = errors.New("value: not representable as text")
)

// UnsupportedTypeError is returned by FromAny for Go values it cannot map.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("value: unsupported Go type %T", e.Value)
}

// Encode returns the canonical binary encoding of v.
func Encode(v Value) []byte {
	return AppendEncode(nil, v)
}

// AppendEncode appends the canonical binary encoding of v to dst.
//
// Layout: a tag byte followed by the payload. Strings and map keys are
// uvarint length prefixed, lists and maps are uvarint count prefixed.
// Numbers that survive a float16 round trip exactly are stored in two bytes,
// all others as eight big-endian IEEE-754 bytes.
func AppendEncode(dst []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, tagNull)
	case KindTombstone:
		return append(dst, tagTombstone)
	case KindStr:
		dst = append(dst, tagStr)
		dst = binary.AppendUvarint(dst, uint64(len(v.s)))
		return append(dst, v.s...)
	case KindNum:
		if h, ok := toHalf(v.n); ok {
			dst = append(dst, tagNum16)
			return binary.BigEndian.AppendUint16(dst, h.Bits())
		}
		dst = append(dst, tagNum64)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.n))
	case KindBool:
		if v.b {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case KindList:
		dst = append(dst, tagList)
		dst = binary.AppendUvarint(dst, uint64(len(v.list)))
		for _, item := range v.list {
			dst = AppendEncode(dst, item)
		}
		return dst
	case KindMap:
		dst = append(dst, tagMap)
		dst = binary.AppendUvarint(dst, uint64(v.m.Len()))
		for k, item := range v.m.All() {
			dst = binary.AppendUvarint(dst, uint64(len(k)))
			dst = append(dst, k...)
			dst = AppendEncode(dst, item)
		}
		return dst
	}
	panic(fmt.Sprintf("value: encode of unknown kind %d", v.kind))
}

func toHalf(f float64) (float16.Float16, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	f32 := float32(f)
	if float64(f32) != f {
		return 0, false
	}
	h := float16.Fromfloat32(f32)
	back := h.Float32()
	if back != f32 || math.Signbit(float64(back)) != math.Signbit(f) {
		return 0, false
	}
	return h, true
}

// Decode parses a complete binary encoding. Trailing bytes are an error.
func Decode(b []byte) (Value, error) {
	v, n, err := DecodePrefix(b)
	if err != nil {
		return Value{}, err
	}
	if n != len(b) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(b)-n)
	}
	return v, nil
}

// DecodePrefix parses one value from the start of b and reports how many
// bytes it consumed.
func DecodePrefix(b []byte) (Value, int, error) {
	d := decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) corrupt(what string) error {
	return fmt.Errorf("%w: %s at offset %d", ErrCorrupt, what, d.pos)
}

func (d *decoder) uvarint() (uint64, error) {
	n, size := binary.Uvarint(d.buf[d.pos:])
	if size <= 0 {
		return 0, d.corrupt("bad length")
	}
	d.pos += size
	return n, nil
}

func (d *decoder) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.pos) {
		return nil, d.corrupt("truncated payload")
	}
	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, d.corrupt("nesting too deep")
	}
	if d.pos >= len(d.buf) {
		return Value{}, d.corrupt("missing tag")
	}
	tag := d.buf[d.pos]
	d.pos++
	switch tag {
	case tagNull:
		return Null(), nil
	case tagTombstone:
		return Tombstone(), nil
	case tagFalse:
		return Bool(false), nil
	case tagTrue:
		return Bool(true), nil
	case tagStr:
		s, err := d.str()
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	case tagNum16:
		raw, err := d.bytes(2)
		if err != nil {
			return Value{}, err
		}
		h := float16.Frombits(binary.BigEndian.Uint16(raw))
		return Num(float64(h.Float32())), nil
	case tagNum64:
		raw, err := d.bytes(8)
		if err != nil {
			return Value{}, err
		}
		return Num(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
	case tagList:
		n, err := d.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > uint64(len(d.buf)-d.pos) {
			return Value{}, d.corrupt("list count exceeds input")
		}
		items := make([]Value, 0, n)
		for range n {
			item, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	case tagMap:
		n, err := d.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > uint64(len(d.buf)-d.pos) {
			return Value{}, d.corrupt("map count exceeds input")
		}
		m := NewMap()
		for range n {
			k, err := d.str()
			if err != nil {
				return Value{}, err
			}
			if _, dup := m.Get(k); dup {
				return Value{}, d.corrupt("duplicate map key")
			}
			item, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			m.Set(k, item)
		}
		return Value{kind: KindMap, m: m}, nil
	}
	d.pos--
	return Value{}, d.corrupt(fmt.Sprintf("unknown tag 0x%02x", tag))
}

func (d *decoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	raw, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Hash returns a structural hash of v: equal values hash equally.
func (v Value) Hash() uint64 {
	if v.kind == KindNum && math.IsNaN(v.n) {
		v = Num(math.NaN())
	}
	return xxhash.Sum64(Encode(v))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v Value) MarshalBinary() ([]byte, error) {
	return Encode(v), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *Value) UnmarshalBinary(b []byte) error {
	out, err := Decode(b)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
