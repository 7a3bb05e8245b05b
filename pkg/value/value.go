// Package value implements the recursive tagged value used for every node and
// edge property in kektorgraph.
//
// A Value is one of Null, Str, Num, Bool, List or Map. Maps keep their keys in
// insertion order and that order is part of the value's identity. A seventh
// variant, Tombstone, is reserved for storage layers that need to shadow a
// property held by a lower layer; it never reaches user code through the
// storage contract and cannot be written in the text encoding.
//
// Every Value has a canonical binary encoding (Encode/Decode) and a canonical
// character encoding (EncodeText/DecodeText, JSON compatible). Both round-trip
// exactly.
package value

import (
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindStr
	KindNum
	KindBool
	KindList
	KindMap
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindStr:
		return "str"
	case KindNum:
		return "num"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindTombstone:
		return "tombstone"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable tagged value. The zero Value is Null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	list []Value
	m    *Map
}

// Null returns the null value.
func Null() Value { return Value{} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindStr, s: s} }

// Num returns a numeric value.
func Num(n float64) Value { return Value{kind: KindNum, n: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

// MapOf returns a map value. The map is cloned so later changes to m are not
// observed through the returned Value. A nil map yields an empty map value.
func MapOf(m *Map) Value {
	if m == nil {
		return Value{kind: KindMap, m: NewMap()}
	}
	return Value{kind: KindMap, m: m.Clone()}
}

// Tombstone returns the marker used by layered storage to hide a property.
func Tombstone() Value { return Value{kind: KindTombstone} }

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsTombstone reports whether v is the tombstone marker.
func (v Value) IsTombstone() bool { return v.kind == KindTombstone }

// AsStr returns the string payload if v is a Str.
func (v Value) AsStr() (string, bool) { return v.s, v.kind == KindStr }

// AsNum returns the numeric payload if v is a Num.
func (v Value) AsNum() (float64, bool) { return v.n, v.kind == KindNum }

// AsBool returns the boolean payload if v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns a copy of the items if v is a List.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

// Len returns the number of items of a List or entries of a Map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return v.m.Len()
	}
	return 0
}

// Items iterates over the items of a List without copying them.
func (v Value) Items() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		if v.kind != KindList {
			return
		}
		for i, item := range v.list {
			if !yield(i, item) {
				return
			}
		}
	}
}

// AsMap returns a copy of the map if v is a Map.
func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m.Clone(), true
}

// Equal reports structural equality. NaN numbers compare equal to each other
// so that decoding an encoded value always yields an equal value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull, KindTombstone:
		return true
	case KindStr:
		return v.s == o.s
	case KindNum:
		if math.IsNaN(v.n) && math.IsNaN(o.n) {
			return true
		}
		return v.n == o.n && math.Signbit(v.n) == math.Signbit(o.n)
	case KindBool:
		return v.b == o.b
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// String renders v in its text encoding. Tombstones and non-finite numbers,
// which the text encoding rejects, get a readable placeholder instead.
func (v Value) String() string {
	s, err := EncodeText(v)
	if err == nil {
		return s
	}
	switch v.kind {
	case KindTombstone:
		return "<tombstone>"
	case KindNum:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(v.kind.String())
	b.WriteString(">")
	return b.String()
}

// FromAny converts plain Go data (as produced by encoding/json or yaml) into a
// Value. Supported inputs are nil, string, bool, all integer and float kinds,
// []any, map[string]any (keys sorted, since Go maps carry no order), *Map and
// Value itself.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Map:
		return MapOf(t), nil
	case string:
		return Str(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Num(t), nil
	case float32:
		return Num(float64(t)), nil
	case int:
		return Num(float64(t)), nil
	case int8:
		return Num(float64(t)), nil
	case int16:
		return Num(float64(t)), nil
	case int32:
		return Num(float64(t)), nil
	case int64:
		return Num(float64(t)), nil
	case uint:
		return Num(float64(t)), nil
	case uint8:
		return Num(float64(t)), nil
	case uint16:
		return Num(float64(t)), nil
	case uint32:
		return Num(float64(t)), nil
	case uint64:
		return Num(float64(t)), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, e := range t {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		m := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			item, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			m.Set(k, item)
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, &UnsupportedTypeError{Value: x}
}

// MustFromAny is FromAny for literals in tests and static tables.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts v back to plain Go data. Maps become map[string]any and lose
// their key order. Tombstones convert to nil.
func (v Value) ToAny() any {
	switch v.kind {
	case KindStr:
		return v.s
	case KindNum:
		return v.n
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for k, item := range v.m.All() {
			out[k] = item.ToAny()
		}
		return out
	}
	return nil
}
