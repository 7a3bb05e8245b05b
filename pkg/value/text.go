package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EncodeText returns the canonical character encoding of v, which is a JSON
// document with map keys in insertion order and numbers in shortest form.
func EncodeText(v Value) (string, error) {
	var b bytes.Buffer
	if err := appendText(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func appendText(b *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindTombstone:
		return fmt.Errorf("%w: tombstone", ErrNotText)
	case KindStr:
		if err := writeString(b, v.s); err != nil {
			return err
		}
	case KindNum:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("%w: %v", ErrNotText, v.n)
		}
		b.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindBool:
		b.WriteString(strconv.FormatBool(v.b))
	case KindList:
		b.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := appendText(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteByte('{')
		i := 0
		for k, item := range v.m.All() {
			if i > 0 {
				b.WriteByte(',')
			}
			i++
			if err := writeString(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := appendText(b, item); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	}
	return nil
}

// writeString rejects invalid UTF-8, which JSON would silently replace with
// U+FFFD.
func writeString(b *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 in %q", ErrNotText, s)
	}
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	// Encode cannot fail for a string and always appends a newline.
	_ = enc.Encode(s)
	b.Truncate(b.Len() - 1)
	return nil
}

// DecodeText parses the character encoding produced by EncodeText. Any JSON
// document is accepted; object key order is preserved.
func DecodeText(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := readText(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after value", ErrCorrupt)
	}
	return v, nil
}

func readText(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting too deep", ErrCorrupt)
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return Str(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return Num(f), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := readText(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return Value{kind: KindList, list: items}, nil
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("%w: object key is not a string", ErrCorrupt)
				}
				item, err := readText(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return Value{kind: KindMap, m: m}, nil
		}
	}
	return Value{}, fmt.Errorf("%w: unexpected token %v", ErrCorrupt, tok)
}

// MarshalJSON implements json.Marshaler using the text encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	s, err := EncodeText(v)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalJSON implements json.Unmarshaler using the text encoding.
func (v *Value) UnmarshalJSON(b []byte) error {
	out, err := DecodeText(string(b))
	if err != nil {
		return err
	}
	*v = out
	return nil
}
