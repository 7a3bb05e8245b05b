package storage

import (
	"fmt"
	"slices"

	"github.com/sanonone/kektorgraph/pkg/value"
)

// PropertiesValue converts props to a Map value with keys in ascending order,
// giving equal property sets the same encoding.
func PropertiesValue(props Properties) value.Value {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	m := value.NewMap()
	for _, k := range keys {
		m.Set(k, props[k])
	}
	return value.MapOf(m)
}

// PropertiesFromValue inverts PropertiesValue.
func PropertiesFromValue(v value.Value) (Properties, error) {
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("%w: properties must be a map, got %s", value.ErrCorrupt, v.Kind())
	}
	props := make(Properties, m.Len())
	for k, item := range m.All() {
		props[k] = item
	}
	return props, nil
}

// EncodeProperties returns the canonical binary form of props.
func EncodeProperties(props Properties) []byte {
	return value.Encode(PropertiesValue(props))
}

// DecodeProperties inverts EncodeProperties.
func DecodeProperties(b []byte) (Properties, error) {
	v, err := value.Decode(b)
	if err != nil {
		return nil, err
	}
	return PropertiesFromValue(v)
}
