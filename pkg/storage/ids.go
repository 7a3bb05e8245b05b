package storage

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/sanonone/kektorgraph/pkg/value"
)

// EdgeSeparator joins the components of an edge's display form.
const EdgeSeparator = "-"

// NodeID identifies a node. Valid ids are non-empty.
type NodeID string

func (id NodeID) String() string { return string(id) }

// Value returns the serialized form of the id: a single Str.
func (id NodeID) Value() value.Value { return value.Str(string(id)) }

// NodeIDFromValue inverts NodeID.Value.
func NodeIDFromValue(v value.Value) (NodeID, error) {
	s, ok := v.AsStr()
	if !ok || s == "" {
		return "", fmt.Errorf("%w: node id must be a non-empty string, got %v", ErrMalformedID, v)
	}
	return NodeID(s), nil
}

// EdgeID identifies an edge by its ordered endpoints and its type. Two edges
// between the same pair of nodes are distinct when their types differ.
type EdgeID struct {
	Src  NodeID `json:"src"`
	Dst  NodeID `json:"dst"`
	Type string `json:"type"`
}

// NewEdgeID is shorthand for building an EdgeID.
func NewEdgeID(src, dst NodeID, eType string) EdgeID {
	return EdgeID{Src: src, Dst: dst, Type: eType}
}

// String returns the display form "{src}-{type}-{dst}".
func (e EdgeID) String() string {
	return string(e.Src) + EdgeSeparator + e.Type + EdgeSeparator + string(e.Dst)
}

// Value returns the serialized form of the id: [src, dst, type].
func (e EdgeID) Value() value.Value {
	return value.List(value.Str(string(e.Src)), value.Str(string(e.Dst)), value.Str(e.Type))
}

// EdgeIDFromValue inverts EdgeID.Value.
func EdgeIDFromValue(v value.Value) (EdgeID, error) {
	items, ok := v.AsList()
	if !ok || len(items) != 3 {
		return EdgeID{}, fmt.Errorf("%w: edge id must be a 3-element list, got %v", ErrMalformedID, v)
	}
	var parts [3]string
	for i, item := range items {
		s, ok := item.AsStr()
		if !ok {
			return EdgeID{}, fmt.Errorf("%w: edge id component %d is not a string", ErrMalformedID, i)
		}
		parts[i] = s
	}
	if parts[0] == "" || parts[1] == "" {
		return EdgeID{}, fmt.Errorf("%w: edge endpoints must be non-empty", ErrMalformedID)
	}
	return EdgeID{Src: NodeID(parts[0]), Dst: NodeID(parts[1]), Type: parts[2]}, nil
}

// ParseEdgeID inverts EdgeID.String. The display form is ambiguous when a
// component contains the separator, so such strings are rejected rather than
// split at a guessed position; use the Value form for lossless round trips.
func ParseEdgeID(s string) (EdgeID, error) {
	parts := strings.Split(s, EdgeSeparator)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return EdgeID{}, fmt.Errorf("%w: %q is not of the form src-type-dst", ErrMalformedID, s)
	}
	return EdgeID{Src: NodeID(parts[0]), Type: parts[1], Dst: NodeID(parts[2])}, nil
}

// Incident reports whether n is one of the edge's endpoints.
func (e EdgeID) Incident(n NodeID) bool { return e.Src == n || e.Dst == n }

// CompareEdgeIDs orders edges by source, destination, then type.
func CompareEdgeIDs(a, b EdgeID) int {
	if c := cmp.Compare(a.Src, b.Src); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Dst, b.Dst); c != 0 {
		return c
	}
	return cmp.Compare(a.Type, b.Type)
}

// SortEdgeIDs sorts ids in place and returns them.
func SortEdgeIDs(ids []EdgeID) []EdgeID {
	slices.SortFunc(ids, CompareEdgeIDs)
	return ids
}

// SortNodeIDs sorts ids in place and returns them.
func SortNodeIDs(ids []NodeID) []NodeID {
	slices.Sort(ids)
	return ids
}
