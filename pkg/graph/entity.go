package graph

import (
	"strings"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// EntityKind tells node handles from edge handles.
type EntityKind int

const (
	KindNode EntityKind = iota
	KindEdge
)

func (k EntityKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// Entity is the common surface of node and edge handles. Handles carry no
// state besides their id and the storage they read through, so any number of
// them may refer to the same stored entity.
type Entity interface {
	Kind() EntityKind
	Storage() storage.Storage
	Props() (storage.Properties, error)
	Prop(name string) (value.Value, bool, error)
	SetProps(props storage.Properties) error
}

// NodeRef is anything that names a node in some storage. *Node is the
// canonical implementation; WrapNode accepts any NodeRef.
type NodeRef interface {
	ID() storage.NodeID
	Storage() storage.Storage
}

// Node is a handle to a stored node.
type Node struct {
	id    storage.NodeID
	store storage.Storage
}

// NewNode builds a handle. It does not check that the node exists.
func NewNode(id storage.NodeID, s storage.Storage) *Node {
	return &Node{id: id, store: s}
}

func (n *Node) ID() storage.NodeID       { return n.id }
func (n *Node) Kind() EntityKind         { return KindNode }
func (n *Node) Storage() storage.Storage { return n.store }
func (n *Node) String() string           { return string(n.id) }

func (n *Node) Props() (storage.Properties, error) {
	return n.store.NodeProperties(n.id)
}

func (n *Node) Prop(name string) (value.Value, bool, error) {
	return n.store.NodeProperty(n.id, name)
}

func (n *Node) SetProps(props storage.Properties) error {
	return n.store.SetNodeProperties(n.id, props)
}

// SetProp sets a single property; a Null value removes it.
func (n *Node) SetProp(name string, v value.Value) error {
	return n.store.SetNodeProperties(n.id, storage.Properties{name: v})
}

// Edge is a handle to a stored edge.
type Edge struct {
	id    storage.EdgeID
	local string
	store storage.Storage
}

// NewEdge builds a handle for an edge whose stored type carries prefix.
func NewEdge(id storage.EdgeID, prefix string, s storage.Storage) *Edge {
	return &Edge{id: id, local: strings.TrimPrefix(id.Type, prefix), store: s}
}

func (e *Edge) ID() storage.EdgeID       { return e.id }
func (e *Edge) Kind() EntityKind         { return KindEdge }
func (e *Edge) Storage() storage.Storage { return e.store }
func (e *Edge) String() string           { return e.id.String() }

// Src returns a handle to the edge's source node.
func (e *Edge) Src() *Node { return NewNode(e.id.Src, e.store) }

// Dst returns a handle to the edge's destination node.
func (e *Edge) Dst() *Node { return NewNode(e.id.Dst, e.store) }

// Type is the stored edge type, graph prefix included.
func (e *Edge) Type() string { return e.id.Type }

// LocalType is the edge type as passed to AddEdge, without the graph prefix.
func (e *Edge) LocalType() string { return e.local }

func (e *Edge) Props() (storage.Properties, error) {
	return e.store.EdgeProperties(e.id)
}

func (e *Edge) Prop(name string) (value.Value, bool, error) {
	return e.store.EdgeProperty(e.id, name)
}

func (e *Edge) SetProps(props storage.Properties) error {
	return e.store.SetEdgeProperties(e.id, props)
}

// SetProp sets a single property; a Null value removes it.
func (e *Edge) SetProp(name string, v value.Value) error {
	return e.store.SetEdgeProperties(e.id, storage.Properties{name: v})
}
