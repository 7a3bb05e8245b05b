// Package storage defines the contract every kektorgraph backend implements
// and the helpers shared between backends.
//
// A Storage owns the node and edge property maps and the adjacency index of
// its scope. Two concurrency tiers exist: plain backends (memory.Store) assume
// a single writer at a time, while concurrent backends (the delta overlay,
// the durable engine, badger, and anything wrapped with Synchronized) guard
// every call with a reader/writer lock. No operation takes a context: there is
// no cancellation inside the core, and a caller blocked on a contended lock
// waits until it is released.
//
// Adjacency queries (OutgoingEdges, IncomingEdges, EdgesBetween) fail with
// ErrEntityNotExist when a queried node is absent. The graph layer turns that
// into an empty result for nodes it does not know about.
package storage

import (
	"maps"

	"github.com/sanonone/kektorgraph/pkg/value"
)

// Properties maps property names to values.
//
// In writes, a Null value removes the property. Reads never return Null
// entries.
type Properties map[string]value.Value

// Clone returns a copy that can be modified without touching p.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	return maps.Clone(p)
}

// Apply merges a write into p: Null values delete, everything else overwrites.
func (p Properties) Apply(update Properties) {
	for k, v := range update {
		if v.IsNull() {
			delete(p, k)
			continue
		}
		p[k] = v
	}
}

// NodePredicate selects nodes for bulk deletion.
type NodePredicate func(id NodeID, props Properties) bool

// EdgePredicate selects edges for bulk deletion.
type EdgePredicate func(id EdgeID, props Properties) bool

// Storage is the backend contract. Every method fails with ErrClosed after
// Close has been called.
type Storage interface {
	// AddNode inserts a node. It fails with ErrEntityAlreadyExists if the id
	// is present.
	AddNode(id NodeID, props Properties) error
	// AddEdge inserts an edge. It fails with ErrEntityAlreadyExists if the
	// edge is present and with ErrEntityNotExist if an endpoint is missing.
	AddEdge(id EdgeID, props Properties) error

	ContainsNode(id NodeID) (bool, error)
	ContainsEdge(id EdgeID) (bool, error)

	// NodeProperties returns a copy of all properties of a node.
	NodeProperties(id NodeID) (Properties, error)
	// EdgeProperties returns a copy of all properties of an edge.
	EdgeProperties(id EdgeID) (Properties, error)
	// NodeProperty reads one property; ok is false when it is not set.
	NodeProperty(id NodeID, name string) (v value.Value, ok bool, err error)
	// EdgeProperty reads one property; ok is false when it is not set.
	EdgeProperty(id EdgeID, name string) (v value.Value, ok bool, err error)

	// SetNodeProperties applies props to a node; Null values remove.
	SetNodeProperties(id NodeID, props Properties) error
	// SetEdgeProperties applies props to an edge; Null values remove.
	SetEdgeProperties(id EdgeID, props Properties) error

	// DeleteNode removes a node and every edge incident to it.
	DeleteNode(id NodeID) error
	// DeleteEdge removes a single edge.
	DeleteEdge(id EdgeID) error
	// DeleteNodes removes every node matching pred and reports how many.
	DeleteNodes(pred NodePredicate) (int, error)
	// DeleteEdges removes every edge matching pred and reports how many.
	DeleteEdges(pred EdgePredicate) (int, error)

	OutgoingEdges(id NodeID) ([]EdgeID, error)
	IncomingEdges(id NodeID) ([]EdgeID, error)
	EdgesBetween(src, dst NodeID) ([]EdgeID, error)

	// Nodes lists every node id in ascending order.
	Nodes() ([]NodeID, error)
	// Edges lists every edge id in CompareEdgeIDs order.
	Edges() ([]EdgeID, error)
	NodeCount() (int, error)
	EdgeCount() (int, error)

	// Clear removes all content in the instance's scope and reports whether
	// the instance ended up empty.
	Clear() (bool, error)
	// Close releases backing resources. It is idempotent.
	Close() error
}
