// Package graph layers named logical graphs over a storage.Storage.
//
// A Graph keeps a local cache of the node and edge ids it considers its own.
// Several graphs may share one storage: each stores its edges with a type
// prefixed by the graph name, so RefreshCache can recover a graph's edges from
// the shared storage. Ids present in storage but not in the cache are invisible
// to the graph's queries.
//
// A Graph is not safe for concurrent use, even over a concurrent storage: the
// cache itself is unsynchronized.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/sanonone/kektorgraph/pkg/storage"
)

// TypeSeparator joins a graph name and a local edge type in stored edge types.
const TypeSeparator = ":"

// Graph is the shared implementation behind SimpleGraph and MultiGraph.
type Graph struct {
	name  string
	store storage.Storage

	nodes map[storage.NodeID]struct{}
	edges map[storage.EdgeID]struct{}
}

func newGraph(name string, s storage.Storage) *Graph {
	return &Graph{
		name:  name,
		store: s,
		nodes: make(map[storage.NodeID]struct{}),
		edges: make(map[storage.EdgeID]struct{}),
	}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Storage returns the storage the graph reads and writes.
func (g *Graph) Storage() storage.Storage { return g.store }

// TypePrefix is prepended to every edge type this graph stores.
func (g *Graph) TypePrefix() string { return g.name + TypeSeparator }

// StoredType returns the storage-level type for a local edge type.
func (g *Graph) StoredType(localType string) string { return g.TypePrefix() + localType }

// EdgeID returns the storage id of the edge src -localType-> dst.
func (g *Graph) EdgeID(src, dst storage.NodeID, localType string) storage.EdgeID {
	return storage.NewEdgeID(src, dst, g.StoredType(localType))
}

func (g *Graph) owns(id storage.EdgeID) bool {
	return strings.HasPrefix(id.Type, g.TypePrefix())
}

func (g *Graph) node(id storage.NodeID) *Node { return NewNode(id, g.store) }

func (g *Graph) edge(id storage.EdgeID) *Edge { return NewEdge(id, g.TypePrefix(), g.store) }

// HasNode reports whether id is in the graph's cache.
func (g *Graph) HasNode(id storage.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// HasEdge reports whether id is in the graph's cache.
func (g *Graph) HasEdge(id storage.EdgeID) bool {
	_, ok := g.edges[id]
	return ok
}

// NodeCount is the number of cached nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount is the number of cached edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// AddNode adds id to the graph, creating it in storage if needed. Properties
// are applied to a node that already existed in storage.
func (g *Graph) AddNode(id storage.NodeID, props storage.Properties) (*Node, error) {
	if g.HasNode(id) {
		return nil, storage.AlreadyExists("graph add node", id)
	}
	err := g.store.AddNode(id, props)
	if errors.Is(err, storage.ErrEntityAlreadyExists) {
		err = nil
		if len(props) > 0 {
			err = g.store.SetNodeProperties(id, props)
		}
	}
	if err != nil {
		return nil, err
	}
	g.nodes[id] = struct{}{}
	return g.node(id), nil
}

// Adoption is the outcome of checking whether a foreign node handle can be
// used by this graph as is. It is either Reusable or NeedsRebuild.
type Adoption interface {
	adoption()
}

// Reusable means the handle already has this graph's shape and storage.
type Reusable struct{ Node *Node }

// NeedsRebuild means a new handle has to be built for this graph.
type NeedsRebuild struct{}

func (Reusable) adoption()     {}
func (NeedsRebuild) adoption() {}

// Adopt decides whether ref can be reused by g.
func (g *Graph) Adopt(ref NodeRef) Adoption {
	if n, ok := ref.(*Node); ok && n.store == g.store {
		return Reusable{Node: n}
	}
	return NeedsRebuild{}
}

// WrapNode brings a node handle from another graph context into g and caches
// its id. The node must exist in g's storage.
func (g *Graph) WrapNode(ref NodeRef) (*Node, error) {
	id := ref.ID()
	ok, err := g.store.ContainsNode(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.NotExist("wrap node", id)
	}
	if g.HasNode(id) {
		return g.node(id), nil
	}
	g.nodes[id] = struct{}{}
	switch a := g.Adopt(ref).(type) {
	case Reusable:
		return a.Node, nil
	default:
		return g.node(id), nil
	}
}

// Node returns a handle for a cached node.
func (g *Graph) Node(id storage.NodeID) (*Node, error) {
	if !g.HasNode(id) {
		return nil, storage.NotExist("graph node", id)
	}
	return g.node(id), nil
}

// Nodes returns handles for every cached node, ordered by id.
func (g *Graph) Nodes() []*Node {
	ids := make([]storage.NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	storage.SortNodeIDs(ids)
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = g.node(id)
	}
	return out
}

// Edges returns handles for every cached edge in storage.CompareEdgeIDs order.
func (g *Graph) Edges() []*Edge {
	ids := make([]storage.EdgeID, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	storage.SortEdgeIDs(ids)
	out := make([]*Edge, len(ids))
	for i, id := range ids {
		out[i] = g.edge(id)
	}
	return out
}

// Edge returns the cached edge src -localType-> dst.
func (g *Graph) Edge(src, dst storage.NodeID, localType string) (*Edge, error) {
	id := g.EdgeID(src, dst, localType)
	if !g.HasEdge(id) {
		return nil, storage.NotExist("graph edge", id)
	}
	return g.edge(id), nil
}

func (g *Graph) addEdge(id storage.EdgeID, props storage.Properties) (*Edge, error) {
	if g.HasEdge(id) {
		return nil, storage.AlreadyExists("graph add edge", id)
	}
	if !g.HasNode(id.Src) {
		return nil, storage.NotExist("graph add edge", id.Src)
	}
	if !g.HasNode(id.Dst) {
		return nil, storage.NotExist("graph add edge", id.Dst)
	}
	if err := g.store.AddEdge(id, props); err != nil {
		return nil, err
	}
	g.edges[id] = struct{}{}
	return g.edge(id), nil
}

// adjacent fetches storage adjacency for a cached node and keeps only cached
// edges. Nodes unknown to the graph or to storage have no edges.
func (g *Graph) adjacent(of storage.NodeID, query func(storage.NodeID) ([]storage.EdgeID, error)) ([]*Edge, error) {
	if !g.HasNode(of) {
		return nil, nil
	}
	ids, err := query(of)
	if errors.Is(err, storage.ErrEntityNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Edge
	for _, id := range ids {
		if g.HasEdge(id) {
			out = append(out, g.edge(id))
		}
	}
	return out, nil
}

// OutgoingEdges returns the cached edges leaving of.
func (g *Graph) OutgoingEdges(of storage.NodeID) ([]*Edge, error) {
	return g.adjacent(of, g.store.OutgoingEdges)
}

// IncomingEdges returns the cached edges entering of.
func (g *Graph) IncomingEdges(of storage.NodeID) ([]*Edge, error) {
	return g.adjacent(of, g.store.IncomingEdges)
}

// DelEdge removes a cached edge from the graph and from storage.
func (g *Graph) DelEdge(id storage.EdgeID) error {
	if !g.HasEdge(id) {
		return storage.NotExist("graph delete edge", id)
	}
	delete(g.edges, id)
	err := g.store.DeleteEdge(id)
	if errors.Is(err, storage.ErrEntityNotExist) {
		return nil
	}
	return err
}

// DelNode removes a node from the graph. If the node was cached and still
// exists in storage, its incident edges are deleted first, then the node.
func (g *Graph) DelNode(id storage.NodeID) error {
	if !g.HasNode(id) {
		return nil
	}
	ok, err := g.store.ContainsNode(id)
	if err != nil {
		return err
	}
	if ok {
		// 1. Incident edges, from the cache and from storage
		var incident []storage.EdgeID
		for _, query := range []func(storage.NodeID) ([]storage.EdgeID, error){g.store.OutgoingEdges, g.store.IncomingEdges} {
			ids, err := query(id)
			if err != nil {
				return err
			}
			incident = append(incident, ids...)
		}
		for _, e := range incident {
			delete(g.edges, e)
			if err := g.store.DeleteEdge(e); err != nil && !errors.Is(err, storage.ErrEntityNotExist) {
				return fmt.Errorf("delete incident edge %s: %w", e, err)
			}
		}
		// 2. The node itself
		if err := g.store.DeleteNode(id); err != nil {
			return err
		}
	}
	delete(g.nodes, id)
	return nil
}

// ClearCache forgets every id. Storage is untouched.
func (g *Graph) ClearCache() {
	clear(g.nodes)
	clear(g.edges)
}

// RefreshCache rebuilds the cache from storage: every stored edge whose type
// carries this graph's prefix is cached along with its endpoints.
func (g *Graph) RefreshCache() error {
	g.ClearCache()
	ids, err := g.store.Edges()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !g.owns(id) {
			continue
		}
		g.nodes[id.Src] = struct{}{}
		g.nodes[id.Dst] = struct{}{}
		g.edges[id] = struct{}{}
	}
	return nil
}

// SimpleGraph allows at most one edge of the graph's own types per ordered
// pair of nodes.
type SimpleGraph struct {
	*Graph
}

// NewSimple returns an empty simple graph named name over s.
func NewSimple(name string, s storage.Storage) *SimpleGraph {
	return &SimpleGraph{Graph: newGraph(name, s)}
}

// AddEdge adds src -localType-> dst. It fails with ErrEntityAlreadyExists when
// storage already holds any edge of this graph from src to dst, cached or not.
func (g *SimpleGraph) AddEdge(src, dst storage.NodeID, localType string, props storage.Properties) (*Edge, error) {
	id := g.EdgeID(src, dst, localType)
	if g.HasNode(src) && g.HasNode(dst) {
		between, err := g.store.EdgesBetween(src, dst)
		if err != nil && !errors.Is(err, storage.ErrEntityNotExist) {
			return nil, err
		}
		if i := slices.IndexFunc(between, g.owns); i >= 0 {
			return nil, storage.AlreadyExists("graph add edge", between[i])
		}
	}
	return g.addEdge(id, props)
}

// MultiGraph allows any number of parallel edges as long as their types
// differ.
type MultiGraph struct {
	*Graph
}

// NewMulti returns an empty multigraph named name over s.
func NewMulti(name string, s storage.Storage) *MultiGraph {
	return &MultiGraph{Graph: newGraph(name, s)}
}

// AddEdge adds src -localType-> dst.
func (g *MultiGraph) AddEdge(src, dst storage.NodeID, localType string, props storage.Properties) (*Edge, error) {
	return g.addEdge(g.EdgeID(src, dst, localType), props)
}

// AddEdgeAuto adds an edge with a freshly generated random type.
func (g *MultiGraph) AddEdgeAuto(src, dst storage.NodeID, props storage.Properties) (*Edge, error) {
	return g.AddEdge(src, dst, uuid.NewString(), props)
}
