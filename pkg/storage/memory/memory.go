// Package memory provides the in-memory storage backend.
//
// Nodes and edges live in B-trees keyed by id, so listings come out in a
// stable order without sorting, and EdgesBetween is a range scan. Adjacency is
// indexed per node in both directions.
//
// A Store is not safe for concurrent use. Wrap it with storage.Synchronized
// (or use NewSynchronized) when several goroutines share it.
package memory

import (
	"github.com/tidwall/btree"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Options tunes a Store.
type Options struct {
	// StrictNames rejects property names that start with
	// storage.ReservedPrefix.
	StrictNames bool
}

type edgeRecord struct {
	id    storage.EdgeID
	props storage.Properties
}

func edgeLess(a, b edgeRecord) bool {
	return storage.CompareEdgeIDs(a.id, b.id) < 0
}

type edgeSet map[storage.EdgeID]struct{}

// Store is the single-writer in-memory backend.
type Store struct {
	opts   Options
	nodes  *btree.Map[storage.NodeID, storage.Properties]
	edges  *btree.BTreeG[edgeRecord]
	out    map[storage.NodeID]edgeSet
	in     map[storage.NodeID]edgeSet
	closed bool
}

// New returns an empty Store with default options.
func New() *Store {
	return NewWithOptions(Options{})
}

// NewWithOptions returns an empty Store.
func NewWithOptions(opts Options) *Store {
	s := &Store{opts: opts}
	s.reset()
	return s
}

// NewSynchronized returns an empty Store guarded by a reader/writer lock.
func NewSynchronized() storage.Storage {
	return storage.Synchronized(New())
}

func (s *Store) reset() {
	s.nodes = btree.NewMap[storage.NodeID, storage.Properties](32)
	s.edges = btree.NewBTreeGOptions(edgeLess, btree.Options{NoLocks: true})
	s.out = make(map[storage.NodeID]edgeSet)
	s.in = make(map[storage.NodeID]edgeSet)
}

func (s *Store) validate(op string, id interface{ String() string }, props storage.Properties) error {
	if !s.opts.StrictNames {
		return nil
	}
	return storage.ValidatePropertyNames(op, id, props)
}

// AddNode implements storage.Storage.
func (s *Store) AddNode(id storage.NodeID, props storage.Properties) error {
	if s.closed {
		return storage.ErrClosed
	}
	if err := storage.ValidateNodeID("add node", id); err != nil {
		return err
	}
	if _, ok := s.nodes.Get(id); ok {
		return storage.AlreadyExists("add node", id)
	}
	if err := s.validate("add node", id, props); err != nil {
		return err
	}
	stored := storage.Properties{}
	stored.Apply(props)
	s.nodes.Set(id, stored)
	return nil
}

// AddEdge implements storage.Storage.
func (s *Store) AddEdge(id storage.EdgeID, props storage.Properties) error {
	if s.closed {
		return storage.ErrClosed
	}
	if err := storage.ValidateEdgeID("add edge", id); err != nil {
		return err
	}
	if _, ok := s.edges.Get(edgeRecord{id: id}); ok {
		return storage.AlreadyExists("add edge", id)
	}
	if _, ok := s.nodes.Get(id.Src); !ok {
		return storage.NotExist("add edge", id.Src)
	}
	if _, ok := s.nodes.Get(id.Dst); !ok {
		return storage.NotExist("add edge", id.Dst)
	}
	if err := s.validate("add edge", id, props); err != nil {
		return err
	}
	stored := storage.Properties{}
	stored.Apply(props)
	s.edges.Set(edgeRecord{id: id, props: stored})
	link(s.out, id.Src, id)
	link(s.in, id.Dst, id)
	return nil
}

func link(index map[storage.NodeID]edgeSet, n storage.NodeID, id storage.EdgeID) {
	set, ok := index[n]
	if !ok {
		set = make(edgeSet)
		index[n] = set
	}
	set[id] = struct{}{}
}

func unlink(index map[storage.NodeID]edgeSet, n storage.NodeID, id storage.EdgeID) {
	set := index[n]
	delete(set, id)
	if len(set) == 0 {
		delete(index, n)
	}
}

// ContainsNode implements storage.Storage.
func (s *Store) ContainsNode(id storage.NodeID) (bool, error) {
	if s.closed {
		return false, storage.ErrClosed
	}
	_, ok := s.nodes.Get(id)
	return ok, nil
}

// ContainsEdge implements storage.Storage.
func (s *Store) ContainsEdge(id storage.EdgeID) (bool, error) {
	if s.closed {
		return false, storage.ErrClosed
	}
	_, ok := s.edges.Get(edgeRecord{id: id})
	return ok, nil
}

func (s *Store) node(op string, id storage.NodeID) (storage.Properties, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	props, ok := s.nodes.Get(id)
	if !ok {
		return nil, storage.NotExist(op, id)
	}
	return props, nil
}

func (s *Store) edge(op string, id storage.EdgeID) (storage.Properties, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	rec, ok := s.edges.Get(edgeRecord{id: id})
	if !ok {
		return nil, storage.NotExist(op, id)
	}
	return rec.props, nil
}

// NodeProperties implements storage.Storage.
func (s *Store) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	props, err := s.node("node properties", id)
	if err != nil {
		return nil, err
	}
	return props.Clone(), nil
}

// EdgeProperties implements storage.Storage.
func (s *Store) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	props, err := s.edge("edge properties", id)
	if err != nil {
		return nil, err
	}
	return props.Clone(), nil
}

// NodeProperty implements storage.Storage.
func (s *Store) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	props, err := s.node("node property", id)
	if err != nil {
		return value.Value{}, false, err
	}
	v, ok := props[name]
	return v, ok, nil
}

// EdgeProperty implements storage.Storage.
func (s *Store) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	props, err := s.edge("edge property", id)
	if err != nil {
		return value.Value{}, false, err
	}
	v, ok := props[name]
	return v, ok, nil
}

// SetNodeProperties implements storage.Storage.
func (s *Store) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	stored, err := s.node("set node properties", id)
	if err != nil {
		return err
	}
	if err := s.validate("set node properties", id, props); err != nil {
		return err
	}
	stored.Apply(props)
	return nil
}

// SetEdgeProperties implements storage.Storage.
func (s *Store) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	stored, err := s.edge("set edge properties", id)
	if err != nil {
		return err
	}
	if err := s.validate("set edge properties", id, props); err != nil {
		return err
	}
	stored.Apply(props)
	return nil
}

// DeleteNode implements storage.Storage.
func (s *Store) DeleteNode(id storage.NodeID) error {
	if _, err := s.node("delete node", id); err != nil {
		return err
	}
	for _, e := range s.incident(id) {
		s.removeEdge(e)
	}
	s.nodes.Delete(id)
	return nil
}

func (s *Store) incident(id storage.NodeID) []storage.EdgeID {
	var ids []storage.EdgeID
	for e := range s.out[id] {
		ids = append(ids, e)
	}
	for e := range s.in[id] {
		if e.Src != id { // self loops are already in out
			ids = append(ids, e)
		}
	}
	return ids
}

func (s *Store) removeEdge(id storage.EdgeID) {
	s.edges.Delete(edgeRecord{id: id})
	unlink(s.out, id.Src, id)
	unlink(s.in, id.Dst, id)
}

// DeleteEdge implements storage.Storage.
func (s *Store) DeleteEdge(id storage.EdgeID) error {
	if _, err := s.edge("delete edge", id); err != nil {
		return err
	}
	s.removeEdge(id)
	return nil
}

// DeleteNodes implements storage.Storage.
func (s *Store) DeleteNodes(pred storage.NodePredicate) (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	var doomed []storage.NodeID
	s.nodes.Scan(func(id storage.NodeID, props storage.Properties) bool {
		if pred(id, props.Clone()) {
			doomed = append(doomed, id)
		}
		return true
	})
	for _, id := range doomed {
		if err := s.DeleteNode(id); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

// DeleteEdges implements storage.Storage.
func (s *Store) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	var doomed []storage.EdgeID
	s.edges.Scan(func(rec edgeRecord) bool {
		if pred(rec.id, rec.props.Clone()) {
			doomed = append(doomed, rec.id)
		}
		return true
	})
	for _, id := range doomed {
		s.removeEdge(id)
	}
	return len(doomed), nil
}

// OutgoingEdges implements storage.Storage.
func (s *Store) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	if _, err := s.node("outgoing edges", id); err != nil {
		return nil, err
	}
	return collect(s.out[id]), nil
}

// IncomingEdges implements storage.Storage.
func (s *Store) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	if _, err := s.node("incoming edges", id); err != nil {
		return nil, err
	}
	return collect(s.in[id]), nil
}

func collect(set edgeSet) []storage.EdgeID {
	ids := make([]storage.EdgeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return storage.SortEdgeIDs(ids)
}

// EdgesBetween implements storage.Storage.
func (s *Store) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	if _, err := s.node("edges between", src); err != nil {
		return nil, err
	}
	if _, err := s.node("edges between", dst); err != nil {
		return nil, err
	}
	ids := []storage.EdgeID{}
	pivot := edgeRecord{id: storage.EdgeID{Src: src, Dst: dst}}
	s.edges.Ascend(pivot, func(rec edgeRecord) bool {
		if rec.id.Src != src || rec.id.Dst != dst {
			return false
		}
		ids = append(ids, rec.id)
		return true
	})
	return ids, nil
}

// Nodes implements storage.Storage.
func (s *Store) Nodes() ([]storage.NodeID, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	ids := make([]storage.NodeID, 0, s.nodes.Len())
	s.nodes.Scan(func(id storage.NodeID, _ storage.Properties) bool {
		ids = append(ids, id)
		return true
	})
	return ids, nil
}

// Edges implements storage.Storage.
func (s *Store) Edges() ([]storage.EdgeID, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	ids := make([]storage.EdgeID, 0, s.edges.Len())
	s.edges.Scan(func(rec edgeRecord) bool {
		ids = append(ids, rec.id)
		return true
	})
	return ids, nil
}

// NodeCount implements storage.Storage.
func (s *Store) NodeCount() (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	return s.nodes.Len(), nil
}

// EdgeCount implements storage.Storage.
func (s *Store) EdgeCount() (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	return s.edges.Len(), nil
}

// Clear implements storage.Storage.
func (s *Store) Clear() (bool, error) {
	if s.closed {
		return false, storage.ErrClosed
	}
	s.reset()
	return true, nil
}

// Close implements storage.Storage. The store's content is dropped.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.nodes = nil
	s.edges = nil
	s.out, s.in = nil, nil
	return nil
}
