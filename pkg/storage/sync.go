package storage

import (
	"sync"

	"github.com/sanonone/kektorgraph/pkg/value"
)

// Synchronized wraps s so that reads share a read lock and writes take the
// write lock. It lifts a single-writer backend into the concurrent tier.
//
// Predicates passed to DeleteNodes and DeleteEdges run while the write lock is
// held and must not call back into the returned Storage.
func Synchronized(s Storage) Storage {
	return &synchronized{inner: s}
}

type synchronized struct {
	mu    sync.RWMutex
	inner Storage
}

func (s *synchronized) AddNode(id NodeID, props Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AddNode(id, props)
}

func (s *synchronized) AddEdge(id EdgeID, props Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AddEdge(id, props)
}

func (s *synchronized) ContainsNode(id NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.ContainsNode(id)
}

func (s *synchronized) ContainsEdge(id EdgeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.ContainsEdge(id)
}

func (s *synchronized) NodeProperties(id NodeID) (Properties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.NodeProperties(id)
}

func (s *synchronized) EdgeProperties(id EdgeID) (Properties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.EdgeProperties(id)
}

func (s *synchronized) NodeProperty(id NodeID, name string) (value.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.NodeProperty(id, name)
}

func (s *synchronized) EdgeProperty(id EdgeID, name string) (value.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.EdgeProperty(id, name)
}

func (s *synchronized) SetNodeProperties(id NodeID, props Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetNodeProperties(id, props)
}

func (s *synchronized) SetEdgeProperties(id EdgeID, props Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetEdgeProperties(id, props)
}

func (s *synchronized) DeleteNode(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeleteNode(id)
}

func (s *synchronized) DeleteEdge(id EdgeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeleteEdge(id)
}

func (s *synchronized) DeleteNodes(pred NodePredicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeleteNodes(pred)
}

func (s *synchronized) DeleteEdges(pred EdgePredicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeleteEdges(pred)
}

func (s *synchronized) OutgoingEdges(id NodeID) ([]EdgeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.OutgoingEdges(id)
}

func (s *synchronized) IncomingEdges(id NodeID) ([]EdgeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.IncomingEdges(id)
}

func (s *synchronized) EdgesBetween(src, dst NodeID) ([]EdgeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.EdgesBetween(src, dst)
}

func (s *synchronized) Nodes() ([]NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Nodes()
}

func (s *synchronized) Edges() ([]EdgeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Edges()
}

func (s *synchronized) NodeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.NodeCount()
}

func (s *synchronized) EdgeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.EdgeCount()
}

func (s *synchronized) Clear() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Clear()
}

func (s *synchronized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}

func (s *synchronized) Unwrap() Storage { return s.inner }

// Unwrap peels decorators such as Synchronized off s and returns the
// innermost backend. A decorator takes part by having an Unwrap() Storage
// method.
func Unwrap(s Storage) Storage {
	for {
		u, ok := s.(interface{ Unwrap() Storage })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}
