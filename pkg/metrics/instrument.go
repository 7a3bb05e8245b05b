package metrics

import (
	"errors"
	"time"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Instrument wraps s so that every call is counted and timed under the given
// backend label. Entity gauges are refreshed after writes.
func Instrument(s storage.Storage, backend string) storage.Storage {
	return &instrumented{inner: s, backend: backend}
}

type instrumented struct {
	inner   storage.Storage
	backend string
}

// Outcome maps an error to the label used in StorageOperations.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrEntityNotExist):
		return "not_exist"
	case errors.Is(err, storage.ErrEntityAlreadyExists):
		return "exists"
	case errors.Is(err, storage.ErrInvalidPropertyName):
		return "invalid_name"
	case errors.Is(err, storage.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

func (m *instrumented) observe(op string, start time.Time, err error) {
	StorageOperationDuration.WithLabelValues(m.backend, op).Observe(time.Since(start).Seconds())
	StorageOperations.WithLabelValues(m.backend, op, Outcome(err)).Inc()
}

// written refreshes the entity gauges after a successful write.
func (m *instrumented) written(err error) {
	if err != nil {
		return
	}
	if n, err := m.inner.NodeCount(); err == nil {
		Entities.WithLabelValues(m.backend, "node").Set(float64(n))
	}
	if n, err := m.inner.EdgeCount(); err == nil {
		Entities.WithLabelValues(m.backend, "edge").Set(float64(n))
	}
}

func (m *instrumented) AddNode(id storage.NodeID, props storage.Properties) error {
	start := time.Now()
	err := m.inner.AddNode(id, props)
	m.observe("add_node", start, err)
	m.written(err)
	return err
}

func (m *instrumented) AddEdge(id storage.EdgeID, props storage.Properties) error {
	start := time.Now()
	err := m.inner.AddEdge(id, props)
	m.observe("add_edge", start, err)
	m.written(err)
	return err
}

func (m *instrumented) ContainsNode(id storage.NodeID) (bool, error) {
	start := time.Now()
	ok, err := m.inner.ContainsNode(id)
	m.observe("contains_node", start, err)
	return ok, err
}

func (m *instrumented) ContainsEdge(id storage.EdgeID) (bool, error) {
	start := time.Now()
	ok, err := m.inner.ContainsEdge(id)
	m.observe("contains_edge", start, err)
	return ok, err
}

func (m *instrumented) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	start := time.Now()
	p, err := m.inner.NodeProperties(id)
	m.observe("node_properties", start, err)
	return p, err
}

func (m *instrumented) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	start := time.Now()
	p, err := m.inner.EdgeProperties(id)
	m.observe("edge_properties", start, err)
	return p, err
}

func (m *instrumented) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	start := time.Now()
	v, ok, err := m.inner.NodeProperty(id, name)
	m.observe("node_property", start, err)
	return v, ok, err
}

func (m *instrumented) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	start := time.Now()
	v, ok, err := m.inner.EdgeProperty(id, name)
	m.observe("edge_property", start, err)
	return v, ok, err
}

func (m *instrumented) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	start := time.Now()
	err := m.inner.SetNodeProperties(id, props)
	m.observe("set_node_properties", start, err)
	return err
}

func (m *instrumented) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	start := time.Now()
	err := m.inner.SetEdgeProperties(id, props)
	m.observe("set_edge_properties", start, err)
	return err
}

func (m *instrumented) DeleteNode(id storage.NodeID) error {
	start := time.Now()
	err := m.inner.DeleteNode(id)
	m.observe("delete_node", start, err)
	m.written(err)
	return err
}

func (m *instrumented) DeleteEdge(id storage.EdgeID) error {
	start := time.Now()
	err := m.inner.DeleteEdge(id)
	m.observe("delete_edge", start, err)
	m.written(err)
	return err
}

func (m *instrumented) DeleteNodes(pred storage.NodePredicate) (int, error) {
	start := time.Now()
	n, err := m.inner.DeleteNodes(pred)
	m.observe("delete_nodes", start, err)
	m.written(err)
	return n, err
}

func (m *instrumented) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	start := time.Now()
	n, err := m.inner.DeleteEdges(pred)
	m.observe("delete_edges", start, err)
	m.written(err)
	return n, err
}

func (m *instrumented) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	start := time.Now()
	ids, err := m.inner.OutgoingEdges(id)
	m.observe("outgoing_edges", start, err)
	return ids, err
}

func (m *instrumented) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	start := time.Now()
	ids, err := m.inner.IncomingEdges(id)
	m.observe("incoming_edges", start, err)
	return ids, err
}

func (m *instrumented) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	start := time.Now()
	ids, err := m.inner.EdgesBetween(src, dst)
	m.observe("edges_between", start, err)
	return ids, err
}

func (m *instrumented) Nodes() ([]storage.NodeID, error) {
	start := time.Now()
	ids, err := m.inner.Nodes()
	m.observe("nodes", start, err)
	return ids, err
}

func (m *instrumented) Edges() ([]storage.EdgeID, error) {
	start := time.Now()
	ids, err := m.inner.Edges()
	m.observe("edges", start, err)
	return ids, err
}

func (m *instrumented) NodeCount() (int, error) {
	return m.inner.NodeCount()
}

func (m *instrumented) EdgeCount() (int, error) {
	return m.inner.EdgeCount()
}

func (m *instrumented) Clear() (bool, error) {
	start := time.Now()
	empty, err := m.inner.Clear()
	m.observe("clear", start, err)
	m.written(err)
	return empty, err
}

func (m *instrumented) Close() error {
	return m.inner.Close()
}

// Unwrap returns the instrumented storage.
func (m *instrumented) Unwrap() storage.Storage { return m.inner }
