// Package delta implements a copy-on-write overlay: a mutable present layer
// over a read-mostly base storage.
//
// The base is never written. Deletions of entities that live in the base are
// recorded as tombstones, and property removals are stored in the present
// layer as value.Tombstone so they shadow the base's value. A Delta is safe
// for concurrent use; every call runs under a single reader/writer lock.
package delta

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Delta is a storage.Storage whose logical content is base+present minus
// tombstones.
type Delta struct {
	mu sync.RWMutex

	base        storage.Storage
	present     storage.Storage
	ownsPresent bool

	deletedNodes map[storage.NodeID]struct{}
	deletedEdges map[storage.EdgeID]struct{}

	nodeCount atomic.Int64
	edgeCount atomic.Int64

	closed bool
}

var _ storage.Storage = (*Delta)(nil)

// New builds a delta over base. When present is nil a fresh in-memory store is
// created; the delta owns it and closes it on Close. The base, and a present
// passed in by the caller, stay owned by the caller.
//
// The delta reads base without locking it, so base must either be immutable
// for the delta's lifetime or safe for concurrent use.
func New(base, present storage.Storage) (*Delta, error) {
	if base == nil {
		return nil, errors.New("delta: nil base storage")
	}
	d := &Delta{
		base:         base,
		present:      present,
		deletedNodes: make(map[storage.NodeID]struct{}),
		deletedEdges: make(map[storage.EdgeID]struct{}),
	}
	if present == nil {
		d.present = memory.New()
		d.ownsPresent = true
	}
	if err := d.recount(); err != nil {
		return nil, fmt.Errorf("delta: count initial content: %w", err)
	}
	return d, nil
}

// Base returns the storage the delta was built over.
func (d *Delta) Base() storage.Storage { return d.base }

// Present returns the mutable top layer. Writing to it directly bypasses the
// delta's counters.
func (d *Delta) Present() storage.Storage { return d.present }

// Tombstones reports how many base entities are currently hidden.
func (d *Delta) Tombstones() (nodes, edges int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.deletedNodes), len(d.deletedEdges)
}

// publishTombstones exports the tombstone set sizes. The caller holds the
// write lock.
func (d *Delta) publishTombstones() {
	metrics.DeltaTombstones.WithLabelValues("node").Set(float64(len(d.deletedNodes)))
	metrics.DeltaTombstones.WithLabelValues("edge").Set(float64(len(d.deletedEdges)))
}

// recount derives the counters from the layers. Callers hold the write lock or
// own d exclusively.
func (d *Delta) recount() error {
	nodes, err := d.listNodes()
	if err != nil {
		return err
	}
	edges, err := d.listEdges()
	if err != nil {
		return err
	}
	d.nodeCount.Store(int64(len(nodes)))
	d.edgeCount.Store(int64(len(edges)))
	return nil
}

func (d *Delta) containsNode(id storage.NodeID) (bool, error) {
	if _, gone := d.deletedNodes[id]; gone {
		return false, nil
	}
	if ok, err := d.present.ContainsNode(id); ok || err != nil {
		return ok, err
	}
	return d.base.ContainsNode(id)
}

func (d *Delta) containsEdge(id storage.EdgeID) (bool, error) {
	if _, gone := d.deletedEdges[id]; gone {
		return false, nil
	}
	if ok, err := d.present.ContainsEdge(id); ok || err != nil {
		return ok, err
	}
	return d.base.ContainsEdge(id)
}

func (d *Delta) requireNode(op string, id storage.NodeID) error {
	ok, err := d.containsNode(id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.NotExist(op, id)
	}
	return nil
}

func (d *Delta) requireEdge(op string, id storage.EdgeID) error {
	ok, err := d.containsEdge(id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.NotExist(op, id)
	}
	return nil
}

// materializeNode makes sure present holds id so that writes and present's
// adjacency index can refer to it. Properties stay in base.
func (d *Delta) materializeNode(id storage.NodeID) error {
	ok, err := d.present.ContainsNode(id)
	if err != nil || ok {
		return err
	}
	return d.present.AddNode(id, nil)
}

func (d *Delta) materializeEdge(id storage.EdgeID) error {
	ok, err := d.present.ContainsEdge(id)
	if err != nil || ok {
		return err
	}
	if err := d.materializeNode(id.Src); err != nil {
		return err
	}
	if err := d.materializeNode(id.Dst); err != nil {
		return err
	}
	return d.present.AddEdge(id, nil)
}

// revived builds the initial present properties for an entity that is being
// re-added while a tombstoned copy still exists in base: every base property is
// shadowed so the entity starts from props alone.
func revived(stale, props storage.Properties) storage.Properties {
	out := make(storage.Properties, len(stale)+len(props))
	for k := range stale {
		out[k] = value.Tombstone()
	}
	for k, v := range props {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}

// AddNode implements storage.Storage.
func (d *Delta) AddNode(id storage.NodeID, props storage.Properties) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := storage.ValidateNodeID("add node", id); err != nil {
		return err
	}
	ok, err := d.containsNode(id)
	if err != nil {
		return err
	}
	if ok {
		return storage.AlreadyExists("add node", id)
	}

	initial := props
	if _, gone := d.deletedNodes[id]; gone {
		inBase, err := d.base.ContainsNode(id)
		if err != nil {
			return err
		}
		if inBase {
			stale, err := d.base.NodeProperties(id)
			if err != nil {
				return err
			}
			initial = revived(stale, props)
		}
	}
	if err := d.present.AddNode(id, initial); err != nil {
		return err
	}
	delete(d.deletedNodes, id)
	d.publishTombstones()
	d.nodeCount.Add(1)
	return nil
}

// AddEdge implements storage.Storage. Endpoints that only exist in base are
// materialized into present.
func (d *Delta) AddEdge(id storage.EdgeID, props storage.Properties) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := storage.ValidateEdgeID("add edge", id); err != nil {
		return err
	}
	ok, err := d.containsEdge(id)
	if err != nil {
		return err
	}
	if ok {
		return storage.AlreadyExists("add edge", id)
	}
	if err := d.requireNode("add edge", id.Src); err != nil {
		return err
	}
	if err := d.requireNode("add edge", id.Dst); err != nil {
		return err
	}

	initial := props
	if _, gone := d.deletedEdges[id]; gone {
		inBase, err := d.base.ContainsEdge(id)
		if err != nil {
			return err
		}
		if inBase {
			stale, err := d.base.EdgeProperties(id)
			if err != nil {
				return err
			}
			initial = revived(stale, props)
		}
	}
	if err := d.materializeNode(id.Src); err != nil {
		return err
	}
	if err := d.materializeNode(id.Dst); err != nil {
		return err
	}
	if err := d.present.AddEdge(id, initial); err != nil {
		return err
	}
	delete(d.deletedEdges, id)
	d.publishTombstones()
	d.edgeCount.Add(1)
	return nil
}

// ContainsNode implements storage.Storage.
func (d *Delta) ContainsNode(id storage.NodeID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, storage.ErrClosed
	}
	return d.containsNode(id)
}

// ContainsEdge implements storage.Storage.
func (d *Delta) ContainsEdge(id storage.EdgeID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, storage.ErrClosed
	}
	return d.containsEdge(id)
}

// merge overlays top on bottom and drops tombstoned keys.
func merge(bottom, top storage.Properties) storage.Properties {
	out := make(storage.Properties, len(bottom)+len(top))
	for k, v := range bottom {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	for k, v := range out {
		if v.IsTombstone() {
			delete(out, k)
		}
	}
	return out
}

func (d *Delta) nodeProperties(id storage.NodeID) (storage.Properties, error) {
	var bottom, top storage.Properties
	if ok, err := d.base.ContainsNode(id); err != nil {
		return nil, err
	} else if ok {
		if bottom, err = d.base.NodeProperties(id); err != nil {
			return nil, err
		}
	}
	if ok, err := d.present.ContainsNode(id); err != nil {
		return nil, err
	} else if ok {
		if top, err = d.present.NodeProperties(id); err != nil {
			return nil, err
		}
	}
	return merge(bottom, top), nil
}

func (d *Delta) edgeProperties(id storage.EdgeID) (storage.Properties, error) {
	var bottom, top storage.Properties
	if ok, err := d.base.ContainsEdge(id); err != nil {
		return nil, err
	} else if ok {
		if bottom, err = d.base.EdgeProperties(id); err != nil {
			return nil, err
		}
	}
	if ok, err := d.present.ContainsEdge(id); err != nil {
		return nil, err
	} else if ok {
		if top, err = d.present.EdgeProperties(id); err != nil {
			return nil, err
		}
	}
	return merge(bottom, top), nil
}

// NodeProperties implements storage.Storage.
func (d *Delta) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if err := d.requireNode("node properties", id); err != nil {
		return nil, err
	}
	return d.nodeProperties(id)
}

// EdgeProperties implements storage.Storage.
func (d *Delta) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if err := d.requireEdge("edge properties", id); err != nil {
		return nil, err
	}
	return d.edgeProperties(id)
}

// NodeProperty implements storage.Storage. A value held by present, including
// a tombstone, wins over base.
func (d *Delta) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return value.Value{}, false, storage.ErrClosed
	}
	if err := d.requireNode("node property", id); err != nil {
		return value.Value{}, false, err
	}
	if ok, err := d.present.ContainsNode(id); err != nil {
		return value.Value{}, false, err
	} else if ok {
		v, found, err := d.present.NodeProperty(id, name)
		if err != nil {
			return value.Value{}, false, err
		}
		if found {
			return v, !v.IsTombstone(), nil
		}
	}
	if ok, err := d.base.ContainsNode(id); err != nil || !ok {
		return value.Value{}, false, err
	}
	return d.base.NodeProperty(id, name)
}

// EdgeProperty implements storage.Storage.
func (d *Delta) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return value.Value{}, false, storage.ErrClosed
	}
	if err := d.requireEdge("edge property", id); err != nil {
		return value.Value{}, false, err
	}
	if ok, err := d.present.ContainsEdge(id); err != nil {
		return value.Value{}, false, err
	} else if ok {
		v, found, err := d.present.EdgeProperty(id, name)
		if err != nil {
			return value.Value{}, false, err
		}
		if found {
			return v, !v.IsTombstone(), nil
		}
	}
	if ok, err := d.base.ContainsEdge(id); err != nil || !ok {
		return value.Value{}, false, err
	}
	return d.base.EdgeProperty(id, name)
}

// shadowing rewrites removals as tombstones so they hide base values.
func shadowing(props storage.Properties) storage.Properties {
	out := make(storage.Properties, len(props))
	for k, v := range props {
		if v.IsNull() {
			v = value.Tombstone()
		}
		out[k] = v
	}
	return out
}

// SetNodeProperties implements storage.Storage.
func (d *Delta) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := d.requireNode("set node properties", id); err != nil {
		return err
	}
	if err := d.materializeNode(id); err != nil {
		return err
	}
	return d.present.SetNodeProperties(id, shadowing(props))
}

// SetEdgeProperties implements storage.Storage.
func (d *Delta) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := d.requireEdge("set edge properties", id); err != nil {
		return err
	}
	if err := d.materializeEdge(id); err != nil {
		return err
	}
	return d.present.SetEdgeProperties(id, shadowing(props))
}

// removeEdge drops a logically present edge from present and hides it in base.
func (d *Delta) removeEdge(id storage.EdgeID) error {
	if ok, err := d.present.ContainsEdge(id); err != nil {
		return err
	} else if ok {
		if err := d.present.DeleteEdge(id); err != nil {
			return err
		}
	}
	if ok, err := d.base.ContainsEdge(id); err != nil {
		return err
	} else if ok {
		d.deletedEdges[id] = struct{}{}
	}
	d.edgeCount.Add(-1)
	return nil
}

func (d *Delta) removeNode(id storage.NodeID) error {
	incident, err := d.incident(id)
	if err != nil {
		return err
	}
	for _, e := range incident {
		if err := d.removeEdge(e); err != nil {
			return err
		}
	}
	if ok, err := d.present.ContainsNode(id); err != nil {
		return err
	} else if ok {
		if err := d.present.DeleteNode(id); err != nil {
			return err
		}
	}
	if ok, err := d.base.ContainsNode(id); err != nil {
		return err
	} else if ok {
		d.deletedNodes[id] = struct{}{}
	}
	d.nodeCount.Add(-1)
	return nil
}

// DeleteNode implements storage.Storage. Incident edges from both layers are
// removed with the node.
func (d *Delta) DeleteNode(id storage.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := d.requireNode("delete node", id); err != nil {
		return err
	}
	defer d.publishTombstones()
	return d.removeNode(id)
}

// DeleteEdge implements storage.Storage.
func (d *Delta) DeleteEdge(id storage.EdgeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.ErrClosed
	}
	if err := d.requireEdge("delete edge", id); err != nil {
		return err
	}
	defer d.publishTombstones()
	return d.removeEdge(id)
}

// DeleteNodes implements storage.Storage. The predicate sees merged
// properties.
func (d *Delta) DeleteNodes(pred storage.NodePredicate) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, storage.ErrClosed
	}
	nodes, err := d.listNodes()
	if err != nil {
		return 0, err
	}
	var doomed []storage.NodeID
	for _, id := range nodes {
		props, err := d.nodeProperties(id)
		if err != nil {
			return 0, err
		}
		if pred(id, props) {
			doomed = append(doomed, id)
		}
	}
	defer d.publishTombstones()
	for _, id := range doomed {
		if err := d.removeNode(id); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

// DeleteEdges implements storage.Storage.
func (d *Delta) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, storage.ErrClosed
	}
	edges, err := d.listEdges()
	if err != nil {
		return 0, err
	}
	var doomed []storage.EdgeID
	for _, id := range edges {
		props, err := d.edgeProperties(id)
		if err != nil {
			return 0, err
		}
		if pred(id, props) {
			doomed = append(doomed, id)
		}
	}
	defer d.publishTombstones()
	for _, id := range doomed {
		if err := d.removeEdge(id); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

// adjacency unions the answer of query over every layer holding each of the
// given nodes, minus tombstoned edges.
func (d *Delta) adjacency(query func(storage.Storage) ([]storage.EdgeID, error), nodes ...storage.NodeID) ([]storage.EdgeID, error) {
	seen := make(map[storage.EdgeID]struct{})
	ids := []storage.EdgeID{}
	for _, layer := range []storage.Storage{d.base, d.present} {
		holds := true
		for _, n := range nodes {
			ok, err := layer.ContainsNode(n)
			if err != nil {
				return nil, err
			}
			holds = holds && ok
		}
		if !holds {
			continue
		}
		found, err := query(layer)
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			if _, gone := d.deletedEdges[e]; gone {
				continue
			}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			ids = append(ids, e)
		}
	}
	return storage.SortEdgeIDs(ids), nil
}

func (d *Delta) incident(id storage.NodeID) ([]storage.EdgeID, error) {
	out, err := d.adjacency(func(s storage.Storage) ([]storage.EdgeID, error) { return s.OutgoingEdges(id) }, id)
	if err != nil {
		return nil, err
	}
	in, err := d.adjacency(func(s storage.Storage) ([]storage.EdgeID, error) { return s.IncomingEdges(id) }, id)
	if err != nil {
		return nil, err
	}
	for _, e := range in {
		if e.Src != id {
			out = append(out, e)
		}
	}
	return out, nil
}

// OutgoingEdges implements storage.Storage.
func (d *Delta) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if err := d.requireNode("outgoing edges", id); err != nil {
		return nil, err
	}
	return d.adjacency(func(s storage.Storage) ([]storage.EdgeID, error) { return s.OutgoingEdges(id) }, id)
}

// IncomingEdges implements storage.Storage.
func (d *Delta) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if err := d.requireNode("incoming edges", id); err != nil {
		return nil, err
	}
	return d.adjacency(func(s storage.Storage) ([]storage.EdgeID, error) { return s.IncomingEdges(id) }, id)
}

// EdgesBetween implements storage.Storage.
func (d *Delta) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if err := d.requireNode("edges between", src); err != nil {
		return nil, err
	}
	if err := d.requireNode("edges between", dst); err != nil {
		return nil, err
	}
	return d.adjacency(func(s storage.Storage) ([]storage.EdgeID, error) { return s.EdgesBetween(src, dst) }, src, dst)
}

func (d *Delta) listNodes() ([]storage.NodeID, error) {
	seen := make(map[storage.NodeID]struct{})
	ids := []storage.NodeID{}
	for _, layer := range []storage.Storage{d.base, d.present} {
		found, err := layer.Nodes()
		if err != nil {
			return nil, err
		}
		for _, n := range found {
			if _, gone := d.deletedNodes[n]; gone {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			ids = append(ids, n)
		}
	}
	return storage.SortNodeIDs(ids), nil
}

func (d *Delta) listEdges() ([]storage.EdgeID, error) {
	seen := make(map[storage.EdgeID]struct{})
	ids := []storage.EdgeID{}
	for _, layer := range []storage.Storage{d.base, d.present} {
		found, err := layer.Edges()
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			if _, gone := d.deletedEdges[e]; gone {
				continue
			}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			ids = append(ids, e)
		}
	}
	return storage.SortEdgeIDs(ids), nil
}

// Nodes implements storage.Storage.
func (d *Delta) Nodes() ([]storage.NodeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	return d.listNodes()
}

// Edges implements storage.Storage.
func (d *Delta) Edges() ([]storage.EdgeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	return d.listEdges()
}

// NodeCount implements storage.Storage. It reads the maintained counter.
func (d *Delta) NodeCount() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, storage.ErrClosed
	}
	return int(d.nodeCount.Load()), nil
}

// EdgeCount implements storage.Storage.
func (d *Delta) EdgeCount() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, storage.ErrClosed
	}
	return int(d.edgeCount.Load()), nil
}

// Clear drops every change made through the delta: present is emptied and all
// tombstones are lifted, so the delta shows base again. It reports whether the
// delta is now empty, which is the case only when base is.
func (d *Delta) Clear() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, storage.ErrClosed
	}
	if _, err := d.present.Clear(); err != nil {
		return false, err
	}
	clear(d.deletedNodes)
	clear(d.deletedEdges)
	d.publishTombstones()
	if err := d.recount(); err != nil {
		return false, err
	}
	return d.nodeCount.Load() == 0 && d.edgeCount.Load() == 0, nil
}

// Close implements storage.Storage. The present layer is closed only when the
// delta created it.
func (d *Delta) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.deletedNodes = nil
	d.deletedEdges = nil
	if d.ownsPresent {
		return d.present.Close()
	}
	return nil
}
