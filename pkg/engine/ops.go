package engine

import (
	"github.com/sanonone/kektorgraph/pkg/persistence"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// --- Writes ---
// Each write is applied in memory first, so rejected operations never reach
// the journal, then appended under the same lock.

// AddNode implements storage.Storage. Ids the journal could not replay are
// rejected before anything is applied.
func (e *Engine) AddNode(id storage.NodeID, props storage.Properties) error {
	if err := storage.ValidateNodeID("add node", id); err != nil {
		return err
	}
	return e.write(func() error {
		if err := e.mem.AddNode(id, props); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpAddNode, Node: id, Props: props})
	})
}

// AddEdge implements storage.Storage.
func (e *Engine) AddEdge(id storage.EdgeID, props storage.Properties) error {
	if err := storage.ValidateEdgeID("add edge", id); err != nil {
		return err
	}
	return e.write(func() error {
		if err := e.mem.AddEdge(id, props); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpAddEdge, Edge: id, Props: props})
	})
}

// SetNodeProperties implements storage.Storage.
func (e *Engine) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	return e.write(func() error {
		if err := e.mem.SetNodeProperties(id, props); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpSetNodeProps, Node: id, Props: props})
	})
}

// SetEdgeProperties implements storage.Storage.
func (e *Engine) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	return e.write(func() error {
		if err := e.mem.SetEdgeProperties(id, props); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpSetEdgeProps, Edge: id, Props: props})
	})
}

// DeleteNode implements storage.Storage. Incident edges go with the node on
// replay too, so only the node is journaled.
func (e *Engine) DeleteNode(id storage.NodeID) error {
	return e.write(func() error {
		if err := e.mem.DeleteNode(id); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpDeleteNode, Node: id})
	})
}

// DeleteEdge implements storage.Storage.
func (e *Engine) DeleteEdge(id storage.EdgeID) error {
	return e.write(func() error {
		if err := e.mem.DeleteEdge(id); err != nil {
			return err
		}
		return e.append(persistence.Record{Op: persistence.OpDeleteEdge, Edge: id})
	})
}

// DeleteNodes implements storage.Storage. The predicate is evaluated once and
// each match is journaled as a single deletion.
func (e *Engine) DeleteNodes(pred storage.NodePredicate) (int, error) {
	n := 0
	err := e.write(func() error {
		ids, err := e.mem.Nodes()
		if err != nil {
			return err
		}
		var doomed []storage.NodeID
		for _, id := range ids {
			props, err := e.mem.NodeProperties(id)
			if err != nil {
				return err
			}
			if pred(id, props) {
				doomed = append(doomed, id)
			}
		}
		for _, id := range doomed {
			if err := e.mem.DeleteNode(id); err != nil {
				return err
			}
			if err := e.append(persistence.Record{Op: persistence.OpDeleteNode, Node: id}); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// DeleteEdges implements storage.Storage.
func (e *Engine) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	n := 0
	err := e.write(func() error {
		ids, err := e.mem.Edges()
		if err != nil {
			return err
		}
		var doomed []storage.EdgeID
		for _, id := range ids {
			props, err := e.mem.EdgeProperties(id)
			if err != nil {
				return err
			}
			if pred(id, props) {
				doomed = append(doomed, id)
			}
		}
		for _, id := range doomed {
			if err := e.mem.DeleteEdge(id); err != nil {
				return err
			}
			if err := e.append(persistence.Record{Op: persistence.OpDeleteEdge, Edge: id}); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Clear implements storage.Storage. The journal is truncated along with the
// in-memory state.
func (e *Engine) Clear() (bool, error) {
	err := e.write(func() error {
		if _, err := e.mem.Clear(); err != nil {
			return err
		}
		if err := e.journal.Reset(); err != nil {
			return err
		}
		e.baseSize = 0
		return nil
	})
	return err == nil, err
}

// --- Reads ---

// ContainsNode implements storage.Storage.
func (e *Engine) ContainsNode(id storage.NodeID) (bool, error) {
	unlock, err := e.read()
	if err != nil {
		return false, err
	}
	defer unlock()
	return e.mem.ContainsNode(id)
}

// ContainsEdge implements storage.Storage.
func (e *Engine) ContainsEdge(id storage.EdgeID) (bool, error) {
	unlock, err := e.read()
	if err != nil {
		return false, err
	}
	defer unlock()
	return e.mem.ContainsEdge(id)
}

// NodeProperties implements storage.Storage.
func (e *Engine) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.NodeProperties(id)
}

// EdgeProperties implements storage.Storage.
func (e *Engine) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.EdgeProperties(id)
}

// NodeProperty implements storage.Storage.
func (e *Engine) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	unlock, err := e.read()
	if err != nil {
		return value.Value{}, false, err
	}
	defer unlock()
	return e.mem.NodeProperty(id, name)
}

// EdgeProperty implements storage.Storage.
func (e *Engine) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	unlock, err := e.read()
	if err != nil {
		return value.Value{}, false, err
	}
	defer unlock()
	return e.mem.EdgeProperty(id, name)
}

// OutgoingEdges implements storage.Storage.
func (e *Engine) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.OutgoingEdges(id)
}

// IncomingEdges implements storage.Storage.
func (e *Engine) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.IncomingEdges(id)
}

// EdgesBetween implements storage.Storage.
func (e *Engine) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.EdgesBetween(src, dst)
}

// Nodes implements storage.Storage.
func (e *Engine) Nodes() ([]storage.NodeID, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.Nodes()
}

// Edges implements storage.Storage.
func (e *Engine) Edges() ([]storage.EdgeID, error) {
	unlock, err := e.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mem.Edges()
}

// NodeCount implements storage.Storage.
func (e *Engine) NodeCount() (int, error) {
	unlock, err := e.read()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.mem.NodeCount()
}

// EdgeCount implements storage.Storage.
func (e *Engine) EdgeCount() (int, error) {
	unlock, err := e.read()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.mem.EdgeCount()
}
