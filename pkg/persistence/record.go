package persistence

import (
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// OpCode identifies the mutation carried by a frame.
type OpCode byte

const (
	OpAddNode      OpCode = 0x01
	OpAddEdge      OpCode = 0x02
	OpSetNodeProps OpCode = 0x03
	OpSetEdgeProps OpCode = 0x04
	OpDeleteNode   OpCode = 0x05
	OpDeleteEdge   OpCode = 0x06
	opCodeSentinel OpCode = 0x07
)

func (op OpCode) String() string {
	switch op {
	case OpAddNode:
		return "add_node"
	case OpAddEdge:
		return "add_edge"
	case OpSetNodeProps:
		return "set_node_props"
	case OpSetEdgeProps:
		return "set_edge_props"
	case OpDeleteNode:
		return "delete_node"
	case OpDeleteEdge:
		return "delete_edge"
	default:
		return fmt.Sprintf("op(0x%02x)", byte(op))
	}
}

// Record is one journaled storage mutation. Node is set for node ops, Edge
// for edge ops; Props is empty for deletions.
type Record struct {
	Op    OpCode
	Node  storage.NodeID
	Edge  storage.EdgeID
	Props storage.Properties
}

func (r Record) onEdge() bool {
	return r.Op == OpAddEdge || r.Op == OpSetEdgeProps || r.Op == OpDeleteEdge
}

// Payload encodes the record body as a two-element Value list:
// [identifier, properties].
func (r Record) Payload() []byte {
	id := r.Node.Value()
	if r.onEdge() {
		id = r.Edge.Value()
	}
	return value.Encode(value.List(id, storage.PropertiesValue(r.Props)))
}

// Frame returns the encoded frame for the record.
func (r Record) Frame() []byte {
	return AppendFrame(nil, r.Op, r.Payload())
}

// DecodeRecord rebuilds a record from a frame.
func DecodeRecord(f Frame) (Record, error) {
	r := Record{Op: f.Op}
	if f.Op == 0 || f.Op >= opCodeSentinel {
		return r, fmt.Errorf("unknown journal %s", f.Op)
	}
	v, err := value.Decode(f.Payload)
	if err != nil {
		return r, fmt.Errorf("decode %s payload: %w", f.Op, err)
	}
	items, ok := v.AsList()
	if !ok || len(items) != 2 {
		return r, fmt.Errorf("decode %s payload: %w: want [id, props]", f.Op, value.ErrCorrupt)
	}
	if r.onEdge() {
		r.Edge, err = storage.EdgeIDFromValue(items[0])
	} else {
		r.Node, err = storage.NodeIDFromValue(items[0])
	}
	if err != nil {
		return r, fmt.Errorf("decode %s id: %w", f.Op, err)
	}
	if r.Props, err = storage.PropertiesFromValue(items[1]); err != nil {
		return r, fmt.Errorf("decode %s props: %w", f.Op, err)
	}
	return r, nil
}

// Apply replays the record against s.
func (r Record) Apply(s storage.Storage) error {
	switch r.Op {
	case OpAddNode:
		return s.AddNode(r.Node, r.Props)
	case OpAddEdge:
		return s.AddEdge(r.Edge, r.Props)
	case OpSetNodeProps:
		return s.SetNodeProperties(r.Node, r.Props)
	case OpSetEdgeProps:
		return s.SetEdgeProperties(r.Edge, r.Props)
	case OpDeleteNode:
		return s.DeleteNode(r.Node)
	case OpDeleteEdge:
		return s.DeleteEdge(r.Edge)
	default:
		return fmt.Errorf("unknown journal %s", r.Op)
	}
}
