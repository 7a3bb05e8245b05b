package server

import (
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// NodeRequest addresses one node. Props is used by add-node and set-node,
// Name by get-node-property.
type NodeRequest struct {
	ID    storage.NodeID     `json:"id"`
	Props storage.Properties `json:"props,omitempty"`
	Name  string             `json:"name,omitempty"`
}

// EdgeRequest addresses one edge, like NodeRequest.
type EdgeRequest struct {
	Edge  storage.EdgeID     `json:"edge"`
	Props storage.Properties `json:"props,omitempty"`
	Name  string             `json:"name,omitempty"`
}

// BetweenRequest defines the body for the edges-between query.
type BetweenRequest struct {
	Src storage.NodeID `json:"src"`
	Dst storage.NodeID `json:"dst"`
}

// DeleteNodesRequest deletes the listed nodes in one storage call. Ids that
// are absent by the time the call runs are ignored.
type DeleteNodesRequest struct {
	IDs []storage.NodeID `json:"ids"`
}

// DeleteEdgesRequest is the edge counterpart of DeleteNodesRequest.
type DeleteEdgesRequest struct {
	Edges []storage.EdgeID `json:"edges"`
}

// TraverseRequest starts a walk at Node. When Types is non-empty only edges
// of those local types are followed.
type TraverseRequest struct {
	Node  storage.NodeID `json:"node"`
	Types []string       `json:"types,omitempty"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type PropertiesResponse struct {
	Props storage.Properties `json:"props"`
}

type PropertyResponse struct {
	Value value.Value `json:"value"`
	Found bool        `json:"found"`
}

type NodesResponse struct {
	Nodes []storage.NodeID `json:"nodes"`
}

type EdgesResponse struct {
	Edges []storage.EdgeID `json:"edges"`
}

type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

type ClearResponse struct {
	Empty bool `json:"empty"`
}
