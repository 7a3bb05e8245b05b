package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

const maxBodySize = 32 << 20

// registerHTTPHandlers sets up the REST routes. Lookups and mutations carry
// identifiers in the JSON body, so ids never need path escaping.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	// --- Listings ---
	mux.HandleFunc("GET /graph/nodes", s.handleListNodes)
	mux.HandleFunc("GET /graph/edges", s.handleListEdges)
	mux.HandleFunc("GET /graph/stats", s.handleStats)

	// --- Nodes ---
	mux.HandleFunc("POST /graph/actions/add-node", s.handleAddNode)
	mux.HandleFunc("POST /graph/actions/contains-node", s.handleContainsNode)
	mux.HandleFunc("POST /graph/actions/get-node", s.handleGetNode)
	mux.HandleFunc("POST /graph/actions/get-node-property", s.handleGetNodeProperty)
	mux.HandleFunc("POST /graph/actions/set-node", s.handleSetNode)
	mux.HandleFunc("POST /graph/actions/delete-node", s.handleDeleteNode)
	mux.HandleFunc("POST /graph/actions/delete-nodes", s.handleDeleteNodes)

	// --- Edges ---
	mux.HandleFunc("POST /graph/actions/add-edge", s.handleAddEdge)
	mux.HandleFunc("POST /graph/actions/contains-edge", s.handleContainsEdge)
	mux.HandleFunc("POST /graph/actions/get-edge", s.handleGetEdge)
	mux.HandleFunc("POST /graph/actions/get-edge-property", s.handleGetEdgeProperty)
	mux.HandleFunc("POST /graph/actions/set-edge", s.handleSetEdge)
	mux.HandleFunc("POST /graph/actions/delete-edge", s.handleDeleteEdge)
	mux.HandleFunc("POST /graph/actions/delete-edges", s.handleDeleteEdges)

	// --- Adjacency ---
	mux.HandleFunc("POST /graph/actions/outgoing", s.handleAdjacency(s.store.OutgoingEdges))
	mux.HandleFunc("POST /graph/actions/incoming", s.handleAdjacency(s.store.IncomingEdges))
	mux.HandleFunc("POST /graph/actions/between", s.handleBetween)

	// --- Logical graphs ---
	mux.HandleFunc("POST /graphs/{name}/descendants", s.handleTraverse(graph.Forward))
	mux.HandleFunc("POST /graphs/{name}/ancestors", s.handleTraverse(graph.Backward))

	// --- System ---
	mux.HandleFunc("POST /system/clear", s.handleClear)
	mux.HandleFunc("POST /system/compact", s.handleCompact)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeHTTPError(w, http.StatusNotFound, "endpoint not found")
	})
}

// --- Listings ---

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.Nodes()
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, NodesResponse{Nodes: ids})
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.Edges()
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, EdgesResponse{Edges: ids})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := storage.StatsOf(s.store)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, stats)
}

// --- Nodes ---

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.AddNode(req.ID, req.Props); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleContainsNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ok, err := s.store.ContainsNode(req.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ExistsResponse{Exists: ok})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	props, err := s.store.NodeProperties(req.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, PropertiesResponse{Props: props})
}

func (s *Server) handleGetNodeProperty(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	v, ok, err := s.store.NodeProperty(req.ID, req.Name)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, PropertyResponse{Value: v, Found: ok})
}

func (s *Server) handleSetNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.SetNodeProperties(req.ID, req.Props); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.DeleteNode(req.ID); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNodes(w http.ResponseWriter, r *http.Request) {
	var req DeleteNodesRequest
	if !s.decode(w, r, &req) {
		return
	}
	set := make(map[storage.NodeID]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		set[id] = struct{}{}
	}
	n, err := s.store.DeleteNodes(func(id storage.NodeID, _ storage.Properties) bool {
		_, ok := set[id]
		return ok
	})
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// --- Edges ---

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.AddEdge(req.Edge, req.Props); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleContainsEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ok, err := s.store.ContainsEdge(req.Edge)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ExistsResponse{Exists: ok})
}

func (s *Server) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	props, err := s.store.EdgeProperties(req.Edge)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, PropertiesResponse{Props: props})
}

func (s *Server) handleGetEdgeProperty(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	v, ok, err := s.store.EdgeProperty(req.Edge, req.Name)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, PropertyResponse{Value: v, Found: ok})
}

func (s *Server) handleSetEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.SetEdgeProperties(req.Edge, req.Props); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.DeleteEdge(req.Edge); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEdges(w http.ResponseWriter, r *http.Request) {
	var req DeleteEdgesRequest
	if !s.decode(w, r, &req) {
		return
	}
	set := make(map[storage.EdgeID]struct{}, len(req.Edges))
	for _, id := range req.Edges {
		set[id] = struct{}{}
	}
	n, err := s.store.DeleteEdges(func(id storage.EdgeID, _ storage.Properties) bool {
		_, ok := set[id]
		return ok
	})
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// --- Adjacency ---

func (s *Server) handleAdjacency(query func(storage.NodeID) ([]storage.EdgeID, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NodeRequest
		if !s.decode(w, r, &req) {
			return
		}
		ids, err := query(req.ID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		s.writeHTTPResponse(w, http.StatusOK, EdgesResponse{Edges: ids})
	}
}

func (s *Server) handleBetween(w http.ResponseWriter, r *http.Request) {
	var req BetweenRequest
	if !s.decode(w, r, &req) {
		return
	}
	ids, err := s.store.EdgesBetween(req.Src, req.Dst)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, EdgesResponse{Edges: ids})
}

// --- Logical graphs ---

// handleTraverse answers with the distinct nodes reachable from req.Node in
// the named graph, in discovery order. The graph's cache is rebuilt from
// storage on every request.
func (s *Server) handleTraverse(dir graph.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TraverseRequest
		if !s.decode(w, r, &req) {
			return
		}
		g := graph.NewMulti(r.PathValue("name"), s.store)
		if err := g.RefreshCache(); err != nil {
			s.writeStorageError(w, err)
			return
		}
		var filter graph.EdgeFilter
		if len(req.Types) > 0 {
			filter = graph.TypeFilter(req.Types...)
		}
		nodes, err := g.Reachable(req.Node, dir, filter)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		ids := make([]storage.NodeID, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID()
		}
		s.writeHTTPResponse(w, http.StatusOK, NodesResponse{Nodes: ids})
	}
}

// --- System ---

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	empty, err := s.store.Clear()
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ClearResponse{Empty: empty})
}

type compacter interface {
	Compact() error
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	c, ok := storage.Unwrap(s.store).(compacter)
	if !ok {
		s.writeHTTPError(w, http.StatusNotImplemented, "backend has no journal to compact")
		return
	}
	if err := c.Compact(); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "compacted"})
}

// --- Response helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusOf maps storage failures onto HTTP status codes. pkg/client maps
// them back.
func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrEntityNotExist):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrEntityAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidPropertyName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrMalformedID):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	s.writeHTTPError(w, statusOf(err), err.Error())
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
