// Package client is a storage.Storage backed by a remote kektorgraph server.
//
// Every call is one HTTP request. Server failures come back as *APIError,
// which unwraps to the matching storage sentinel so errors.Is works the same
// as against a local backend. Predicate deletion runs the predicate locally
// over a listing and then removes the matches in a single request; entities
// added concurrently by other clients in between are not considered.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// APIError represents an error returned by the server (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code back to a storage sentinel.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return storage.ErrEntityNotExist
	case http.StatusConflict:
		return storage.ErrEntityAlreadyExists
	case http.StatusUnprocessableEntity:
		return storage.ErrInvalidPropertyName
	case http.StatusBadRequest:
		return storage.ErrMalformedID
	case http.StatusServiceUnavailable:
		return storage.ErrClosed
	}
	return nil
}

// --- Wire types, mirrored by internal/server ---

type nodeRequest struct {
	ID    storage.NodeID     `json:"id"`
	Props storage.Properties `json:"props,omitempty"`
	Name  string             `json:"name,omitempty"`
}

type edgeRequest struct {
	Edge  storage.EdgeID     `json:"edge"`
	Props storage.Properties `json:"props,omitempty"`
	Name  string             `json:"name,omitempty"`
}

type betweenRequest struct {
	Src storage.NodeID `json:"src"`
	Dst storage.NodeID `json:"dst"`
}

type traverseRequest struct {
	Node  storage.NodeID `json:"node"`
	Types []string       `json:"types,omitempty"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type propertiesResponse struct {
	Props storage.Properties `json:"props"`
}

type propertyResponse struct {
	Value value.Value `json:"value"`
	Found bool        `json:"found"`
}

type nodesResponse struct {
	Nodes []storage.NodeID `json:"nodes"`
}

type edgesResponse struct {
	Edges []storage.EdgeID `json:"edges"`
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

// --- Client ---

// Client talks to one kektorgraph server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	closed     atomic.Bool
}

var _ storage.Storage = (*Client)(nil)

// New creates a client for the server at baseURL, e.g.
// "http://localhost:9191". An empty authToken sends no Authorization header.
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		authToken:  authToken,
	}
}

// jsonRequest executes one API call and returns the raw response body. A
// 201 or 204 response yields a nil body.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusCreated {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// call runs jsonRequest and decodes a JSON response into out.
func (c *Client) call(method, endpoint string, payload, out any) error {
	body, err := c.jsonRequest(method, endpoint, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) action(name string, payload, out any) error {
	return c.call(http.MethodPost, "/graph/actions/"+name, payload, out)
}

// --- Nodes ---

func (c *Client) AddNode(id storage.NodeID, props storage.Properties) error {
	return c.action("add-node", nodeRequest{ID: id, Props: props}, nil)
}

func (c *Client) ContainsNode(id storage.NodeID) (bool, error) {
	var resp existsResponse
	err := c.action("contains-node", nodeRequest{ID: id}, &resp)
	return resp.Exists, err
}

func (c *Client) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	var resp propertiesResponse
	if err := c.action("get-node", nodeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	if resp.Props == nil {
		resp.Props = storage.Properties{}
	}
	return resp.Props, nil
}

func (c *Client) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	var resp propertyResponse
	if err := c.action("get-node-property", nodeRequest{ID: id, Name: name}, &resp); err != nil {
		return value.Null(), false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	return c.action("set-node", nodeRequest{ID: id, Props: props}, nil)
}

func (c *Client) DeleteNode(id storage.NodeID) error {
	return c.action("delete-node", nodeRequest{ID: id}, nil)
}

// DeleteNodes evaluates pred here, against a listing fetched node by node,
// and deletes the matches in one request.
func (c *Client) DeleteNodes(pred storage.NodePredicate) (int, error) {
	ids, err := c.Nodes()
	if err != nil {
		return 0, err
	}
	var match []storage.NodeID
	for _, id := range ids {
		props, err := c.NodeProperties(id)
		if errors.Is(err, storage.ErrEntityNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if pred(id, props) {
			match = append(match, id)
		}
	}
	if len(match) == 0 {
		return 0, nil
	}
	var resp deletedResponse
	err = c.action("delete-nodes", map[string]any{"ids": match}, &resp)
	return resp.Deleted, err
}

// --- Edges ---

func (c *Client) AddEdge(id storage.EdgeID, props storage.Properties) error {
	return c.action("add-edge", edgeRequest{Edge: id, Props: props}, nil)
}

func (c *Client) ContainsEdge(id storage.EdgeID) (bool, error) {
	var resp existsResponse
	err := c.action("contains-edge", edgeRequest{Edge: id}, &resp)
	return resp.Exists, err
}

func (c *Client) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	var resp propertiesResponse
	if err := c.action("get-edge", edgeRequest{Edge: id}, &resp); err != nil {
		return nil, err
	}
	if resp.Props == nil {
		resp.Props = storage.Properties{}
	}
	return resp.Props, nil
}

func (c *Client) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	var resp propertyResponse
	if err := c.action("get-edge-property", edgeRequest{Edge: id, Name: name}, &resp); err != nil {
		return value.Null(), false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	return c.action("set-edge", edgeRequest{Edge: id, Props: props}, nil)
}

func (c *Client) DeleteEdge(id storage.EdgeID) error {
	return c.action("delete-edge", edgeRequest{Edge: id}, nil)
}

// DeleteEdges is the edge counterpart of DeleteNodes.
func (c *Client) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	ids, err := c.Edges()
	if err != nil {
		return 0, err
	}
	var match []storage.EdgeID
	for _, id := range ids {
		props, err := c.EdgeProperties(id)
		if errors.Is(err, storage.ErrEntityNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if pred(id, props) {
			match = append(match, id)
		}
	}
	if len(match) == 0 {
		return 0, nil
	}
	var resp deletedResponse
	err = c.action("delete-edges", map[string]any{"edges": match}, &resp)
	return resp.Deleted, err
}

// --- Adjacency and listings ---

func (c *Client) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	var resp edgesResponse
	err := c.action("outgoing", nodeRequest{ID: id}, &resp)
	return resp.Edges, err
}

func (c *Client) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	var resp edgesResponse
	err := c.action("incoming", nodeRequest{ID: id}, &resp)
	return resp.Edges, err
}

func (c *Client) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	var resp edgesResponse
	err := c.action("between", betweenRequest{Src: src, Dst: dst}, &resp)
	return resp.Edges, err
}

func (c *Client) Nodes() ([]storage.NodeID, error) {
	var resp nodesResponse
	err := c.call(http.MethodGet, "/graph/nodes", nil, &resp)
	return resp.Nodes, err
}

func (c *Client) Edges() ([]storage.EdgeID, error) {
	var resp edgesResponse
	err := c.call(http.MethodGet, "/graph/edges", nil, &resp)
	return resp.Edges, err
}

// Stats fetches both counters in one request.
func (c *Client) Stats() (storage.Stats, error) {
	var stats storage.Stats
	err := c.call(http.MethodGet, "/graph/stats", nil, &stats)
	return stats, err
}

func (c *Client) NodeCount() (int, error) {
	stats, err := c.Stats()
	return stats.Nodes, err
}

func (c *Client) EdgeCount() (int, error) {
	stats, err := c.Stats()
	return stats.Edges, err
}

// --- Traversals ---

// Descendants lists the distinct nodes reachable from of in the named graph.
// With types set, only edges of those local types are followed.
func (c *Client) Descendants(graphName string, of storage.NodeID, types ...string) ([]storage.NodeID, error) {
	return c.traverse(graphName, "descendants", of, types)
}

// Ancestors is Descendants against edge direction.
func (c *Client) Ancestors(graphName string, of storage.NodeID, types ...string) ([]storage.NodeID, error) {
	return c.traverse(graphName, "ancestors", of, types)
}

func (c *Client) traverse(graphName, dir string, of storage.NodeID, types []string) ([]storage.NodeID, error) {
	var resp nodesResponse
	endpoint := "/graphs/" + url.PathEscape(graphName) + "/" + dir
	err := c.call(http.MethodPost, endpoint, traverseRequest{Node: of, Types: types}, &resp)
	return resp.Nodes, err
}

// --- System ---

// Compact asks the server to rewrite its journal.
func (c *Client) Compact() error {
	return c.call(http.MethodPost, "/system/compact", nil, nil)
}

func (c *Client) Clear() (bool, error) {
	var resp struct {
		Empty bool `json:"empty"`
	}
	err := c.call(http.MethodPost, "/system/clear", nil, &resp)
	return resp.Empty, err
}

// Close marks the client closed. The remote storage stays open.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
	return nil
}
