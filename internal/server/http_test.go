package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func newTestServer(t *testing.T, s storage.Storage, token string) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.AuthToken = token
	ts := httptest.NewServer(NewServer(s, cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthzAndAuth(t *testing.T) {
	ts := newTestServer(t, memory.NewSynchronized(), "test-secret-token")

	resp := call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthz is public")

	resp = call(t, ts, http.MethodGet, "/graph/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(t, ts, http.MethodGet, "/graph/stats", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(t, ts, http.MethodGet, "/graph/stats", "test-secret-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, storage.Stats{}, decodeBody[storage.Stats](t, resp))
}

func TestRateLimit(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	ts := httptest.NewServer(NewServer(memory.NewSynchronized(), cfg).Handler())
	t.Cleanup(ts.Close)

	for range 2 {
		resp := call(t, ts, http.MethodGet, "/graph/stats", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := call(t, ts, http.MethodGet, "/graph/stats", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	resp = call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthz bypasses the limiter")
}

func TestHealthzReportsClosedStorage(t *testing.T) {
	s := memory.NewSynchronized()
	ts := newTestServer(t, s, "")
	require.NoError(t, s.Close())

	resp := call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, metrics.Instrument(memory.NewSynchronized(), "http_test"), "")
	call(t, ts, http.MethodGet, "/graph/nodes", "", nil)

	resp := call(t, ts, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "kektorgraph_http_requests_total")
	assert.Contains(t, buf.String(), `route="GET /graph/nodes"`)
}

func TestNodeLifecycle(t *testing.T) {
	ts := newTestServer(t, memory.NewSynchronized(), "")

	add := NodeRequest{ID: "a", Props: storage.Properties{"name": value.Str("alice")}}
	resp := call(t, ts, http.MethodPost, "/graph/actions/add-node", "", add)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/graph/actions/add-node", "", add)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/graph/actions/set-node", "", NodeRequest{
		ID:    "a",
		Props: storage.Properties{"name": value.Null(), "age": value.Num(30)},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/graph/actions/get-node", "", NodeRequest{ID: "a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	props := decodeBody[PropertiesResponse](t, resp).Props
	assert.Len(t, props, 1, "null removed the name")
	assert.True(t, props["age"].Equal(value.Num(30)))

	resp = call(t, ts, http.MethodPost, "/graph/actions/get-node-property", "", NodeRequest{ID: "a", Name: "name"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[PropertyResponse](t, resp).Found)

	resp = call(t, ts, http.MethodPost, "/graph/actions/get-node", "", NodeRequest{ID: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[map[string]string](t, resp)["error"])

	resp = call(t, ts, http.MethodPost, "/graph/actions/delete-node", "", NodeRequest{ID: "a"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/graph/actions/contains-node", "", NodeRequest{ID: "a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[ExistsResponse](t, resp).Exists)
}

func TestErrorStatusCodes(t *testing.T) {
	ts := newTestServer(t, memory.NewWithOptions(memory.Options{StrictNames: true}), "")

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"reserved property", "/graph/actions/add-node", NodeRequest{ID: "a", Props: storage.Properties{"__kg.x": value.Num(1)}}, http.StatusUnprocessableEntity},
		{"missing endpoint", "/graph/actions/add-edge", EdgeRequest{Edge: storage.NewEdgeID("a", "b", "t")}, http.StatusNotFound},
		{"adjacency of missing node", "/graph/actions/outgoing", NodeRequest{ID: "ghost"}, http.StatusNotFound},
		{"unknown field", "/graph/actions/add-node", map[string]string{"nope": "x"}, http.StatusBadRequest},
		{"unknown route", "/graph/actions/teleport", NodeRequest{ID: "a"}, http.StatusNotFound},
		{"no journal", "/system/compact", nil, http.StatusNotImplemented},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(t, ts, http.MethodPost, tc.path, "", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestEdgesAndAdjacency(t *testing.T) {
	s := memory.NewSynchronized()
	for _, id := range []storage.NodeID{"a", "b", "c"} {
		require.NoError(t, s.AddNode(id, nil))
	}
	ab := storage.NewEdgeID("a", "b", "x")
	ab2 := storage.NewEdgeID("a", "b", "y")
	cb := storage.NewEdgeID("c", "b", "x")
	ts := newTestServer(t, s, "")

	for _, e := range []storage.EdgeID{ab, ab2, cb} {
		resp := call(t, ts, http.MethodPost, "/graph/actions/add-edge", "", EdgeRequest{Edge: e, Props: storage.Properties{"w": value.Num(1)}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := call(t, ts, http.MethodPost, "/graph/actions/incoming", "", NodeRequest{ID: "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []storage.EdgeID{ab, ab2, cb}, decodeBody[EdgesResponse](t, resp).Edges)

	resp = call(t, ts, http.MethodPost, "/graph/actions/between", "", BetweenRequest{Src: "a", Dst: "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []storage.EdgeID{ab, ab2}, decodeBody[EdgesResponse](t, resp).Edges)

	resp = call(t, ts, http.MethodPost, "/graph/actions/delete-edges", "", DeleteEdgesRequest{Edges: []storage.EdgeID{ab2, cb, storage.NewEdgeID("c", "a", "x")}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decodeBody[DeletedResponse](t, resp).Deleted)

	resp = call(t, ts, http.MethodGet, "/graph/edges", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []storage.EdgeID{ab}, decodeBody[EdgesResponse](t, resp).Edges)

	resp = call(t, ts, http.MethodPost, "/system/clear", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[ClearResponse](t, resp).Empty)
}

func TestTraversals(t *testing.T) {
	s := memory.NewSynchronized()
	g := graph.NewMulti("deps", s)
	for _, id := range []storage.NodeID{"app", "lib", "core", "tool"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	for _, e := range [][3]string{{"app", "lib", "uses"}, {"lib", "core", "uses"}, {"app", "tool", "builds"}} {
		_, err := g.AddEdge(storage.NodeID(e[0]), storage.NodeID(e[1]), e[2], nil)
		require.NoError(t, err)
	}
	ts := newTestServer(t, s, "")

	resp := call(t, ts, http.MethodPost, "/graphs/deps/descendants", "", TraverseRequest{Node: "app"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []storage.NodeID{"lib", "tool", "core"}, decodeBody[NodesResponse](t, resp).Nodes)

	resp = call(t, ts, http.MethodPost, "/graphs/deps/descendants", "", TraverseRequest{Node: "app", Types: []string{"uses"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []storage.NodeID{"lib", "core"}, decodeBody[NodesResponse](t, resp).Nodes)

	resp = call(t, ts, http.MethodPost, "/graphs/deps/ancestors", "", TraverseRequest{Node: "core"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []storage.NodeID{"lib", "app"}, decodeBody[NodesResponse](t, resp).Nodes)

	resp = call(t, ts, http.MethodPost, "/graphs/other/descendants", "", TraverseRequest{Node: "app"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[NodesResponse](t, resp).Nodes, "edges of another graph are invisible")
}

func TestCompactEngine(t *testing.T) {
	opts := engine.DefaultOptions(t.TempDir())
	opts.MaintenanceInterval = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ts := newTestServer(t, metrics.Instrument(eng, config.BackendEngine), "")
	resp := call(t, ts, http.MethodPost, "/graph/actions/add-node", "", NodeRequest{ID: "a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/system/compact", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
