package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/internal/server"
	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/storage/storagetest"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func serve(t *testing.T, s storage.Storage, token string) *Client {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.AuthToken = token
	ts := httptest.NewServer(server.NewServer(s, cfg).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL, token)
}

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return serve(t, memory.NewSynchronized(), "secret")
	})
}

func TestStrictNamesSurviveTheWire(t *testing.T) {
	c := serve(t, memory.NewWithOptions(memory.Options{StrictNames: true}), "")

	err := c.AddNode("a", storage.Properties{"__kg.id": value.Str("x")})
	require.ErrorIs(t, err, storage.ErrInvalidPropertyName)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "__kg.id")
}

func TestWrongToken(t *testing.T) {
	c := serve(t, memory.NewSynchronized(), "secret")
	c.authToken = "guess"

	_, err := c.NodeCount()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.NoError(t, apiErr.Unwrap(), "no storage sentinel for auth failures")
}

func TestValuesRoundTrip(t *testing.T) {
	c := serve(t, memory.NewSynchronized(), "")

	m := value.NewMap()
	m.Set("z", value.Num(1))
	m.Set("a", value.List(value.Bool(true), value.Null()))
	props := storage.Properties{
		"map":   value.MapOf(m),
		"text":  value.Str("tab\there \"quoted\""),
		"small": value.Num(0.1),
	}
	require.NoError(t, c.AddNode("n", props))

	got, err := c.NodeProperties("n")
	require.NoError(t, err)
	require.Len(t, got, len(props))
	for k, v := range props {
		assert.Truef(t, v.Equal(got[k]), "property %s: got %v", k, got[k])
	}
	gm, ok := got["map"].AsMap()
	require.True(t, ok)
	assert.Equal(t, []string{"z", "a"}, gm.Keys(), "map order survives")
}

func TestTraversals(t *testing.T) {
	s := memory.NewSynchronized()
	g := graph.NewSimple("tree", s)
	for _, id := range []storage.NodeID{"root", "left", "right", "leaf"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	for _, e := range [][2]storage.NodeID{{"root", "left"}, {"root", "right"}, {"left", "leaf"}} {
		_, err := g.AddEdge(e[0], e[1], "child", nil)
		require.NoError(t, err)
	}
	c := serve(t, s, "")

	down, err := c.Descendants("tree", "root")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"left", "right", "leaf"}, down)

	up, err := c.Ancestors("tree", "leaf", "child")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"left", "root"}, up)

	none, err := c.Descendants("tree", "root", "parent")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCompact(t *testing.T) {
	c := serve(t, memory.NewSynchronized(), "")
	var apiErr *APIError
	require.ErrorAs(t, c.Compact(), &apiErr)
	assert.Equal(t, http.StatusNotImplemented, apiErr.StatusCode)

	opts := engine.DefaultOptions(t.TempDir())
	opts.MaintenanceInterval = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	c = serve(t, eng, "")
	require.NoError(t, c.AddNode("a", nil))
	require.NoError(t, c.SetNodeProperties("a", storage.Properties{"k": value.Num(1)}))
	require.NoError(t, c.Compact())

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 1}, stats)
}
