// Package storagetest holds the behavioural checks shared by every
// storage.Storage implementation. Backend packages call Run from their own
// tests with a constructor for a fresh, empty instance.
package storagetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Factory returns an empty storage. The caller closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the full contract suite against instances built by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"AddNodeTwice", testAddNodeTwice},
		{"EmptyIDs", testEmptyIDs},
		{"AddEdgeNeedsEndpoints", testAddEdgeNeedsEndpoints},
		{"AddEdgeTwice", testAddEdgeTwice},
		{"ParallelEdgesByType", testParallelEdgesByType},
		{"Properties", testProperties},
		{"PropertiesAreCopies", testPropertiesAreCopies},
		{"MissingEntityProperties", testMissingEntityProperties},
		{"DeleteNodeCascades", testDeleteNodeCascades},
		{"DeleteEdge", testDeleteEdge},
		{"DeleteByPredicate", testDeleteByPredicate},
		{"Adjacency", testAdjacency},
		{"AdjacencyOfMissingNode", testAdjacencyOfMissingNode},
		{"Listings", testListings},
		{"Clear", testClear},
		{"Close", testClose},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func props(kv ...any) storage.Properties {
	p := storage.Properties{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = value.MustFromAny(kv[i+1])
	}
	return p
}

func mustAddNodes(t *testing.T, s storage.Storage, ids ...storage.NodeID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.AddNode(id, nil))
	}
}

func assertCounts(t *testing.T, s storage.Storage, nodes, edges int) {
	t.Helper()
	n, err := s.NodeCount()
	require.NoError(t, err)
	e, err := s.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, nodes, n, "node count")
	assert.Equal(t, edges, e, "edge count")

	ns, err := s.Nodes()
	require.NoError(t, err)
	es, err := s.Edges()
	require.NoError(t, err)
	assert.Len(t, ns, nodes, "node listing")
	assert.Len(t, es, edges, "edge listing")
}

func testEmptyIDs(t *testing.T, s storage.Storage) {
	assert.ErrorIs(t, s.AddNode("", nil), storage.ErrMalformedID)

	mustAddNodes(t, s, "a")
	assert.ErrorIs(t, s.AddEdge(storage.NewEdgeID("a", "", "t"), nil), storage.ErrMalformedID)
	assert.ErrorIs(t, s.AddEdge(storage.NewEdgeID("", "a", "t"), nil), storage.ErrMalformedID)

	n, err := s.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ok, err := s.ContainsNode("")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testAddNodeTwice(t *testing.T, s storage.Storage) {
	require.NoError(t, s.AddNode("a", props("name", "first")))
	err := s.AddNode("a", props("name", "second"))
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists)

	v, ok, err := s.NodeProperty("a", "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Str("first")), "failed add must not touch the node")
	assertCounts(t, s, 1, 0)
}

func testAddEdgeNeedsEndpoints(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a")
	err := s.AddEdge(storage.NewEdgeID("a", "b", "t"), nil)
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	err = s.AddEdge(storage.NewEdgeID("b", "a", "t"), nil)
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	assertCounts(t, s, 1, 0)
}

func testAddEdgeTwice(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b")
	e := storage.NewEdgeID("a", "b", "t")
	require.NoError(t, s.AddEdge(e, props("w", 1.5)))
	require.ErrorIs(t, s.AddEdge(e, nil), storage.ErrEntityAlreadyExists)
	assertCounts(t, s, 2, 1)
}

func testParallelEdgesByType(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b")
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "b", "x"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "b", "y"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("b", "a", "x"), nil))

	between, err := s.EdgesBetween("a", "b")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{
		storage.NewEdgeID("a", "b", "x"),
		storage.NewEdgeID("a", "b", "y"),
	}, between)
	assertCounts(t, s, 2, 3)
}

func testProperties(t *testing.T, s storage.Storage) {
	require.NoError(t, s.AddNode("a", props("name", "alice", "age", 30.0)))

	got, err := s.NodeProperties("a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got["age"].Equal(value.Num(30)))

	require.NoError(t, s.SetNodeProperties("a", storage.Properties{
		"age":  value.Null(),
		"tags": value.List(value.Str("x"), value.Str("y")),
	}))
	got, err = s.NodeProperties("a")
	require.NoError(t, err)
	assert.NotContains(t, got, "age", "null removes")
	assert.True(t, got["name"].Equal(value.Str("alice")), "untouched keys survive")
	assert.True(t, got["tags"].Equal(value.List(value.Str("x"), value.Str("y"))))

	_, ok, err := s.NodeProperty("a", "age")
	require.NoError(t, err)
	assert.False(t, ok)

	mustAddNodes(t, s, "b")
	e := storage.NewEdgeID("a", "b", "t")
	require.NoError(t, s.AddEdge(e, props("weight", 1.5)))
	require.NoError(t, s.SetEdgeProperties(e, props("weight", 2.0, "label", "x")))
	v, ok, err := s.EdgeProperty(e, "weight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Num(2)))
	ep, err := s.EdgeProperties(e)
	require.NoError(t, err)
	assert.Len(t, ep, 2)
}

func testPropertiesAreCopies(t *testing.T, s storage.Storage) {
	in := props("k", "v")
	require.NoError(t, s.AddNode("a", in))
	in["k"] = value.Str("changed")

	got, err := s.NodeProperties("a")
	require.NoError(t, err)
	got["k"] = value.Str("mutated")

	again, err := s.NodeProperties("a")
	require.NoError(t, err)
	assert.True(t, again["k"].Equal(value.Str("v")))
}

func testMissingEntityProperties(t *testing.T, s storage.Storage) {
	_, err := s.NodeProperties("ghost")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	_, _, err = s.NodeProperty("ghost", "k")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	require.ErrorIs(t, s.SetNodeProperties("ghost", props("k", 1.0)), storage.ErrEntityNotExist)
	require.ErrorIs(t, s.DeleteNode("ghost"), storage.ErrEntityNotExist)

	e := storage.NewEdgeID("x", "y", "t")
	_, err = s.EdgeProperties(e)
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	_, _, err = s.EdgeProperty(e, "k")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	require.ErrorIs(t, s.SetEdgeProperties(e, nil), storage.ErrEntityNotExist)
	require.ErrorIs(t, s.DeleteEdge(e), storage.ErrEntityNotExist)

	ok, err := s.ContainsNode("ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.ContainsEdge(e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeleteNodeCascades(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b", "c")
	for _, e := range []storage.EdgeID{
		storage.NewEdgeID("a", "b", "t"),
		storage.NewEdgeID("b", "a", "t"),
		storage.NewEdgeID("b", "b", "self"),
		storage.NewEdgeID("a", "c", "t"),
		storage.NewEdgeID("c", "b", "t"),
	} {
		require.NoError(t, s.AddEdge(e, nil))
	}

	require.NoError(t, s.DeleteNode("b"))
	ok, err := s.ContainsNode("b")
	require.NoError(t, err)
	assert.False(t, ok)

	edges, err := s.Edges()
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{storage.NewEdgeID("a", "c", "t")}, edges)

	out, err := s.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{storage.NewEdgeID("a", "c", "t")}, out)
	in, err := s.IncomingEdges("c")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{storage.NewEdgeID("a", "c", "t")}, in)
	out, err = s.OutgoingEdges("c")
	require.NoError(t, err)
	assert.Empty(t, out)
	assertCounts(t, s, 2, 1)
}

func testDeleteEdge(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b")
	e := storage.NewEdgeID("a", "b", "t")
	require.NoError(t, s.AddEdge(e, nil))
	require.NoError(t, s.DeleteEdge(e))
	require.ErrorIs(t, s.DeleteEdge(e), storage.ErrEntityNotExist)

	out, err := s.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Empty(t, out)
	in, err := s.IncomingEdges("b")
	require.NoError(t, err)
	assert.Empty(t, in)
	assertCounts(t, s, 2, 0)

	// the edge can be recreated after deletion
	require.NoError(t, s.AddEdge(e, nil))
	assertCounts(t, s, 2, 1)
}

func testDeleteByPredicate(t *testing.T, s storage.Storage) {
	require.NoError(t, s.AddNode("a", props("keep", true)))
	require.NoError(t, s.AddNode("b", props("keep", false)))
	require.NoError(t, s.AddNode("c", nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "b", "t"), props("w", 1.0)))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "c", "t"), props("w", 2.0)))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("c", "a", "t"), props("w", 3.0)))

	n, err := s.DeleteEdges(func(_ storage.EdgeID, p storage.Properties) bool {
		w, _ := p["w"].AsNum()
		return w >= 3
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertCounts(t, s, 3, 2)

	n, err = s.DeleteNodes(func(id storage.NodeID, p storage.Properties) bool {
		keep, _ := p["keep"].AsBool()
		return !keep && id != "c"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertCounts(t, s, 2, 1)

	n, err = s.DeleteNodes(func(storage.NodeID, storage.Properties) bool { return false })
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testAdjacency(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b", "c")
	ab := storage.NewEdgeID("a", "b", "t")
	ac := storage.NewEdgeID("a", "c", "t")
	cb := storage.NewEdgeID("c", "b", "u")
	for _, e := range []storage.EdgeID{ac, ab, cb} {
		require.NoError(t, s.AddEdge(e, nil))
	}

	out, err := s.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{ab, ac}, out)

	in, err := s.IncomingEdges("b")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{ab, cb}, in)

	in, err = s.IncomingEdges("a")
	require.NoError(t, err)
	assert.Empty(t, in)

	between, err := s.EdgesBetween("c", "b")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{cb}, between)

	between, err = s.EdgesBetween("b", "c")
	require.NoError(t, err)
	assert.Empty(t, between)
}

func testAdjacencyOfMissingNode(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a")
	_, err := s.OutgoingEdges("ghost")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	_, err = s.IncomingEdges("ghost")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
	_, err = s.EdgesBetween("a", "ghost")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
}

func testListings(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "c", "a", "b")
	require.NoError(t, s.AddEdge(storage.NewEdgeID("b", "a", "t"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "c", "z"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "c", "b"), nil))

	nodes, err := s.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"a", "b", "c"}, nodes)

	edges, err := s.Edges()
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{
		storage.NewEdgeID("a", "c", "b"),
		storage.NewEdgeID("a", "c", "z"),
		storage.NewEdgeID("b", "a", "t"),
	}, edges)
	assertCounts(t, s, 3, 3)
}

func testClear(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a", "b")
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "b", "t"), nil))

	empty, err := s.Clear()
	require.NoError(t, err)
	assert.True(t, empty)
	assertCounts(t, s, 0, 0)

	// usable afterwards
	mustAddNodes(t, s, "a")
	assertCounts(t, s, 1, 0)
}

func testClose(t *testing.T, s storage.Storage) {
	mustAddNodes(t, s, "a")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	checks := map[string]error{}
	checks["AddNode"] = s.AddNode("b", nil)
	checks["SetNodeProperties"] = s.SetNodeProperties("a", nil)
	checks["DeleteNode"] = s.DeleteNode("a")
	_, err := s.NodeCount()
	checks["NodeCount"] = err
	_, err = s.Nodes()
	checks["Nodes"] = err
	_, err = s.ContainsNode("a")
	checks["ContainsNode"] = err
	_, err = s.OutgoingEdges("a")
	checks["OutgoingEdges"] = err
	_, err = s.Clear()
	checks["Clear"] = err

	for name, err := range checks {
		assert.Truef(t, errors.Is(err, storage.ErrClosed), "%s after close: %v", name, err)
	}
}
