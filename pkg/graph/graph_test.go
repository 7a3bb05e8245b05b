package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func ids(nodes []*Node) []storage.NodeID {
	out := make([]storage.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

func collect(t *testing.T, g *Graph, of storage.NodeID, dir Direction, filter EdgeFilter) []storage.NodeID {
	t.Helper()
	var out []storage.NodeID
	for n, err := range g.Walk(of, dir, filter) {
		require.NoError(t, err)
		out = append(out, n.ID())
	}
	return out
}

func TestSimpleGraphScenario(t *testing.T) {
	g := NewSimple("g", memory.New())
	_, err := g.AddNode("A", nil)
	require.NoError(t, err)
	_, err = g.AddNode("B", nil)
	require.NoError(t, err)

	_, err = g.AddEdge("A", "B", "t", storage.Properties{"weight": value.Num(1.5)})
	require.NoError(t, err)

	e, err := g.Edge("A", "B", "t")
	require.NoError(t, err)
	w, ok, err := e.Prop("weight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, w.Equal(value.Num(1.5)))
	assert.Equal(t, "t", e.LocalType())
	assert.Equal(t, "g:t", e.Type())

	_, err = g.AddEdge("A", "B", "t", nil)
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists)
	_, err = g.AddEdge("A", "B", "other", nil)
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists, "one edge per ordered pair")

	_, err = g.AddEdge("B", "A", "t", nil)
	require.NoError(t, err, "the reverse direction is a different pair")
}

func TestSimpleGraphSeesUncachedCollisions(t *testing.T) {
	s := memory.New()
	first := NewSimple("g", s)
	_, err := first.AddNode("A", nil)
	require.NoError(t, err)
	_, err = first.AddNode("B", nil)
	require.NoError(t, err)
	_, err = first.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)

	second := NewSimple("g", s)
	_, err = second.AddNode("A", nil)
	require.NoError(t, err)
	_, err = second.AddNode("B", nil)
	require.NoError(t, err)
	_, err = second.AddEdge("A", "B", "u", nil)
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists)

	other := NewSimple("h", s)
	_, err = other.AddNode("A", nil)
	require.NoError(t, err)
	_, err = other.AddNode("B", nil)
	require.NoError(t, err)
	_, err = other.AddEdge("A", "B", "t", nil)
	require.NoError(t, err, "edges of other graphs do not collide")
}

func TestMultiGraphParallelEdges(t *testing.T) {
	g := NewMulti("m", memory.New())
	_, err := g.AddNode("A", nil)
	require.NoError(t, err)
	_, err = g.AddNode("B", nil)
	require.NoError(t, err)

	_, err = g.AddEdge("A", "B", "x", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("A", "B", "y", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("A", "B", "x", nil)
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists)

	auto1, err := g.AddEdgeAuto("A", "B", nil)
	require.NoError(t, err)
	auto2, err := g.AddEdgeAuto("A", "B", nil)
	require.NoError(t, err)
	assert.NotEqual(t, auto1.ID(), auto2.ID())

	out, err := g.OutgoingEdges("A")
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestAddEdgeNeedsCachedEndpoints(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.AddNode("B", nil))
	g := NewMulti("m", s)
	_, err := g.AddNode("A", nil)
	require.NoError(t, err)

	_, err = g.AddEdge("A", "B", "x", nil)
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
}

func TestAddNodeAdoptsStoredNode(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.AddNode("A", storage.Properties{"k": value.Num(1)}))
	g := NewSimple("g", s)

	n, err := g.AddNode("A", storage.Properties{"j": value.Num(2)})
	require.NoError(t, err)
	props, err := n.Props()
	require.NoError(t, err)
	assert.Len(t, props, 2)

	_, err = g.AddNode("A", nil)
	require.ErrorIs(t, err, storage.ErrEntityAlreadyExists)
}

type foreignRef struct {
	id    storage.NodeID
	store storage.Storage
}

func (f foreignRef) ID() storage.NodeID       { return f.id }
func (f foreignRef) Storage() storage.Storage { return f.store }

func TestWrapNode(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.AddNode("A", nil))
	require.NoError(t, s.AddNode("B", nil))
	g := NewSimple("g", s)

	same := NewNode("A", s)
	assert.IsType(t, Reusable{}, g.Adopt(same))
	wrapped, err := g.WrapNode(same)
	require.NoError(t, err)
	assert.Same(t, same, wrapped)
	assert.True(t, g.HasNode("A"))

	again, err := g.WrapNode(same)
	require.NoError(t, err)
	assert.NotSame(t, same, again, "cached nodes get a fresh handle")

	ref := foreignRef{id: "B", store: s}
	assert.IsType(t, NeedsRebuild{}, g.Adopt(ref))
	wrapped, err = g.WrapNode(ref)
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID("B"), wrapped.ID())

	elsewhere := NewNode("A", memory.New())
	assert.IsType(t, NeedsRebuild{}, g.Adopt(elsewhere))

	_, err = g.WrapNode(NewNode("ghost", s))
	require.ErrorIs(t, err, storage.ErrEntityNotExist)
}

func TestAdjacencyIsCacheFiltered(t *testing.T) {
	s := memory.New()
	g := NewMulti("g", s)
	for _, id := range []storage.NodeID{"A", "B", "C"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)
	require.NoError(t, s.AddEdge(storage.NewEdgeID("A", "C", "raw"), nil))

	out, err := g.OutgoingEdges("A")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, storage.NodeID("B"), out[0].Dst().ID())

	out, err = g.OutgoingEdges("nobody")
	require.NoError(t, err)
	assert.Empty(t, out)

	// cached but gone from storage
	require.NoError(t, s.DeleteNode("C"))
	in, err := g.IncomingEdges("C")
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestDescendantsOnCycle(t *testing.T) {
	g := NewMulti("g", memory.New())
	for _, id := range []storage.NodeID{"A", "B", "C"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	for _, e := range [][2]storage.NodeID{{"A", "B"}, {"B", "C"}, {"C", "A"}} {
		_, err := g.AddEdge(e[0], e[1], "next", nil)
		require.NoError(t, err)
	}

	got := collect(t, g.Graph, "A", Forward, nil)
	assert.Equal(t, []storage.NodeID{"B", "C", "A"}, got)

	count := map[storage.NodeID]int{}
	for _, id := range got {
		count[id]++
	}
	assert.Equal(t, 1, count["B"])
	assert.Equal(t, 1, count["C"])

	back := collect(t, g.Graph, "A", Backward, nil)
	assert.Equal(t, []storage.NodeID{"C", "B", "A"}, back)
}

func TestWalkYieldsPerArrival(t *testing.T) {
	g := NewMulti("g", memory.New())
	for _, id := range []storage.NodeID{"root", "l", "r", "leaf"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	for _, e := range [][2]storage.NodeID{{"root", "l"}, {"root", "r"}, {"l", "leaf"}, {"r", "leaf"}} {
		_, err := g.AddEdge(e[0], e[1], "c", nil)
		require.NoError(t, err)
	}

	got := collect(t, g.Graph, "root", Forward, nil)
	assert.Equal(t, []storage.NodeID{"l", "r", "leaf", "leaf"}, got)

	reach, err := g.Reachable("root", Forward, nil)
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"l", "r", "leaf"}, ids(reach))

	ancestors := collect(t, g.Graph, "leaf", Backward, nil)
	assert.ElementsMatch(t, []storage.NodeID{"l", "r", "root", "root"}, ancestors)
}

func TestWalkFilterAndEarlyStop(t *testing.T) {
	g := NewMulti("g", memory.New())
	for _, id := range []storage.NodeID{"A", "B", "C", "D"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("A", "B", "keep", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("B", "C", "drop", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("A", "D", "keep", nil)
	require.NoError(t, err)

	got := collect(t, g.Graph, "A", Forward, TypeFilter("keep"))
	assert.Equal(t, []storage.NodeID{"B", "D"}, got)

	var first []storage.NodeID
	for n, err := range g.Descendants("A", nil) {
		require.NoError(t, err)
		first = append(first, n.ID())
		break
	}
	assert.Equal(t, []storage.NodeID{"B"}, first)
}

func TestDelNodeCascades(t *testing.T) {
	s := memory.New()
	g := NewMulti("g", s)
	for _, id := range []storage.NodeID{"A", "B", "C"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("B", "C", "t", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("B", "B", "self", nil)
	require.NoError(t, err)

	require.NoError(t, g.DelNode("B"))
	assert.False(t, g.HasNode("B"))
	assert.Zero(t, g.EdgeCount())
	stats, err := storage.StatsOf(s)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 2, Edges: 0}, stats)

	require.NoError(t, g.DelNode("B"), "deleting an unknown node is a no-op")
}

func TestDelEdge(t *testing.T) {
	g := NewSimple("g", memory.New())
	_, _ = g.AddNode("A", nil)
	_, _ = g.AddNode("B", nil)
	e, err := g.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)

	require.NoError(t, g.DelEdge(e.ID()))
	require.ErrorIs(t, g.DelEdge(e.ID()), storage.ErrEntityNotExist)
	_, err = g.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)
}

func TestRefreshCache(t *testing.T) {
	s := memory.New()
	g := NewMulti("g", s)
	for _, id := range []storage.NodeID{"A", "B", "lonely"} {
		_, err := g.AddNode(id, nil)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("A", "B", "t", nil)
	require.NoError(t, err)

	h := NewMulti("h", s)
	_, _ = h.AddNode("B", nil)
	_, _ = h.AddNode("C", nil)
	_, err = h.AddEdge("B", "C", "t", nil)
	require.NoError(t, err)

	g.ClearCache()
	assert.Zero(t, g.NodeCount())

	require.NoError(t, g.RefreshCache())
	assert.Equal(t, []storage.NodeID{"A", "B"}, ids(g.Nodes()), "only endpoints of own edges return")
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, "t", g.Edges()[0].LocalType())

	fresh := NewMulti("h", s)
	require.NoError(t, fresh.RefreshCache())
	assert.Equal(t, []storage.NodeID{"B", "C"}, ids(fresh.Nodes()))
}

func TestMetadata(t *testing.T) {
	s := memory.New()
	g := NewSimple("g", s)

	meta, err := g.Metadata()
	require.NoError(t, err)
	assert.Empty(t, meta)
	_, ok, err := g.MetadataValue("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.SetMetadata(storage.Properties{"k": value.Str("v")}))
	require.NoError(t, g.SetMetadata(storage.Properties{"n": value.Num(2)}))

	meta, err = g.Metadata()
	require.NoError(t, err)
	assert.Len(t, meta, 2)

	ok, err = s.ContainsNode(MetaNodeID("g"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, g.HasNode(g.MetaNodeID()), "metadata is not part of the graph")
}
