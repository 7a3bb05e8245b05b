package delta

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/storage/storagetest"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		d, err := New(memory.New(), nil)
		require.NoError(t, err)
		return d
	})
}

// newBase returns a base with a -> b -> c, a carrying p=1.
func newBase(t *testing.T) *memory.Store {
	t.Helper()
	base := memory.New()
	require.NoError(t, base.AddNode("a", storage.Properties{"p": value.Num(1), "q": value.Str("base")}))
	require.NoError(t, base.AddNode("b", nil))
	require.NoError(t, base.AddNode("c", nil))
	require.NoError(t, base.AddEdge(storage.NewEdgeID("a", "b", "t"), storage.Properties{"w": value.Num(2)}))
	require.NoError(t, base.AddEdge(storage.NewEdgeID("b", "c", "t"), nil))
	return base
}

func newDelta(t *testing.T, base storage.Storage) *Delta {
	t.Helper()
	d, err := New(base, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func requireConsistentCounts(t *testing.T, d *Delta) {
	t.Helper()
	nodes, err := d.Nodes()
	require.NoError(t, err)
	edges, err := d.Edges()
	require.NoError(t, err)

	visible := 0
	for _, id := range nodes {
		ok, err := d.ContainsNode(id)
		require.NoError(t, err)
		if ok {
			visible++
		}
	}
	n, err := d.NodeCount()
	require.NoError(t, err)
	e, err := d.EdgeCount()
	require.NoError(t, err)
	require.Equal(t, len(nodes), visible)
	require.Equal(t, visible, n, "node counter")
	require.Equal(t, len(edges), e, "edge counter")
}

func TestInitialCountsSeeBase(t *testing.T) {
	d := newDelta(t, newBase(t))
	stats, err := storage.StatsOf(d)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 3, Edges: 2}, stats)
}

func TestPropertyRemovalShadowsBase(t *testing.T) {
	base := newBase(t)
	d := newDelta(t, base)

	require.NoError(t, d.SetNodeProperties("a", storage.Properties{"p": value.Null()}))

	_, ok, err := d.NodeProperty("a", "p")
	require.NoError(t, err)
	assert.False(t, ok)

	props, err := d.NodeProperties("a")
	require.NoError(t, err)
	assert.NotContains(t, props, "p")
	assert.True(t, props["q"].Equal(value.Str("base")), "other base keys still show through")

	v, ok, err := base.NodeProperty("a", "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Num(1)), "base is never written")

	// a later write un-shadows the key
	require.NoError(t, d.SetNodeProperties("a", storage.Properties{"p": value.Num(5)}))
	v, ok, err = d.NodeProperty("a", "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Num(5)))
}

func TestEdgePropertyWriteMaterializes(t *testing.T) {
	base := newBase(t)
	d := newDelta(t, base)
	ab := storage.NewEdgeID("a", "b", "t")

	require.NoError(t, d.SetEdgeProperties(ab, storage.Properties{"w": value.Null(), "x": value.Bool(true)}))

	ok, err := d.Present().ContainsEdge(ab)
	require.NoError(t, err)
	assert.True(t, ok, "edge copied into present")
	ok, err = d.Present().ContainsNode("b")
	require.NoError(t, err)
	assert.True(t, ok, "endpoints copied into present")

	props, err := d.EdgeProperties(ab)
	require.NoError(t, err)
	assert.Len(t, props, 1)
	assert.True(t, props["x"].Equal(value.Bool(true)))

	baseProps, err := base.EdgeProperties(ab)
	require.NoError(t, err)
	assert.True(t, baseProps["w"].Equal(value.Num(2)))
	requireConsistentCounts(t, d)
}

func TestDeleteTombstonesBaseNode(t *testing.T) {
	base := newBase(t)
	d := newDelta(t, base)

	require.NoError(t, d.DeleteNode("b"))

	ok, err := d.ContainsNode("b")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = base.ContainsNode("b")
	require.NoError(t, err)
	assert.True(t, ok)

	edges, err := d.Edges()
	require.NoError(t, err)
	assert.Empty(t, edges, "both incident base edges are hidden")
	nodes, edgesHidden := d.Tombstones()
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 2, edgesHidden)
	requireConsistentCounts(t, d)

	out, err := d.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Empty(t, out)
	_, err = d.OutgoingEdges("b")
	require.ErrorIs(t, err, storage.ErrEntityNotExist)

	// re-adding lifts the tombstone
	require.NoError(t, d.AddNode("b", nil))
	ok, err = d.ContainsNode("b")
	require.NoError(t, err)
	assert.True(t, ok)
	nodes, _ = d.Tombstones()
	assert.Zero(t, nodes)
	requireConsistentCounts(t, d)

	// but not for its edges, which were deleted separately
	ok, err = d.ContainsEdge(storage.NewEdgeID("a", "b", "t"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReAddStartsFresh(t *testing.T) {
	d := newDelta(t, newBase(t))
	require.NoError(t, d.DeleteNode("a"))
	require.NoError(t, d.AddNode("a", storage.Properties{"r": value.Num(3)}))

	props, err := d.NodeProperties("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, keys(props), "stale base properties stay hidden")

	_, ok, err := d.NodeProperty("a", "p")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.DeleteEdge(storage.NewEdgeID("b", "c", "t")))
	require.NoError(t, d.AddEdge(storage.NewEdgeID("b", "c", "t"), nil))
	requireConsistentCounts(t, d)
}

func keys(p storage.Properties) []string {
	var out []string
	for k := range p {
		out = append(out, k)
	}
	return out
}

func TestAddEdgeOverBaseEndpoints(t *testing.T) {
	d := newDelta(t, newBase(t))
	ca := storage.NewEdgeID("c", "a", "back")
	require.NoError(t, d.AddEdge(ca, nil))
	require.ErrorIs(t, d.AddEdge(storage.NewEdgeID("a", "b", "t"), nil), storage.ErrEntityAlreadyExists)

	for _, n := range []storage.NodeID{"c", "a"} {
		ok, err := d.Present().ContainsNode(n)
		require.NoError(t, err)
		assert.True(t, ok, n)
	}

	in, err := d.IncomingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{ca}, in)

	out, err := d.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{storage.NewEdgeID("a", "b", "t")}, out, "base adjacency shows through")

	between, err := d.EdgesBetween("a", "b")
	require.NoError(t, err)
	assert.Len(t, between, 1)
	requireConsistentCounts(t, d)
}

func TestBulkDeleteSeesMergedProperties(t *testing.T) {
	d := newDelta(t, newBase(t))
	require.NoError(t, d.SetNodeProperties("c", storage.Properties{"p": value.Num(1)}))

	n, err := d.DeleteNodes(func(_ storage.NodeID, p storage.Properties) bool {
		v, _ := p["p"].AsNum()
		return v == 1
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a from base and c from present")
	requireConsistentCounts(t, d)

	nodes, err := d.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"b"}, nodes)
}

func TestClearRevertsToBase(t *testing.T) {
	d := newDelta(t, newBase(t))
	require.NoError(t, d.DeleteNode("a"))
	require.NoError(t, d.AddNode("z", nil))

	empty, err := d.Clear()
	require.NoError(t, err)
	assert.False(t, empty, "base still has content")

	nodes, err := d.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"a", "b", "c"}, nodes)
	requireConsistentCounts(t, d)
}

func TestCloseOwnership(t *testing.T) {
	base := newBase(t)
	present := memory.New()
	d, err := New(base, present)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = present.NodeCount()
	assert.NoError(t, err, "caller-provided present stays open")
	_, err = base.NodeCount()
	assert.NoError(t, err)

	owned, err := New(base, nil)
	require.NoError(t, err)
	inner := owned.Present()
	require.NoError(t, owned.Close())
	_, err = inner.NodeCount()
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestCountersStayConsistent(t *testing.T) {
	d := newDelta(t, newBase(t))
	rng := rand.New(rand.NewPCG(7, 11))
	ids := []storage.NodeID{"a", "b", "c", "d", "e"}

	for i := 0; i < 500; i++ {
		src := ids[rng.IntN(len(ids))]
		dst := ids[rng.IntN(len(ids))]
		e := storage.NewEdgeID(src, dst, fmt.Sprintf("t%d", rng.IntN(2)))
		switch rng.IntN(6) {
		case 0:
			_ = d.AddNode(src, nil)
		case 1:
			_ = d.DeleteNode(src)
		case 2:
			_ = d.AddEdge(e, nil)
		case 3:
			_ = d.DeleteEdge(e)
		case 4:
			_ = d.SetNodeProperties(src, storage.Properties{"k": value.Num(float64(i))})
		case 5:
			_, _ = d.DeleteEdges(func(id storage.EdgeID, _ storage.Properties) bool { return id.Src == src })
		}
		requireConsistentCounts(t, d)
	}
}

func TestConcurrentWriters(t *testing.T) {
	d := newDelta(t, newBase(t))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := storage.NodeID(fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, d.AddNode(id, nil))
				assert.NoError(t, d.AddEdge(storage.NewEdgeID("a", id, "fan"), nil))
				_, err := d.OutgoingEdges("a")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	stats, err := storage.StatsOf(d)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 403, Edges: 402}, stats)
	requireConsistentCounts(t, d)
}
