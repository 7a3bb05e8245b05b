package lattice

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// chain builds L1 -> L2 -> L3, each label's parent being the next one.
func chain(t *testing.T) (*Lattice, *Label, *Label, *Label) {
	t.Helper()
	lt := New()
	l1, l2, l3 := lt.Label("L1"), lt.Label("L2"), lt.Label("L3")
	require.NoError(t, l1.SetParents(map[string]*Label{"up": l2}))
	require.NoError(t, l2.SetParents(map[string]*Label{"up": l3}))
	return lt, l1, l2, l3
}

func names(seq []*Label) []string {
	out := make([]string, len(seq))
	for i, l := range seq {
		out[i] = l.Name()
	}
	return out
}

func TestChainOrdering(t *testing.T) {
	lt, l1, l2, l3 := chain(t)

	assert.Equal(t, Greater, l1.Compare(l2))
	assert.Equal(t, Less, l3.Compare(l1))
	assert.Equal(t, Less, l2.Compare(l1))
	assert.Equal(t, Greater, l1.Compare(l3))
	assert.Equal(t, Equal, l2.Compare(l2))

	other := lt.Label("X")
	assert.Equal(t, Incomparable, other.Compare(l1))
	assert.Equal(t, Incomparable, l1.Compare(other))
}

func TestSentinels(t *testing.T) {
	_, l1, _, _ := chain(t)
	for _, l := range []*Label{l1, New().Label("fresh")} {
		assert.Equal(t, Greater, Supremum.Compare(l))
		assert.Equal(t, Less, Infimum.Compare(l))
		assert.Equal(t, Less, l.Compare(Supremum))
		assert.Equal(t, Greater, l.Compare(Infimum))
	}
	assert.Equal(t, Equal, Supremum.Compare(Supremum))
	assert.Equal(t, Equal, Infimum.Compare(Infimum))
	assert.Equal(t, Greater, Supremum.Compare(Infimum))

	require.ErrorIs(t, Supremum.SetParents(map[string]*Label{"x": l1}), ErrSentinel)
	require.ErrorIs(t, l1.SetParents(map[string]*Label{"x": Infimum}), ErrParentsFixed)
	fresh := New().Label("f")
	require.ErrorIs(t, fresh.SetParents(map[string]*Label{"x": Infimum}), ErrSentinel)
}

func TestParentsAreWriteOnce(t *testing.T) {
	lt := New()
	a, b, c := lt.Label("a"), lt.Label("b"), lt.Label("c")

	assert.Empty(t, a.Parents())
	require.NoError(t, a.SetParents(map[string]*Label{"p": b}))
	require.NoError(t, a.SetParents(map[string]*Label{"p": b}), "same parents again")
	require.ErrorIs(t, a.SetParents(map[string]*Label{"p": c}), ErrParentsFixed)
	require.ErrorIs(t, a.SetParents(map[string]*Label{"p": b, "q": c}), ErrParentsFixed)

	parents := a.Parents()
	delete(parents, "p")
	assert.Len(t, a.Parents(), 1, "Parents returns a copy")
}

func TestDetachedLabel(t *testing.T) {
	var zero Label
	assert.ErrorIs(t, zero.SetParents(nil), ErrDetached)
	assert.ErrorIs(t, new(Label).SetParents(map[string]*Label{"p": New().Label("b")}), ErrDetached)
	assert.Equal(t, Incomparable, new(Label).Compare(New().Label("b")))
}

func TestSetParentsRejectsCycles(t *testing.T) {
	lt, l1, _, l3 := chain(t)
	require.ErrorIs(t, l3.SetParents(map[string]*Label{"down": l1}), ErrCycle)
	self := lt.Label("self")
	require.ErrorIs(t, self.SetParents(map[string]*Label{"me": self}), ErrCycle)
}

func TestIncomparableIsNotCached(t *testing.T) {
	lt := New()
	a, b := lt.Label("a"), lt.Label("b")
	assert.Equal(t, Incomparable, a.Compare(b))

	require.NoError(t, a.SetParents(map[string]*Label{"p": b}))
	assert.Equal(t, Greater, a.Compare(b))
	assert.Equal(t, Less, b.Compare(a), "cached result is flipped for the reverse pair")
}

func TestAncestorsOnDiamond(t *testing.T) {
	lt := New()
	top, left, right, bottom := lt.Label("top"), lt.Label("left"), lt.Label("right"), lt.Label("bottom")
	require.NoError(t, left.SetParents(map[string]*Label{"p": top}))
	require.NoError(t, right.SetParents(map[string]*Label{"p": top}))
	require.NoError(t, bottom.SetParents(map[string]*Label{"l": left, "r": right}))

	got := names(slices.Collect(bottom.Ancestors()))
	assert.Equal(t, []string{"left", "right", "top"}, got)
	assert.Equal(t, got, names(slices.Collect(bottom.Ancestors())), "sequence is restartable")

	var edges []string
	for e := range bottom.AncestorEdges() {
		edges = append(edges, e.Child.Name()+"-"+e.Relation+"->"+e.Parent.Name())
	}
	assert.Equal(t, []string{"bottom-l->left", "bottom-r->right", "left-p->top", "right-p->top"}, edges)

	assert.Equal(t, Greater, bottom.Compare(top))
	assert.Empty(t, slices.Collect(Supremum.Ancestors()))
}

func newEdge(t *testing.T) (*graph.MultiGraph, *graph.Edge) {
	t.Helper()
	g := graph.NewMulti("g", memory.New())
	_, err := g.AddNode("a", nil)
	require.NoError(t, err)
	_, err = g.AddNode("b", nil)
	require.NoError(t, err)
	e, err := g.AddEdge("a", "b", "t", nil)
	require.NoError(t, err)
	return g, e
}

func TestChangeTracking(t *testing.T) {
	lt := New()
	l1, l2 := lt.Label("L1"), lt.Label("L2")
	_, e := newEdge(t)

	labels, err := lt.EdgeLabels(e)
	require.NoError(t, err)
	assert.Empty(t, labels)

	require.NoError(t, lt.SetEdgeLabels(e, l1, l2, l1))
	labels, err = lt.EdgeLabels(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2"}, names(labels))
	assert.True(t, l1.HasChange(e.ID()))

	require.NoError(t, lt.SetEdgeLabels(e, l2))
	assert.False(t, l1.HasChange(e.ID()))
	assert.True(t, l2.HasChange(e.ID()))
	assert.Equal(t, []storage.EdgeID{e.ID()}, l2.Changes())

	require.ErrorIs(t, lt.SetEdgeLabels(e, Supremum), ErrSentinel)
}

func TestMalformedLabelsProperty(t *testing.T) {
	lt := New()
	_, e := newEdge(t)
	require.NoError(t, e.SetProp(LabelsProperty, value.Str("oops")))
	_, err := lt.EdgeLabels(e)
	require.ErrorIs(t, err, ErrMalformedLabels)
}

func TestStoreAndLoad(t *testing.T) {
	lt, _, _, _ := chain(t)
	g, e := newEdge(t)
	require.NoError(t, lt.SetEdgeLabels(e, lt.Label("L1")))
	require.NoError(t, lt.Store(g.Graph))

	loaded := New()
	require.NoError(t, loaded.Load(g.Graph))
	l1, ok := loaded.Lookup("L1")
	require.True(t, ok)
	l3, ok := loaded.Lookup("L3")
	require.True(t, ok)
	assert.Equal(t, Greater, l1.Compare(l3))
	assert.True(t, l1.HasChange(e.ID()))

	// loading twice is additive and harmless
	require.NoError(t, loaded.Load(g.Graph))

	// a conflicting fixed parent is reported
	conflict := New()
	require.NoError(t, conflict.Label("L1").SetParents(map[string]*Label{"up": conflict.Label("Z")}))
	require.ErrorIs(t, conflict.Load(g.Graph), ErrParentsFixed)
}

func TestFailedLoadLeavesLatticeUntouched(t *testing.T) {
	lt, _, _, _ := chain(t)
	g, _ := newEdge(t)
	require.NoError(t, lt.Store(g.Graph))

	// L1 loads cleanly before L2 conflicts.
	target := New()
	require.NoError(t, target.Label("L2").SetParents(map[string]*Label{"up": target.Label("Z")}))
	require.ErrorIs(t, target.Load(g.Graph), ErrParentsFixed)

	assert.Equal(t, []string{"L2", "Z"}, names(target.Labels()))
	l2, _ := target.Lookup("L2")
	z, _ := target.Lookup("Z")
	assert.Equal(t, map[string]*Label{"up": z}, l2.Parents())

	// A pre-existing label given parents by the failed load is reset too.
	pre := New()
	l1 := pre.Label("L1")
	require.NoError(t, pre.Label("L2").SetParents(map[string]*Label{"up": pre.Label("Z")}))
	require.Error(t, pre.Load(g.Graph))
	assert.Empty(t, l1.Parents())
	assert.Equal(t, Incomparable, l1.Compare(pre.Label("L2")))
}

func TestStoreMergesExistingMetadata(t *testing.T) {
	g, _ := newEdge(t)

	first := New()
	require.NoError(t, first.Label("a").SetParents(map[string]*Label{"p": first.Label("b")}))
	require.NoError(t, first.Store(g.Graph))

	second := New()
	require.NoError(t, second.Label("c").SetParents(map[string]*Label{"p": second.Label("d")}))
	require.NoError(t, second.Store(g.Graph))

	both := New()
	require.NoError(t, both.Load(g.Graph))
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(both.Labels()))
}

func TestStoreForgetsUntaggedEdges(t *testing.T) {
	g, e := newEdge(t)
	lt := New()
	require.NoError(t, lt.SetEdgeLabels(e, lt.Label("L1")))
	require.NoError(t, lt.Store(g.Graph))

	require.NoError(t, lt.SetEdgeLabels(e))
	require.NoError(t, lt.Store(g.Graph))

	loaded := New()
	require.NoError(t, loaded.Load(g.Graph))
	l1, ok := loaded.Lookup("L1")
	require.True(t, ok)
	assert.Empty(t, l1.Changes())
}

func TestLoadIgnoresMissingOrMalformed(t *testing.T) {
	g, _ := newEdge(t)
	lt := New()
	require.NoError(t, lt.Load(g.Graph))
	assert.Empty(t, lt.Labels())

	require.NoError(t, g.SetMetadata(storage.Properties{
		MetaParents: value.Num(1),
		MetaChanges: value.Str("nope"),
	}))
	require.NoError(t, lt.Load(g.Graph))
	assert.Empty(t, lt.Labels())
}
