package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/storagetest"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	return s
}

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return openInMemory(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.AddNode("a", storage.Properties{"name": value.Str("alice")}))
	require.NoError(t, s.AddNode("b", nil))
	e := storage.NewEdgeID("a", "b", "knows")
	require.NoError(t, s.AddEdge(e, storage.Properties{"since": value.Num(2020)}))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	stats, err := storage.StatsOf(s)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 2, Edges: 1}, stats)

	name, ok, err := s.NodeProperty("a", "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, name.Equal(value.Str("alice")))

	out, err := s.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{e}, out)
}

func TestRejectsReservedNames(t *testing.T) {
	s := openInMemory(t)
	defer s.Close()

	err := s.AddNode("a", storage.Properties{storage.ReservedPrefix + "x": value.Num(1)})
	require.ErrorIs(t, err, storage.ErrInvalidPropertyName)
	n, err := s.NodeCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIDsWithSeparators(t *testing.T) {
	s := openInMemory(t)
	defer s.Close()

	// ids that share prefixes must not leak into each other's index ranges
	for _, id := range []storage.NodeID{"a", "ab", "a-b", ""} {
		require.NoError(t, s.AddNode(id, nil))
	}
	e1 := storage.NewEdgeID("a", "ab", "x-y")
	e2 := storage.NewEdgeID("ab", "a", "x")
	e3 := storage.NewEdgeID("a-b", "", "")
	for _, e := range []storage.EdgeID{e1, e2, e3} {
		require.NoError(t, s.AddEdge(e, nil))
	}

	out, err := s.OutgoingEdges("a")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{e1}, out)

	in, err := s.IncomingEdges("")
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{e3}, in)

	nodes, err := s.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"", "a", "a-b", "ab"}, nodes)
}

func TestBulkDeleteSharedEdges(t *testing.T) {
	s := openInMemory(t)
	defer s.Close()

	for _, id := range []storage.NodeID{"a", "b", "c"} {
		require.NoError(t, s.AddNode(id, storage.Properties{"drop": value.Bool(id != "c")}))
	}
	require.NoError(t, s.AddEdge(storage.NewEdgeID("a", "b", "t"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("b", "a", "t"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("b", "c", "t"), nil))
	require.NoError(t, s.AddEdge(storage.NewEdgeID("c", "c", "t"), nil))

	n, err := s.DeleteNodes(func(_ storage.NodeID, p storage.Properties) bool {
		drop, _ := p["drop"].AsBool()
		return drop
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := storage.StatsOf(s)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 1, Edges: 1}, stats)
	edges, err := s.Edges()
	require.NoError(t, err)
	assert.Equal(t, []storage.EdgeID{storage.NewEdgeID("c", "c", "t")}, edges)
}
