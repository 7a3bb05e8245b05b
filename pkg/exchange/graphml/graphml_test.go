package graphml

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/exchange"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
	"github.com/sanonone/kektorgraph/pkg/value"
)

func TestRoundTripPseudoGraph(t *testing.T) {
	src := memory.New()
	require.NoError(t, src.AddNode("a", storage.Properties{
		"label": value.Str("<b>&amp;</b>"),
		"nid":   value.Str("a property, not the id"),
	}))
	require.NoError(t, src.AddNode("b", nil))
	edges := []storage.EdgeID{
		storage.NewEdgeID("a", "b", "x"),
		storage.NewEdgeID("a", "b", "y"),
		storage.NewEdgeID("a", "a", "self"),
	}
	for _, e := range edges {
		require.NoError(t, src.AddEdge(e, storage.Properties{"w": value.Num(1.25)}))
	}

	var buf bytes.Buffer
	require.NoError(t, Export(src, &buf))
	doc := buf.String()
	assert.Contains(t, doc, `edgedefault="directed"`)
	assert.Contains(t, doc, `<node id="n0">`)
	assert.Contains(t, doc, `source="n0" target="n0"`)
	assert.NotContains(t, doc, "<b>", "markup in values is escaped")

	dst := memory.New()
	stats, err := Import(context.Background(), dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportStats{Nodes: 2, Edges: 3}, stats)

	props, err := dst.NodeProperties("a")
	require.NoError(t, err)
	assert.True(t, props["label"].Equal(value.Str("<b>&amp;</b>")))
	assert.True(t, props["nid"].Equal(value.Str("a property, not the id")))

	got, err := dst.Edges()
	require.NoError(t, err)
	assert.Equal(t, storage.SortEdgeIDs(edges), got)
}

func TestImportSkipsBrokenElements(t *testing.T) {
	doc := `<?xml version="1.0"?>
<graphml xmlns="http://graphml.graphdrawing.org/xmlns">
  <key id="nid" for="node" attr.name="nid" attr.type="string"/>
  <key id="eid" for="edge" attr.name="eid" attr.type="string"/>
  <key id="nk0" for="node" attr.name="color" attr.type="string"/>
  <graph id="G" edgedefault="directed">
    <node id="n0"><data key="nid">"a"</data><data key="nk0">"red"</data></node>
    <node id="n1"><data key="nk0">"blue"</data></node>
    <node id="n2"><data key="nid">"b"</data><data key="nk0">not json</data></node>
    <node id="n3"><data key="nid">"c"</data></node>
    <edge id="e0" source="n0" target="n3"><data key="eid">["a","c","t"]</data></edge>
    <edge id="e1" source="n0" target="n1"><data key="eid">["a","zz","t"]</data></edge>
    <edge id="e2" source="n0" target="n1"></edge>
  </graph>
</graphml>`

	s := memory.New()
	stats, err := Import(context.Background(), s, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportStats{Nodes: 2, Edges: 1, Skipped: 4}, stats)

	color, ok, err := s.NodeProperty("a", "color")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, color.Equal(value.Str("red")))
}

func TestImportRejectsInvalidXML(t *testing.T) {
	_, err := Import(context.Background(), memory.New(), strings.NewReader("<graphml><graph>"))
	require.Error(t, err)
}

func TestExportRefusesInvalidUTF8(t *testing.T) {
	for name, props := range map[string]storage.Properties{
		"value": {"blob": value.Str("\xff")},
		"name":  {"bl\xffb": value.Num(1)},
	} {
		t.Run(name, func(t *testing.T) {
			s := memory.New()
			require.NoError(t, s.AddNode("a", props))
			var buf bytes.Buffer
			assert.ErrorIs(t, Export(s, &buf), value.ErrNotText)
		})
	}
}
