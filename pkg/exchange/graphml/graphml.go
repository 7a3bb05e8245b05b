// Package graphml reads and writes graphs as GraphML documents.
//
// A storage maps onto one directed pseudo-graph: nodes become n0, n1, ...
// and edges e0, e1, ... in identifier order. The reserved nid and eid
// attributes carry each entity's identifier in the value character encoding;
// every other attribute is a property, its value in the same encoding.
package graphml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/sanonone/kektorgraph/pkg/exchange"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Format names this adapter in logs and metrics.
const Format = "graphml"

// Reserved key ids.
const (
	NodeIDKey = "nid"
	EdgeIDKey = "eid"
)

const namespace = "http://graphml.graphdrawing.org/xmlns"

type document struct {
	XMLName xml.Name `xml:"graphml"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Keys    []key    `xml:"key"`
	Graph   graph    `xml:"graph"`
}

type key struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type graph struct {
	ID          string `xml:"id,attr"`
	EdgeDefault string `xml:"edgedefault,attr"`
	Nodes       []node `xml:"node"`
	Edges       []edge `xml:"edge"`
}

type node struct {
	ID   string `xml:"id,attr"`
	Data []data `xml:"data"`
}

type edge struct {
	ID     string `xml:"id,attr"`
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
	Data   []data `xml:"data"`
}

type data struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// keySet assigns key ids to property names for one element kind.
type keySet struct {
	prefix string
	ids    map[string]string
}

func (ks *keySet) add(names []string) {
	for _, n := range names {
		if _, ok := ks.ids[n]; !ok {
			ks.ids[n] = ks.prefix + strconv.Itoa(len(ks.ids))
		}
	}
}

func (ks *keySet) keys(kind string) []key {
	names := make([]string, 0, len(ks.ids))
	for n := range ks.ids {
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, _ := strconv.Atoi(ks.ids[a][len(ks.prefix):])
		ib, _ := strconv.Atoi(ks.ids[b][len(ks.prefix):])
		return ia - ib
	})
	out := make([]key, len(names))
	for i, n := range names {
		out[i] = key{ID: ks.ids[n], For: kind, Name: n, Type: "string"}
	}
	return out
}

func sortedNames(props storage.Properties) []string {
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func element(idKey string, id value.Value, props storage.Properties, ks *keySet) ([]data, error) {
	text, err := value.EncodeText(id)
	if err != nil {
		return nil, err
	}
	names := sortedNames(props)
	ks.add(names)
	out := []data{{Key: idKey, Value: text}}
	for _, n := range names {
		if !utf8.ValidString(n) {
			return nil, fmt.Errorf("property %q: %w", n, value.ErrNotText)
		}
		text, err := value.EncodeText(props[n])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", n, err)
		}
		out = append(out, data{Key: ks.ids[n], Value: text})
	}
	return out, nil
}

// Export writes s to w as one GraphML document.
func Export(s storage.Storage, w io.Writer) error {
	doc := document{
		Xmlns: namespace,
		Graph: graph{ID: "G", EdgeDefault: "directed"},
	}
	nodeKeys := &keySet{prefix: "nk", ids: map[string]string{}}
	edgeKeys := &keySet{prefix: "ek", ids: map[string]string{}}

	// 1. Nodes
	ids, err := s.Nodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	index := make(map[storage.NodeID]string, len(ids))
	for i, id := range ids {
		props, err := s.NodeProperties(id)
		if err != nil {
			return fmt.Errorf("read node %s: %w", id, err)
		}
		d, err := element(NodeIDKey, id.Value(), props, nodeKeys)
		if err != nil {
			return fmt.Errorf("export node %s: %w", id, err)
		}
		index[id] = "n" + strconv.Itoa(i)
		doc.Graph.Nodes = append(doc.Graph.Nodes, node{ID: index[id], Data: d})
	}

	// 2. Edges
	eids, err := s.Edges()
	if err != nil {
		return fmt.Errorf("list edges: %w", err)
	}
	for i, id := range eids {
		props, err := s.EdgeProperties(id)
		if err != nil {
			return fmt.Errorf("read edge %s: %w", id, err)
		}
		d, err := element(EdgeIDKey, id.Value(), props, edgeKeys)
		if err != nil {
			return fmt.Errorf("export edge %s: %w", id, err)
		}
		doc.Graph.Edges = append(doc.Graph.Edges, edge{
			ID:     "e" + strconv.Itoa(i),
			Source: index[id.Src],
			Target: index[id.Dst],
			Data:   d,
		})
	}

	// 3. Keys go first in the document
	doc.Keys = append(doc.Keys,
		key{ID: NodeIDKey, For: "node", Name: NodeIDKey, Type: "string"},
		key{ID: EdgeIDKey, For: "edge", Name: EdgeIDKey, Type: "string"},
	)
	doc.Keys = append(doc.Keys, nodeKeys.keys("node")...)
	doc.Keys = append(doc.Keys, edgeKeys.keys("edge")...)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graphml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// Import reads a GraphML document into s. Elements missing their reserved
// identifier attribute, or carrying undecodable values, are skipped. See
// package exchange for the partial-failure policy.
func Import(ctx context.Context, s storage.Storage, r io.Reader) (exchange.ImportStats, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return exchange.ImportStats{}, fmt.Errorf("decode graphml: %w", err)
	}

	names := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		names[k.ID] = k.Name
	}

	return exchange.Import(ctx, s, Format, func(_ context.Context, emit func(exchange.Record) error, skip func(exchange.Kind, int, error)) error {
		for i, n := range doc.Graph.Nodes {
			rec, err := decode(exchange.KindNode, NodeIDKey, n.Data, names)
			if err != nil {
				skip(exchange.KindNode, i, fmt.Errorf("node %q: %w", n.ID, err))
				continue
			}
			rec.Pos = i
			if err := emit(rec); err != nil {
				return err
			}
		}
		for i, e := range doc.Graph.Edges {
			rec, err := decode(exchange.KindEdge, EdgeIDKey, e.Data, names)
			if err != nil {
				skip(exchange.KindEdge, i, fmt.Errorf("edge %q: %w", e.ID, err))
				continue
			}
			rec.Pos = i
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

var errNoID = errors.New("missing identifier attribute")

func decode(k exchange.Kind, idKey string, attrs []data, names map[string]string) (exchange.Record, error) {
	rec := exchange.Record{Kind: k, Props: storage.Properties{}}
	seenID := false
	for _, d := range attrs {
		v, err := value.DecodeText(d.Value)
		if err != nil {
			return rec, fmt.Errorf("attribute %q: %w", d.Key, err)
		}
		if d.Key == idKey {
			seenID = true
			if k == exchange.KindNode {
				rec.Node, err = storage.NodeIDFromValue(v)
			} else {
				rec.Edge, err = storage.EdgeIDFromValue(v)
			}
			if err != nil {
				return rec, err
			}
			continue
		}
		name, ok := names[d.Key]
		if !ok {
			name = d.Key
		}
		rec.Props[name] = v
	}
	if !seenID {
		return rec, errNoID
	}
	return rec, nil
}
