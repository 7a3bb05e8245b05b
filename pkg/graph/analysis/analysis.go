// Package analysis runs whole-graph algorithms over a graph's cached view by
// projecting it into a gonum directed multigraph.
package analysis

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

var (
	// ErrCyclic is returned by TopologicalOrder on graphs with cycles.
	ErrCyclic = errors.New("graph has cycles")
	// ErrNoPath is returned by ShortestPath when the target is unreachable.
	ErrNoPath = errors.New("no path between nodes")
)

// View is an immutable snapshot of a graph's cached nodes and edges.
type View struct {
	g     *multi.DirectedGraph
	index map[storage.NodeID]int64
	names []storage.NodeID
	loops map[storage.NodeID]struct{}
}

// Snapshot projects the cached view of g, keeping only edges accepted by
// filter (nil keeps all). Later changes to g are not reflected.
func Snapshot(g *graph.Graph, filter graph.EdgeFilter) *View {
	v := &View{
		g:     multi.NewDirectedGraph(),
		index: make(map[storage.NodeID]int64),
		loops: make(map[storage.NodeID]struct{}),
	}
	// Ids are handed out in node order so gonum's id order matches ours.
	for _, n := range g.Nodes() {
		id := int64(len(v.names))
		v.index[n.ID()] = id
		v.names = append(v.names, n.ID())
		v.g.AddNode(multi.Node(id))
	}
	for _, e := range g.Edges() {
		if filter != nil && !filter(e) {
			continue
		}
		src, okSrc := v.index[e.ID().Src]
		dst, okDst := v.index[e.ID().Dst]
		if !okSrc || !okDst {
			continue
		}
		if src == dst {
			v.loops[e.ID().Src] = struct{}{}
		}
		v.g.SetLine(v.g.NewLine(multi.Node(src), multi.Node(dst)))
	}
	return v
}

func (v *View) name(n gonum.Node) storage.NodeID { return v.names[n.ID()] }

func (v *View) namesOf(nodes []gonum.Node) []storage.NodeID {
	out := make([]storage.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = v.name(n)
	}
	return out
}

func byID(nodes []gonum.Node) {
	slices.SortFunc(nodes, func(a, b gonum.Node) int { return cmp.Compare(a.ID(), b.ID()) })
}

// TopologicalOrder lists the nodes so that every edge points forward. Ties are
// broken by node id. It fails with ErrCyclic if the view has a cycle.
func (v *View) TopologicalOrder() ([]storage.NodeID, error) {
	if len(v.loops) > 0 {
		return nil, fmt.Errorf("%w: self loop on %s", ErrCyclic, firstLoop(v.loops))
	}
	sorted, err := topo.SortStabilized(v.g, byID)
	if err != nil {
		var unorderable topo.Unorderable
		if errors.As(err, &unorderable) && len(unorderable) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrCyclic, v.namesOf(unorderable[0]))
		}
		return nil, fmt.Errorf("%w: %v", ErrCyclic, err)
	}
	return v.namesOf(sorted), nil
}

func firstLoop(loops map[storage.NodeID]struct{}) storage.NodeID {
	ids := make([]storage.NodeID, 0, len(loops))
	for id := range loops {
		ids = append(ids, id)
	}
	return storage.SortNodeIDs(ids)[0]
}

// Cycles returns the strongly connected components that contain a cycle:
// components of two or more nodes, and single nodes with a self loop. Each
// component is sorted, and components are ordered by their first node.
func (v *View) Cycles() [][]storage.NodeID {
	var out [][]storage.NodeID
	for _, scc := range topo.TarjanSCC(v.g) {
		names := storage.SortNodeIDs(v.namesOf(scc))
		if len(names) == 1 {
			if _, ok := v.loops[names[0]]; !ok {
				continue
			}
		}
		out = append(out, names)
	}
	slices.SortFunc(out, func(a, b []storage.NodeID) int { return cmp.Compare(a[0], b[0]) })
	return out
}

// ShortestPath returns a path from one node to another with the fewest edges,
// both ends included.
func (v *View) ShortestPath(from, to storage.NodeID) ([]storage.NodeID, error) {
	src, ok := v.index[from]
	if !ok {
		return nil, storage.NotExist("shortest path", from)
	}
	dst, ok := v.index[to]
	if !ok {
		return nil, storage.NotExist("shortest path", to)
	}
	shortest := path.DijkstraFrom(multi.Node(src), v.g)
	nodes, _ := shortest.To(dst)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoPath, from, to)
	}
	return v.namesOf(nodes), nil
}
