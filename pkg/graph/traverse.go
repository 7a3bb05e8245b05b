package graph

import (
	"iter"

	"github.com/sanonone/kektorgraph/pkg/storage"
)

// EdgeFilter selects the edges a traversal may follow. A nil filter follows
// every cached edge.
type EdgeFilter func(*Edge) bool

// Direction picks which way a traversal follows edges.
type Direction int

const (
	Forward  Direction = iota // along edges, towards descendants
	Backward                  // against edges, towards ancestors
)

// Descendants walks the graph forward from of. See Walk.
func (g *Graph) Descendants(of storage.NodeID, filter EdgeFilter) iter.Seq2[*Node, error] {
	return g.Walk(of, Forward, filter)
}

// Ancestors walks the graph backward from of. See Walk.
func (g *Graph) Ancestors(of storage.NodeID, filter EdgeFilter) iter.Seq2[*Node, error] {
	return g.Walk(of, Backward, filter)
}

// Walk returns a lazy breadth-first traversal starting at of.
//
// Every node reached over a cached edge accepted by filter is yielded, once per
// arriving edge; a node is expanded only the first time it is reached, so the
// walk terminates on cyclic graphs. The start node is yielded only if a cycle
// leads back to it. Each step reads storage, so mutating the graph while
// consuming the sequence may show a torn view. A storage failure is yielded as
// the final element.
func (g *Graph) Walk(of storage.NodeID, dir Direction, filter EdgeFilter) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		seen := map[storage.NodeID]struct{}{of: {}}
		queue := []storage.NodeID{of}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			var (
				edges []*Edge
				err   error
			)
			if dir == Forward {
				edges, err = g.OutgoingEdges(cur)
			} else {
				edges, err = g.IncomingEdges(cur)
			}
			if err != nil {
				yield(nil, err)
				return
			}

			for _, e := range edges {
				if filter != nil && !filter(e) {
					continue
				}
				next := e.id.Dst
				if dir == Backward {
					next = e.id.Src
				}
				if !yield(g.node(next), nil) {
					return
				}
				if _, ok := seen[next]; ok {
					continue
				}
				seen[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
}

// Reachable collects the distinct nodes a walk from of visits, in discovery
// order.
func (g *Graph) Reachable(of storage.NodeID, dir Direction, filter EdgeFilter) ([]*Node, error) {
	var out []*Node
	seen := make(map[storage.NodeID]struct{})
	for n, err := range g.Walk(of, dir, filter) {
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n.id]; ok {
			continue
		}
		seen[n.id] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// TypeFilter accepts edges whose local type is one of types.
func TypeFilter(types ...string) EdgeFilter {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(e *Edge) bool {
		_, ok := allowed[e.LocalType()]
		return ok
	}
}
