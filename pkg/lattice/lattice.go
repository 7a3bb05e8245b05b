// Package lattice maintains a partial order of named labels used to classify
// graph edges.
//
// A label's parents are the labels directly below it: a parent precedes its
// children, so a label compares Greater than each of its ancestors. Supremum
// and Infimum bound every lattice. Parent sets are write-once, which is what
// makes caching resolved comparisons sound.
package lattice

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

var (
	// ErrParentsFixed is returned when a label's parents are reassigned.
	ErrParentsFixed = errors.New("label parents are already fixed")
	// ErrCycle is returned when new parents would make a label its own
	// ancestor.
	ErrCycle = errors.New("parent assignment would create a cycle")
	// ErrSentinel is returned when a bound is used where a regular label is
	// required.
	ErrSentinel = errors.New("supremum and infimum cannot take part in parent relations")
	// ErrDetached is returned for a Label that was not obtained from a Lattice.
	ErrDetached = errors.New("label does not belong to a lattice")
)

// Ordering is the result of comparing two labels.
type Ordering int

const (
	Less         Ordering = -1
	Equal        Ordering = 0
	Greater      Ordering = 1
	Incomparable Ordering = 2
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return "incomparable"
	}
}

// flip returns the ordering seen from the other side.
func (o Ordering) flip() Ordering {
	if o == Less || o == Greater {
		return -o
	}
	return o
}

// Label is a point in a Lattice. Labels are created by Lattice.Label and
// compared by identity.
type Label struct {
	name    string
	lat     *Lattice
	parents map[string]*Label
	changes map[storage.EdgeID]struct{}
}

// Supremum and Infimum are the bounds shared by all lattices.
var (
	Supremum = &Label{name: "⊤"}
	Infimum  = &Label{name: "⊥"}
)

func (l *Label) Name() string   { return l.name }
func (l *Label) String() string { return l.name }

// IsSentinel reports whether l is Supremum or Infimum.
func (l *Label) IsSentinel() bool { return l == Supremum || l == Infimum }

type pairKey struct{ lo, hi string }

// Lattice owns a set of labels, their parent relation and the comparison
// cache. It is safe for concurrent use.
type Lattice struct {
	mu     sync.RWMutex
	labels map[string]*Label
	cache  map[pairKey]Ordering
}

// New returns an empty lattice.
func New() *Lattice {
	return &Lattice{
		labels: make(map[string]*Label),
		cache:  make(map[pairKey]Ordering),
	}
}

// Label returns the label called name, creating it if needed.
func (lt *Lattice) Label(name string) *Label {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.label(name)
}

func (lt *Lattice) label(name string) *Label {
	if l, ok := lt.labels[name]; ok {
		return l
	}
	l := &Label{name: name, lat: lt, changes: make(map[storage.EdgeID]struct{})}
	lt.labels[name] = l
	return l
}

// Lookup returns the label called name if it exists.
func (lt *Lattice) Lookup(name string) (*Label, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	l, ok := lt.labels[name]
	return l, ok
}

// Labels returns every label of the lattice ordered by name. Bounds are not
// included.
func (lt *Lattice) Labels() []*Label {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	out := slices.Collect(maps.Values(lt.labels))
	slices.SortFunc(out, func(a, b *Label) int { return cmp.Compare(a.name, b.name) })
	return out
}

// Parents returns a copy of l's parent map, keyed by relation name. A label
// whose parents were never set has none.
func (l *Label) Parents() map[string]*Label {
	if l.lat == nil {
		return map[string]*Label{}
	}
	l.lat.mu.RLock()
	defer l.lat.mu.RUnlock()
	return maps.Clone(l.parentsLocked())
}

func (l *Label) parentsLocked() map[string]*Label {
	if l.parents == nil {
		return map[string]*Label{}
	}
	return l.parents
}

// SetParents fixes l's parents. Once a non-empty parent map has been set,
// only an identical map is accepted again; anything else fails with
// ErrParentsFixed.
func (l *Label) SetParents(parents map[string]*Label) error {
	if l.IsSentinel() {
		return ErrSentinel
	}
	lt := l.lat
	if lt == nil {
		return ErrDetached
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.setParents(l, parents)
}

func (lt *Lattice) setParents(l *Label, parents map[string]*Label) error {
	if len(l.parents) > 0 {
		if maps.Equal(l.parents, parents) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrParentsFixed, l.name)
	}
	for rel, p := range parents {
		if p.IsSentinel() {
			return fmt.Errorf("%w: %s parent %q", ErrSentinel, l.name, rel)
		}
		if p.lat != lt {
			return fmt.Errorf("parent %s of %s belongs to another lattice", p.name, l.name)
		}
		if p == l || lt.isAncestor(l, p) {
			return fmt.Errorf("%w: %s -> %s", ErrCycle, l.name, p.name)
		}
	}
	l.parents = maps.Clone(parents)
	return nil
}

// walk visits every ancestor of from once, breadth first. The caller holds the
// lock.
func (lt *Lattice) walk(from *Label, visit func(*Label) bool) {
	seen := map[*Label]struct{}{from: {}}
	queue := []*Label{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, rel := range sortedKeys(cur.parents) {
			p := cur.parents[rel]
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			if !visit(p) {
				return
			}
			queue = append(queue, p)
		}
	}
}

func (lt *Lattice) isAncestor(target, of *Label) bool {
	found := false
	lt.walk(of, func(l *Label) bool {
		found = l == target
		return !found
	})
	return found
}

func sortedKeys(m map[string]*Label) []string {
	return slices.Sorted(maps.Keys(m))
}

// Ancestors returns a restartable sequence over l's transitive parents. Each
// ancestor is yielded once, however many paths lead to it.
func (l *Label) Ancestors() iter.Seq[*Label] {
	return func(yield func(*Label) bool) {
		for e := range l.AncestorEdges() {
			if e.first && !yield(e.Parent) {
				return
			}
		}
	}
}

// ParentEdge is one parent relation met while walking ancestors.
type ParentEdge struct {
	Child    *Label
	Relation string
	Parent   *Label

	first bool
}

// AncestorEdges returns a restartable sequence over every parent relation
// reachable from l. A label reached through several paths shows up once per
// incoming relation but is expanded only once.
func (l *Label) AncestorEdges() iter.Seq[ParentEdge] {
	return func(yield func(ParentEdge) bool) {
		if l.lat == nil {
			return
		}
		seen := map[*Label]struct{}{l: {}}
		queue := []*Label{l}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			// parent maps are write-once, so a snapshot per step is enough
			parents := cur.Parents()
			for _, rel := range sortedKeys(parents) {
				p := parents[rel]
				_, dup := seen[p]
				if !yield(ParentEdge{Child: cur, Relation: rel, Parent: p, first: !dup}) {
					return
				}
				if dup {
					continue
				}
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
}

// Compare orders l against o. A label is Greater than its ancestors and Less
// than its descendants. Labels with no ancestry link are Incomparable.
func (l *Label) Compare(o *Label) Ordering {
	switch {
	case l == o:
		return Equal
	case l == Supremum || o == Infimum:
		return Greater
	case l == Infimum || o == Supremum:
		return Less
	case l.lat == nil || l.lat != o.lat:
		return Incomparable
	}
	return l.lat.compare(l, o)
}

func (lt *Lattice) compare(l, o *Label) Ordering {
	key, flipped := pairKey{lo: l.name, hi: o.name}, false
	if o.name < l.name {
		key, flipped = pairKey{lo: o.name, hi: l.name}, true
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	if ord, ok := lt.cache[key]; ok {
		metrics.LatticeCompareCache.WithLabelValues("hit").Inc()
		if flipped {
			return ord.flip()
		}
		return ord
	}
	metrics.LatticeCompareCache.WithLabelValues("miss").Inc()

	ord := Incomparable
	switch {
	case lt.isAncestor(l, o):
		ord = Less
	case lt.isAncestor(o, l):
		ord = Greater
	default:
		// not cached: parents set later may still relate the pair
		return Incomparable
	}
	if flipped {
		lt.cache[key] = ord.flip()
	} else {
		lt.cache[key] = ord
	}
	return ord
}

// Changes lists the edges currently carrying l, ordered by id.
func (l *Label) Changes() []storage.EdgeID {
	if l.lat == nil {
		return nil
	}
	l.lat.mu.RLock()
	defer l.lat.mu.RUnlock()
	return storage.SortEdgeIDs(slices.Collect(maps.Keys(l.changes)))
}

// HasChange reports whether edge currently carries l.
func (l *Label) HasChange(edge storage.EdgeID) bool {
	if l.lat == nil {
		return false
	}
	l.lat.mu.RLock()
	defer l.lat.mu.RUnlock()
	_, ok := l.changes[edge]
	return ok
}
