package lattice

import (
	"fmt"
	"log/slog"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Metadata keys under which a lattice is persisted on a graph.
const (
	MetaParents = "lattice.parents"
	MetaChanges = "lattice.changes"
)

// Store writes the parent relation and change sets of lt into g's metadata.
// Entries already stored for other labels are kept; labels present in both
// take lt's data.
func (lt *Lattice) Store(g *graph.Graph) error {
	parents, changes := lt.snapshot()

	oldParents, _, err := g.MetadataValue(MetaParents)
	if err != nil {
		return err
	}
	oldChanges, _, err := g.MetadataValue(MetaChanges)
	if err != nil {
		return err
	}

	return g.SetMetadata(storage.Properties{
		MetaParents: mergeMaps(oldParents, parents),
		MetaChanges: mergeMaps(oldChanges, changes),
	})
}

// snapshot renders the lattice as two Map values keyed by label name.
func (lt *Lattice) snapshot() (parents, changes *value.Map) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	parents, changes = value.NewMap(), value.NewMap()
	for _, name := range sortedKeys(lt.labels) {
		l := lt.labels[name]
		if len(l.parents) > 0 {
			rels := value.NewMap()
			for _, rel := range sortedKeys(l.parents) {
				rels.Set(rel, value.Str(l.parents[rel].name))
			}
			parents.Set(name, value.MapOf(rels))
		}
		// An empty list is written too, so untagged edges drop out of what
		// was stored before.
		ids := make([]storage.EdgeID, 0, len(l.changes))
		for id := range l.changes {
			ids = append(ids, id)
		}
		items := make([]value.Value, len(ids))
		for i, id := range storage.SortEdgeIDs(ids) {
			items[i] = id.Value()
		}
		changes.Set(name, value.List(items...))
	}
	return parents, changes
}

func mergeMaps(old value.Value, fresh *value.Map) value.Value {
	merged := value.NewMap()
	if m, ok := old.AsMap(); ok {
		for k, v := range m.All() {
			merged.Set(k, v)
		}
	}
	for k, v := range fresh.All() {
		merged.Set(k, v)
	}
	return value.MapOf(merged)
}

// Load adds the lattice stored in g's metadata to lt. Nothing is cleared
// first. Missing or malformed metadata is ignored; a stored parent map that
// conflicts with parents already fixed in lt is an error, and then lt is left
// exactly as it was.
func (lt *Lattice) Load(g *graph.Graph) error {
	if v, ok, err := g.MetadataValue(MetaParents); err != nil {
		return err
	} else if ok {
		if err := lt.loadParents(v); err != nil {
			return err
		}
	}
	if v, ok, err := g.MetadataValue(MetaChanges); err != nil {
		return err
	} else if ok {
		lt.loadChanges(v)
	}
	return nil
}

func (lt *Lattice) loadParents(v value.Value) error {
	m, ok := v.AsMap()
	if !ok {
		slog.Warn("ignoring lattice parents of unexpected shape", "kind", v.Kind())
		return nil
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	// Labels created and parent sets fixed by this load, undone on failure.
	// No comparison can run meanwhile, so the cache needs no purge.
	var (
		created []string
		fixed   []*Label
	)
	get := func(name string) *Label {
		if _, ok := lt.labels[name]; !ok {
			created = append(created, name)
		}
		return lt.label(name)
	}

	for name, rels := range m.All() {
		relMap, ok := rels.AsMap()
		if !ok {
			slog.Warn("ignoring lattice parents entry", "label", name, "kind", rels.Kind())
			continue
		}
		parents := make(map[string]*Label, relMap.Len())
		for rel, p := range relMap.All() {
			pname, ok := p.AsStr()
			if !ok {
				continue
			}
			parents[rel] = get(pname)
		}
		if len(parents) == 0 {
			continue
		}
		l := get(name)
		wasFree := len(l.parents) == 0
		if err := lt.setParents(l, parents); err != nil {
			for _, f := range fixed {
				f.parents = nil
			}
			for _, n := range created {
				delete(lt.labels, n)
			}
			return fmt.Errorf("load lattice: %w", err)
		}
		if wasFree {
			fixed = append(fixed, l)
		}
	}
	return nil
}

func (lt *Lattice) loadChanges(v value.Value) {
	m, ok := v.AsMap()
	if !ok {
		slog.Warn("ignoring lattice changes of unexpected shape", "kind", v.Kind())
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for name, list := range m.All() {
		items, ok := list.AsList()
		if !ok {
			continue
		}
		l := lt.label(name)
		for _, item := range items {
			id, err := storage.EdgeIDFromValue(item)
			if err != nil {
				continue
			}
			l.changes[id] = struct{}{}
		}
	}
}
