package lattice

import (
	"errors"
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// LabelsProperty is the edge property holding an edge's label names.
const LabelsProperty = "labels"

// ErrMalformedLabels is returned when an edge's labels property is not a list
// of strings.
var ErrMalformedLabels = errors.New("malformed labels property")

// EdgeLabels returns the labels carried by e, in stored order.
func (lt *Lattice) EdgeLabels(e *graph.Edge) ([]*Label, error) {
	names, err := edgeLabelNames(e)
	if err != nil {
		return nil, err
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := make([]*Label, len(names))
	for i, n := range names {
		out[i] = lt.label(n)
	}
	return out, nil
}

func edgeLabelNames(e *graph.Edge) ([]string, error) {
	v, ok, err := e.Prop(LabelsProperty)
	if err != nil || !ok {
		return nil, err
	}
	items, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("%w on %s: %s", ErrMalformedLabels, e, v.Kind())
	}
	names := make([]string, len(items))
	for i, item := range items {
		s, ok := item.AsStr()
		if !ok {
			return nil, fmt.Errorf("%w on %s: item %d is %s", ErrMalformedLabels, e, i, item.Kind())
		}
		names[i] = s
	}
	return names, nil
}

// SetEdgeLabels replaces the labels carried by e and updates the change sets
// of the labels that were dropped or added. Duplicates are stored once.
func (lt *Lattice) SetEdgeLabels(e *graph.Edge, labels ...*Label) error {
	current, err := edgeLabelNames(e)
	if err != nil {
		return err
	}

	names := make([]value.Value, 0, len(labels))
	next := make(map[string]*Label, len(labels))
	for _, l := range labels {
		if l.IsSentinel() {
			return fmt.Errorf("%w: %s", ErrSentinel, l)
		}
		if l.lat != lt {
			return fmt.Errorf("label %s belongs to another lattice", l)
		}
		if _, dup := next[l.name]; dup {
			continue
		}
		next[l.name] = l
		names = append(names, value.Str(l.name))
	}

	if err := e.SetProp(LabelsProperty, value.List(names...)); err != nil {
		return err
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	id := e.ID()
	for _, n := range current {
		if _, kept := next[n]; !kept {
			delete(lt.label(n).changes, id)
		}
	}
	for _, l := range next {
		l.changes[id] = struct{}{}
	}
	return nil
}
