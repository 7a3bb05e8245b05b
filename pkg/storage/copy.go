package storage

import (
	"errors"
	"fmt"
)

// Stats is a point-in-time size summary of a storage instance.
type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// StatsOf reads both counters of s.
func StatsOf(s Storage) (Stats, error) {
	n, err := s.NodeCount()
	if err != nil {
		return Stats{}, err
	}
	e, err := s.EdgeCount()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Nodes: n, Edges: e}, nil
}

// Copy merges every node and edge of src into dst. Entities already present
// in dst get src's properties applied on top of their own.
//
// Copy is not atomic across the pair: a failure part way leaves dst with the
// entities copied so far.
func Copy(dst, src Storage) error {
	nodes, err := src.Nodes()
	if err != nil {
		return fmt.Errorf("list source nodes: %w", err)
	}
	for _, id := range nodes {
		props, err := src.NodeProperties(id)
		if err != nil {
			return fmt.Errorf("read node %s: %w", id, err)
		}
		if err := UpsertNode(dst, id, props); err != nil {
			return err
		}
	}

	edges, err := src.Edges()
	if err != nil {
		return fmt.Errorf("list source edges: %w", err)
	}
	for _, id := range edges {
		props, err := src.EdgeProperties(id)
		if err != nil {
			return fmt.Errorf("read edge %s: %w", id, err)
		}
		if err := UpsertEdge(dst, id, props); err != nil {
			return err
		}
	}
	return nil
}

// UpsertNode adds the node, or applies props to it if it already exists.
func UpsertNode(dst Storage, id NodeID, props Properties) error {
	err := dst.AddNode(id, props)
	if errors.Is(err, ErrEntityAlreadyExists) {
		err = dst.SetNodeProperties(id, props)
	}
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", id, err)
	}
	return nil
}

// UpsertEdge adds the edge, or applies props to it if it already exists.
func UpsertEdge(dst Storage, id EdgeID, props Properties) error {
	err := dst.AddEdge(id, props)
	if errors.Is(err, ErrEntityAlreadyExists) {
		err = dst.SetEdgeProperties(id, props)
	}
	if err != nil {
		return fmt.Errorf("upsert edge %s: %w", id, err)
	}
	return nil
}
