package graph

import (
	"errors"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// MetaNodePrefix starts the id of every graph's metadata node.
const MetaNodePrefix = storage.ReservedPrefix + "meta:"

// MetaNodeID is the id of the node holding the metadata of the graph named
// name. The node is never part of the graph's cache.
func MetaNodeID(name string) storage.NodeID {
	return storage.NodeID(MetaNodePrefix + name)
}

// MetaNodeID is the id of g's metadata node.
func (g *Graph) MetaNodeID() storage.NodeID { return MetaNodeID(g.name) }

// Metadata returns every metadata entry of g. A graph that never stored any
// metadata has none.
func (g *Graph) Metadata() (storage.Properties, error) {
	props, err := g.store.NodeProperties(g.MetaNodeID())
	if errors.Is(err, storage.ErrEntityNotExist) {
		return storage.Properties{}, nil
	}
	return props, err
}

// MetadataValue reads a single metadata entry.
func (g *Graph) MetadataValue(key string) (value.Value, bool, error) {
	v, ok, err := g.store.NodeProperty(g.MetaNodeID(), key)
	if errors.Is(err, storage.ErrEntityNotExist) {
		return value.Value{}, false, nil
	}
	return v, ok, err
}

// SetMetadata writes metadata entries, creating the metadata node on first
// use. Null values remove entries.
func (g *Graph) SetMetadata(entries storage.Properties) error {
	id := g.MetaNodeID()
	err := g.store.SetNodeProperties(id, entries)
	if errors.Is(err, storage.ErrEntityNotExist) {
		err = g.store.AddNode(id, entries)
	}
	return err
}
