// Package badger provides the persistent storage backend on BadgerDB.
//
// Key layout (lp = uvarint length prefix, enc = canonical Value encoding):
//
//	0x01 | lp(node id)              -> encoded node properties
//	0x02 | enc(edge id)             -> encoded edge properties
//	0x03 | lp(src) | enc(edge id)   -> empty (outgoing index)
//	0x04 | lp(dst) | enc(edge id)   -> empty (incoming index)
//
// Every operation runs in a single Badger transaction. Writes are serialized
// by the store's lock so the entity counters, loaded by prefix scan at open,
// stay exact. Property names starting with storage.ReservedPrefix are
// rejected.
package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

const (
	prefixNode byte = 0x01
	prefixEdge byte = 0x02
	prefixOut  byte = 0x03
	prefixIn   byte = 0x04
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's own log lines. If nil they are dropped.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction that makes GC
	// rewrite a value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns durable defaults for a store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a storage.Storage backed by BadgerDB. It is safe for concurrent
// use.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	nodeCount atomic.Int64
	edgeCount atomic.Int64

	gcStop chan struct{}
	gcDone chan struct{}
}

var _ storage.Storage = (*Store)(nil)

// Open opens (or creates) a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadCounts(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) gcLoop(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// RunValueLogGC rewrites at most one file per call
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						slog.Warn("badger value log GC failed", "error", err)
					}
					break
				}
			}
		case <-s.gcStop:
			return
		}
	}
}

func (s *Store) loadCounts() error {
	return s.db.View(func(txn *badger.Txn) error {
		nodes, err := countPrefix(txn, []byte{prefixNode})
		if err != nil {
			return err
		}
		edges, err := countPrefix(txn, []byte{prefixEdge})
		if err != nil {
			return err
		}
		s.nodeCount.Store(int64(nodes))
		s.edgeCount.Store(int64(edges))
		return nil
	})
}

// --- keys ---

func appendLP(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func nodeKey(id storage.NodeID) []byte {
	return appendLP([]byte{prefixNode}, string(id))
}

func edgeKey(id storage.EdgeID) []byte {
	return value.AppendEncode([]byte{prefixEdge}, id.Value())
}

func indexPrefix(prefix byte, n storage.NodeID) []byte {
	return appendLP([]byte{prefix}, string(n))
}

func outKey(id storage.EdgeID) []byte {
	return value.AppendEncode(indexPrefix(prefixOut, id.Src), id.Value())
}

func inKey(id storage.EdgeID) []byte {
	return value.AppendEncode(indexPrefix(prefixIn, id.Dst), id.Value())
}

func decodeNodeKey(k []byte) (storage.NodeID, error) {
	n, w := binary.Uvarint(k[1:])
	if w <= 0 || uint64(len(k)-1-w) != n {
		return "", fmt.Errorf("%w: node key", value.ErrCorrupt)
	}
	return storage.NodeID(k[1+w:]), nil
}

func decodeEdgeValue(b []byte) (storage.EdgeID, error) {
	v, err := value.Decode(b)
	if err != nil {
		return storage.EdgeID{}, err
	}
	return storage.EdgeIDFromValue(v)
}

// --- transaction helpers ---

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func readProps(txn *badger.Txn, key []byte) (storage.Properties, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var props storage.Properties
	err = item.Value(func(val []byte) error {
		props, err = storage.DecodeProperties(val)
		return err
	})
	return props, err == nil, err
}

func writeProps(txn *badger.Txn, key []byte, props storage.Properties) error {
	return txn.Set(key, storage.EncodeProperties(props))
}

func countPrefix(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

// scanKeys calls fn with a copy of every key under prefix, the prefix
// stripped.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(rest []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().KeyCopy(nil)
		if err := fn(k[len(prefix):]); err != nil {
			return err
		}
	}
	return nil
}

func adjacency(txn *badger.Txn, prefix byte, n storage.NodeID) ([]storage.EdgeID, error) {
	ids := []storage.EdgeID{}
	err := scanKeys(txn, indexPrefix(prefix, n), func(rest []byte) error {
		id, err := decodeEdgeValue(rest)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func incident(txn *badger.Txn, n storage.NodeID) ([]storage.EdgeID, error) {
	out, err := adjacency(txn, prefixOut, n)
	if err != nil {
		return nil, err
	}
	in, err := adjacency(txn, prefixIn, n)
	if err != nil {
		return nil, err
	}
	for _, e := range in {
		if e.Src != n {
			out = append(out, e)
		}
	}
	return out, nil
}

func deleteEdge(txn *badger.Txn, id storage.EdgeID) error {
	for _, k := range [][]byte{edgeKey(id), outKey(id), inKey(id)} {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// deleteNode removes a node and its incident edges, returning how many edges
// went with it.
func deleteNode(txn *badger.Txn, id storage.NodeID) (int, error) {
	edges, err := incident(txn, id)
	if err != nil {
		return 0, err
	}
	for _, e := range edges {
		if err := deleteEdge(txn, e); err != nil {
			return 0, err
		}
	}
	return len(edges), txn.Delete(nodeKey(id))
}

// --- storage.Storage ---

func (s *Store) read(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) write(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.Update(fn)
}

// AddNode implements storage.Storage.
func (s *Store) AddNode(id storage.NodeID, props storage.Properties) error {
	if err := storage.ValidateNodeID("add node", id); err != nil {
		return err
	}
	if err := storage.ValidatePropertyNames("add node", id, props); err != nil {
		return err
	}
	err := s.write(func(txn *badger.Txn) error {
		key := nodeKey(id)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return storage.AlreadyExists("add node", id)
		}
		stored := storage.Properties{}
		stored.Apply(props)
		return writeProps(txn, key, stored)
	})
	if err == nil {
		s.nodeCount.Add(1)
	}
	return err
}

// AddEdge implements storage.Storage.
func (s *Store) AddEdge(id storage.EdgeID, props storage.Properties) error {
	if err := storage.ValidateEdgeID("add edge", id); err != nil {
		return err
	}
	if err := storage.ValidatePropertyNames("add edge", id, props); err != nil {
		return err
	}
	err := s.write(func(txn *badger.Txn) error {
		key := edgeKey(id)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return storage.AlreadyExists("add edge", id)
		}
		for _, n := range []storage.NodeID{id.Src, id.Dst} {
			ok, err := exists(txn, nodeKey(n))
			if err != nil {
				return err
			}
			if !ok {
				return storage.NotExist("add edge", n)
			}
		}
		stored := storage.Properties{}
		stored.Apply(props)
		if err := writeProps(txn, key, stored); err != nil {
			return err
		}
		if err := txn.Set(outKey(id), nil); err != nil {
			return err
		}
		return txn.Set(inKey(id), nil)
	})
	if err == nil {
		s.edgeCount.Add(1)
	}
	return err
}

// ContainsNode implements storage.Storage.
func (s *Store) ContainsNode(id storage.NodeID) (ok bool, err error) {
	err = s.read(func(txn *badger.Txn) error {
		ok, err = exists(txn, nodeKey(id))
		return err
	})
	return ok, err
}

// ContainsEdge implements storage.Storage.
func (s *Store) ContainsEdge(id storage.EdgeID) (ok bool, err error) {
	err = s.read(func(txn *badger.Txn) error {
		ok, err = exists(txn, edgeKey(id))
		return err
	})
	return ok, err
}

func (s *Store) props(op string, id fmt.Stringer, key []byte) (props storage.Properties, err error) {
	err = s.read(func(txn *badger.Txn) error {
		var ok bool
		props, ok, err = readProps(txn, key)
		if err == nil && !ok {
			return storage.NotExist(op, id)
		}
		return err
	})
	return props, err
}

// NodeProperties implements storage.Storage.
func (s *Store) NodeProperties(id storage.NodeID) (storage.Properties, error) {
	return s.props("node properties", id, nodeKey(id))
}

// EdgeProperties implements storage.Storage.
func (s *Store) EdgeProperties(id storage.EdgeID) (storage.Properties, error) {
	return s.props("edge properties", id, edgeKey(id))
}

// NodeProperty implements storage.Storage.
func (s *Store) NodeProperty(id storage.NodeID, name string) (value.Value, bool, error) {
	props, err := s.props("node property", id, nodeKey(id))
	if err != nil {
		return value.Value{}, false, err
	}
	v, ok := props[name]
	return v, ok, nil
}

// EdgeProperty implements storage.Storage.
func (s *Store) EdgeProperty(id storage.EdgeID, name string) (value.Value, bool, error) {
	props, err := s.props("edge property", id, edgeKey(id))
	if err != nil {
		return value.Value{}, false, err
	}
	v, ok := props[name]
	return v, ok, nil
}

func (s *Store) setProps(op string, id fmt.Stringer, key []byte, update storage.Properties) error {
	if err := storage.ValidatePropertyNames(op, id, update); err != nil {
		return err
	}
	return s.write(func(txn *badger.Txn) error {
		props, ok, err := readProps(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return storage.NotExist(op, id)
		}
		props.Apply(update)
		return writeProps(txn, key, props)
	})
}

// SetNodeProperties implements storage.Storage.
func (s *Store) SetNodeProperties(id storage.NodeID, props storage.Properties) error {
	return s.setProps("set node properties", id, nodeKey(id), props)
}

// SetEdgeProperties implements storage.Storage.
func (s *Store) SetEdgeProperties(id storage.EdgeID, props storage.Properties) error {
	return s.setProps("set edge properties", id, edgeKey(id), props)
}

// DeleteNode implements storage.Storage.
func (s *Store) DeleteNode(id storage.NodeID) error {
	var dropped int
	err := s.write(func(txn *badger.Txn) error {
		ok, err := exists(txn, nodeKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return storage.NotExist("delete node", id)
		}
		dropped, err = deleteNode(txn, id)
		return err
	})
	if err == nil {
		s.nodeCount.Add(-1)
		s.edgeCount.Add(-int64(dropped))
	}
	return err
}

// DeleteEdge implements storage.Storage.
func (s *Store) DeleteEdge(id storage.EdgeID) error {
	err := s.write(func(txn *badger.Txn) error {
		ok, err := exists(txn, edgeKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return storage.NotExist("delete edge", id)
		}
		return deleteEdge(txn, id)
	})
	if err == nil {
		s.edgeCount.Add(-1)
	}
	return err
}

// DeleteNodes implements storage.Storage. Matching nodes are removed in one
// transaction.
func (s *Store) DeleteNodes(pred storage.NodePredicate) (int, error) {
	var nodes, edges int
	err := s.write(func(txn *badger.Txn) error {
		var doomed []storage.NodeID
		err := scanEntries(txn, []byte{prefixNode}, func(key, val []byte) error {
			id, err := decodeNodeKey(key)
			if err != nil {
				return err
			}
			props, err := storage.DecodeProperties(val)
			if err != nil {
				return err
			}
			if pred(id, props) {
				doomed = append(doomed, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range doomed {
			// an earlier deletion in this batch may have taken shared edges
			n, err := deleteNode(txn, id)
			if err != nil {
				return err
			}
			edges += n
		}
		nodes = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.nodeCount.Add(-int64(nodes))
	s.edgeCount.Add(-int64(edges))
	return nodes, nil
}

// DeleteEdges implements storage.Storage.
func (s *Store) DeleteEdges(pred storage.EdgePredicate) (int, error) {
	var n int
	err := s.write(func(txn *badger.Txn) error {
		var doomed []storage.EdgeID
		err := scanEntries(txn, []byte{prefixEdge}, func(key, val []byte) error {
			id, err := decodeEdgeValue(key[1:])
			if err != nil {
				return err
			}
			props, err := storage.DecodeProperties(val)
			if err != nil {
				return err
			}
			if pred(id, props) {
				doomed = append(doomed, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range doomed {
			if err := deleteEdge(txn, id); err != nil {
				return err
			}
		}
		n = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.edgeCount.Add(-int64(n))
	return n, nil
}

// scanEntries calls fn with copies of every key and value under prefix.
func scanEntries(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) adjacency(op string, prefix byte, id storage.NodeID) (ids []storage.EdgeID, err error) {
	err = s.read(func(txn *badger.Txn) error {
		ok, err := exists(txn, nodeKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return storage.NotExist(op, id)
		}
		ids, err = adjacency(txn, prefix, id)
		return err
	})
	return storage.SortEdgeIDs(ids), err
}

// OutgoingEdges implements storage.Storage.
func (s *Store) OutgoingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	return s.adjacency("outgoing edges", prefixOut, id)
}

// IncomingEdges implements storage.Storage.
func (s *Store) IncomingEdges(id storage.NodeID) ([]storage.EdgeID, error) {
	return s.adjacency("incoming edges", prefixIn, id)
}

// EdgesBetween implements storage.Storage.
func (s *Store) EdgesBetween(src, dst storage.NodeID) ([]storage.EdgeID, error) {
	out, err := s.adjacency("edges between", prefixOut, src)
	if err != nil {
		return nil, err
	}
	if ok, err := s.ContainsNode(dst); err != nil {
		return nil, err
	} else if !ok {
		return nil, storage.NotExist("edges between", dst)
	}
	between := []storage.EdgeID{}
	for _, e := range out {
		if e.Dst == dst {
			between = append(between, e)
		}
	}
	return between, nil
}

// Nodes implements storage.Storage.
func (s *Store) Nodes() ([]storage.NodeID, error) {
	ids := []storage.NodeID{}
	err := s.read(func(txn *badger.Txn) error {
		return scanKeys(txn, []byte{prefixNode}, func(rest []byte) error {
			n, w := binary.Uvarint(rest)
			if w <= 0 || uint64(len(rest)-w) != n {
				return fmt.Errorf("%w: node key", value.ErrCorrupt)
			}
			ids = append(ids, storage.NodeID(rest[w:]))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return storage.SortNodeIDs(ids), nil
}

// Edges implements storage.Storage.
func (s *Store) Edges() ([]storage.EdgeID, error) {
	ids := []storage.EdgeID{}
	err := s.read(func(txn *badger.Txn) error {
		return scanKeys(txn, []byte{prefixEdge}, func(rest []byte) error {
			id, err := decodeEdgeValue(rest)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return storage.SortEdgeIDs(ids), nil
}

// NodeCount implements storage.Storage.
func (s *Store) NodeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return int(s.nodeCount.Load()), nil
}

// EdgeCount implements storage.Storage.
func (s *Store) EdgeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return int(s.edgeCount.Load()), nil
}

// Clear implements storage.Storage. It drops every key in the database.
func (s *Store) Clear() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if err := s.db.DropAll(); err != nil {
		return false, fmt.Errorf("drop badger data: %w", err)
	}
	s.nodeCount.Store(0)
	s.edgeCount.Store(0)
	return true, nil
}

// Close implements storage.Storage.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}
