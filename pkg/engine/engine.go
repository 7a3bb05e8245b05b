// Package engine provides a durable, embedded graph store.
//
// It keeps the whole graph in an in-memory store and appends every mutation
// to a CRC-framed journal, which is replayed on Open. The journal is
// periodically compacted into the minimal set of records that rebuild the
// current state.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	db, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sanonone/kektorgraph/pkg/persistence"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
)

// Options configures the Engine, including persistence paths and automatic
// compaction.
type Options struct {
	// DataDir is the directory holding the journal. It is created if missing.
	DataDir string

	// JournalFilename is the journal's file name (default: "kektorgraph.journal").
	JournalFilename string

	// RewritePercentage triggers automatic compaction when the journal
	// exceeds its post-compaction size by this percentage. 0 disables it.
	RewritePercentage int

	// MinRewriteSize is the journal size below which automatic compaction
	// never runs.
	MinRewriteSize int64

	// MaintenanceInterval is how often the compaction policy is evaluated.
	MaintenanceInterval time.Duration

	// SyncEveryWrite fsyncs the journal after each mutation instead of
	// batching.
	SyncEveryWrite bool

	// FlushInterval and SyncInterval tune the batching writer.
	FlushInterval time.Duration
	SyncInterval  time.Duration

	// StrictNames rejects reserved property names.
	StrictNames bool
}

// DefaultOptions returns a standard configuration.
//
// Defaults:
//   - JournalFilename: "kektorgraph.journal"
//   - Compaction at 100% growth, never below 1MB, checked every second
//   - Batched writes flushed every 100ms and synced every second
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:             dataDir,
		JournalFilename:     "kektorgraph.journal",
		RewritePercentage:   100,
		MinRewriteSize:      1024 * 1024,
		MaintenanceInterval: time.Second,
		FlushInterval:       persistence.DefaultFlushInterval,
		SyncInterval:        persistence.DefaultSyncInterval,
		StrictNames:         true,
	}
}

// journal is satisfied by both the synchronous and the batching writer.
type journal interface {
	Append(r persistence.Record) error
	Flush() error
	Sync() error
	Close() error
	Reset() error
	ReplaceWith(next string) error
	Size() int64
	Path() string
}

// Engine is a storage.Storage whose state survives restarts. It is safe for
// concurrent use.
type Engine struct {
	mu      sync.RWMutex
	mem     *memory.Store
	journal journal
	closed  bool

	opts     Options
	baseSize int64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ storage.Storage = (*Engine)(nil)

// Open initializes an Engine.
//
// It performs the following actions:
// 1. Creates DataDir if missing.
// 2. Replays the journal; a torn tail is cut off.
// 3. Opens the journal for appending.
// 4. Starts the background compaction task.
func Open(opts Options) (*Engine, error) {
	if opts.JournalFilename == "" {
		opts.JournalFilename = DefaultOptions("").JournalFilename
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(opts.DataDir, opts.JournalFilename)

	e := &Engine{
		mem:  memory.NewWithOptions(memory.Options{StrictNames: opts.StrictNames}),
		opts: opts,
		stop: make(chan struct{}),
	}

	// 1. Replay
	res, err := persistence.Replay(path, func(r persistence.Record) error {
		return r.Apply(e.mem)
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if res.Tail != nil {
		slog.Warn("journal ends with a damaged frame, truncating",
			"path", path, "records", res.Records, "valid_bytes", res.Valid, "error", res.Tail)
	}

	// 2. Open writer
	file, err := persistence.OpenJournal(path, res)
	if err != nil {
		return nil, err
	}
	if opts.SyncEveryWrite {
		e.journal = file
	} else {
		e.journal = persistence.NewBatchedJournal(file, persistence.BatchConfig{
			FlushInterval: opts.FlushInterval,
			SyncInterval:  opts.SyncInterval,
		})
	}
	e.baseSize = e.journal.Size()

	nodes, _ := e.mem.NodeCount()
	edges, _ := e.mem.EdgeCount()
	slog.Info("engine opened", "path", path, "records", res.Records, "nodes", nodes, "edges", edges)

	// 3. Background tasks
	if opts.RewritePercentage > 0 && opts.MaintenanceInterval > 0 {
		e.wg.Add(1)
		go e.backgroundTasks()
	}
	return e, nil
}

// Close stops background tasks, syncs and closes the journal. Further calls
// return nil.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()

		e.mu.Lock()
		defer e.mu.Unlock()
		e.closed = true
		if syncErr := e.journal.Sync(); syncErr != nil {
			slog.Error("final journal sync failed", "error", syncErr)
		}
		err = e.journal.Close()
		_ = e.mem.Close()
	})
	return err
}

// Path returns the journal path.
func (e *Engine) Path() string {
	return e.journal.Path()
}

// JournalSize returns the bytes currently flushed to the journal.
func (e *Engine) JournalSize() (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, storage.ErrClosed
	}
	return e.journal.Size(), nil
}

func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.checkMaintenance()
		}
	}
}

// checkMaintenance compacts the journal once it has grown past the policy
// threshold.
func (e *Engine) checkMaintenance() {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	size := e.journal.Size()
	base := e.baseSize
	e.mu.RUnlock()

	threshold := base + base*int64(e.opts.RewritePercentage)/100
	if threshold < e.opts.MinRewriteSize {
		threshold = e.opts.MinRewriteSize
	}
	if size <= threshold {
		return
	}
	if err := e.compact("auto"); err != nil {
		slog.Error("background journal compaction failed", "error", err)
	}
}

// append journals a mutation that has already been applied in memory.
// Callers hold e.mu.
func (e *Engine) append(r persistence.Record) error {
	if err := e.journal.Append(r); err != nil {
		return fmt.Errorf("journal %s: %w", r.Op, err)
	}
	if e.opts.SyncEveryWrite {
		if err := e.journal.Sync(); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	return nil
}

func (e *Engine) write(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrClosed
	}
	return fn()
}

func (e *Engine) read() (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	return e.mu.RUnlock, nil
}
