package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrJournalClosed is returned by appends after Close.
var ErrJournalClosed = errors.New("journal closed")

// BatchConfig tunes a BatchedJournal. Zero fields take the defaults.
type BatchConfig struct {
	FlushInterval time.Duration // pending records reach the OS this often
	SyncInterval  time.Duration // and are fsynced this often
	MaxPending    int           // a full batch is flushed inline
}

// Batching defaults.
const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultSyncInterval  = time.Second
	DefaultMaxPending    = 1000
)

func (c BatchConfig) withDefaults() BatchConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	return c
}

// BatchedJournal queues records in memory and writes them to a FileJournal
// in the background. A crash can lose up to SyncInterval of appends; Close
// writes and syncs whatever is pending.
type BatchedJournal struct {
	file *FileJournal
	cfg  BatchConfig

	mu      sync.Mutex
	pending []Record
	stopped bool

	stop chan struct{}
	done sync.WaitGroup
}

// NewBatchedJournal takes ownership of file.
func NewBatchedJournal(file *FileJournal, cfg BatchConfig) *BatchedJournal {
	cfg = cfg.withDefaults()
	b := &BatchedJournal{
		file:    file,
		cfg:     cfg,
		pending: make([]Record, 0, cfg.MaxPending),
		stop:    make(chan struct{}),
	}
	b.done.Add(1)
	go b.background()

	slog.Debug("batched journal started", "path", file.Path(),
		"flush_interval", cfg.FlushInterval, "sync_interval", cfg.SyncInterval, "max_pending", cfg.MaxPending)
	return b
}

// Append queues r. It only touches the file when the batch is full.
func (b *BatchedJournal) Append(r Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrJournalClosed
	}
	b.pending = append(b.pending, r)
	if len(b.pending) >= b.cfg.MaxPending {
		return b.flushLocked()
	}
	return nil
}

// Flush writes pending records to the OS.
func (b *BatchedJournal) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *BatchedJournal) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	for _, r := range b.pending {
		if err := b.file.Append(r); err != nil {
			return fmt.Errorf("write journal: %w", err)
		}
	}
	clear(b.pending)
	b.pending = b.pending[:0]
	if err := b.file.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// Sync writes pending records and fsyncs.
func (b *BatchedJournal) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.flushLocked(); err != nil {
		return err
	}
	return b.file.Sync()
}

// Close stops the background loop, syncs pending records and closes the
// file.
func (b *BatchedJournal) Close() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrJournalClosed
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stop)
	b.done.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.flushLocked(); err != nil {
		slog.Error("failed to flush journal during close", "error", err)
	}
	if err := b.file.Sync(); err != nil {
		slog.Error("failed to sync journal during close", "error", err)
	}
	return b.file.Close()
}

// Reset drops pending records and empties the file.
func (b *BatchedJournal) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.pending)
	b.pending = b.pending[:0]
	return b.file.Reset()
}

// ReplaceWith writes pending records and swaps in next. Records queued
// before the call land in the replaced file, so callers block appends while
// they build the replacement.
func (b *BatchedJournal) ReplaceWith(next string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.flushLocked(); err != nil {
		return err
	}
	return b.file.ReplaceWith(next)
}

// Path returns the journal location.
func (b *BatchedJournal) Path() string { return b.file.Path() }

// Size returns the bytes written to the file so far; queued records are not
// counted until flushed.
func (b *BatchedJournal) Size() int64 { return b.file.Size() }

func (b *BatchedJournal) background() {
	defer b.done.Done()
	flushTick := time.NewTicker(b.cfg.FlushInterval)
	defer flushTick.Stop()
	syncTick := time.NewTicker(b.cfg.SyncInterval)
	defer syncTick.Stop()
	for {
		select {
		case <-flushTick.C:
			if err := b.Flush(); err != nil {
				slog.Error("periodic journal flush failed", "error", err)
			}
		case <-syncTick.C:
			if err := b.Sync(); err != nil {
				slog.Error("periodic journal sync failed", "error", err)
			}
		case <-b.stop:
			return
		}
	}
}
