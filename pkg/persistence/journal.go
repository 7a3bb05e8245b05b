package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileJournal appends framed records to the journal file. Appends are
// buffered; Flush hands them to the OS and Sync makes them durable.
type FileJournal struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	path    string
	size    int64 // bytes appended, buffered ones included
	scratch []byte
}

// OpenJournal opens the journal at path for appending, creating it if
// needed. When replay stopped at a damaged tail, the file is first cut back
// to its intact prefix so new records never follow garbage.
func OpenJournal(path string, replayed ReplayResult) (*FileJournal, error) {
	if replayed.Tail != nil {
		if err := os.Truncate(path, replayed.Valid); err != nil {
			return nil, fmt.Errorf("truncate damaged journal tail: %w", err)
		}
	}
	j := &FileJournal{path: path}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

// open requires j.mu or exclusive access.
func (j *FileJournal) open() error {
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", j.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat journal %s: %w", j.path, err)
	}
	j.file = file
	if j.buf == nil {
		j.buf = bufio.NewWriter(file)
	} else {
		j.buf.Reset(file)
	}
	j.size = info.Size()
	return nil
}

// Append frames r onto the journal buffer.
func (j *FileJournal) Append(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(r)
}

func (j *FileJournal) appendLocked(r Record) error {
	j.scratch = AppendFrame(j.scratch[:0], r.Op, r.Payload())
	n, err := j.buf.Write(j.scratch)
	j.size += int64(n)
	return err
}

// Flush hands buffered frames to the OS without fsync.
func (j *FileJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.Flush()
}

// Sync flushes and fsyncs the file.
func (j *FileJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close flushes and closes the file. It does not fsync.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	flushErr := j.buf.Flush()
	closeErr := j.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Reset discards buffered frames and empties the file durably.
func (j *FileJournal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf.Reset(j.file)
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	j.size = 0
	return j.file.Sync()
}

// Path returns the journal location.
func (j *FileJournal) Path() string { return j.path }

// Size returns the journal length including frames not yet flushed.
func (j *FileJournal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// ReplaceWith renames the fully written file at next over the journal and
// continues appending to it. The directory is synced so the rename survives
// a crash. If the rename fails the old journal stays in use.
func (j *FileJournal) ReplaceWith(next string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		return err
	}
	_ = j.file.Close()

	renameErr := os.Rename(next, j.path)
	if err := j.open(); err != nil {
		return fmt.Errorf("reopen journal after replace: %w", err)
	}
	if renameErr != nil {
		return fmt.Errorf("replace journal: %w", renameErr)
	}
	return syncDir(filepath.Dir(j.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}
