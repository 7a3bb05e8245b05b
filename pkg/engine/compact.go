package engine

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/persistence"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

// Compact rewrites the journal as one add record per live entity and swaps
// it in atomically. Writers are blocked for the duration.
func (e *Engine) Compact() error {
	return e.compact("manual")
}

func (e *Engine) compact(trigger string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrClosed
	}

	start := time.Now()
	before := e.journal.Size()
	err := e.rewriteLocked()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Compactions.WithLabelValues(trigger, outcome).Inc()
	if err != nil {
		return fmt.Errorf("compact journal: %w", err)
	}

	slog.Info("journal compacted", "trigger", trigger,
		"before_bytes", before, "after_bytes", e.baseSize, "took", time.Since(start))
	return nil
}

// rewriteLocked requires e.mu held for writing.
func (e *Engine) rewriteLocked() error {
	tmp := e.journal.Path() + ".rewrite"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	bw := bufio.NewWriter(f)
	if err := e.dumpLocked(persistence.NewFrameWriter(bw)); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := e.journal.ReplaceWith(tmp); err != nil {
		return err
	}
	e.baseSize = e.journal.Size()
	return nil
}

// dumpLocked writes every node, then every edge, as add records.
func (e *Engine) dumpLocked(fw *persistence.FrameWriter) error {
	// 1. Nodes
	nodes, err := e.mem.Nodes()
	if err != nil {
		return err
	}
	for _, id := range nodes {
		props, err := e.mem.NodeProperties(id)
		if err != nil {
			return err
		}
		r := persistence.Record{Op: persistence.OpAddNode, Node: id, Props: props}
		if err := fw.WriteFrame(r.Op, r.Payload()); err != nil {
			return err
		}
	}

	// 2. Edges
	edges, err := e.mem.Edges()
	if err != nil {
		return err
	}
	for _, id := range edges {
		props, err := e.mem.EdgeProperties(id)
		if err != nil {
			return err
		}
		r := persistence.Record{Op: persistence.OpAddEdge, Edge: id, Props: props}
		if err := fw.WriteFrame(r.Op, r.Payload()); err != nil {
			return err
		}
	}
	return nil
}
