// Package exchange holds what the file-format adapters share: the import
// pipeline, its partial-failure policy and its statistics.
//
// Import never aborts on a bad record. Rows that cannot be parsed, edges whose
// endpoints are missing and properties the target rejects are logged, counted
// as skipped and passed over. Storage failures of any other kind end the
// import.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

// ImportStats counts what an import did.
type ImportStats struct {
	Nodes   int `json:"nodes"`
	Edges   int `json:"edges"`
	Skipped int `json:"skipped"`
}

// Kind tells node records from edge records.
type Kind int

const (
	KindNode Kind = iota
	KindEdge
)

func (k Kind) String() string {
	if k == KindEdge {
		return "edge"
	}
	return "node"
}

// Record is one parsed entity ready to be upserted.
type Record struct {
	Kind  Kind
	Pos   int // line or element number, for logs
	Node  storage.NodeID
	Edge  storage.EdgeID
	Props storage.Properties
}

// Producer parses its input and hands each record to emit. Records it cannot
// parse go to skip instead. An error from emit must be returned unchanged.
type Producer func(ctx context.Context, emit func(Record) error, skip func(Kind, int, error)) error

// Import runs produce and upserts its records into s. Parsing runs
// concurrently with the writes to s, which stay sequential and in record
// order.
func Import(ctx context.Context, s storage.Storage, format string, produce Producer) (ImportStats, error) {
	g, ctx := errgroup.WithContext(ctx)
	records := make(chan Record, 256)

	// 1. Parse
	parseSkipped := 0
	g.Go(func() error {
		defer close(records)
		emit := func(r Record) error {
			select {
			case records <- r:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		skip := func(k Kind, pos int, err error) {
			Skip(format, k, pos, err)
			parseSkipped++
		}
		return produce(ctx, emit, skip)
	})

	// 2. Apply
	var stats ImportStats
	g.Go(func() error {
		for r := range records {
			if err := apply(s, format, r, &stats); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	stats.Skipped += parseSkipped
	slog.Info("import finished", "format", format,
		"nodes", stats.Nodes, "edges", stats.Edges, "skipped", stats.Skipped)
	return stats, err
}

func apply(s storage.Storage, format string, r Record, stats *ImportStats) error {
	var err error
	switch r.Kind {
	case KindNode:
		err = storage.UpsertNode(s, r.Node, r.Props)
	case KindEdge:
		err = storage.UpsertEdge(s, r.Edge, r.Props)
	}
	switch {
	case err == nil:
		if r.Kind == KindNode {
			stats.Nodes++
		} else {
			stats.Edges++
		}
		metrics.ImportRecords.WithLabelValues(format, r.Kind.String(), "ok").Inc()
		return nil
	case errors.Is(err, storage.ErrEntityNotExist), errors.Is(err, storage.ErrInvalidPropertyName):
		Skip(format, r.Kind, r.Pos, err)
		stats.Skipped++
		return nil
	default:
		return fmt.Errorf("%s record %d: %w", r.Kind, r.Pos, err)
	}
}

// Skip logs and counts a record passed over during import.
func Skip(format string, k Kind, pos int, err error) {
	slog.Warn("skipping malformed import record", "format", format, "kind", k, "pos", pos, "error", err)
	metrics.ImportRecords.WithLabelValues(format, k.String(), "skipped").Inc()
}
