// Package tabular reads and writes graphs as two tab-separated tables, one
// for nodes and one for edges.
//
// The first column of each table holds the entity identifier in the value
// character encoding (a JSON string for nodes, a [src, dst, type] list for
// edges). Every other column is a property name; its cells hold the property
// value in the same encoding, and an empty cell means the property is
// absent. Columns appear in the order the exporter first met them.
//
// Cells and header names are escaped so they never contain the separators:
//
//	\  ->  \\
//	TAB -> \t
//	LF  -> \n
//	CR  -> \r
package tabular

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/sanonone/kektorgraph/pkg/exchange"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/value"
)

// Format names this adapter in logs and metrics.
const Format = "tabular"

// IDColumn is the header of the identifier column.
const IDColumn = storage.ReservedPrefix + "id"

// ErrBadHeader is returned when a table does not start with IDColumn.
var ErrBadHeader = errors.New("tabular: table must start with the id column")

var escaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// Escape applies the cell escaping scheme.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape inverts Escape. A backslash followed by anything else, or a
// trailing backslash, is an error.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("tabular: dangling escape in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("tabular: unknown escape \\%c in %q", s[i], s)
		}
	}
	return b.String(), nil
}

// table accumulates rows while the header keeps widening. Rows are held
// until flush so that every row is written under the final header.
type table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

func newTable() *table {
	return &table{columns: []string{IDColumn}, index: map[string]int{IDColumn: 0}}
}

func (t *table) add(id value.Value, props storage.Properties) error {
	idText, err := value.EncodeText(id)
	if err != nil {
		return err
	}
	row := make([]string, len(t.columns))
	row[0] = idText
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		col, ok := t.index[name]
		if !ok {
			col = len(t.columns)
			t.index[name] = col
			t.columns = append(t.columns, name)
			slog.Debug("tabular header widened", "column", name, "rows_so_far", len(t.rows))
		}
		text, err := value.EncodeText(props[name])
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		for len(row) <= col {
			row = append(row, "")
		}
		row[col] = text
	}
	t.rows = append(t.rows, row)
	return nil
}

func (t *table) flush(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeRow := func(cells []string) {
		for i := range t.columns {
			if i > 0 {
				bw.WriteByte('\t')
			}
			if i < len(cells) {
				bw.WriteString(Escape(cells[i]))
			}
		}
		bw.WriteByte('\n')
	}
	writeRow(t.columns)
	for _, row := range t.rows {
		writeRow(row)
	}
	return bw.Flush()
}

// Export writes every node of s to nodes and every edge to edges.
func Export(s storage.Storage, nodes, edges io.Writer) error {
	nt := newTable()
	ids, err := s.Nodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	for _, id := range ids {
		props, err := s.NodeProperties(id)
		if err != nil {
			return fmt.Errorf("read node %s: %w", id, err)
		}
		if err := nt.add(id.Value(), props); err != nil {
			return fmt.Errorf("export node %s: %w", id, err)
		}
	}
	if err := nt.flush(nodes); err != nil {
		return fmt.Errorf("write node table: %w", err)
	}

	et := newTable()
	eids, err := s.Edges()
	if err != nil {
		return fmt.Errorf("list edges: %w", err)
	}
	for _, id := range eids {
		props, err := s.EdgeProperties(id)
		if err != nil {
			return fmt.Errorf("read edge %s: %w", id, err)
		}
		if err := et.add(id.Value(), props); err != nil {
			return fmt.Errorf("export edge %s: %w", id, err)
		}
	}
	if err := et.flush(edges); err != nil {
		return fmt.Errorf("write edge table: %w", err)
	}
	return nil
}

// Import reads a node table and then an edge table into s. Either reader may
// be nil. See package exchange for the partial-failure policy.
func Import(ctx context.Context, s storage.Storage, nodes, edges io.Reader) (exchange.ImportStats, error) {
	return exchange.Import(ctx, s, Format, func(_ context.Context, emit func(exchange.Record) error, skip func(exchange.Kind, int, error)) error {
		if nodes != nil {
			if err := parse(nodes, exchange.KindNode, emit, skip); err != nil {
				return fmt.Errorf("node table: %w", err)
			}
		}
		if edges != nil {
			if err := parse(edges, exchange.KindEdge, emit, skip); err != nil {
				return fmt.Errorf("edge table: %w", err)
			}
		}
		return nil
	})
}

func parse(r io.Reader, k exchange.Kind, emit func(exchange.Record) error, skip func(exchange.Kind, int, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	// 1. Header
	if !sc.Scan() {
		return sc.Err()
	}
	columns, err := splitRow(sc.Text())
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if columns[0] != IDColumn {
		return ErrBadHeader
	}

	// 2. Rows
	line := 1
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := parseRow(columns, text, k)
		if err != nil {
			skip(k, line, err)
			continue
		}
		rec.Pos = line
		if err := emit(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

func splitRow(text string) ([]string, error) {
	cells := strings.Split(strings.TrimSuffix(text, "\r"), "\t")
	for i, c := range cells {
		u, err := Unescape(c)
		if err != nil {
			return nil, err
		}
		cells[i] = u
	}
	return cells, nil
}

func parseRow(columns []string, text string, k exchange.Kind) (exchange.Record, error) {
	rec := exchange.Record{Kind: k, Props: storage.Properties{}}
	cells, err := splitRow(text)
	if err != nil {
		return rec, err
	}
	if len(cells) > len(columns) {
		return rec, fmt.Errorf("row has %d cells, header has %d", len(cells), len(columns))
	}

	id, err := value.DecodeText(cells[0])
	if err != nil {
		return rec, fmt.Errorf("identifier: %w", err)
	}
	if k == exchange.KindNode {
		rec.Node, err = storage.NodeIDFromValue(id)
	} else {
		rec.Edge, err = storage.EdgeIDFromValue(id)
	}
	if err != nil {
		return rec, err
	}

	for i := 1; i < len(cells); i++ {
		if cells[i] == "" {
			continue
		}
		v, err := value.DecodeText(cells[i])
		if err != nil {
			return rec, fmt.Errorf("property %q: %w", columns[i], err)
		}
		rec.Props[columns[i]] = v
	}
	return rec, nil
}
