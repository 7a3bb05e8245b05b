package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/graph/analysis"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

func (c *CLI) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print node and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStorage()
			if err != nil {
				return err
			}
			defer closeStorage(s)

			stats, err := storage.StatsOf(s)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

type compacter interface {
	Compact() error
}

func (c *CLI) compactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the engine journal to its minimal form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStorage()
			if err != nil {
				return err
			}
			defer closeStorage(s)

			cp, ok := storage.Unwrap(s).(compacter)
			if !ok {
				return fmt.Errorf("the %s backend has no journal to compact", c.cfg.Backend)
			}
			start := time.Now()
			if err := cp.Compact(); err != nil {
				return err
			}
			slog.Info("journal compacted", "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// openGraph loads the configured logical graph's cache from s.
func (c *CLI) openGraph(s storage.Storage) (*graph.Graph, error) {
	g := graph.NewMulti(c.cfg.Graph, s)
	if err := g.RefreshCache(); err != nil {
		return nil, err
	}
	slog.Debug("graph loaded", "graph", c.cfg.Graph, "nodes", g.NodeCount(), "edges", g.EdgeCount())
	return g.Graph, nil
}

func typeFilter(types []string) graph.EdgeFilter {
	if len(types) == 0 {
		return nil
	}
	return graph.TypeFilter(types...)
}

func (c *CLI) analyzeCommand() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report cycles and a topological order of the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStorage()
			if err != nil {
				return err
			}
			defer closeStorage(s)

			g, err := c.openGraph(s)
			if err != nil {
				return err
			}
			view := analysis.Snapshot(g, typeFilter(types))

			report := struct {
				Graph  string             `json:"graph"`
				Nodes  int                `json:"nodes"`
				Edges  int                `json:"edges"`
				Cycles [][]storage.NodeID `json:"cycles,omitempty"`
				Order  []storage.NodeID   `json:"order,omitempty"`
			}{Graph: g.Name(), Nodes: g.NodeCount(), Edges: g.EdgeCount()}

			report.Cycles = view.Cycles()
			report.Order, err = view.TopologicalOrder()
			if err != nil && !errors.Is(err, analysis.ErrCyclic) {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "only follow edges of these local types")
	return cmd
}

func (c *CLI) pathCommand() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "path FROM TO",
		Short: "Print a shortest path between two nodes of the graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStorage()
			if err != nil {
				return err
			}
			defer closeStorage(s)

			g, err := c.openGraph(s)
			if err != nil {
				return err
			}
			p, err := analysis.Snapshot(g, typeFilter(types)).ShortestPath(storage.NodeID(args[0]), storage.NodeID(args[1]))
			if err != nil {
				return err
			}
			hops := make([]string, len(p))
			for i, id := range p {
				hops[i] = string(id)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(hops, " -> "))
			return err
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "only follow edges of these local types")
	return cmd
}
