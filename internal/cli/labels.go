package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/graph"
	"github.com/sanonone/kektorgraph/pkg/lattice"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

// labelSession is a graph together with the lattice stored in its metadata.
type labelSession struct {
	store storage.Storage
	graph *graph.Graph
	lat   *lattice.Lattice
}

func (c *CLI) openLabels() (*labelSession, error) {
	s, err := c.openStorage()
	if err != nil {
		return nil, err
	}
	g, err := c.openGraph(s)
	if err != nil {
		closeStorage(s)
		return nil, err
	}
	lt := lattice.New()
	if err := lt.Load(g); err != nil {
		closeStorage(s)
		return nil, fmt.Errorf("load labels of graph %s: %w", g.Name(), err)
	}
	return &labelSession{store: s, graph: g, lat: lt}, nil
}

func (ls *labelSession) close() { closeStorage(ls.store) }

// lookup refuses names the lattice has never seen, so typos are not silently
// turned into fresh labels.
func (ls *labelSession) lookup(name string) (*lattice.Label, error) {
	l, ok := ls.lat.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown label %q", name)
	}
	return l, nil
}

func (c *CLI) labelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Manage the label lattice of the graph",
		Long: `Labels classify the edges of a graph. Each label may be given named
parent labels once; a label is greater than all of its ancestors. The lattice
is kept in the metadata of the graph selected by --graph.`,
	}
	cmd.AddCommand(c.labelsListCommand())
	cmd.AddCommand(c.labelsSetCommand())
	cmd.AddCommand(c.labelsCompareCommand())
	cmd.AddCommand(c.labelsTagCommand())
	return cmd
}

type labelInfo struct {
	Name    string            `json:"name"`
	Parents map[string]string `json:"parents,omitempty"`
	Changes []storage.EdgeID  `json:"changes,omitempty"`
}

func (c *CLI) labelsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every label with its parents and tagged edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ls, err := c.openLabels()
			if err != nil {
				return err
			}
			defer ls.close()

			out := []labelInfo{}
			for _, l := range ls.lat.Labels() {
				info := labelInfo{Name: l.Name(), Changes: l.Changes()}
				if parents := l.Parents(); len(parents) > 0 {
					info.Parents = make(map[string]string, len(parents))
					for rel, p := range parents {
						info.Parents[rel] = p.Name()
					}
				}
				out = append(out, info)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (c *CLI) labelsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set LABEL [RELATION=PARENT]...",
		Short: "Fix the parents of a label",
		Long: `Fix the parents of LABEL, creating any label that does not exist yet.
Parents can only be set once; repeating the same assignment is accepted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := c.openLabels()
			if err != nil {
				return err
			}
			defer ls.close()

			parents := make(map[string]*lattice.Label, len(args)-1)
			for _, arg := range args[1:] {
				rel, name, ok := strings.Cut(arg, "=")
				if !ok || rel == "" || name == "" {
					return fmt.Errorf("parent %q: want RELATION=PARENT", arg)
				}
				if _, dup := parents[rel]; dup {
					return fmt.Errorf("relation %q given twice", rel)
				}
				parents[rel] = ls.lat.Label(name)
			}
			l := ls.lat.Label(args[0])
			if err := l.SetParents(parents); err != nil {
				return err
			}
			if err := ls.lat.Store(ls.graph); err != nil {
				return err
			}
			slog.Info("label stored", "label", l.Name(), "parents", len(parents), "graph", ls.graph.Name())
			return nil
		},
	}
}

func (c *CLI) labelsCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare A B",
		Short: "Print how label A orders against label B",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := c.openLabels()
			if err != nil {
				return err
			}
			defer ls.close()

			a, err := ls.lookup(args[0])
			if err != nil {
				return err
			}
			b, err := ls.lookup(args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.Compare(b))
			return err
		},
	}
}

func (c *CLI) labelsTagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tag SRC DST TYPE [LABEL]...",
		Short: "Replace the labels carried by an edge",
		Long: `Replace the labels of the edge SRC -> DST of local type TYPE. With no
LABEL the edge loses all of its labels.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := c.openLabels()
			if err != nil {
				return err
			}
			defer ls.close()

			e, err := ls.graph.Edge(storage.NodeID(args[0]), storage.NodeID(args[1]), args[2])
			if err != nil {
				return err
			}
			labels := make([]*lattice.Label, len(args)-3)
			for i, name := range args[3:] {
				labels[i] = ls.lat.Label(name)
			}
			if err := ls.lat.SetEdgeLabels(e, labels...); err != nil {
				return err
			}
			if err := ls.lat.Store(ls.graph); err != nil {
				return err
			}
			slog.Info("edge labels stored", "edge", e, "labels", len(labels))
			return nil
		},
	}
}
