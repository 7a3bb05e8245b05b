// Package cli implements the kektorgraph command-line interface.
//
// Every command works against the storage named by the configuration file
// (see pkg/config), or against a running server when --remote is given.
// Flags override file values. All logging goes through log/slog with a
// charmbracelet/log handler; --verbose switches to debug level.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/client"
	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	cfg config.Config

	// global flags
	configPath string
	verbose    bool
	backend    string
	dataDir    string
	graph      string
	remote     string
	token      string
}

// New creates a CLI that logs to w.
func New(w io.Writer) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           log.InfoLevel,
			Formatter:       formatterFor(w),
		}),
	}
}

// formatterFor picks logfmt when w is a file that is not a terminal, so
// redirected service logs stay machine readable.
func formatterFor(w io.Writer) log.Formatter {
	f, ok := w.(*os.File)
	if !ok || isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return log.TextFormatter
	}
	return log.LogfmtFormatter
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "kektorgraph",
		Short:             "kektorgraph stores property graphs",
		Long:              `kektorgraph is a graph storage engine with pluggable backends (memory, journaled engine, badger) and an HTTP server.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&c.backend, "backend", "", "storage backend: memory, engine or badger")
	pf.StringVar(&c.dataDir, "data-dir", "", "directory for persistent backends")
	pf.StringVar(&c.graph, "graph", "", "logical graph used by traversals and analysis")
	pf.StringVar(&c.remote, "remote", "", "base URL of a kektorgraph server to use instead of a local backend")
	pf.StringVar(&c.token, "token", "", "bearer token for --remote or the served API")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.importCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.statsCommand())
	root.AddCommand(c.compactCommand())
	root.AddCommand(c.analyzeCommand())
	root.AddCommand(c.pathCommand())
	root.AddCommand(c.labelsCommand())

	return root
}

// setup loads the configuration, applies flag overrides and installs the
// process-wide logger.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Backend = c.backend
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.graph != "" {
		cfg.Graph = c.graph
	}
	if c.token != "" {
		cfg.Server.AuthToken = c.token
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	level, err := c.logLevel(cfg)
	if err != nil {
		return err
	}
	c.Logger.SetLevel(level)
	slog.SetDefault(slog.New(c.Logger))
	return nil
}

// logLevel resolves the configured level; --verbose wins.
func (c *CLI) logLevel(cfg config.Config) (log.Level, error) {
	if c.verbose {
		return log.DebugLevel, nil
	}
	if cfg.LogLevel == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return level, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

// openStorage returns the remote client when --remote is set and the
// configured local backend otherwise. The caller closes it.
func (c *CLI) openStorage() (storage.Storage, error) {
	if c.remote != "" {
		slog.Debug("using remote storage", "url", c.remote)
		return client.New(c.remote, c.cfg.Server.AuthToken), nil
	}
	return config.OpenStorage(c.cfg)
}

func closeStorage(s storage.Storage) {
	if err := s.Close(); err != nil {
		slog.Error("close storage", "error", err)
	}
}
