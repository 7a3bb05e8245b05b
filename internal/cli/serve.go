package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektorgraph/internal/server"
)

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured storage over HTTP",
		Long: `Open the configured backend and expose it over the HTTP API until
interrupted. The storage is closed, and its journal synced, on shutdown.
Edits to the configuration file's log_level apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.remote != "" {
				return errors.New("serve works on a local backend; drop --remote")
			}
			cfg := c.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}

			s, err := c.openStorage()
			if err != nil {
				return err
			}
			defer closeStorage(s)

			srv := server.NewServer(s, cfg)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(srv.Run)
			g.Go(func() error {
				<-ctx.Done()
				srv.Shutdown()
				return nil
			})
			if c.configPath != "" {
				g.Go(func() error { return c.watchConfig(ctx, c.configPath) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
