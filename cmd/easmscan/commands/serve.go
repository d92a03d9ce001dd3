package commands

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"github.com/bl4ck0w1/easmscan/internal/api"
)

func NewServeCommand(rt *Runtime) *cobra.Command {
	var (
		host    string
		port    int
		noRecon bool
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serve the scan API. POST /api/scan runs a scan, POST /api/discover runs passive
discovery, GET /health and GET /metrics report liveness and counters. When metrics are
enabled in the config a dedicated metrics listener is started on metrics.addr too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.config()
			apiCfg := cfg.API
			if cmd.Flags().Changed("host") {
				apiCfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				apiCfg.Port = port
			}

			eng, err := rt.newEngine()
			if err != nil {
				return err
			}

			var discoverer api.Discoverer
			if cfg.Recon.Enabled && !noRecon {
				manager, err := rt.newReconManager(eng.scan)
				if err != nil {
					return err
				}
				discoverer = manager
			}

			server, err := api.NewServer(eng.scanner, discoverer, eng.metrics.Handler(), apiCfg, rt.logger().ForComponent("api"))
			if err != nil {
				return err
			}
			if !noStore {
				store, err := rt.newResultStore()
				if err != nil {
					return err
				}
				server.WithResultStore(store)
			}

			ctx, cancel := signalContext()
			defer cancel()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Start(ctx)
			})
			g.Go(func() error {
				rotateOnHangup(ctx, rt.logger())
				return nil
			})
			if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
				g.Go(func() error {
					rt.logger().Infof("Metrics listening on %s", cfg.Metrics.Addr)
					return eng.metrics.StartServerWithContext(ctx, cfg.Metrics.Addr)
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist scan results or serve /api/results")
	cmd.Flags().BoolVar(&noRecon, "no-recon", false, "Disable POST /api/discover and domain recon on scans")
	return cmd
}
