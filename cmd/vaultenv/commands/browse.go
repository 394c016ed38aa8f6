package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/metrics"
	"github.com/systmms/vaultenv/internal/report"
)

func NewBrowseCommand(cfg *config.Config) *cobra.Command {
	var (
		metricsPort int
		out         string
		origin      string
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse the configured Vault servers interactively",
		Long: `Start an interactive shell over the configured Vault servers.

Servers are connected on demand and their tokens are renewed in the
background. The configuration file is watched: added, changed and removed
connections take effect without leaving the shell. Background failures are
printed as they happen.

Type 'help' inside the shell to list the commands.

Examples:
  vaultenv browse
  vaultenv browse --out config/.env --metrics-port 9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			metrics.InitMetrics()

			reporter := report.NewAsync(report.Func(func(message string) {
				cfg.Logger.Error("%s", message)
			}), report.DefaultQueueSize)
			reporter.Start(ctx)
			defer reporter.Stop()

			rt, err := newRuntime(ctx, cfg, reporter, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if metricsPort > 0 {
				srvCfg := metrics.DefaultServerConfig()
				srvCfg.Enabled = true
				srvCfg.Port = metricsPort
				srv := metrics.NewServer(srvCfg)
				if err := srv.Start(cfg.Logger.Error); err != nil {
					return err
				}
				defer func() {
					stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					_ = srv.Stop(stopCtx)
				}()
				cfg.Logger.Info("Serving metrics on %s", srv.Addr())
			}

			sh := newShell(rt, cmd.OutOrStdout(), out, rt.origin(origin))

			watcher, err := config.NewWatcher(cfg.Path)
			if err != nil {
				cfg.Logger.Warn("Configuration changes will not be picked up: %v", err)
			} else {
				go watcher.Run(ctx, func(def *config.Definition, err error) {
					if err != nil {
						reporter.Report(fmt.Sprintf("Unable to reload %s (%v)", cfg.Path, err))
						return
					}
					for _, p := range rt.tree.SetConnections(def.Connections) {
						cfg.Logger.Warn("Ignoring %s", p)
					}
					if origin == "" {
						sh.SetOrigin(def.HeaderOrigin())
					}
					cfg.Logger.Debug("Reloaded %s: %d server(s)", cfg.Path, len(rt.tree.Servers()))
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "vaultenv %s: %d server(s). Type 'help' for the commands.\n", Version, len(rt.tree.Servers()))

			in, ok := cmd.InOrStdin().(io.ReadCloser)
			if !ok {
				in = io.NopCloser(cmd.InOrStdin())
			}
			err = sh.Run(ctx, in)
			cancel()
			return err
		},
	}

	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")
	cmd.Flags().StringVarP(&out, "out", "o", ".env", "Default file for write, or - for stdout")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin shown in block headers (defaults to the configuration's)")

	return cmd
}
