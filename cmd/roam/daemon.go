package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/roam/internal/daemon"
	"github.com/steveyegge/roam/internal/dashboard"
	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the cache in sync in the foreground",
	Long: `Run Sync on an interval and whenever the remote document changes.

With the fs backend the document file is watched, so writes from other
machines (or a file sync tool) are pulled within the debounce interval.
Other backends rely on the interval alone.

With --dashboard the HTTP dashboard runs in the same process and receives
every sync report.

Example:
  roam daemon --dashboard --port 9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		return serve(cmd, true, withDashboard)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve the settings API and live WebSocket updates",
	Long: `Start an HTTP server exposing the settings store.

Endpoints:
  GET    /api/settings               whole document
  GET    /api/settings/{key}         one value
  PUT    /api/settings/{key}         store a JSON value
  PUT    /api/composites/{key}       upsert sub-keys from a JSON object
  GET    /api/composites/{key}/{sub} one sub-value
  GET    /api/stats                  cache summary
  POST   /api/sync                   run a sync
  DELETE /api/settings               clear all settings
  GET    /health                     liveness
  WS     /ws                         setting_update, sync_complete, cleared and stats messages

Example:
  roam dashboard --port 9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd, false, true)
	},
}

// serve runs the daemon, the dashboard or both until interrupted.
func serve(cmd *cobra.Command, withDaemon, withDashboard bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return withSession(ctx, func(s *session) error {
		store := roaming.NewGuarded(s.store)
		g, gctx := errgroup.WithContext(ctx)

		var server *dashboard.Server
		var onSync func(roaming.SyncReport, error)
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Host:   cfg.Dashboard.Host,
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			onSync = dashboard.NewHandler(store, server, logger).OnSyncComplete
		}

		var d *daemon.Daemon
		if withDaemon {
			var err error
			d, err = daemon.NewWithConfig(store, &daemon.Config{
				SyncInterval:     cfg.Daemon.SyncInterval,
				DebounceInterval: cfg.Daemon.Debounce,
				WatchPath:        s.WatchPath(),
				Logger:           logger,
				OnSync:           onSync,
			})
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}
		}

		if server != nil {
			if err := server.Start(); err != nil {
				if d != nil {
					_ = d.Stop()
				}
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			addr := server.GetAddr()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Dashboard on http://%s (WebSocket ws://%s/ws)\n", ui.RenderPass("✓"), addr, addr)

			g.Go(func() error {
				<-gctx.Done()
				return server.Stop()
			})
		}

		if d != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Syncing %s every %s\n", ui.RenderPass("✓"), s.store.Ref(), cfg.Daemon.SyncInterval)
			g.Go(func() error {
				return d.Start(gctx)
			})
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("Press Ctrl+C to stop..."))
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("shut down", zap.Bool("daemon", withDaemon), zap.Bool("dashboard", withDashboard))
		return nil
	})
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port")
	dashboardCmd.Flags().IntP("port", "p", 8080, "dashboard port")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
