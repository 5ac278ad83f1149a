package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/roam/internal/config"
	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/ui"
)

var (
	configFile string

	// Resolved in PersistentPreRunE for every command
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "roam",
	Short: "Roaming settings that follow you between machines",
	Long: `roam keeps application settings in a local cache and reconciles them with
a settings document in a remote drive folder.

Values are read and written locally; 'roam sync' merges the cache with the
remote document (local values win, remote-only keys are pulled). With
--auto-sync every write is pushed right away.

Configuration is read from .roam/roam.{toml,yaml,json} or
~/.config/roam/roam.*, then ROAM_* environment variables, then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
		if err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger.Debug("configuration loaded",
			zap.String("source", cfg.Source()),
			zap.String("backend", cfg.Backend),
			zap.String("user", cfg.User))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "settings", Title: "Settings:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default .roam/roam.* then ~/.config/roam/roam.*)")
	flags.String("user", "", "owner of the remote settings folder")
	flags.String("file", "", "settings document name")
	flags.Bool("auto-sync", false, "push the document after every write")
	flags.String("backend", "", "drive backend: memory, fs, sqlite or local")
	flags.String("serializer", "", "value serializer: json or yaml")
	flags.String("drive-root", "", "directory of the fs backend and of local files")
	flags.String("cache-db", "", "SQLite file persisting the local cache")
	flags.String("log-level", "", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
