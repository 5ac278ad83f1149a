package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/settings"
	"github.com/steveyegge/roam/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile the local cache with the remote document",
	Long: `Merge the local cache with the remote settings document.

Local values win: every local key whose value differs from the remote is
pushed. Keys that only exist remotely are pulled into the cache. A missing
remote document counts as empty.

When the remote cannot be read the cache is left untouched and nothing is
pushed; the sync reports the remote as unavailable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			err := s.store.Sync(cmd.Context())
			printReport(cmd.OutOrStdout(), s.store.LastReport())
			return err
		})
	},
}

var createCmd = &cobra.Command{
	Use:     "create",
	GroupID: "sync",
	Short:   "Start an empty settings cache",
	Long: `Materialize an empty local cache so reads stop falling back to defaults.

With --remote an empty document is also created on the drive. Drives that
cannot hold empty files refuse; write a setting and sync instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withRemote, _ := cmd.Flags().GetBool("remote")

		return withSession(cmd.Context(), func(s *session) error {
			if err := s.store.Create(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created local cache for %s\n", ui.RenderPass("✓"), s.store.Ref())

			if !withRemote {
				return nil
			}
			if s.drive == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s The %s backend has no remote document\n", ui.RenderWarn("!"), cfg.Backend)
				return nil
			}
			item, err := s.drive.CreateRemote(cmd.Context())
			if errors.Is(err, remote.ErrUnsupported) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Drive does not support empty files; the document is created on first sync\n", ui.RenderWarn("!"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created remote document %s\n", ui.RenderPass("✓"), ui.RenderMuted(item.ID))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete",
	GroupID: "sync",
	Short:   "Clear all settings",
	Long: `Clear the local cache. With auto-sync the remote document is deleted too.

The local cache is cleared even when the remote delete fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			err := s.store.Delete(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared settings for %s\n", ui.RenderPass("✓"), s.store.Ref())
			return err
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "settings",
	Short:   "Import settings from a JSON document",
	Long: `Store every key of a settings document, read from FILE or - for stdin.

The document may contain comments and trailing commas. Objects become
composites; other values are stored like 'roam set' would, so strings are
plain strings and arrays are serialized text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}

		values, err := settings.ParseDocument(jsonc.ToJSON(data))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		return withSession(cmd.Context(), func(s *session) error {
			for _, key := range sortedKeys(values) {
				s.store.Put(key, values[key])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d settings\n", ui.RenderPass("✓"), len(values))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show configuration and cache state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			source := cfg.Source()
			if source == "" {
				source = "(defaults)"
			}

			cache := "not materialized"
			if s.store.Materialized() {
				cache = strconv.Itoa(s.store.Len()) + " keys"
			}

			persisted := cfg.Cache.DB
			if persisted == "" {
				persisted = "(disabled)"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.RenderAccent("roam status"))
			fmt.Fprint(out, ui.Table(map[string]string{
				"config":    source,
				"document":  s.store.Ref().String(),
				"backend":   cfg.Backend,
				"auto-sync": strconv.FormatBool(s.AutoSync()),
				"cache":     cache,
				"cache db":  persisted,
			}))
			return nil
		})
	},
}

func printReport(w io.Writer, report roaming.SyncReport) {
	mark := ui.RenderPass("✓")
	if report.RemoteUnavailable {
		mark = ui.RenderWarn("!")
	}
	fmt.Fprintf(w, "%s Sync: %s %s\n", mark, report, ui.RenderMuted("("+report.Duration.Round(time.Millisecond).String()+")"))
	for _, key := range report.Pushed {
		fmt.Fprintf(w, "  pushed %s\n", ui.RenderKey(key))
	}
	for _, key := range report.Pulled {
		fmt.Fprintf(w, "  pulled %s\n", ui.RenderKey(key))
	}
}

// readInput reads name, or stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func init() {
	createCmd.Flags().Bool("remote", false, "also create an empty remote document")

	rootCmd.AddCommand(syncCmd, createCmd, deleteCmd, importCmd, statusCmd)
}
