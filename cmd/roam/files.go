package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/roam/internal/ui"
)

var fileCmd = &cobra.Command{
	Use:     "file",
	GroupID: "advanced",
	Short:   "Read and write raw files next to the settings document",
	Long: `Files live in the same remote folder as the settings document but are
not part of it. They are read and written directly on the drive and never
cached.`,
}

var fileExistsCmd = &cobra.Command{
	Use:   "exists PATH",
	Short: "Report whether a file exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			fmt.Fprintln(cmd.OutOrStdout(), s.store.FileExists(cmd.Context(), args[0]))
			return nil
		})
	},
}

var fileGetCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Print a file's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			content, err := s.store.RetrieveFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		})
	},
}

var filePutCmd = &cobra.Command{
	Use:   "put PATH [CONTENT]",
	Short: "Write a file",
	Long: `Write CONTENT to PATH, replacing the file. Without CONTENT the file is
read from --from (a path, or - for stdin).

Examples:
  roam file put notes.txt "remember the milk"
  roam file put profile.json --from ./profile.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")

		var content []byte
		switch {
		case len(args) == 2 && from != "":
			return fmt.Errorf("give CONTENT or --from, not both")
		case len(args) == 2:
			content = []byte(args[1])
		case from != "":
			data, err := readInput(cmd, from)
			if err != nil {
				return err
			}
			content = data
		default:
			return fmt.Errorf("missing CONTENT or --from")
		}

		return withSession(cmd.Context(), func(s *session) error {
			item, err := s.store.UpdateFile(cmd.Context(), args[0], content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s (%d bytes, etag %s)\n",
				ui.RenderPass("✓"), ui.RenderKey(item.Name), item.Size, ui.RenderMuted(item.ETag))
			return nil
		})
	},
}

func init() {
	filePutCmd.Flags().String("from", "", "read content from a file, or - for stdin")

	fileCmd.AddCommand(fileExistsCmd, fileGetCmd, filePutCmd)
	rootCmd.AddCommand(fileCmd)
}
