package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/roam/internal/config"
	"github.com/steveyegge/roam/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "advanced",
	Short:   "Write a config file",
	Long: `Write the current configuration (defaults plus any flags and ROAM_*
variables) to a config file, .roam/roam.toml unless --output says otherwise.
The format follows the extension: .toml, .yaml or .json.

Example:
  roam init --user alice --backend sqlite --output ~/.config/roam/roam.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(output); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", output)
		}

		if err := config.Write(output, cfg); err != nil {
			return err
		}

		abs, err := filepath.Abs(output)
		if err != nil {
			abs = output
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), abs)
		return nil
	},
}

func init() {
	initCmd.Flags().StringP("output", "o", filepath.Join(".roam", "roam.toml"), "config file to write")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	rootCmd.AddCommand(initCmd)
}
