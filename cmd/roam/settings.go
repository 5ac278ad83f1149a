package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/settings"
	"github.com/steveyegge/roam/internal/ui"
)

var getCmd = &cobra.Command{
	Use:     "get KEY",
	GroupID: "settings",
	Short:   "Print a setting",
	Long: `Print the value stored at KEY.

Strings and serialized values are printed as-is, composites as a JSON
object. Use --json for the wire form of any value.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		def, _ := cmd.Flags().GetString("default")
		hasDefault := cmd.Flags().Changed("default")

		return withSession(cmd.Context(), func(s *session) error {
			value, ok := s.store.Lookup(args[0])
			if !ok {
				if hasDefault {
					fmt.Fprintln(cmd.OutOrStdout(), def)
					return nil
				}
				return fmt.Errorf("key %q not found", args[0])
			}

			text, err := formatValue(value, asJSON)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:     "set KEY VALUE",
	GroupID: "settings",
	Short:   "Store a setting",
	Long: `Store VALUE at KEY, replacing whatever was there.

VALUE is read as JSON when it parses: numbers and booleans are stored as
primitives, objects and arrays as serialized text. Anything else is stored
as a plain string. --string skips the JSON interpretation.

Examples:
  roam set theme dark
  roam set width 800
  roam set layout '{"columns": 2}'
  roam set version --string 1.0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asString, _ := cmd.Flags().GetBool("string")
		key := args[0]
		value := parseValue(args[1], asString)

		return withSession(cmd.Context(), func(s *session) error {
			s.store.Put(key, value)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Set %s (%s)\n", ui.RenderPass("✓"), ui.RenderKey(key), value.Kind())
			return nil
		})
	},
}

var unsetCmd = &cobra.Command{
	Use:     "unset KEY",
	GroupID: "settings",
	Short:   "Remove a setting",
	Long: `Remove KEY from the local cache.

With auto-sync the document is pushed without the key. Otherwise the next
sync pulls the key back if the remote still holds it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			if !s.store.Remove(args[0]) {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", ui.RenderPass("✓"), ui.RenderKey(args[0]))
			return nil
		})
	},
}

var existsCmd = &cobra.Command{
	Use:     "exists KEY",
	GroupID: "settings",
	Short:   "Report whether a setting exists",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			fmt.Fprintln(cmd.OutOrStdout(), s.store.KeyExists(args[0]))
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "settings",
	Short:   "List all settings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			snapshot := s.store.Snapshot()
			if snapshot == nil {
				fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No settings cached. Run 'roam sync' or 'roam create'."))
				return nil
			}

			rows := make(map[string]string, len(snapshot))
			for key, value := range snapshot {
				text, err := formatValue(value, true)
				if err != nil {
					return err
				}
				rows[key] = text
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table(rows))
			return nil
		})
	},
}

var compositeCmd = &cobra.Command{
	Use:     "composite",
	GroupID: "settings",
	Short:   "Read and write composite settings",
	Long: `A composite groups related sub-settings under one key. Writes merge into
the existing composite: given sub-keys are replaced, others are kept.`,
}

var compositeSetCmd = &cobra.Command{
	Use:   "set KEY SUB=VALUE...",
	Short: "Upsert sub-settings of a composite",
	Long: `Upsert each SUB=VALUE pair into the composite at KEY.

VALUE is read as JSON when it parses and as a plain string otherwise. Each
value is stored as serializer text.

Example:
  roam composite set editor tab=4 font=mono wrap=true`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		entries := make(map[string]any, len(args)-1)
		for _, pair := range args[1:] {
			sub, raw, ok := strings.Cut(pair, "=")
			if !ok || sub == "" {
				return fmt.Errorf("expected SUB=VALUE, got %q", pair)
			}
			entries[sub] = parseAny(raw)
		}

		return withSession(cmd.Context(), func(s *session) error {
			if err := roaming.SaveComposite(s.store, key, entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s (%d sub-keys)\n", ui.RenderPass("✓"), ui.RenderKey(key), len(entries))
			return nil
		})
	},
}

var compositeGetCmd = &cobra.Command{
	Use:   "get KEY [SUB]",
	Short: "Print a composite or one of its sub-settings",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			if len(args) == 2 {
				text, ok := s.store.LookupSub(args[0], args[1])
				if !ok {
					return fmt.Errorf("sub-key %q not found in %q", args[1], args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}

			value, ok := s.store.Lookup(args[0])
			if !ok || value.Kind() != settings.KindComposite {
				return fmt.Errorf("composite %q not found", args[0])
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table(value.Composite().Entries()))
			return nil
		})
	},
}

var compositeExistsCmd = &cobra.Command{
	Use:   "exists KEY SUB",
	Short: "Report whether a sub-setting exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			fmt.Fprintln(cmd.OutOrStdout(), s.store.SubKeyExists(args[0], args[1]))
			return nil
		})
	},
}

var compositeUnsetCmd = &cobra.Command{
	Use:   "unset KEY SUB",
	Short: "Remove a sub-setting from a composite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session) error {
			if !s.store.RemoveSub(args[0], args[1]) {
				return fmt.Errorf("sub-key %q not found in %q", args[1], args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s/%s\n", ui.RenderPass("✓"), ui.RenderKey(args[0]), args[1])
			return nil
		})
	},
}

// parseValue interprets command-line text as a setting value.
func parseValue(text string, asString bool) settings.Value {
	if !asString {
		if v, err := settings.ParseJSON([]byte(text)); err == nil {
			return v
		}
	}
	return settings.Primitive(text)
}

// parseAny decodes text as JSON, falling back to the text itself.
func parseAny(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil && v != nil {
		return v
	}
	return text
}

// formatValue renders a value for the terminal. Raw form prints strings
// without quotes; asJSON prints the wire form.
func formatValue(v settings.Value, asJSON bool) (string, error) {
	if asJSON {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode value: %w", err)
		}
		return string(data), nil
	}

	switch v.Kind() {
	case settings.KindPrimitive:
		return fmt.Sprint(v.Raw()), nil
	case settings.KindSerialized:
		return v.Text(), nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode value: %w", err)
		}
		return string(data), nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	getCmd.Flags().Bool("json", false, "print the wire form as JSON")
	getCmd.Flags().String("default", "", "print this instead of failing when KEY is missing")
	setCmd.Flags().Bool("string", false, "store VALUE as a plain string")

	compositeCmd.AddCommand(compositeSetCmd, compositeGetCmd, compositeExistsCmd, compositeUnsetCmd)
	rootCmd.AddCommand(getCmd, setCmd, unsetCmd, existsCmd, listCmd, compositeCmd)
}
