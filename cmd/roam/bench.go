package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/roam/internal/loadtest"
	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Measure store latency under concurrent clients",
	Long: `Run a mixed read, write and sync workload against the configured backend.

The benchmark uses a throwaway user folder and no cache database, so real
settings are not touched. The folder's document is deleted afterwards.

Examples:
  roam bench
  roam bench --backend sqlite --clients 50 --ops 200
  roam bench --auto-sync --sync-every 0 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := loadtest.DefaultWorkload()
		w.Clients, _ = cmd.Flags().GetInt("clients")
		w.OpsPerClient, _ = cmd.Flags().GetInt("ops")
		w.Keys, _ = cmd.Flags().GetInt("keys")
		w.WriteRatio, _ = cmd.Flags().GetFloat64("write-ratio")
		w.SyncEvery, _ = cmd.Flags().GetInt("sync-every")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if w.Clients <= 0 || w.OpsPerClient <= 0 || w.Keys <= 0 {
			return fmt.Errorf("--clients, --ops and --keys must be positive")
		}
		if w.WriteRatio < 0 || w.WriteRatio > 1 {
			return fmt.Errorf("--write-ratio must be between 0.0 and 1.0")
		}

		benchCfg := *cfg
		benchCfg.User = "bench-" + uuid.NewString()
		benchCfg.Cache.DB = ""

		ctx := cmd.Context()
		return withSessionConfig(ctx, &benchCfg, func(s *session) error {
			defer func() {
				s.Flush()
				if s.transport == nil {
					return
				}
				if err := s.transport.Delete(ctx, s.store.Ref()); err != nil && !remote.IsNotFound(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s failed to remove %s: %v\n", ui.RenderWarn("!"), s.store.Ref(), err)
				}
			}()

			store := roaming.NewGuarded(s.store)
			if err := loadtest.Seed(ctx, store, w.Keys); err != nil {
				return err
			}

			if !jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d clients x %d ops on %d keys (%s backend, write ratio %.2f, sync every %d)\n",
					ui.RenderAccent("Benchmark:"), w.Clients, w.OpsPerClient, w.Keys, benchCfg.Backend, w.WriteRatio, w.SyncEvery)
			}

			result, err := loadtest.Run(ctx, store, w)
			if err != nil {
				return err
			}
			if err := loadtest.Verify(store, w.Keys); err != nil {
				return err
			}

			if jsonOutput {
				return outputBenchJSON(cmd, benchCfg.Backend, w, result)
			}
			result.Print(cmd.OutOrStdout())
			if result.Errors > 0 {
				return fmt.Errorf("%d operations failed: %w", result.Errors, result.Err)
			}
			return nil
		})
	},
}

type benchStats struct {
	Count  int   `json:"count"`
	MinNs  int64 `json:"min_ns"`
	P50Ns  int64 `json:"p50_ns"`
	MeanNs int64 `json:"mean_ns"`
	P95Ns  int64 `json:"p95_ns"`
	P99Ns  int64 `json:"p99_ns"`
	MaxNs  int64 `json:"max_ns"`
}

func toBenchStats(s *loadtest.LatencyStats) benchStats {
	return benchStats{
		Count:  s.Count,
		MinNs:  s.Min.Nanoseconds(),
		P50Ns:  s.P50.Nanoseconds(),
		MeanNs: s.Mean.Nanoseconds(),
		P95Ns:  s.P95.Nanoseconds(),
		P99Ns:  s.P99.Nanoseconds(),
		MaxNs:  s.Max.Nanoseconds(),
	}
}

func outputBenchJSON(cmd *cobra.Command, backend string, w loadtest.Workload, result *loadtest.Result) error {
	out := map[string]any{
		"backend":    backend,
		"workload":   w,
		"elapsed_ns": result.Elapsed.Nanoseconds(),
		"ops":        result.Ops(),
		"ops_per_s":  result.Throughput(),
		"errors":     result.Errors,
		"read":       toBenchStats(result.Reads),
		"write":      toBenchStats(result.Writes),
		"sync":       toBenchStats(result.Syncs),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	defaults := loadtest.DefaultWorkload()
	benchCmd.Flags().Int("clients", defaults.Clients, "number of concurrent clients")
	benchCmd.Flags().Int("ops", defaults.OpsPerClient, "operations per client")
	benchCmd.Flags().Int("keys", defaults.Keys, "number of distinct settings")
	benchCmd.Flags().Float64("write-ratio", defaults.WriteRatio, "fraction of operations that write (0.0-1.0)")
	benchCmd.Flags().Int("sync-every", defaults.SyncEvery, "make every Nth operation a sync (0 disables)")
	benchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(benchCmd)
}
