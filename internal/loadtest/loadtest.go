// Package loadtest measures a settings store under concurrent clients.
//
// Clients share one roaming.Guarded store, the way the dashboard and daemon
// share it, and mix reads, writes and syncs. Latencies are recorded per
// operation kind.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/roam/internal/roaming"
)

// Workload describes what each client does.
type Workload struct {
	// Clients is the number of concurrent clients.
	Clients int

	// OpsPerClient is the number of operations each client performs.
	OpsPerClient int

	// Keys is the number of distinct settings touched.
	Keys int

	// WriteRatio is the fraction of non-sync operations that are writes.
	WriteRatio float64

	// SyncEvery makes every Nth operation of a client a Sync. Zero disables
	// syncs.
	SyncEvery int
}

// DefaultWorkload returns a read-heavy workload with occasional syncs.
func DefaultWorkload() Workload {
	return Workload{
		Clients:      20,
		OpsPerClient: 100,
		Keys:         50,
		WriteRatio:   0.2,
		SyncEvery:    25,
	}
}

// LatencyStats captures the latency distribution of one operation kind.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Count     int
	Durations []time.Duration
}

// Result is the outcome of Run.
type Result struct {
	Reads   *LatencyStats
	Writes  *LatencyStats
	Syncs   *LatencyStats
	Elapsed time.Duration

	// Errors counts failed operations; Err joins them.
	Errors int
	Err    error
}

// Ops returns the number of operations that completed.
func (r *Result) Ops() int {
	return r.Reads.Count + r.Writes.Count + r.Syncs.Count
}

// Throughput returns completed operations per second.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops()) / r.Elapsed.Seconds()
}

// KeyName returns the setting name of the i-th workload key.
func KeyName(i int) string {
	return fmt.Sprintf("key-%04d", i)
}

// Seed materializes the store and writes keys settings, each holding its index.
func Seed(ctx context.Context, store *roaming.Guarded, keys int) error {
	return store.Do(func(s roaming.RoamingStore) error {
		if err := s.Create(ctx); err != nil {
			return err
		}
		for i := 0; i < keys; i++ {
			if err := roaming.Save(s, KeyName(i), i); err != nil {
				return fmt.Errorf("failed to seed %s: %w", KeyName(i), err)
			}
		}
		return nil
	})
}

// clientResult is what one client reports back.
type clientResult struct {
	reads, writes, syncs []time.Duration
	errs                 []error
}

// Run executes w against store. The store should be seeded first so reads
// find their keys.
func Run(ctx context.Context, store *roaming.Guarded, w Workload) (*Result, error) {
	if w.Clients <= 0 || w.OpsPerClient <= 0 || w.Keys <= 0 {
		return nil, fmt.Errorf("workload needs clients, ops and keys (got %d, %d, %d)", w.Clients, w.OpsPerClient, w.Keys)
	}

	var wg sync.WaitGroup
	results := make(chan clientResult, w.Clients)

	start := time.Now()
	for i := 0; i < w.Clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			results <- runClient(ctx, store, w, clientID)
		}(i)
	}

	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	var reads, writes, syncs []time.Duration
	var errs []error
	for r := range results {
		reads = append(reads, r.reads...)
		writes = append(writes, r.writes...)
		syncs = append(syncs, r.syncs...)
		errs = append(errs, r.errs...)
	}

	return &Result{
		Reads:   computeLatencyStats(reads),
		Writes:  computeLatencyStats(writes),
		Syncs:   computeLatencyStats(syncs),
		Elapsed: elapsed,
		Errors:  len(errs),
		Err:     errors.Join(errs...),
	}, nil
}

func runClient(ctx context.Context, store *roaming.Guarded, w Workload, clientID int) clientResult {
	var r clientResult

	// Deterministic per client for reproducibility
	rng := rand.New(rand.NewSource(int64(42 + clientID)))

	for j := 0; j < w.OpsPerClient; j++ {
		if ctx.Err() != nil {
			r.errs = append(r.errs, ctx.Err())
			return r
		}

		key := KeyName(rng.Intn(w.Keys))
		start := time.Now()

		switch {
		case w.SyncEvery > 0 && j%w.SyncEvery == w.SyncEvery-1:
			_, err := store.Sync(ctx)
			r.syncs = append(r.syncs, time.Since(start))
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("client %d sync %d failed: %w", clientID, j, err))
			}

		case rng.Float64() < w.WriteRatio:
			value := clientID*w.OpsPerClient + j
			err := store.Do(func(s roaming.RoamingStore) error {
				return roaming.Save(s, key, value)
			})
			r.writes = append(r.writes, time.Since(start))
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("client %d write %s failed: %w", clientID, key, err))
			}

		default:
			var value int
			_ = store.Do(func(s roaming.RoamingStore) error {
				value = roaming.Read(s, key, -1)
				return nil
			})
			r.reads = append(r.reads, time.Since(start))
			if value < 0 {
				r.errs = append(r.errs, fmt.Errorf("client %d read %s: missing or not an int", clientID, key))
			}
		}
	}
	return r
}

// Verify checks that every workload key still holds an int. Values written by
// clients are never negative, so a negative read means corruption.
func Verify(store *roaming.Guarded, keys int) error {
	return store.Do(func(s roaming.RoamingStore) error {
		for i := 0; i < keys; i++ {
			if v := roaming.Read(s, KeyName(i), -1); v < 0 {
				return fmt.Errorf("%s is missing or corrupt", KeyName(i))
			}
		}
		return nil
	})
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Count:     len(durations),
		Durations: sorted,
	}
}

// Print writes a latency table for each operation kind.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Completed %d operations in %v (%.0f ops/s, %d errors)\n",
		r.Ops(), r.Elapsed.Round(time.Millisecond), r.Throughput(), r.Errors)
	fmt.Fprintf(w, "  %-6s %8s %10s %10s %10s %10s %10s\n", "op", "count", "min", "p50", "mean", "p99", "max")
	for _, row := range []struct {
		name  string
		stats *LatencyStats
	}{
		{"read", r.Reads},
		{"write", r.Writes},
		{"sync", r.Syncs},
	} {
		s := row.stats
		if s.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-6s %8d %10v %10v %10v %10v %10v\n",
			row.name, s.Count, s.Min, s.P50, s.Mean, s.P99, s.Max)
	}
}
