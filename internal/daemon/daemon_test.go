package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/roaming"
)

// countingSyncer records Sync calls.
type countingSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSyncer) Sync(ctx context.Context) (roaming.SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return roaming.SyncReport{Pushed: []string{"k"}}, s.err
}

func (s *countingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// runDaemon starts d in the background and returns a function that stops it.
func runDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	return func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		syncer  Syncer
		config  *Config
		wantErr bool
	}{
		{name: "nil syncer", syncer: nil, wantErr: true},
		{name: "default config", syncer: &countingSyncer{}},
		{name: "watching", syncer: &countingSyncer{}, config: &Config{WatchPath: "x.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.syncer, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				if err := d.Stop(); err != nil {
					t.Errorf("Stop() failed: %v", err)
				}
			}
		})
	}
}

func TestDaemon_InitialAndPeriodicSync(t *testing.T) {
	syncer := &countingSyncer{}

	var mu sync.Mutex
	var reports []roaming.SyncReport
	config := &Config{
		SyncInterval:     20 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
		OnSync: func(report roaming.SyncReport, err error) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, report)
		},
	}

	d, err := NewWithConfig(syncer, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	stop := runDaemon(t, d)

	if !waitFor(t, 2*time.Second, func() bool { return syncer.count() >= 3 }) {
		t.Errorf("expected at least 3 syncs, got %d", syncer.count())
	}
	stop()

	if d.SyncCount() < 3 {
		t.Errorf("SyncCount() = %d, want >= 3", d.SyncCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 || len(reports[0].Pushed) != 1 {
		t.Errorf("OnSync did not receive reports: %+v", reports)
	}
}

func TestDaemon_SyncErrorsDoNotStop(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("remote down")}

	var mu sync.Mutex
	var failures int
	config := &Config{
		SyncInterval:     10 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
		OnSync: func(_ roaming.SyncReport, err error) {
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		},
	}

	d, err := NewWithConfig(syncer, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures >= 2
	}) {
		t.Error("daemon stopped syncing after a failure")
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, err := New(&countingSyncer{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("first Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

// TestDaemon_WatchTriggersSync writes the settings document behind the
// store's back and expects the daemon to pull the new key.
func TestDaemon_WatchTriggersSync(t *testing.T) {
	drive, err := remote.NewFSDrive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSDrive() failed: %v", err)
	}

	cfg := roaming.DefaultConfig()
	cfg.UserID = "user-1"
	store, err := roaming.New(drive, cfg)
	if err != nil {
		t.Fatalf("roaming.New() failed: %v", err)
	}
	guarded := roaming.NewGuarded(store)

	config := &Config{
		DebounceInterval: 20 * time.Millisecond,
		WatchPath:        drive.PathFor(store.Ref()),
	}
	d, err := NewWithConfig(guarded, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	// Wait for the initial sync so the watcher is in place
	if !waitFor(t, 2*time.Second, func() bool { return d.SyncCount() >= 1 }) {
		t.Fatal("initial sync did not run")
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(config.WatchPath, []byte(`{"theme":"dark"}`), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	pulled := waitFor(t, 3*time.Second, func() bool {
		var ok bool
		_ = guarded.Do(func(s roaming.RoamingStore) error {
			ok = roaming.Read(s, "theme", "") == "dark"
			return nil
		})
		return ok
	})
	if !pulled {
		t.Error("daemon did not sync after the settings file changed")
	}
}
