package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/roaming"
	"go.uber.org/zap"
)

// Syncer runs one reconciliation. *roaming.Guarded implements it.
type Syncer interface {
	Sync(ctx context.Context) (roaming.SyncReport, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to Sync regardless of file events.
	// Zero disables periodic syncs.
	SyncInterval time.Duration

	// DebounceInterval is how long the watched file must stay quiet
	// before a change triggers a Sync. This batches rapid writes together.
	DebounceInterval time.Duration

	// WatchPath is the settings document to watch. Empty disables watching.
	WatchPath string

	// Logger for daemon activity
	Logger *zap.Logger

	// OnSync, if set, is called after every Sync with its outcome.
	OnSync func(report roaming.SyncReport, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
	}
}

// Daemon runs periodic and change-triggered syncs.
type Daemon struct {
	syncer Syncer
	config *Config
	logger *zap.Logger

	watcher *FileWatcher

	// Debounce state: time of the latest unprocessed file event.
	changeMu    sync.Mutex
	lastChange  time.Time
	pendingSync bool

	syncs atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon with the default configuration.
//
// Use Start() to begin syncing.
func New(syncer Syncer) (*Daemon, error) {
	return NewWithConfig(syncer, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	d := &Daemon{
		syncer: syncer,
		config: config,
		logger: logging.OrNop(config.Logger).Named("daemon"),
	}

	if config.WatchPath != "" {
		watcher, err := NewFileWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = watcher
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Perform an initial Sync
//  2. Start watching the settings document, if configured
//  3. Sync periodically
//  4. Sync after the watched document has been quiet for DebounceInterval
//
// Sync failures are logged and reported through OnSync; they never stop the
// daemon. This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon",
		zap.Duration("sync_interval", d.config.SyncInterval),
		zap.String("watch", d.config.WatchPath))

	// Perform initial sync
	_ = d.SyncNow(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.WatchPath); err != nil {
			_ = d.Stop()
			return fmt.Errorf("failed to watch settings: %w", err)
		}
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")

		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.logger.Warn("error closing watcher", zap.Error(err))
			}
		}

		d.wg.Wait()
		d.logger.Info("daemon stopped", zap.Int64("syncs", d.syncs.Load()))
	})
	return nil
}

// SyncNow runs one Sync immediately and reports it through OnSync.
func (d *Daemon) SyncNow(ctx context.Context) error {
	report, err := d.syncer.Sync(ctx)
	d.syncs.Add(1)

	if err != nil {
		d.logger.Warn("sync failed", zap.Error(err))
	} else {
		d.logger.Debug("sync complete", zap.Stringer("report", report))
	}

	if d.config.OnSync != nil {
		d.config.OnSync(report, err)
	}
	return err
}

// SyncCount returns the number of syncs run so far.
func (d *Daemon) SyncCount() int64 {
	return d.syncs.Load()
}

// watchFileEvents records watcher events for the debounce loop.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.logger.Debug("file event", zap.Stringer("op", event.Op), zap.String("path", event.Path))
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// queueChange marks the document dirty and restarts the quiet period.
func (d *Daemon) queueChange() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	d.lastChange = time.Now()
	d.pendingSync = true
}

// processChangeQueue syncs once the watched document has been quiet long enough.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.takePending() {
				_ = d.SyncNow(d.ctx)
			}
		}
	}
}

// takePending reports whether a debounced change is ready and clears it.
func (d *Daemon) takePending() bool {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	if !d.pendingSync || time.Since(d.lastChange) < d.config.DebounceInterval {
		return false
	}
	d.pendingSync = false
	return true
}

// periodicSync runs Sync every SyncInterval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			_ = d.SyncNow(d.ctx)
		}
	}
}
