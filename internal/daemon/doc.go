// Package daemon keeps a roaming store reconciled in the background.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - FileWatcher: fsnotify monitoring of one settings document on disk
//   - Daemon: periodic Sync, plus a debounced Sync whenever the watched
//     document changes
//
// The watched path is the file an FSDrive keeps for the store
// (see remote.FSDrive.PathFor). Another process writing that file, or a
// file-sync tool replacing it, triggers a Sync shortly after the last event.
// A Sync that finds nothing to push does not write the file, so the daemon's
// own pushes settle after one extra round instead of looping.
//
// # Usage
//
//	guarded := roaming.NewGuarded(store)
//
//	cfg := daemon.DefaultConfig()
//	cfg.WatchPath = drive.PathFor(store.Ref())
//	cfg.Logger = logger
//
//	d, err := daemon.NewWithConfig(guarded, cfg)
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// # Thread Safety
//
// The daemon calls Sync from its own goroutines. The Syncer it is given must
// serialize access to the store; roaming.Guarded does.
package daemon
