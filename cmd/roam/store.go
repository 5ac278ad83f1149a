package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/roam/internal/cachedb"
	"github.com/steveyegge/roam/internal/config"
	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/serializer"
)

// store is what the commands use from either store variant.
type store interface {
	roaming.RoamingStore
	roaming.Reporter
	Ref() remote.Ref
	Materialized() bool
	Len() int
}

// session is an open store plus the resources behind it.
type session struct {
	store store

	// drive and transport are set for the remote backends; the local
	// backend has neither.
	drive     *roaming.DriveStore
	transport remote.Transport

	// fsDrive is set for the fs backend so the daemon can watch its files,
	// and holds the files of the local backend.
	fsDrive *remote.FSDrive

	closers []func() error
}

// openSession builds the drive, cache and store described by cfg.
func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	s := &session{}

	ser, err := serializer.ByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	storeCfg := roaming.DefaultConfig()
	storeCfg.UserID = cfg.User
	storeCfg.FileName = cfg.File
	storeCfg.Serializer = ser
	storeCfg.AutoSync = cfg.AutoSync
	storeCfg.Logger = logger.Named("store")

	if cfg.Cache.DB != "" {
		db, err := cachedb.Open(cfg.Cache.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		storeCfg.Persister = db
	}

	if cfg.Backend == config.BackendLocal {
		files, err := remote.NewFSDrive(cfg.Drive.Root)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.fsDrive = files

		local, err := roaming.NewLocal(ctx, storeCfg.Persister, files, storeCfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.store = local
		return s, nil
	}

	transport, err := s.openTransport(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.transport = transport

	s.drive, err = roaming.NewContext(ctx, transport, storeCfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.store = s.drive
	return s, nil
}

func (s *session) openTransport(cfg *config.Config) (remote.Transport, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return remote.NewMemoryDrive(), nil
	case config.BackendFS:
		drive, err := remote.NewFSDrive(cfg.Drive.Root)
		if err != nil {
			return nil, err
		}
		s.fsDrive = drive
		return drive, nil
	case config.BackendSQLite:
		drive, err := remote.OpenSQLDrive(cfg.Drive.DB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, drive.Close)
		return drive, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// WatchPath returns the file holding the remote document, or "" when the
// backend has no such file.
func (s *session) WatchPath() string {
	if s.drive == nil || s.fsDrive == nil {
		return ""
	}
	return s.fsDrive.PathFor(s.store.Ref())
}

// AutoSync reports whether writes push to a remote.
func (s *session) AutoSync() bool {
	return s.drive != nil && s.drive.AutoSync()
}

// Flush waits for pending auto-sync pushes.
func (s *session) Flush() {
	if s.drive != nil {
		s.drive.Flush()
	}
}

// Close waits for pending pushes and releases databases.
func (s *session) Close() error {
	s.Flush()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// withSession opens a session on the global configuration for the duration
// of fn.
func withSession(ctx context.Context, fn func(*session) error) error {
	return withSessionConfig(ctx, cfg, fn)
}

func withSessionConfig(ctx context.Context, cfg *config.Config, fn func(*session) error) (err error) {
	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}
