package roaming

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/settings"
	"go.uber.org/zap"
)

// LocalStore keeps settings on this device only, the way a platform settings
// container would. The cache is mirrored into a Persister after each write,
// and Sync merges the persisted document (which another process may have
// changed) local-wins, exactly like DriveStore does with a remote.
//
// File operations go to an optional transport, typically an FSDrive; without
// one, files never exist and reads and writes return remote.ErrUnsupported.
type LocalStore struct {
	*settings.Cache

	ref       remote.Ref
	persister Persister
	files     remote.Transport
	logger    *zap.Logger

	last SyncReport
}

// NewLocal creates a device-local store. persister and files may be nil.
// AutoSync and OnPushError in cfg are ignored.
func NewLocal(ctx context.Context, persister Persister, files remote.Transport, cfg Config) (*LocalStore, error) {
	ref, err := configRef(cfg)
	if err != nil {
		return nil, err
	}

	s := &LocalStore{
		Cache:     settings.NewCache(cfg.Serializer),
		ref:       ref,
		persister: persister,
		files:     files,
		logger:    logging.OrNop(cfg.Logger).With(zap.String("ref", ref.String())),
	}

	if err := loadPersisted(ctx, s.Cache, persister, ref); err != nil {
		return nil, err
	}
	return s, nil
}

// Ref returns the address the cache is persisted under.
func (s *LocalStore) Ref() remote.Ref {
	return s.ref
}

// Put stores v at key and persists the cache.
func (s *LocalStore) Put(key string, v settings.Value) {
	s.Cache.Put(key, v)
	s.persist(context.Background())
}

// PutComposite upserts entries into a composite and persists the cache.
func (s *LocalStore) PutComposite(compositeKey string, entries map[string]string) {
	s.Cache.PutComposite(compositeKey, entries)
	s.persist(context.Background())
}

// Remove deletes key and persists the cache.
func (s *LocalStore) Remove(key string) bool {
	if !s.Cache.Remove(key) {
		return false
	}
	s.persist(context.Background())
	return true
}

// RemoveSub deletes a composite entry and persists the cache.
func (s *LocalStore) RemoveSub(compositeKey, key string) bool {
	if !s.Cache.RemoveSub(compositeKey, key) {
		return false
	}
	s.persist(context.Background())
	return true
}

// Create materializes an empty cache.
func (s *LocalStore) Create(ctx context.Context) error {
	s.Cache.Init()
	return savePersisted(ctx, s.Cache, s.persister, s.ref)
}

// Delete clears the cache and the persisted document.
func (s *LocalStore) Delete(ctx context.Context) error {
	s.Cache.Reset()
	if err := savePersisted(ctx, s.Cache, s.persister, s.ref); err != nil {
		return fmt.Errorf("failed to clear persisted cache: %w", err)
	}
	return nil
}

// Sync merges the persisted document into the cache, local-wins, then writes
// the merged cache back. Without a persister it does nothing.
func (s *LocalStore) Sync(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	start := time.Now()

	report := SyncReport{}
	doc, ok, err := s.persister.Load(ctx, s.ref)
	if err != nil {
		return fmt.Errorf("failed to sync %s: %w", s.ref, err)
	}

	stored := map[string]settings.Value{}
	if ok {
		if stored, err = settings.DecodeDocument(doc); err != nil {
			return fmt.Errorf("failed to sync %s: %w", s.ref, err)
		}
	} else {
		report.RemoteMissing = true
	}

	if s.Cache.Materialized() {
		report.Pushed = divergentKeys(s.Cache, stored)
	}
	report.Pulled = pullMissing(s.Cache, stored)

	if len(report.Pushed) > 0 || len(report.Pulled) > 0 {
		if err := savePersisted(ctx, s.Cache, s.persister, s.ref); err != nil {
			return fmt.Errorf("failed to sync %s: %w", s.ref, err)
		}
	}

	report.Duration = time.Since(start)
	s.last = report
	return nil
}

// LastReport returns the report of the most recent Sync.
func (s *LocalStore) LastReport() SyncReport {
	return s.last
}

// FileExists reports whether path exists in the local file area.
func (s *LocalStore) FileExists(ctx context.Context, path string) bool {
	if s.files == nil {
		return false
	}
	_, err := s.files.Retrieve(ctx, remote.NewRef(s.ref.UserID, path))
	return err == nil
}

// RetrieveFile reads path from the local file area.
func (s *LocalStore) RetrieveFile(ctx context.Context, path string) ([]byte, error) {
	if s.files == nil {
		return nil, fmt.Errorf("local store has no file area: %w", remote.ErrUnsupported)
	}
	return s.files.Retrieve(ctx, remote.NewRef(s.ref.UserID, path))
}

// UpdateFile writes path in the local file area.
func (s *LocalStore) UpdateFile(ctx context.Context, path string, content []byte) (*remote.Item, error) {
	if s.files == nil {
		return nil, fmt.Errorf("local store has no file area: %w", remote.ErrUnsupported)
	}
	return s.files.Update(ctx, remote.NewRef(s.ref.UserID, path), content)
}

func (s *LocalStore) persist(ctx context.Context) {
	if err := savePersisted(ctx, s.Cache, s.persister, s.ref); err != nil {
		s.logger.Warn("failed to persist cache", zap.Error(err))
	}
}
