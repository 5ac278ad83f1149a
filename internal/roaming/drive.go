package roaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/serializer"
	"github.com/steveyegge/roam/internal/settings"
	"go.uber.org/zap"
)

// Config configures a store.
type Config struct {
	// UserID identifies the owner of the remote application folder.
	UserID string

	// FileName is the settings document inside the folder.
	// Defaults to DefaultFileName.
	FileName string

	// Serializer encodes structured values. Defaults to JSON.
	Serializer serializer.Serializer

	// AutoSync pushes the whole document after every write and deletes the
	// remote document on Delete.
	AutoSync bool

	// Logger receives store diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Persister, when set, keeps the cache across restarts.
	Persister Persister

	// OnPushError is called from the push goroutine when an auto-sync push
	// fails. Defaults to logging the error.
	OnPushError func(key string, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FileName:   DefaultFileName,
		Serializer: serializer.Default(),
	}
}

// DriveStore is a RoamingStore backed by a remote transport.
//
// Reads and writes go to the embedded cache. Sync reconciles the cache with
// the remote document; with AutoSync every write also uploads a snapshot of
// the document in the background.
type DriveStore struct {
	*settings.Cache

	transport   remote.Transport
	ref         remote.Ref
	autoSync    bool
	logger      *zap.Logger
	persister   Persister
	onPushError func(key string, err error)

	// Auto-sync pushes. seq numbers snapshots in write order; pushed is the
	// newest sequence sent to the remote, so a late goroutine carrying an
	// older snapshot drops it instead of overwriting newer content.
	pushes sync.WaitGroup
	pushMu sync.Mutex
	seq    atomic.Uint64
	pushed uint64

	last SyncReport
}

// New creates a store for cfg.UserID/cfg.FileName on transport.
// When a persister is configured the cached document is loaded from it.
//
// Example:
//
//	store, err := roaming.New(drive, roaming.Config{UserID: "u1", AutoSync: true})
//	if err != nil {
//	    return err
//	}
//	defer store.Flush()
func New(transport remote.Transport, cfg Config) (*DriveStore, error) {
	return NewContext(context.Background(), transport, cfg)
}

// NewContext is New with a context for the persister load.
func NewContext(ctx context.Context, transport remote.Transport, cfg Config) (*DriveStore, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	ref, err := configRef(cfg)
	if err != nil {
		return nil, err
	}

	s := &DriveStore{
		Cache:       settings.NewCache(cfg.Serializer),
		transport:   transport,
		ref:         ref,
		autoSync:    cfg.AutoSync,
		logger:      logging.OrNop(cfg.Logger).With(zap.String("ref", ref.String())),
		persister:   cfg.Persister,
		onPushError: cfg.OnPushError,
	}
	if s.onPushError == nil {
		s.onPushError = func(key string, err error) {
			s.logger.Warn("auto-sync push failed", zap.String("key", key), zap.Error(err))
		}
	}

	if err := loadPersisted(ctx, s.Cache, s.persister, ref); err != nil {
		return nil, err
	}

	return s, nil
}

// Ref returns the remote settings document address.
func (s *DriveStore) Ref() remote.Ref {
	return s.ref
}

// AutoSync reports whether writes push to the remote.
func (s *DriveStore) AutoSync() bool {
	return s.autoSync
}

// Put stores v at key and, with auto-sync, starts a background push.
func (s *DriveStore) Put(key string, v settings.Value) {
	s.Cache.Put(key, v)
	s.changed(key)
}

// PutComposite upserts entries into a composite and, with auto-sync, starts a
// background push.
func (s *DriveStore) PutComposite(compositeKey string, entries map[string]string) {
	s.Cache.PutComposite(compositeKey, entries)
	s.changed(compositeKey)
}

// Remove deletes key and, with auto-sync, pushes the document without it.
func (s *DriveStore) Remove(key string) bool {
	if !s.Cache.Remove(key) {
		return false
	}
	s.changed(key)
	return true
}

// RemoveSub deletes a composite entry and, with auto-sync, pushes the result.
func (s *DriveStore) RemoveSub(compositeKey, key string) bool {
	if !s.Cache.RemoveSub(compositeKey, key) {
		return false
	}
	s.changed(compositeKey)
	return true
}

// Create materializes an empty cache. The remote is not touched: drives that
// refuse empty files get the document on the first push instead.
func (s *DriveStore) Create(ctx context.Context) error {
	s.Cache.Init()
	s.persist(ctx)
	return nil
}

// CreateRemote asks the transport to create an empty settings document.
// Drives that refuse empty files return remote.ErrUnsupported; the local
// cache is unaffected either way.
func (s *DriveStore) CreateRemote(ctx context.Context) (*remote.Item, error) {
	item, err := s.transport.Create(ctx, s.ref)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.ref, err)
	}
	return item, nil
}

// Delete clears the cache and, with auto-sync, deletes the remote document.
// The cache is cleared before the remote call, so a remote failure still
// leaves no keys behind. A remote document that is already gone is not an
// error.
func (s *DriveStore) Delete(ctx context.Context) error {
	s.Cache.Reset()

	var errs []error
	if s.persister != nil {
		if err := s.persister.Clear(ctx, s.ref); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear persisted cache: %w", err))
		}
	}

	if s.autoSync {
		// Pending pushes would otherwise recreate the document after the delete
		s.Flush()
		if err := s.transport.Delete(ctx, s.ref); err != nil && !remote.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", s.ref, err))
		}
	}

	return errors.Join(errs...)
}

// Flush blocks until every background push has finished.
func (s *DriveStore) Flush() {
	s.pushes.Wait()
}

// FileExists reports whether path exists next to the settings document.
// Any transport failure counts as "does not exist".
func (s *DriveStore) FileExists(ctx context.Context, path string) bool {
	_, err := s.transport.Retrieve(ctx, s.fileRef(path))
	return err == nil
}

// RetrieveFile reads path from the application folder.
func (s *DriveStore) RetrieveFile(ctx context.Context, path string) ([]byte, error) {
	return s.transport.Retrieve(ctx, s.fileRef(path))
}

// UpdateFile writes path in the application folder.
func (s *DriveStore) UpdateFile(ctx context.Context, path string, content []byte) (*remote.Item, error) {
	return s.transport.Update(ctx, s.fileRef(path), content)
}

func (s *DriveStore) fileRef(path string) remote.Ref {
	return remote.NewRef(s.ref.UserID, path)
}

// changed runs after every local mutation.
func (s *DriveStore) changed(key string) {
	s.persist(context.Background())
	if s.autoSync {
		s.schedulePush(key)
	}
}

// schedulePush snapshots the document now and uploads it in the background.
// Callers are never blocked by the remote.
func (s *DriveStore) schedulePush(key string) {
	doc, err := s.Cache.Document()
	if err != nil {
		s.onPushError(key, fmt.Errorf("failed to encode document: %w", err))
		return
	}

	seq := s.seq.Add(1)
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		s.push(key, seq, doc)
	}()
}

func (s *DriveStore) push(key string, seq uint64, doc []byte) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	if seq <= s.pushed {
		s.logger.Debug("dropping stale push", zap.String("key", key), zap.Uint64("seq", seq))
		return
	}
	s.pushed = seq

	if _, err := s.transport.Update(context.Background(), s.ref, doc); err != nil {
		s.onPushError(key, err)
		return
	}
	s.logger.Debug("pushed document", zap.String("key", key), zap.Int("bytes", len(doc)))
}

// persist mirrors the cache into the persister. Failures are logged: local
// writes never fail because of storage below the cache.
func (s *DriveStore) persist(ctx context.Context) {
	if err := savePersisted(ctx, s.Cache, s.persister, s.ref); err != nil {
		s.logger.Warn("failed to persist cache", zap.Error(err))
	}
}

func configRef(cfg Config) (remote.Ref, error) {
	name := cfg.FileName
	if name == "" {
		name = DefaultFileName
	}
	ref := remote.NewRef(cfg.UserID, name)
	if err := ref.Validate(); err != nil {
		return remote.Ref{}, fmt.Errorf("invalid store config: %w", err)
	}
	return ref, nil
}

// loadPersisted replaces the cache with the persisted document, if any.
func loadPersisted(ctx context.Context, c *settings.Cache, p Persister, ref remote.Ref) error {
	if p == nil {
		return nil
	}

	doc, ok, err := p.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to load persisted cache: %w", err)
	}
	if !ok {
		return nil
	}

	values, err := settings.DecodeDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to load persisted cache: %w", err)
	}
	c.Replace(values)
	return nil
}

// savePersisted writes the cache document, or clears it when the cache is absent.
func savePersisted(ctx context.Context, c *settings.Cache, p Persister, ref remote.Ref) error {
	if p == nil {
		return nil
	}
	if !c.Materialized() {
		return p.Clear(ctx, ref)
	}

	doc, err := c.Document()
	if err != nil {
		return err
	}
	return p.Save(ctx, ref, doc)
}
