// Package roaming provides the roaming settings store: a local cache of named
// values reconciled against a single JSON document held by a remote drive.
//
// Overview
//
// A store exposes key reads and writes, composite (grouped) settings, direct
// file access in the same application folder, and Sync, which reconciles the
// cache with the remote document:
//
//	caller ──Save/Read──▶ settings.Cache ◀──Sync──▶ remote.Transport
//	                          │                         ▲
//	                          └── auto-sync push ───────┘ (detached goroutine)
//
// Reconciliation is a local-wins, per-key merge. Keys present locally are
// pushed when the remote lacks them or holds a different value; keys present
// only remotely are pulled. Local values are never overwritten by Sync.
//
// Variants
//
// RoamingStore is implemented by DriveStore (remote-backed) and LocalStore
// (device-local, persisted through a Persister). Both embed settings.Cache for
// the shared key and composite behavior.
//
// Concurrency
//
// Stores are single-writer: nothing inside is locked. Wrap a store in Guarded
// when more than one goroutine uses it.
package roaming

import (
	"context"

	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/settings"
)

// DefaultFileName is the remote document used when none is configured.
const DefaultFileName = "roamingSettings.json"

// RoamingStore is the capability shared by every store variant.
type RoamingStore interface {
	settings.Reader
	settings.Writer

	// KeyExists reports whether key is cached. False when the cache is absent.
	KeyExists(key string) bool

	// SubKeyExists reports whether compositeKey holds a composite with key.
	SubKeyExists(compositeKey, key string) bool

	// Remove deletes key, reporting whether it was cached. The deletion only
	// reaches the remote through an auto-sync push; a later Sync pulls back
	// a key the remote still holds.
	Remove(key string) bool

	// RemoveSub deletes one composite entry, reporting whether it existed.
	RemoveSub(compositeKey, key string) bool

	// Keys returns the cached keys in sorted order.
	Keys() []string

	// Snapshot returns a copy of the cache, or nil when it is absent.
	Snapshot() map[string]settings.Value

	// Create materializes an empty cache.
	Create(ctx context.Context) error

	// Delete clears the cache and, where the variant supports it, the remote.
	Delete(ctx context.Context) error

	// Sync reconciles the cache with its backing document.
	Sync(ctx context.Context) error

	// FileExists reports whether a file exists in the application folder.
	// Transport failures count as "does not exist".
	FileExists(ctx context.Context, path string) bool

	// RetrieveFile reads a file from the application folder.
	RetrieveFile(ctx context.Context, path string) ([]byte, error)

	// UpdateFile writes a file to the application folder. The returned item
	// may be nil when the backend has no handle to offer.
	UpdateFile(ctx context.Context, path string, content []byte) (*remote.Item, error)
}

// Persister keeps cache documents across process restarts.
// cachedb.DB is the SQLite implementation.
type Persister interface {
	Load(ctx context.Context, ref remote.Ref) ([]byte, bool, error)
	Save(ctx context.Context, ref remote.Ref, document []byte) error
	Clear(ctx context.Context, ref remote.Ref) error
}

// Read returns the value at key as T, or def.
//
// Example:
//
//	theme := roaming.Read(store, "theme", "light")
func Read[T any](s RoamingStore, key string, def T) T {
	return settings.Read(s, key, def)
}

// ReadSub returns a composite entry as T, or def.
func ReadSub[T any](s RoamingStore, compositeKey, key string, def T) T {
	return settings.ReadSub(s, compositeKey, key, def)
}

// Save stores value at key. With auto-sync the remote push starts in the
// background; Save does not wait for it.
func Save[T any](s RoamingStore, key string, value T) error {
	return settings.Save(s, key, value)
}

// SaveComposite upserts values into the composite at compositeKey.
func SaveComposite[T any](s RoamingStore, compositeKey string, values map[string]T) error {
	return settings.SaveComposite(s, compositeKey, values)
}

// ReadFile reads and decodes a file from the application folder, bypassing
// the cache. A missing file yields def without error.
func ReadFile[T any](ctx context.Context, s RoamingStore, path string, def T) (T, error) {
	content, err := s.RetrieveFile(ctx, path)
	if remote.IsNotFound(err) {
		return def, nil
	}
	if err != nil {
		return def, err
	}

	out, err := remote.DecodeContent[T](content)
	if err != nil {
		return def, err
	}
	return out, nil
}

// SaveFile encodes and writes value to a file in the application folder,
// bypassing the cache. The item is nil when the backend cannot supply one;
// the write has still happened.
func SaveFile[T any](ctx context.Context, s RoamingStore, path string, value T) (*remote.Item, error) {
	content, err := remote.EncodeContent(value)
	if err != nil {
		return nil, err
	}
	return s.UpdateFile(ctx, path, content)
}
