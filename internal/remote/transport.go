// Package remote defines the blob transport that roaming stores reconcile against.
//
// A transport holds named files in an application-private folder owned by one
// identity. Files are addressed by a Ref (user id plus path with extension) and
// moved as raw bytes; the typed helpers in this package take care of encoding.
//
// Some remotes cannot hold an empty file. Those return ErrUnsupported from
// Create, and the first Update with real content is what brings the file into
// existence.
//
// Implementations shipped here:
//
//   - MemoryDrive: in-process drive for tests and ephemeral use
//   - FSDrive: directory tree on the local filesystem
//   - SQLDrive: blobs in a SQLite database
package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// AppRoot is the folder, inside each identity's drive, that holds application files.
// It is not meant to be browsed by the user.
const AppRoot = "approot"

// Ref identifies one file in one identity's application folder.
type Ref struct {
	// UserID is the owning identity.
	UserID string
	// Path is the file path with extension, relative to the application folder.
	Path string
}

// NewRef builds a Ref, cleaning the path.
func NewRef(userID, filePath string) Ref {
	return Ref{UserID: userID, Path: cleanPath(filePath)}
}

// Validate checks that both parts of the reference are usable.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidRef)
	}
	p := cleanPath(r.Path)
	if p == "" || p == "." {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidRef)
	}
	if strings.HasPrefix(p, "..") {
		return fmt.Errorf("%w: path %q escapes the application folder", ErrInvalidRef, r.Path)
	}
	return nil
}

// String returns the ref as <user>/approot/<path>.
func (r Ref) String() string {
	return path.Join(r.UserID, AppRoot, cleanPath(r.Path))
}

func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Item is the remote's handle for a stored file.
type Item struct {
	// ID is stable for the lifetime of the file.
	ID string `json:"id"`
	// Name is the file path relative to the application folder.
	Name string `json:"name"`
	// Size is the content length in bytes.
	Size int64 `json:"size"`
	// ETag changes whenever the content changes.
	ETag string `json:"etag"`
	// Modified is the time of the last write.
	Modified time.Time `json:"modified"`
}

// Transport moves blobs to and from the remote.
//
// All methods may block on I/O and may fail with ErrNotFound or
// ErrRemoteUnavailable. Implementations must be safe for concurrent use,
// since auto-sync pushes run on their own goroutines.
type Transport interface {
	// Create makes an empty file. Remotes that cannot hold empty files
	// return ErrUnsupported; callers should Update with content instead.
	Create(ctx context.Context, ref Ref) (*Item, error)

	// Retrieve returns the file content.
	Retrieve(ctx context.Context, ref Ref) ([]byte, error)

	// Update replaces the file content, creating the file if needed.
	Update(ctx context.Context, ref Ref, content []byte) (*Item, error)

	// Delete removes the file.
	Delete(ctx context.Context, ref Ref) error
}

// ETag computes the content tag used by the bundled drives.
func ETag(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:8])
}
