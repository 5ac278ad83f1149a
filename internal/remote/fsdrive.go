package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSDrive stores blobs as files under a root directory:
//
//	<root>/<user>/approot/<path>
//
// Writes are atomic (temp file + rename), so a watcher on the directory never
// observes a half-written document.
type FSDrive struct {
	root             string
	allowEmptyCreate bool
}

// FSOption configures an FSDrive.
type FSOption func(*FSDrive)

// WithEmptyCreate lets Create make zero-length files. By default FSDrive
// behaves like the cloud drives it stands in for and refuses them.
func WithEmptyCreate() FSOption {
	return func(d *FSDrive) {
		d.allowEmptyCreate = true
	}
}

// NewFSDrive creates a drive rooted at root, creating the directory if needed.
func NewFSDrive(root string, opts ...FSOption) (*FSDrive, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create drive root: %w", err)
	}

	d := &FSDrive{root: root}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root returns the drive's root directory.
func (d *FSDrive) Root() string {
	return d.root
}

// PathFor returns the filesystem path backing ref.
func (d *FSDrive) PathFor(ref Ref) string {
	return filepath.Join(d.root, ref.UserID, AppRoot, filepath.FromSlash(cleanPath(ref.Path)))
}

// Create implements Transport.
func (d *FSDrive) Create(ctx context.Context, ref Ref) (*Item, error) {
	if err := d.check(ctx, ref); err != nil {
		return nil, err
	}
	if !d.allowEmptyCreate {
		return nil, fmt.Errorf("%w: cannot create empty file %s", ErrUnsupported, ref)
	}

	p := d.PathFor(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: failed to create %s: %v", ErrRemoteUnavailable, ref, err)
	}
	if f != nil {
		_ = f.Close()
	}
	return d.stat(ref)
}

// Retrieve implements Transport.
func (d *FSDrive) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	if err := d.check(ctx, ref); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(d.PathFor(ref))
	if err != nil {
		return nil, translateFSError(ref, err)
	}
	return content, nil
}

// Update implements Transport.
func (d *FSDrive) Update(ctx context.Context, ref Ref, content []byte) (*Item, error) {
	if err := d.check(ctx, ref); err != nil {
		return nil, err
	}

	p := d.PathFor(ref)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	// Write to a temp file in the same directory, then rename over the target
	tmp, err := os.CreateTemp(dir, ".roam-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %v", ErrRemoteUnavailable, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: failed to write %s: %v", ErrRemoteUnavailable, ref, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: failed to close temp file: %v", ErrRemoteUnavailable, err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: failed to replace %s: %v", ErrRemoteUnavailable, ref, err)
	}

	return d.stat(ref)
}

// Delete implements Transport.
func (d *FSDrive) Delete(ctx context.Context, ref Ref) error {
	if err := d.check(ctx, ref); err != nil {
		return err
	}
	if err := os.Remove(d.PathFor(ref)); err != nil {
		return translateFSError(ref, err)
	}
	return nil
}

func (d *FSDrive) check(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return ref.Validate()
}

func (d *FSDrive) stat(ref Ref) (*Item, error) {
	p := d.PathFor(ref)

	info, err := os.Stat(p)
	if err != nil {
		return nil, translateFSError(ref, err)
	}
	content, err := os.ReadFile(p)
	if err != nil {
		return nil, translateFSError(ref, err)
	}

	return &Item{
		// Files carry no metadata of their own, so the ID is derived from the ref
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(ref.String())).String(),
		Name:     cleanPath(ref.Path),
		Size:     info.Size(),
		ETag:     ETag(content),
		Modified: info.ModTime(),
	}, nil
}

func translateFSError(ref Ref, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, ref, err)
}
