package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLDrive stores blobs in a SQLite database.
//
// It stands in for a cloud drive on machines that share a database file (or for
// tests that want a persistent remote), and it keeps the cloud drive's main
// restriction: Create never makes an empty file.
//
// The database runs in WAL mode so readers are not blocked by a writer.
type SQLDrive struct {
	conn *sql.DB
	path string
}

// OpenSQLDrive opens (or creates) a blob database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	drive, err := remote.OpenSQLDrive(".roam/drive.db")
//	if err != nil {
//	    return err
//	}
//	defer drive.Close()
func OpenSQLDrive(path string) (*SQLDrive, error) {
	// Ensure parent directory exists
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and serializes writers
	conn.SetMaxOpenConns(1)

	d := &SQLDrive{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := d.initSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

func (d *SQLDrive) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		user_id TEXT NOT NULL,
		path TEXT NOT NULL,
		id TEXT NOT NULL,
		content BLOB NOT NULL,
		etag TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, path)
	);
	`
	if _, err := d.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *SQLDrive) Close() error {
	if d.conn == nil {
		return nil
	}
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.conn = nil
	return nil
}

// Create implements Transport. It always fails with ErrUnsupported.
func (d *SQLDrive) Create(ctx context.Context, ref Ref) (*Item, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: cannot create empty file %s", ErrUnsupported, ref)
}

// Retrieve implements Transport.
func (d *SQLDrive) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	if err := d.check(ref); err != nil {
		return nil, err
	}

	var content []byte
	err := d.conn.QueryRowContext(ctx,
		`SELECT content FROM blobs WHERE user_id = ? AND path = ?`,
		ref.UserID, cleanPath(ref.Path),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrRemoteUnavailable, ref, err)
	}
	return content, nil
}

// Update implements Transport.
func (d *SQLDrive) Update(ctx context.Context, ref Ref, content []byte) (*Item, error) {
	if err := d.check(ref); err != nil {
		return nil, err
	}
	if content == nil {
		content = []byte{}
	}

	now := time.Now().UTC()
	etag := ETag(content)
	name := cleanPath(ref.Path)

	// Upsert, keeping the original id
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO blobs (user_id, path, id, content, etag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, path) DO UPDATE SET
			content = excluded.content,
			etag = excluded.etag,
			updated_at = excluded.updated_at
	`, ref.UserID, name, uuid.NewString(), content, etag, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write %s: %v", ErrRemoteUnavailable, ref, err)
	}

	var id string
	if err := d.conn.QueryRowContext(ctx,
		`SELECT id FROM blobs WHERE user_id = ? AND path = ?`, ref.UserID, name,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("%w: failed to read back %s: %v", ErrRemoteUnavailable, ref, err)
	}

	return &Item{
		ID:       id,
		Name:     name,
		Size:     int64(len(content)),
		ETag:     etag,
		Modified: now,
	}, nil
}

// Delete implements Transport.
func (d *SQLDrive) Delete(ctx context.Context, ref Ref) error {
	if err := d.check(ref); err != nil {
		return err
	}

	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM blobs WHERE user_id = ? AND path = ?`, ref.UserID, cleanPath(ref.Path))
	if err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrRemoteUnavailable, ref, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil
}

// Count returns the number of blobs stored for a user.
func (d *SQLDrive) Count(ctx context.Context, userID string) (int, error) {
	if d.conn == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrRemoteUnavailable)
	}
	var n int
	if err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blobs WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count blobs: %w", err)
	}
	return n, nil
}

func (d *SQLDrive) check(ref Ref) error {
	if d.conn == nil {
		return fmt.Errorf("%w: database is closed", ErrRemoteUnavailable)
	}
	return ref.Validate()
}
