// Package cachedb persists roaming cache snapshots in a local SQLite database.
//
// A roaming store's cache lives in memory. Short-lived processes (the CLI runs
// one command per process) would lose local writes that have not reached the
// remote yet, and local-wins reconciliation would have nothing to win with.
// cachedb keeps the last cache document per (user, file) so the next process
// starts from it.
//
// Architecture:
//   - Database file: .roam/cache.db
//   - WAL mode: concurrent readers during writes
//   - Schema: cache_snapshots table, one row per (user, file)
//
// An absent row means the cache was never materialized (or was deleted); a row
// holding "{}" is a materialized, empty cache.
package cachedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/roam/internal/remote"
)

// DB wraps the SQLite connection holding cache snapshots.
type DB struct {
	conn *sql.DB
	path string
}

// Snapshot describes one stored cache document.
type Snapshot struct {
	UserID    string
	File      string
	Size      int
	UpdatedAt time.Time
}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, it will be created along with the schema.
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := cachedb.Open(".roam/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
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

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_snapshots (
		user_id TEXT NOT NULL,
		file TEXT NOT NULL,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, file)
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Load returns the stored document for ref. The bool is false when no
// snapshot exists.
func (db *DB) Load(ctx context.Context, ref remote.Ref) ([]byte, bool, error) {
	var document string
	err := db.conn.QueryRowContext(ctx,
		`SELECT document FROM cache_snapshots WHERE user_id = ? AND file = ?`,
		ref.UserID, ref.Path,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot %s: %w", ref, err)
	}
	return []byte(document), true, nil
}

// Save inserts or replaces the snapshot for ref.
func (db *DB) Save(ctx context.Context, ref remote.Ref, document []byte) error {
	query := `
	INSERT INTO cache_snapshots (user_id, file, document, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, file) DO UPDATE SET
		document = excluded.document,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		ref.UserID,
		ref.Path,
		string(document),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", ref, err)
	}
	return nil
}

// Clear removes the snapshot for ref.
// Returns nil if no snapshot exists (idempotent).
func (db *DB) Clear(ctx context.Context, ref remote.Ref) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache_snapshots WHERE user_id = ? AND file = ?`, ref.UserID, ref.Path)
	if err != nil {
		return fmt.Errorf("failed to clear snapshot %s: %w", ref, err)
	}
	return nil
}

// List returns every stored snapshot, ordered by user and file.
func (db *DB) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT user_id, file, length(document), updated_at
		FROM cache_snapshots
		ORDER BY user_id, file
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			s         Snapshot
			updatedAt string
		)
		if err := rows.Scan(&s.UserID, &s.File, &s.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			s.UpdatedAt = t
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}
