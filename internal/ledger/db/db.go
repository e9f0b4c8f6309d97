// Package db is the on-device store for books, categories, transactions and
// settings.
//
// The database is an embedded SQLite file opened through ncruces/go-sqlite3
// with WAL enabled so the CLI, the sync daemon and background pushes can read
// while another writer is active.
//
// Architecture:
//   - Database file: ~/.ledger/ledger.db (configurable)
//   - Tables: books, book_categories, transactions, app_settings
//   - Remote identifiers live in a nullable server_id column on each entity
//     table, backed by a unique partial index for remote → local lookups
//
// Multi-statement sequences (cascade deletes, bulk pull inserts) are not
// wrapped in a transaction. Each statement commits on its own, so a crash in
// the middle can leave partial state that the next pull reconciles.
package db

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
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout stores timestamps in UTC with a fixed-width fraction so that
// text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done so the WAL is checkpointed.
//
// Example:
//
//	store, err := db.Open(filepath.Join(home, ".ledger", "ledger.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	// journal_mode is persistent, so setting it once is enough.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// SetClock replaces the clock used for local created_at/updated_at values.
func (db *DB) SetClock(now func() time.Time) {
	if now != nil {
		db.now = now
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist. It is
// idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		hobby_template TEXT,
		icon TEXT NOT NULL DEFAULT 'book',
		color TEXT NOT NULL DEFAULT '#8B4513',
		server_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS book_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id),
		category_id TEXT NOT NULL,
		label TEXT NOT NULL,
		icon TEXT NOT NULL,
		color TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('expense', 'income')),
		sort_order INTEGER NOT NULL DEFAULT 0,
		server_id TEXT,
		UNIQUE(book_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK(type IN ('expense', 'income')),
		amount REAL NOT NULL CHECK(amount > 0),
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,  -- category slug, not a foreign key
		date TEXT NOT NULL,      -- YYYY-MM-DD
		book_id INTEGER NOT NULL REFERENCES books(id),
		server_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- At most one local row per remote identifier
	CREATE UNIQUE INDEX IF NOT EXISTS idx_books_server_id
	    ON books(server_id) WHERE server_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_book_categories_server_id
	    ON book_categories(server_id) WHERE server_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_server_id
	    ON transactions(server_id) WHERE server_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_book_categories_book ON book_categories(book_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_book ON transactions(book_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_book_date ON transactions(book_id, date);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// stamp returns the current time formatted for storage.
func (db *DB) stamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString converts an optional string to a nullable SQL value.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr converts a nullable SQL string to an optional string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// checkAffected maps a zero-row update or delete to ErrNotFound.
func checkAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
