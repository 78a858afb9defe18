// Package db persists generation history and user profiles in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

// defaultBusyTimeout is how long a connection waits on a lock before
// failing, in milliseconds.
const defaultBusyTimeout = 5000

// Database owns the SQLite file behind the history store. A single
// WAL-mode connection is shared by the repository's synchronous reads,
// the history writer's queued inserts, and the retention sweep.
type Database struct {
	db             *sql.DB
	path           string
	migrationsPath string
	mu             sync.RWMutex
}

// DatabaseConfig configures the history database.
type DatabaseConfig struct {
	// Path is the SQLite file path.
	Path string
	// MigrationsPath locates the migrations directory in file:// URL form.
	// Empty means "file://db/migrations", the layout when the server runs
	// from the repository root.
	MigrationsPath string
	// BusyTimeout overrides the lock wait in milliseconds. Zero keeps the
	// default.
	BusyTimeout int
}

// NewDatabase opens the history database at path with default settings.
// Parent directories are created if they don't exist.
func NewDatabase(path string) (*Database, error) {
	return NewDatabaseWithConfig(DatabaseConfig{Path: path})
}

// NewDatabaseWithConfig opens the history database with custom settings.
func NewDatabaseWithConfig(config DatabaseConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	busyTimeout := config.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	conn, err := openSQLite(config.Path, busyTimeout)
	if err != nil {
		return nil, err
	}

	migrationsPath := config.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}

	return &Database{
		db:             conn,
		path:           config.Path,
		migrationsPath: migrationsPath,
	}, nil
}

// openSQLite opens a WAL-mode connection to the given file. The pipeline
// appends history while the HTTP layer reads it, so WAL's concurrent
// readers alongside a single writer match the access pattern here.
// Pragmas apply per connection, so the pool is pinned to one connection
// and the pragmas are set right after opening.
func openSQLite(path string, busyTimeout int) (*sql.DB, error) {
	// modernc.org/sqlite uses a plain path as DSN
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []struct {
		name  string
		query string
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"busy_timeout", fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout)},
		{"foreign_keys", "PRAGMA foreign_keys=ON"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set %s pragma: %w", p.name, err)
		}
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	// WAL can be refused on some filesystems; fail loudly rather than run
	// with rollback journaling and surprise lock contention later.
	var journalMode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got: %s", journalMode)
	}

	return conn, nil
}

// Migrate applies pending schema migrations. Safe to call repeatedly;
// only unapplied migrations run.
//
// golang-migrate takes ownership of the connection it is given, so
// migrations run on a separate connection managed by the migrator.
func (d *Database) Migrate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := MigrateUpFromPath(d.path, d.migrationsPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Path returns the SQLite file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection. The Database must not be used afterwards.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.db = nil
	return nil
}

// conn hands out the shared connection, failing once Close has run.
func (d *Database) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database connection is closed")
	}
	return d.db, nil
}

// Exec executes a statement without returning rows.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	c, err := d.conn()
	if err != nil {
		return nil, err
	}
	return c.Exec(query, args...)
}

// Query executes a query that returns rows.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	c, err := d.conn()
	if err != nil {
		return nil, err
	}
	return c.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
// Errors are deferred to Scan.
func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.QueryRow(query, args...)
}
