package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

// DB manages the embedded SQLite database holding the result cache and the
// audit queue. The handle is created lazily and can be invalidated when
// corruption is detected, in which case the next use recreates the file.
type DB struct {
	path   string
	logger arbor.ILogger

	mu sync.Mutex
	db *sql.DB
}

// NewDB creates a database manager for the given file path. The file itself
// is created on first use.
func NewDB(logger arbor.ILogger, path string) *DB {
	return &DB{
		path:   path,
		logger: logger,
	}
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Handle returns the initialized database connection, opening and migrating
// it on first use. If initialization fails the file is removed and creation
// is retried once.
func (d *DB) Handle() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handleLocked()
}

func (d *DB) handleLocked() (*sql.DB, error) {
	if d.db != nil {
		return d.db, nil
	}

	db, err := d.open()
	if err != nil {
		// Corrupted database file: remove and recreate once
		d.logger.Warn().Err(err).Str("path", d.path).Msg("Database initialization failed, recreating")
		d.removeFiles()
		db, err = d.open()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	d.db = db
	return d.db, nil
}

func (d *DB) open() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Invalidate closes the current handle so the next use reinitializes the
// database. Called when reads hit corruption.
func (d *DB) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
}

// Remove closes the handle and deletes the database file along with its WAL
// and SHM companions. The next use recreates an empty database.
func (d *DB) Remove() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
	d.removeFiles()
}

func (d *DB) removeFiles() {
	os.Remove(d.path)
	os.Remove(d.path + "-wal")
	os.Remove(d.path + "-shm")
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	db, err := d.Handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// SizeBytes returns the database file size on disk.
func (d *DB) SizeBytes() int64 {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
