// Package db is the durable local store: one table per record collection,
// the write queue, sync state and unresolved manual conflicts.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "riff.db"

// ErrNotInitialized is returned by Open when the data dir has no store yet.
var ErrNotInitialized = errors.New("local store not found: run 'riff init' first")

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dataDir string
}

// Open opens an existing store and runs any pending migrations
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, ErrNotInitialized
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, dataDir: dataDir}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Initialize creates the store (idempotently) and runs migrations
func Initialize(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := openConn(filepath.Join(dataDir, dbFile))
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, dataDir: dataDir}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the daemon read while the CLI writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=2000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	return conn, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// DataDir returns the directory holding the store
func (db *DB) DataDir() string {
	return db.dataDir
}

// withWriteLock runs fn while holding the cross-process write lock.
func (db *DB) withWriteLock(fn func() error) error {
	locker := newWriteLocker(db.dataDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// withTx runs fn in a transaction under the write lock.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Timestamps are stored as UTC unix nanoseconds; 0 means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
