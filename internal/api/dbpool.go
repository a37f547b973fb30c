package api

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marcus/riff/internal/serverdb"
	_ "modernc.org/sqlite"
)

// UserDBPool manages per-user SQLite connections for document stores.
type UserDBPool struct {
	mu      sync.RWMutex
	dbs     map[string]*sql.DB
	dataDir string
}

// NewUserDBPool creates a new pool that stores user databases under dataDir.
func NewUserDBPool(dataDir string) *UserDBPool {
	return &UserDBPool{
		dbs:     make(map[string]*sql.DB),
		dataDir: dataDir,
	}
}

// Get returns the document store for the given user, creating it on first use.
func (p *UserDBPool) Get(userID string) (*sql.DB, error) {
	p.mu.RLock()
	db, ok := p.dbs[userID]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if db, ok := p.dbs[userID]; ok {
		return db, nil
	}

	dir := filepath.Join(p.dataDir, userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create user dir: %w", err)
	}

	db, err := openUserDB(filepath.Join(dir, "documents.db"))
	if err != nil {
		return nil, err
	}

	p.dbs[userID] = db
	return db, nil
}

// Len returns the number of open user databases.
func (p *UserDBPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dbs)
}

// CloseAll closes all open user database connections.
func (p *UserDBPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, db := range p.dbs {
		db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		db.Close()
		delete(p.dbs, id)
	}
}

// openUserDB opens a SQLite connection for a user's documents with standard pragmas.
func openUserDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open user db: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := serverdb.InitDocumentStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init document store: %w", err)
	}

	return db, nil
}
