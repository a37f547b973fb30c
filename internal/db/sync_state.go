package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/riff/internal/models"
)

// SyncState is the signed-in user's sync watermark. It is owned by the sync coordinator.
type SyncState struct {
	UserID       string
	LastSyncAt   time.Time // zero before the first successful sync
	Strategy     string
	Cursors      map[models.RecordType]time.Time
	SyncDisabled bool
	AuthRequired bool
}

// GetSyncState returns the current sync state, or nil if no user is linked.
func (db *DB) GetSyncState() (*SyncState, error) {
	var (
		s        SyncState
		last     int64
		cursors  string
		disabled int
		authReq  int
	)
	err := db.conn.QueryRow(`
		SELECT user_id, last_sync_at, conflict_strategy, cursors, sync_disabled, auth_required
		FROM sync_state WHERE id = 1
	`).Scan(&s.UserID, &last, &s.Strategy, &cursors, &disabled, &authReq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	s.LastSyncAt = fromNanos(last)
	s.SyncDisabled = disabled != 0
	s.AuthRequired = authReq != 0
	s.Cursors, err = decodeCursors(cursors)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSyncState links the store to a user, resetting the watermark.
func (db *DB) SetSyncState(userID, strategy string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO sync_state (id, user_id, last_sync_at, conflict_strategy, cursors, sync_disabled, auth_required)
			VALUES (1, ?, 0, ?, '{}', 0, 0)
		`, userID, strategy)
		return err
	})
}

// SaveSyncProgress advances the watermark and stores per-type remote cursors.
// last_sync_at never moves backwards.
func (db *DB) SaveSyncProgress(lastSyncAt time.Time, cursors map[models.RecordType]time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRow(`SELECT cursors FROM sync_state WHERE id = 1`).Scan(&raw); err != nil {
			return fmt.Errorf("load cursors: %w", err)
		}
		merged, err := decodeCursors(raw)
		if err != nil {
			return err
		}
		for t, c := range cursors {
			if c.After(merged[t]) {
				merged[t] = c
			}
		}
		encoded, err := encodeCursors(merged)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE sync_state SET last_sync_at = MAX(last_sync_at, ?), cursors = ? WHERE id = 1
		`, toNanos(lastSyncAt), encoded)
		return err
	})
}

// ResetSyncProgress forgets the watermark so the next sync is a full one.
func (db *DB) ResetSyncProgress() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET last_sync_at = 0, cursors = '{}' WHERE id = 1`)
		return err
	})
}

// SetConflictStrategy stores the active conflict strategy.
func (db *DB) SetConflictStrategy(strategy string) error {
	return db.updateSyncState(`conflict_strategy = ?`, strategy)
}

// SetSyncDisabled toggles sync without unlinking.
func (db *DB) SetSyncDisabled(disabled bool) error {
	return db.updateSyncState(`sync_disabled = ?`, boolInt(disabled))
}

// SetAuthRequired records that the remote rejected our credentials.
func (db *DB) SetAuthRequired(required bool) error {
	return db.updateSyncState(`auth_required = ?`, boolInt(required))
}

func (db *DB) updateSyncState(set string, arg any) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET `+set+` WHERE id = 1`, arg)
		return err
	})
}

// ClearSyncState unlinks the store (sign-out).
func (db *DB) ClearSyncState() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM sync_state`)
		return err
	})
}

func decodeCursors(raw string) (map[models.RecordType]time.Time, error) {
	var wire map[string]time.Time
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &wire); err != nil {
			return nil, fmt.Errorf("decode sync cursors: %w", err)
		}
	}
	out := make(map[models.RecordType]time.Time, len(wire))
	for k, v := range wire {
		out[models.RecordType(k)] = v
	}
	return out, nil
}

func encodeCursors(c map[models.RecordType]time.Time) (string, error) {
	wire := make(map[string]time.Time, len(c))
	for k, v := range c {
		wire[string(k)] = v
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode sync cursors: %w", err)
	}
	return string(data), nil
}
