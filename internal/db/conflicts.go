package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/riff/internal/models"
)

// Conflict is a record both sides changed since the last sync, held for the
// user to resolve under the manual strategy.
type Conflict struct {
	ID         int64
	Type       models.RecordType
	RecordID   string
	Local      models.Record
	Remote     models.Record
	DetectedAt time.Time
}

// Key identifies the conflicted record.
func (c Conflict) Key() models.RecordKey {
	return models.RecordKey{Type: c.Type, ID: c.RecordID}
}

// SaveConflict stores or refreshes the conflict for a record.
func (db *DB) SaveConflict(c Conflict) error {
	local, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("marshal local version: %w", err)
	}
	remote, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("marshal remote version: %w", err)
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO sync_conflicts (record_type, record_id, local_data, remote_data, detected_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(record_type, record_id) DO UPDATE SET
				local_data = excluded.local_data,
				remote_data = excluded.remote_data,
				detected_at = excluded.detected_at
		`, string(c.Type), c.RecordID, string(local), string(remote), toNanos(c.DetectedAt))
		if err != nil {
			return fmt.Errorf("save conflict %s/%s: %w", c.Type, c.RecordID, err)
		}
		return nil
	})
}

// ListConflicts returns unresolved conflicts, oldest first.
func (db *DB) ListConflicts() ([]Conflict, error) {
	rows, err := db.conn.Query(`
		SELECT id, record_type, record_id, local_data, remote_data, detected_at
		FROM sync_conflicts ORDER BY detected_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var (
			c             Conflict
			rt            string
			local, remote string
			detected      int64
		)
		if err := rows.Scan(&c.ID, &rt, &c.RecordID, &local, &remote, &detected); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.Type = models.RecordType(rt)
		c.DetectedAt = fromNanos(detected)
		if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
			return nil, fmt.Errorf("decode local version: %w", err)
		}
		if err := json.Unmarshal([]byte(remote), &c.Remote); err != nil {
			return nil, fmt.Errorf("decode remote version: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConflict returns the conflict for one record, or nil.
func (db *DB) GetConflict(t models.RecordType, id string) (*Conflict, error) {
	all, err := db.ListConflicts()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Type == t && all[i].RecordID == id {
			return &all[i], nil
		}
	}
	return nil, nil
}

// ConflictKeys returns the set of records with unresolved conflicts.
func (db *DB) ConflictKeys() (map[models.RecordKey]bool, error) {
	all, err := db.ListConflicts()
	if err != nil {
		return nil, err
	}
	keys := make(map[models.RecordKey]bool, len(all))
	for _, c := range all {
		keys[c.Key()] = true
	}
	return keys, nil
}

// DeleteConflict removes a resolved conflict.
func (db *DB) DeleteConflict(t models.RecordType, id string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM sync_conflicts WHERE record_type = ? AND record_id = ?`, string(t), id)
		return err
	})
}
