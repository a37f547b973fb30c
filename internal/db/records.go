package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/riff/internal/models"
)

const recordColumns = `id, payload, created_at, updated_at, deleted, dirty`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(t models.RecordType, s rowScanner) (models.Record, bool, error) {
	var (
		rec     models.Record
		payload sql.NullString
		created int64
		updated int64
		deleted int
		dirty   int
	)
	if err := s.Scan(&rec.ID, &payload, &created, &updated, &deleted, &dirty); err != nil {
		return rec, false, err
	}
	rec.Type = t
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	rec.Deleted = deleted != 0
	rec.Pushed = dirty == 0
	return rec, dirty != 0, nil
}

func getRecord(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, t models.RecordType, id string) (*models.Record, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(`SELECT `+recordColumns+` FROM `+table+` WHERE id = ?`, id)
	rec, _, err := scanRecord(t, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", t, id, err)
	}
	return &rec, nil
}

// Get returns the record, tombstones included, or nil if it was never stored.
func (db *DB) Get(t models.RecordType, id string) (*models.Record, error) {
	return getRecord(db.conn, t, id)
}

// Put stores a local edit and marks it dirty. It returns the previous version, if any.
func (db *DB) Put(rec models.Record) (*models.Record, error) {
	return db.put(rec, true)
}

// PutSynced stores a record already reconciled with the remote (clean).
func (db *DB) PutSynced(rec models.Record) (*models.Record, error) {
	return db.put(rec, false)
}

func (db *DB) put(rec models.Record, dirty bool) (*models.Record, error) {
	table, err := tableFor(rec.Type)
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("put %s: empty id", rec.Type)
	}

	var prev *models.Record
	err = db.withTx(func(tx *sql.Tx) error {
		var err error
		if prev, err = getRecord(tx, rec.Type, rec.ID); err != nil {
			return err
		}
		return upsert(tx, table, rec, prev, dirty)
	})
	return prev, err
}

// upsert writes rec, keeping the first createdAt ever stored for the id.
func upsert(tx *sql.Tx, table string, rec models.Record, prev *models.Record, dirty bool) error {
	created := rec.CreatedAt
	if prev != nil && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}
	var payload any
	if !rec.Deleted && len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	_, err := tx.Exec(`
		INSERT INTO `+table+` (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			dirty = excluded.dirty
	`, rec.ID, payload, toNanos(created), toNanos(rec.UpdatedAt), boolInt(rec.Deleted), boolInt(dirty))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.Type, rec.ID, err)
	}
	return nil
}

// ApplyRemote stores a reconciled version as clean unless the local copy has
// been edited to something newer in the meantime. It reports whether rec was written.
func (db *DB) ApplyRemote(rec models.Record) (*models.Record, bool, error) {
	table, err := tableFor(rec.Type)
	if err != nil {
		return nil, false, err
	}
	var (
		prev    *models.Record
		applied bool
	)
	err = db.withTx(func(tx *sql.Tx) error {
		var err error
		if prev, err = getRecord(tx, rec.Type, rec.ID); err != nil {
			return err
		}
		if prev != nil && prev.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}
		if err := upsert(tx, table, rec, prev, false); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return prev, applied, err
}

// Delete replaces the record with a dirty tombstone dated at. A tombstone is
// written even for unknown ids so the deletion still propagates.
func (db *DB) Delete(t models.RecordType, id string, at time.Time) (*models.Record, error) {
	return db.Put(models.Record{ID: id, Type: t, UpdatedAt: at, Deleted: true})
}

// ListAll returns every record of the type ordered by id, tombstones included.
func (db *DB) ListAll(t models.RecordType) ([]models.Record, error) {
	return db.list(t, "")
}

// ListDirty returns records with local edits not yet reconciled with the remote.
func (db *DB) ListDirty(t models.RecordType) ([]models.Record, error) {
	return db.list(t, "WHERE dirty = 1")
}

func (db *DB) list(t models.RecordType, where string) ([]models.Record, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(`SELECT ` + recordColumns + ` FROM ` + table + ` ` + where + ` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, _, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkClean clears the dirty flag, but only if the record still has the given
// updatedAt. A local edit made during the sync keeps its flag.
func (db *DB) MarkClean(t models.RecordType, id string, updatedAt time.Time) (bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return false, err
	}
	var n int64
	err = db.withWriteLock(func() error {
		res, err := db.conn.Exec(`UPDATE `+table+` SET dirty = 0 WHERE id = ? AND updated_at = ?`, id, toNanos(updatedAt))
		if err != nil {
			return fmt.Errorf("mark clean %s/%s: %w", t, id, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n > 0, err
}

// MarkCleanBatch clears the dirty flag of every record in recs whose stored
// updatedAt still matches, in one transaction. It returns how many were cleared.
func (db *DB) MarkCleanBatch(t models.RecordType, recs []models.Record) (int, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	var total int64
	err = db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE ` + table + ` SET dirty = 0 WHERE id = ? AND updated_at = ? AND dirty = 1`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range recs {
			res, err := stmt.Exec(rec.ID, toNanos(rec.UpdatedAt))
			if err != nil {
				return fmt.Errorf("mark clean %s/%s: %w", t, rec.ID, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return int(total), err
}

// MarkAllDirty flags every record for upload, used when linking a store to a new account.
func (db *DB) MarkAllDirty() error {
	return db.withWriteLock(func() error {
		for _, t := range models.AllRecordTypes() {
			table, _ := tableFor(t)
			if _, err := db.conn.Exec(`UPDATE ` + table + ` SET dirty = 1`); err != nil {
				return fmt.Errorf("mark dirty %s: %w", t, err)
			}
		}
		return nil
	})
}

// CountDirty returns the number of dirty records across all collections.
func (db *DB) CountDirty() (int, error) {
	total := 0
	for _, t := range models.AllRecordTypes() {
		table, _ := tableFor(t)
		var n int
		if err := db.conn.QueryRow(`SELECT COUNT(*) FROM ` + table + ` WHERE dirty = 1`).Scan(&n); err != nil {
			return 0, fmt.Errorf("count dirty %s: %w", t, err)
		}
		total += n
	}
	return total, nil
}

// GetSettings returns the settings blob, or defaults if none is stored.
func (db *DB) GetSettings() (models.Settings, *models.Record, error) {
	rec, err := db.Get(models.TypeSettings, models.SettingsID)
	if err != nil {
		return models.Settings{}, nil, err
	}
	s, err := models.SettingsFromRecord(rec)
	return s, rec, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
