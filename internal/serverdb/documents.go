package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/riff/internal/models"
)

// MaxBatchOps is the largest batch ApplyOps accepts.
const MaxBatchOps = 500

// Document op kinds
const (
	OpPut    = "put"
	OpDelete = "delete"
)

// ErrInvalidOp marks a batch rejected before anything was written.
var ErrInvalidOp = errors.New("invalid document op")

// Document is one stored record in a user's document store. ServerUpdatedAt is
// the arrival time the server assigned; it increases strictly per store.
// Created is only set by ApplyOps, for a live write with no live predecessor.
type Document struct {
	Collection      string
	ID              string
	Data            json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Deleted         bool
	ServerUpdatedAt time.Time
	Created         bool
}

// DocOp is one write. For deletes UpdatedAt is the client's deletion time.
// Zero timestamps are filled in by the server.
type DocOp struct {
	Kind       string
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// InitDocumentStore creates the documents table and arrival clock if they don't exist.
func InitDocumentStore(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection        TEXT NOT NULL,
			id                TEXT NOT NULL,
			data              TEXT,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			deleted           INTEGER NOT NULL DEFAULT 0,
			server_updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_arrival ON documents(collection, server_updated_at);
		CREATE TABLE IF NOT EXISTS arrival_clock (
			id   INTEGER PRIMARY KEY CHECK (id = 1),
			last INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO arrival_clock (id, last) VALUES (1, 0);
	`)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}
	return nil
}

// ValidateOps checks a batch without touching the store.
func ValidateOps(ops []DocOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidOp)
	}
	if len(ops) > MaxBatchOps {
		return fmt.Errorf("%w: %d ops exceeds the limit of %d", ErrInvalidOp, len(ops), MaxBatchOps)
	}
	for i, op := range ops {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("%w: op %d: %s", ErrInvalidOp, i, err)
		}
	}
	return nil
}

func validateOp(op DocOp) error {
	t, ok := models.TypeForRemoteCollection(op.Collection)
	if !ok {
		return fmt.Errorf("unknown collection %q", op.Collection)
	}
	if op.ID == "" {
		return errors.New("empty id")
	}
	if t == models.TypeSettings && op.ID != models.SettingsID {
		return fmt.Errorf("settings id must be %q", models.SettingsID)
	}
	switch op.Kind {
	case OpPut:
		if len(op.Data) == 0 || !json.Valid(op.Data) {
			return errors.New("put needs a json document")
		}
	case OpDelete:
		if t == models.TypeSettings {
			return errors.New("settings cannot be deleted")
		}
	default:
		return fmt.Errorf("unknown operation %q", op.Kind)
	}
	return nil
}

// ApplyOps writes every op inside tx and returns the stored documents in op
// order. The batch is validated first, so an invalid op writes nothing.
// created_at never changes once set.
func ApplyOps(tx *sql.Tx, ops []DocOp, now time.Time) ([]Document, error) {
	if err := ValidateOps(ops); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(ops))
	for _, op := range ops {
		arrival, err := nextArrival(tx, now)
		if err != nil {
			return nil, err
		}
		prev, err := GetDocument(tx, op.Collection, op.ID)
		if err != nil {
			return nil, err
		}

		doc := Document{
			Collection:      op.Collection,
			ID:              op.ID,
			CreatedAt:       op.CreatedAt.UTC(),
			UpdatedAt:       op.UpdatedAt.UTC(),
			Deleted:         op.Kind == OpDelete,
			ServerUpdatedAt: arrival,
		}
		if !doc.Deleted {
			doc.Data = op.Data
			doc.Created = prev == nil || prev.Deleted
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = arrival
		}
		switch {
		case prev != nil:
			doc.CreatedAt = prev.CreatedAt
		case doc.CreatedAt.IsZero():
			doc.CreatedAt = doc.UpdatedAt
		}

		var data any
		if doc.Data != nil {
			data = string(doc.Data)
		}
		_, err = tx.Exec(`
			INSERT INTO documents (collection, id, data, created_at, updated_at, deleted, server_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at,
				deleted = excluded.deleted,
				server_updated_at = excluded.server_updated_at
		`, doc.Collection, doc.ID, data, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(), boolInt(doc.Deleted), arrival.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("write %s/%s: %w", op.Collection, op.ID, err)
		}
		slog.Debug("document stored", "collection", doc.Collection, "id", doc.ID, "op", op.Kind, "server_updated_at", arrival)
		out = append(out, doc)
	}
	return out, nil
}

// nextArrival returns a server time strictly after every earlier one.
func nextArrival(tx *sql.Tx, now time.Time) (time.Time, error) {
	var last int64
	if err := tx.QueryRow(`SELECT last FROM arrival_clock WHERE id = 1`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("read arrival clock: %w", err)
	}
	next := now.UTC().UnixNano()
	if next <= last {
		next = last + 1
	}
	if _, err := tx.Exec(`UPDATE arrival_clock SET last = ? WHERE id = 1`, next); err != nil {
		return time.Time{}, fmt.Errorf("advance arrival clock: %w", err)
	}
	return time.Unix(0, next).UTC(), nil
}

const documentColumns = `collection, id, data, created_at, updated_at, deleted, server_updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (Document, error) {
	var (
		d                         Document
		data                      sql.NullString
		created, updated, arrival int64
		deleted                   int
	)
	if err := s.Scan(&d.Collection, &d.ID, &data, &created, &updated, &deleted, &arrival); err != nil {
		return d, err
	}
	if data.Valid {
		d.Data = json.RawMessage(data.String)
	}
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	d.ServerUpdatedAt = time.Unix(0, arrival).UTC()
	d.Deleted = deleted != 0
	return d, nil
}

// GetDocument returns one document, or nil if it was never written.
func GetDocument(q querier, collection, id string) (*Document, error) {
	d, err := scanDocument(q.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE collection = ? AND id = ?`, collection, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &d, nil
}

// ListDocuments returns the documents of a collection that arrived after
// since (all of them when since is zero), tombstones included, in arrival
// order. The cursor is the latest arrival time in the collection, or since
// when the collection is empty.
func ListDocuments(q querier, collection string, since time.Time) ([]Document, time.Time, error) {
	cursor := since
	var latest sql.NullInt64
	if err := q.QueryRow(`SELECT MAX(server_updated_at) FROM documents WHERE collection = ?`, collection).Scan(&latest); err != nil {
		return nil, cursor, fmt.Errorf("read %s cursor: %w", collection, err)
	}
	if latest.Valid {
		if t := time.Unix(0, latest.Int64).UTC(); t.After(cursor) {
			cursor = t
		}
	}

	var after int64
	if !since.IsZero() {
		after = since.UnixNano()
	}
	rows, err := q.Query(`SELECT `+documentColumns+` FROM documents WHERE collection = ? AND server_updated_at > ? ORDER BY server_updated_at`, collection, after)
	if err != nil {
		return nil, cursor, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, cursor, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, d)
	}
	return docs, cursor, rows.Err()
}

// CountDocuments returns live and tombstoned document counts.
func CountDocuments(q querier) (live, deleted int, err error) {
	err = q.QueryRow(`SELECT COALESCE(SUM(deleted = 0), 0), COALESCE(SUM(deleted = 1), 0) FROM documents`).Scan(&live, &deleted)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	return live, deleted, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
