package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
)

// QueueEntry is one durable write intent waiting for the remote.
type QueueEntry struct {
	Seq        int64
	Type       models.RecordType
	Operation  events.Operation
	ID         string
	Record     models.Record
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// Key identifies the record the entry targets.
func (e QueueEntry) Key() models.RecordKey {
	return models.RecordKey{Type: e.Type, ID: e.ID}
}

// Enqueue appends an entry and sets its Seq.
func (db *DB) Enqueue(e *QueueEntry) error {
	if !events.IsValidOperation(string(e.Operation)) {
		return fmt.Errorf("enqueue %s/%s: unknown operation %q", e.Type, e.ID, e.Operation)
	}
	payload, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			INSERT INTO write_queue (record_type, operation, target_id, payload, enqueued_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(e.Type), string(e.Operation), e.ID, string(payload), toNanos(e.EnqueuedAt))
		if err != nil {
			return fmt.Errorf("enqueue %s %s/%s: %w", e.Operation, e.Type, e.ID, err)
		}
		e.Seq, err = res.LastInsertId()
		return err
	})
}

// ListQueue returns pending entries in enqueue order.
func (db *DB) ListQueue() ([]QueueEntry, error) {
	rows, err := db.conn.Query(`
		SELECT seq, record_type, operation, target_id, payload, enqueued_at, attempts, last_error
		FROM write_queue ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var (
			e        QueueEntry
			rt, op   string
			payload  string
			enqueued int64
		)
		if err := rows.Scan(&e.Seq, &rt, &op, &e.ID, &payload, &enqueued, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Type = models.RecordType(rt)
		e.Operation = events.NormalizeOperation(op)
		e.EnqueuedAt = fromNanos(enqueued)
		if err := json.Unmarshal([]byte(payload), &e.Record); err != nil {
			return nil, fmt.Errorf("decode queue entry %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueueLen returns the number of pending entries.
func (db *DB) QueueLen() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM write_queue`).Scan(&n)
	return n, err
}

// MaxQueueSeq returns the highest pending seq, 0 when the queue is empty.
func (db *DB) MaxQueueSeq() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM write_queue`).Scan(&n)
	return n, err
}

// RemoveQueueEntries deletes the given seqs.
func (db *DB) RemoveQueueEntries(seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM write_queue WHERE seq IN (`+placeholders(len(seqs))+`)`, args...)
		if err != nil {
			return fmt.Errorf("remove queue entries: %w", err)
		}
		return nil
	})
}

// RemoveQueueThrough deletes entries with seq <= watermark, except those
// targeting a key in keep. It returns how many were removed.
func (db *DB) RemoveQueueThrough(watermark int64, keep map[models.RecordKey]bool) (int, error) {
	entries, err := db.ListQueue()
	if err != nil {
		return 0, err
	}
	var seqs []int64
	for _, e := range entries {
		if e.Seq <= watermark && !keep[e.Key()] {
			seqs = append(seqs, e.Seq)
		}
	}
	return len(seqs), db.RemoveQueueEntries(seqs)
}

// RecordQueueFailure bumps the attempt count of the given seqs and returns the
// highest resulting count.
func (db *DB) RecordQueueFailure(seqs []int64, reason string) (int, error) {
	if len(seqs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(seqs)+1)
	args = append(args, reason)
	for _, s := range seqs {
		args = append(args, s)
	}
	var attempts int
	err := db.withWriteLock(func() error {
		in := placeholders(len(seqs))
		if _, err := db.conn.Exec(`UPDATE write_queue SET attempts = attempts + 1, last_error = ? WHERE seq IN (`+in+`)`, args...); err != nil {
			return fmt.Errorf("record queue failure: %w", err)
		}
		return db.conn.QueryRow(`SELECT COALESCE(MAX(attempts), 0) FROM write_queue WHERE seq IN (`+in+`)`, args[1:]...).Scan(&attempts)
	})
	return attempts, err
}

// ClearQueue drops every pending entry and returns how many there were.
func (db *DB) ClearQueue() (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`DELETE FROM write_queue`)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
