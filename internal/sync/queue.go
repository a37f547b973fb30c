package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
	"golang.org/x/time/rate"
)

// QueueStore is the durable backing of the write queue.
type QueueStore interface {
	Enqueue(e *db.QueueEntry) error
	ListQueue() ([]db.QueueEntry, error)
	QueueLen() (int, error)
	MaxQueueSeq() (int64, error)
	RemoveQueueEntries(seqs []int64) error
	RemoveQueueThrough(watermark int64, keep map[models.RecordKey]bool) (int, error)
	RecordQueueFailure(seqs []int64, reason string) (int, error)
}

// DefaultMaxAttempts is how many non-transient failures an entry survives.
const DefaultMaxAttempts = 5

// WriteQueue buffers writes the remote could not take yet.
type WriteQueue struct {
	store          QueueStore
	remote         remote.Store
	maxAttempts    int
	requestTimeout time.Duration
	limiter        *rate.Limiter
	log            *slog.Logger
	onDrop         func(db.QueueEntry, error)
	held           func() (map[models.RecordKey]bool, error)
}

// NewWriteQueue builds a queue draining into r. A non-positive maxAttempts
// selects DefaultMaxAttempts.
func NewWriteQueue(store QueueStore, r remote.Store, maxAttempts int, requestTimeout time.Duration, logger *slog.Logger) *WriteQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteQueue{
		store:          store,
		remote:         r,
		maxAttempts:    maxAttempts,
		requestTimeout: requestTimeout,
		limiter:        rate.NewLimiter(rate.Limit(20), 5),
		log:            logger,
	}
}

// SetRate changes drain pacing in writes per second.
func (q *WriteQueue) SetRate(perSecond float64, burst int) {
	q.limiter.SetLimit(rate.Limit(perSecond))
	q.limiter.SetBurst(burst)
}

// Enqueue records a write intent. A save without an id gets a fresh one so
// later writes to the same record coalesce with it.
func (q *WriteQueue) Enqueue(op events.Operation, rec models.Record) (db.QueueEntry, error) {
	if !events.IsValidTypeOperationCombination(rec.Type, op) {
		return db.QueueEntry{}, fmt.Errorf("cannot %s %s", op, rec.Type)
	}
	if rec.ID == "" {
		if op != events.OpSave {
			return db.QueueEntry{}, fmt.Errorf("%s %s: missing id", op, rec.Type)
		}
		rec.ID = uuid.NewString()
	}
	e := db.QueueEntry{Type: rec.Type, Operation: op, ID: rec.ID, Record: rec}
	if err := q.store.Enqueue(&e); err != nil {
		return e, err
	}
	q.log.Debug("queued write", "seq", e.Seq, "op", op, "type", rec.Type, "id", rec.ID)
	return e, nil
}

// Pending returns the number of queued entries.
func (q *WriteQueue) Pending() (int, error) {
	return q.store.QueueLen()
}

// Write is one coalesced remote write covering one or more queue entries.
type Write struct {
	Operation events.Operation
	Record    models.Record
	Seqs      []int64
	Attempts  int
}

// Coalesce folds entries per record so each record is written once, with its
// latest payload. Writes keep the order in which their record first appeared.
// A save followed by updates stays a save; anything ending in a delete is a delete.
func Coalesce(entries []db.QueueEntry) []Write {
	index := make(map[models.RecordKey]int)
	var writes []Write
	for _, e := range entries {
		i, ok := index[e.Key()]
		if !ok {
			index[e.Key()] = len(writes)
			writes = append(writes, Write{Operation: e.Operation, Record: e.Record, Seqs: []int64{e.Seq}, Attempts: e.Attempts})
			continue
		}
		w := &writes[i]
		w.Seqs = append(w.Seqs, e.Seq)
		w.Record = e.Record
		w.Attempts = max(w.Attempts, e.Attempts)
		switch {
		case e.Operation == events.OpDelete:
			w.Operation = events.OpDelete
		case w.Operation == events.OpDelete:
			// recreated after a delete
			w.Operation = events.OpSave
		case w.Operation != events.OpSave:
			w.Operation = e.Operation
		}
	}
	return writes
}

// Drain sends every queued write to the remote, except writes to records held
// by an unresolved conflict. It stops at the first
// Unavailable or auth failure and returns that error with the rest still
// queued. Other failures count against the entry, which is dropped once it
// reaches the attempt limit.
func (q *WriteQueue) Drain(ctx context.Context, userID string) (DrainResult, error) {
	var res DrainResult
	entries, err := q.store.ListQueue()
	if err != nil {
		return res, fmt.Errorf("list queue: %w", err)
	}
	writes := Coalesce(entries)
	if q.held != nil {
		held, err := q.held()
		if err != nil {
			return res, fmt.Errorf("load held records: %w", err)
		}
		kept := writes[:0]
		for _, w := range writes {
			if held[w.Record.Key()] {
				res.Held += len(w.Seqs)
				continue
			}
			kept = append(kept, w)
		}
		writes = kept
	}

	for i, w := range writes {
		if err := q.limiter.Wait(ctx); err != nil {
			res.Deferred += countSeqs(writes[i:])
			return res, err
		}

		err := q.apply(ctx, userID, w)
		switch {
		case err == nil:
			if err := q.store.RemoveQueueEntries(w.Seqs); err != nil {
				return res, fmt.Errorf("ack queue entries: %w", err)
			}
			res.Applied++
			res.Entries += len(w.Seqs)

		case remote.IsUnavailable(err) || remote.IsAuth(err):
			res.Deferred += countSeqs(writes[i:])
			return res, err

		default:
			attempts, ferr := q.store.RecordQueueFailure(w.Seqs, err.Error())
			if ferr != nil {
				return res, fmt.Errorf("record queue failure: %w", ferr)
			}
			if attempts < q.maxAttempts {
				q.log.Warn("queued write failed", "type", w.Record.Type, "id", w.Record.ID, "attempts", attempts, "err", err)
				res.Failed++
				continue
			}
			q.log.Error("dropping queued write", "type", w.Record.Type, "id", w.Record.ID, "attempts", attempts, "err", err)
			if err := q.store.RemoveQueueEntries(w.Seqs); err != nil {
				return res, fmt.Errorf("drop queue entries: %w", err)
			}
			res.Dropped++
			if q.onDrop != nil {
				q.onDrop(db.QueueEntry{Type: w.Record.Type, Operation: w.Operation, ID: w.Record.ID, Record: w.Record, Attempts: attempts}, err)
			}
		}
	}
	return res, nil
}

func (q *WriteQueue) apply(ctx context.Context, userID string, w Write) error {
	if q.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.requestTimeout)
		defer cancel()
	}
	if w.Operation == events.OpDelete {
		return q.remote.Delete(ctx, userID, w.Record.Type, w.Record.ID, w.Record.UpdatedAt)
	}
	return q.remote.Put(ctx, userID, w.Record)
}

func countSeqs(writes []Write) int {
	n := 0
	for _, w := range writes {
		n += len(w.Seqs)
	}
	return n
}
