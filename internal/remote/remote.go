// Package remote defines the contract between the sync core and a per-user
// remote collection store.
package remote

import (
	"context"
	"time"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
)

// OpKind is the kind of a batched remote write.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

// Op is one write inside an atomic batch. For OpDelete only Record.Type,
// Record.ID and Record.UpdatedAt (the deletion time) are used.
type Op struct {
	Kind   OpKind
	Record models.Record
}

// PutOp builds the batch op that mirrors rec, tombstones included.
func PutOp(rec models.Record) Op {
	if rec.Deleted {
		return Op{Kind: OpDelete, Record: rec}
	}
	return Op{Kind: OpPut, Record: rec}
}

// Page is the result of a collection fetch. Cursor is the remote's own
// watermark for the collection and is what the next FetchSince should pass.
type Page struct {
	Records []models.Record
	Cursor  time.Time
}

// ChangeEvent is one remote push notification.
type ChangeEvent struct {
	Type       models.RecordType
	Kind       events.ChangeKind
	ID         string
	UpdatedAt  time.Time
	ServerTime time.Time
}

// Store is the remote store adapter. Every method may block on the network and
// must honour ctx. Network failures are reported as ErrUnavailable; auth failures
// as ErrUnauthorized or ErrForbidden.
type Store interface {
	// FetchAll returns every record of type t, tombstones included.
	FetchAll(ctx context.Context, userID string, t models.RecordType) (Page, error)

	// FetchSince returns records of type t that arrived after the since cursor.
	FetchSince(ctx context.Context, userID string, t models.RecordType, since time.Time) (Page, error)

	// Put upserts one record, keeping its createdAt/updatedAt when set.
	Put(ctx context.Context, userID string, rec models.Record) error

	// Delete tombstones one record as of deletedAt.
	Delete(ctx context.Context, userID string, t models.RecordType, id string, deletedAt time.Time) error

	// BatchCommit applies all ops atomically, or none of them.
	BatchCommit(ctx context.Context, userID string, ops []Op) error

	// Subscribe opens a change stream for one collection. The channel is closed
	// when ctx is cancelled, the returned stop func is called, or the connection drops.
	Subscribe(ctx context.Context, userID string, t models.RecordType) (<-chan []ChangeEvent, func(), error)

	// Ping checks reachability without authentication.
	Ping(ctx context.Context) error
}
