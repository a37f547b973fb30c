package sync

import (
	"context"
	"fmt"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
)

// Keep names the side a manual resolution keeps.
type Keep string

const (
	KeepLocal  Keep = "local"
	KeepRemote Keep = "remote"
)

// ResolveConflict settles a conflict held by the manual strategy. The kept
// version is restamped past both sides so the next sync propagates it everywhere.
func (c *Coordinator) ResolveConflict(ctx context.Context, t models.RecordType, id string, keep Keep) (models.Record, error) {
	if c.closed.Load() {
		return models.Record{}, ErrClosed
	}
	cf, err := c.local.GetConflict(t, id)
	if err != nil {
		return models.Record{}, err
	}
	if cf == nil {
		return models.Record{}, fmt.Errorf("conflict %s/%s: %w", t, id, ErrRecordNotFound)
	}

	var chosen models.Record
	switch keep {
	case KeepLocal:
		chosen = cf.Local.Clone()
	case KeepRemote:
		chosen = cf.Remote.Clone()
	default:
		return models.Record{}, fmt.Errorf("keep must be %q or %q, got %q", KeepLocal, KeepRemote, keep)
	}

	newest := cf.Local
	if cf.Remote.UpdatedAt.After(newest.UpdatedAt) {
		newest = cf.Remote
	}
	current, err := c.local.Get(t, id)
	if err != nil {
		return models.Record{}, err
	}
	if current != nil && current.UpdatedAt.After(newest.UpdatedAt) {
		newest = *current
	}

	chosen.Type, chosen.ID = t, id
	chosen.UpdatedAt = c.stamp(&newest)
	if _, err := c.local.Put(chosen); err != nil {
		return models.Record{}, fmt.Errorf("store resolution: %w", err)
	}
	if err := c.dropQueued(chosen.Key()); err != nil {
		return models.Record{}, err
	}
	if err := c.local.DeleteConflict(t, id); err != nil {
		return models.Record{}, fmt.Errorf("clear conflict: %w", err)
	}

	op, kind := events.OpUpdate, events.ChangeUpdated
	if chosen.Deleted {
		op, kind = events.OpDelete, events.ChangeDeleted
	}
	stored := chosen.Clone()
	c.broker.Publish(Notification{Kind: NoteRecordChanged, Type: t, Change: kind, Record: &stored})
	c.log.Info("conflict resolved", "type", t, "id", id, "keep", keep)

	c.writeThrough(ctx, op, chosen)
	return chosen, nil
}

// dropQueued removes queued writes to key. The resolution supersedes them.
func (c *Coordinator) dropQueued(key models.RecordKey) error {
	entries, err := c.local.ListQueue()
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	var seqs []int64
	for _, e := range entries {
		if e.Key() == key {
			seqs = append(seqs, e.Seq)
		}
	}
	if len(seqs) == 0 {
		return nil
	}
	if err := c.local.RemoveQueueEntries(seqs); err != nil {
		return fmt.Errorf("drop superseded writes: %w", err)
	}
	return nil
}
