package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
	"golang.org/x/sync/errgroup"
)

const (
	// maxBatchOps matches the server's per-batch limit.
	maxBatchOps = 500
	// maxBatchBytes keeps a batch request under the server's 10 MiB body limit.
	maxBatchBytes = 8 << 20
	// opEnvelope is the room taken by the collection, id and operation fields
	// wrapped around each record in a batch request.
	opEnvelope = 128
)

// side is one record type's input to the resolver.
type side struct {
	t      models.RecordType
	local  []models.Record
	remote []models.Record
	cursor time.Time
}

// cycle runs one sync. Fetches for all types run concurrently and must all
// succeed before anything is written. The remote batch commit happens before
// any local write, so a failure leaves the local store untouched.
func (c *Coordinator) cycle(ctx context.Context, mode Mode, st *db.SyncState) (CycleResult, error) {
	res := CycleResult{Mode: mode, Started: c.opts.Now().UTC()}
	strategy := c.Strategy()

	// Queue entries up to here are covered by this cycle's merge.
	watermark, err := c.local.MaxQueueSeq()
	if err != nil {
		return res, fmt.Errorf("read queue watermark: %w", err)
	}
	held, err := c.local.ConflictKeys()
	if err != nil {
		return res, fmt.Errorf("load conflicts: %w", err)
	}

	types := models.AllRecordTypes()
	sides := make([]side, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			s, err := c.fetchSide(gctx, mode, st, t)
			if err != nil {
				return err
			}
			sides[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	resolutions := make([]Resolution, len(sides))
	var ops []remote.Op
	for i, s := range sides {
		local, rem, err := c.holdBack(s, held)
		if err != nil {
			return res, err
		}
		r := c.opts.Resolver(strategy, local, rem, st.LastSyncAt)
		for _, rec := range r.ToRemote {
			ops = append(ops, remote.PutOp(rec))
		}
		resolutions[i] = r
	}

	pushed, rejected, err := c.commit(ctx, ops)
	if err != nil {
		return res, err
	}
	res.Pushed = pushed
	res.Rejected = len(rejected)

	var changed []Notification
	for _, rj := range rejected {
		// The local copy stays and is marked clean with the rest of Merged,
		// so it is not resent until it is edited again or a full sync runs.
		c.log.Error("dropping rejected write", "type", rj.rec.Type, "id", rj.rec.ID, "err", rj.err)
		rec := rj.rec.Clone()
		changed = append(changed, Notification{Kind: NoteQueueEntryDropped, Type: rec.Type, Record: &rec, Err: rj.err})
	}
	for i, s := range sides {
		r := resolutions[i]
		for _, rec := range r.ToLocal {
			prev, applied, err := c.local.ApplyRemote(rec)
			if err != nil {
				return res, fmt.Errorf("apply %s/%s locally: %w", rec.Type, rec.ID, err)
			}
			if !applied {
				// edited locally mid-cycle; stays dirty for the next cycle
				continue
			}
			res.Pulled++
			stored := rec.Clone()
			changed = append(changed, Notification{Kind: NoteRecordChanged, Type: s.t, Change: changeKind(prev, rec), Record: &stored})
		}

		conflicted := make(map[string]bool, len(r.Conflicts))
		for _, cf := range r.Conflicts {
			conflicted[cf.Local.ID] = true
			held[cf.Local.Key()] = true
			if err := c.local.SaveConflict(db.Conflict{Type: s.t, RecordID: cf.Local.ID, Local: cf.Local, Remote: cf.Remote}); err != nil {
				return res, fmt.Errorf("store conflict %s/%s: %w", s.t, cf.Local.ID, err)
			}
			local := cf.Local
			changed = append(changed, Notification{Kind: NoteConflict, Type: s.t, Record: &local})
			res.Conflicts++
		}

		settled := make([]models.Record, 0, len(r.Merged))
		for _, rec := range r.Merged {
			if !conflicted[rec.ID] {
				settled = append(settled, rec)
			}
		}
		if _, err := c.local.MarkCleanBatch(s.t, settled); err != nil {
			return res, fmt.Errorf("mark %s clean: %w", s.t, err)
		}
	}

	acked, err := c.local.RemoveQueueThrough(watermark, held)
	if err != nil {
		return res, fmt.Errorf("ack queue: %w", err)
	}
	res.Acked = acked

	cursors := make(map[models.RecordType]time.Time, len(sides))
	for _, s := range sides {
		if !s.cursor.IsZero() {
			cursors[s.t] = s.cursor
		}
	}
	if err := c.local.SaveSyncProgress(res.Started, cursors); err != nil {
		return res, fmt.Errorf("save sync progress: %w", err)
	}

	for _, n := range changed {
		c.broker.Publish(n)
	}

	// Writes queued while this cycle ran
	drained, err := c.queue.Drain(ctx, c.userID)
	res.Drain = drained
	if err != nil {
		c.log.Warn("post-sync drain stopped", "deferred", drained.Deferred, "err", err)
		if remote.IsAuth(err) {
			c.noteRemoteError(err)
		}
	}
	return res, nil
}

func (c *Coordinator) fetchSide(ctx context.Context, mode Mode, st *db.SyncState, t models.RecordType) (side, error) {
	s := side{t: t}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	var (
		page remote.Page
		err  error
	)
	cursor := st.Cursors[t]
	if mode == ModeFull || cursor.IsZero() {
		page, err = c.remote.FetchAll(rctx, c.userID, t)
	} else {
		page, err = c.remote.FetchSince(rctx, c.userID, t, cursor)
	}
	if err != nil {
		return s, fmt.Errorf("fetch remote %s: %w", t, err)
	}
	s.remote, s.cursor = page.Records, page.Cursor

	if mode == ModeFull {
		s.local, err = c.local.ListAll(t)
	} else {
		s.local, err = c.localDelta(t, s.remote)
	}
	if err != nil {
		return s, fmt.Errorf("load local %s: %w", t, err)
	}
	return s, nil
}

// localDelta is the dirty set plus the local copy of every record the remote
// reported changed, so the resolver compares like with like.
func (c *Coordinator) localDelta(t models.RecordType, remoteChanged []models.Record) ([]models.Record, error) {
	dirty, err := c.local.ListDirty(t)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(dirty))
	for _, rec := range dirty {
		seen[rec.ID] = true
	}
	for _, rr := range remoteChanged {
		if seen[rr.ID] {
			continue
		}
		rec, err := c.local.Get(t, rr.ID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			dirty = append(dirty, *rec)
			seen[rr.ID] = true
		}
	}
	return dirty, nil
}

// holdBack removes records with an unresolved conflict from both sides and
// refreshes the stored versions with anything newer.
func (c *Coordinator) holdBack(s side, held map[models.RecordKey]bool) ([]models.Record, []models.Record, error) {
	if len(held) == 0 {
		return s.local, s.remote, nil
	}
	var local, rem []models.Record
	updates := make(map[string]*db.Conflict)
	load := func(id string) (*db.Conflict, error) {
		if cf, ok := updates[id]; ok {
			return cf, nil
		}
		cf, err := c.local.GetConflict(s.t, id)
		if err != nil || cf == nil {
			return nil, err
		}
		updates[id] = cf
		return cf, nil
	}

	for _, rec := range s.local {
		if !held[rec.Key()] {
			local = append(local, rec)
			continue
		}
		cf, err := load(rec.ID)
		if err != nil {
			return nil, nil, err
		}
		if cf != nil && rec.UpdatedAt.After(cf.Local.UpdatedAt) {
			cf.Local = rec
		}
	}
	for _, rec := range s.remote {
		if !held[rec.Key()] {
			rem = append(rem, rec)
			continue
		}
		cf, err := load(rec.ID)
		if err != nil {
			return nil, nil, err
		}
		if cf != nil && rec.UpdatedAt.After(cf.Remote.UpdatedAt) {
			cf.Remote = rec
		}
	}
	for _, cf := range updates {
		if err := c.local.SaveConflict(*cf); err != nil {
			return nil, nil, fmt.Errorf("refresh conflict %s/%s: %w", s.t, cf.RecordID, err)
		}
	}
	return local, rem, nil
}

// rejection is a write the remote refused for the record itself.
type rejection struct {
	rec models.Record
	err error
}

// commit sends ops as atomic batches bounded by maxBatchOps and maxBatchBytes
// and returns how many records the remote took. Batches committed before a
// failure stay committed. When the remote rejects a batch for a reason other
// than availability or auth, its records are sent one at a time so a single
// bad record cannot hold back the rest; records refused on their own, or too
// large for any batch, are returned instead of failing the cycle.
func (c *Coordinator) commit(ctx context.Context, ops []remote.Op) (int, []rejection, error) {
	chunks, oversized := chunkOps(ops, maxBatchOps, maxBatchBytes)
	var rejected []rejection
	for _, op := range oversized {
		rejected = append(rejected, rejection{rec: op.Record, err: ErrRecordTooLarge})
	}

	pushed := 0
	for _, chunk := range chunks {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		err := c.remote.BatchCommit(rctx, c.userID, chunk)
		cancel()
		if err == nil {
			pushed += len(chunk)
			continue
		}
		if remote.IsUnavailable(err) || remote.IsAuth(err) {
			return pushed, rejected, fmt.Errorf("commit %d remote writes: %w", len(chunk), err)
		}

		c.log.Warn("batch rejected, sending records one at a time", "ops", len(chunk), "err", err)
		for _, op := range chunk {
			err := c.commitOne(ctx, op)
			switch {
			case err == nil:
				pushed++
			case remote.IsUnavailable(err) || remote.IsAuth(err):
				return pushed, rejected, fmt.Errorf("write %s/%s: %w", op.Record.Type, op.Record.ID, err)
			default:
				rejected = append(rejected, rejection{rec: op.Record, err: err})
			}
		}
	}
	return pushed, rejected, nil
}

func (c *Coordinator) commitOne(ctx context.Context, op remote.Op) error {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	if op.Kind == remote.OpDelete {
		return c.remote.Delete(rctx, c.userID, op.Record.Type, op.Record.ID, op.Record.UpdatedAt)
	}
	return c.remote.Put(rctx, c.userID, op.Record)
}

// chunkOps splits ops, in order, into batches of at most maxOps ops and
// maxBytes of encoded records. Ops larger than maxBytes on their own cannot be
// sent in any request and are returned separately.
func chunkOps(ops []remote.Op, maxOps, maxBytes int) (chunks [][]remote.Op, oversized []remote.Op) {
	var (
		cur  []remote.Op
		size int
	)
	for _, op := range ops {
		n := opSize(op)
		if n > maxBytes {
			oversized = append(oversized, op)
			continue
		}
		if len(cur) == maxOps || (len(cur) > 0 && size+n > maxBytes) {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, op)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks, oversized
}

// opSize is the encoded size of op inside a batch request.
func opSize(op remote.Op) int {
	b, err := json.Marshal(op.Record)
	if err != nil {
		// unencodable; the remote refuses it and it takes the rejection path
		return len(op.Record.Payload) + opEnvelope
	}
	return len(b) + opEnvelope
}

func changeKind(prev *models.Record, rec models.Record) events.ChangeKind {
	switch {
	case rec.Deleted:
		return events.ChangeDeleted
	case prev == nil || prev.Deleted:
		return events.ChangeCreated
	}
	return events.ChangeUpdated
}
