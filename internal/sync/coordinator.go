// Package sync keeps the local store and the remote store converged: conflict
// resolution, the write queue, full and incremental sync cycles, the change
// listener and the connectivity prober.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
	"github.com/marcus/riff/internal/validate"
)

// LocalStore is the subset of the local database the coordinator drives.
type LocalStore interface {
	QueueStore

	Get(t models.RecordType, id string) (*models.Record, error)
	Put(rec models.Record) (*models.Record, error)
	ApplyRemote(rec models.Record) (*models.Record, bool, error)
	Delete(t models.RecordType, id string, at time.Time) (*models.Record, error)
	ListAll(t models.RecordType) ([]models.Record, error)
	ListDirty(t models.RecordType) ([]models.Record, error)
	MarkClean(t models.RecordType, id string, updatedAt time.Time) (bool, error)
	MarkCleanBatch(t models.RecordType, recs []models.Record) (int, error)
	CountDirty() (int, error)
	GetSettings() (models.Settings, *models.Record, error)

	GetSyncState() (*db.SyncState, error)
	SaveSyncProgress(lastSyncAt time.Time, cursors map[models.RecordType]time.Time) error
	SetAuthRequired(required bool) error

	SaveConflict(c db.Conflict) error
	ListConflicts() ([]db.Conflict, error)
	GetConflict(t models.RecordType, id string) (*db.Conflict, error)
	ConflictKeys() (map[models.RecordKey]bool, error)
	DeleteConflict(t models.RecordType, id string) error
}

// Options tune a Coordinator. Zero values select defaults.
type Options struct {
	Strategy       Strategy
	RequestTimeout time.Duration // per remote call, default 15s
	CycleTimeout   time.Duration // whole sync cycle watchdog, default 2m
	MaxAttempts    int           // poison threshold, default 5
	ProbeMin       time.Duration // connectivity probe backoff, default 1s
	ProbeMax       time.Duration // default 5m
	Validator      validate.Validator
	Resolver       func(s Strategy, local, remote []models.Record, lastSync time.Time) Resolution
	Logger         *slog.Logger
	Now            func() time.Time
}

func (o *Options) defaults() {
	if o.Strategy == "" {
		o.Strategy = StrategyLatest
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = 2 * time.Minute
	}
	if o.ProbeMin <= 0 {
		o.ProbeMin = time.Second
	}
	if o.ProbeMax <= 0 {
		o.ProbeMax = 5 * time.Minute
	}
	if o.Validator == nil {
		o.Validator = validate.NewSchemaValidator()
	}
	if o.Resolver == nil {
		o.Resolver = Resolve
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Coordinator owns the sync state of one signed-in user. Create one per
// session with New and Close it on sign-out.
type Coordinator struct {
	local  LocalStore
	remote remote.Store
	queue  *WriteQueue
	broker *Broker
	userID string
	opts   Options
	log    *slog.Logger

	inFlight atomic.Bool
	closed   atomic.Bool

	mu       sync.Mutex
	state    State
	strategy Strategy
	lastErr  error

	stampMu   sync.Mutex
	lastStamp time.Time

	trigger chan string
	wake    chan struct{}

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

// New builds a coordinator for userID.
func New(local LocalStore, r remote.Store, userID string, opts Options) *Coordinator {
	opts.defaults()
	c := &Coordinator{
		local:    local,
		remote:   r,
		broker:   NewBroker(),
		userID:   userID,
		opts:     opts,
		log:      opts.Logger.With("component", "sync", "user", userID),
		state:    StateIdle,
		strategy: opts.Strategy,
		trigger:  make(chan string, 1),
		wake:     make(chan struct{}, 1),
	}
	c.queue = NewWriteQueue(local, r, opts.MaxAttempts, opts.RequestTimeout, c.log)
	c.queue.held = local.ConflictKeys
	c.queue.onDrop = func(e db.QueueEntry, err error) {
		// A dropped write must not come back through the next cycle's batch.
		// A newer local edit has a different updatedAt and stays dirty.
		if _, cerr := local.MarkClean(e.Type, e.ID, e.Record.UpdatedAt); cerr != nil {
			c.log.Warn("mark dropped write clean", "type", e.Type, "id", e.ID, "err", cerr)
		}
		rec := e.Record
		c.broker.Publish(Notification{Kind: NoteQueueEntryDropped, Type: e.Type, Record: &rec, Err: err})
	}
	return c
}

// Queue exposes the write queue.
func (c *Coordinator) Queue() *WriteQueue { return c.queue }

// Subscribe registers an observer. See Broker.Subscribe.
func (c *Coordinator) Subscribe(buffer int) (<-chan Notification, func()) {
	return c.broker.Subscribe(buffer)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("state change", "from", prev, "to", s)
		c.broker.Publish(Notification{Kind: NoteStateChanged, State: s})
		if s == StateOffline {
			select {
			case c.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Strategy returns the active conflict strategy.
func (c *Coordinator) Strategy() Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy
}

// SetStrategy switches the conflict strategy for subsequent cycles.
func (c *Coordinator) SetStrategy(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy = s
}

// stamp returns an updatedAt for a local write: the current time, bumped past
// the previous version and the last stamp this coordinator issued.
func (c *Coordinator) stamp(prev *models.Record) time.Time {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()
	now := c.opts.Now().UTC()
	floor := c.lastStamp
	if prev != nil && prev.UpdatedAt.After(floor) {
		floor = prev.UpdatedAt
	}
	if !now.After(floor) {
		now = floor.Add(time.Millisecond)
	}
	c.lastStamp = now
	return now
}

// EnqueueOrWrite validates and stores rec locally, then writes it to the
// remote. When the remote cannot take it (offline, unavailable, rejected, or a
// sync cycle is running) the write is queued instead; only validation and
// local storage failures reach the caller.
func (c *Coordinator) EnqueueOrWrite(ctx context.Context, rec models.Record) (models.Record, error) {
	if c.closed.Load() {
		return rec, ErrClosed
	}
	if rec.Type == models.TypeSettings {
		rec.ID = models.SettingsID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Deleted = false

	rec, err := c.opts.Validator.Validate(rec)
	if err != nil {
		return rec, err
	}

	prev, err := c.local.Get(rec.Type, rec.ID)
	if err != nil {
		return rec, fmt.Errorf("load %s/%s: %w", rec.Type, rec.ID, err)
	}
	rec.UpdatedAt = c.stamp(prev)
	rec.CreatedAt = rec.UpdatedAt
	if prev != nil && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	if _, err := c.local.Put(rec); err != nil {
		return rec, fmt.Errorf("store %s/%s: %w", rec.Type, rec.ID, err)
	}

	op, kind := events.OpUpdate, events.ChangeUpdated
	if prev == nil || prev.Deleted {
		op, kind = events.OpSave, events.ChangeCreated
	}
	stored := rec.Clone()
	c.broker.Publish(Notification{Kind: NoteRecordChanged, Type: rec.Type, Change: kind, Record: &stored})

	c.writeThrough(ctx, op, rec)
	return rec, nil
}

// Delete tombstones a record locally and propagates the deletion.
func (c *Coordinator) Delete(ctx context.Context, t models.RecordType, id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !events.IsValidTypeOperationCombination(t, events.OpDelete) {
		return fmt.Errorf("%s records cannot be deleted", t)
	}
	prev, err := c.local.Get(t, id)
	if err != nil {
		return fmt.Errorf("load %s/%s: %w", t, id, err)
	}
	if prev == nil || prev.Deleted {
		return fmt.Errorf("%s %s: %w", t, id, ErrRecordNotFound)
	}

	at := c.stamp(prev)
	if _, err := c.local.Delete(t, id, at); err != nil {
		return fmt.Errorf("delete %s/%s: %w", t, id, err)
	}
	tomb := models.Record{ID: id, Type: t, CreatedAt: prev.CreatedAt, UpdatedAt: at, Deleted: true}
	c.broker.Publish(Notification{Kind: NoteRecordChanged, Type: t, Change: events.ChangeDeleted, Record: &tomb})

	c.writeThrough(ctx, events.OpDelete, tomb)
	return nil
}

// writeThrough tries the remote directly and falls back to the queue.
func (c *Coordinator) writeThrough(ctx context.Context, op events.Operation, rec models.Record) {
	if reason := c.directWriteBlocked(); reason != "" {
		c.enqueue(op, rec, reason)
		return
	}
	if cf, err := c.local.GetConflict(rec.Type, rec.ID); err != nil || cf != nil {
		c.enqueue(op, rec, "conflict pending")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	var err error
	if op == events.OpDelete {
		err = c.remote.Delete(rctx, c.userID, rec.Type, rec.ID, rec.UpdatedAt)
	} else {
		err = c.remote.Put(rctx, c.userID, rec)
	}
	if err != nil {
		c.noteRemoteError(err)
		c.enqueue(op, rec, err.Error())
		return
	}
	if _, err := c.local.MarkClean(rec.Type, rec.ID, rec.UpdatedAt); err != nil {
		c.log.Warn("mark clean after write", "type", rec.Type, "id", rec.ID, "err", err)
	}
}

func (c *Coordinator) directWriteBlocked() string {
	if c.inFlight.Load() {
		return "sync in progress"
	}
	if c.State() == StateOffline {
		return "offline"
	}
	st, err := c.local.GetSyncState()
	switch {
	case err != nil:
		return err.Error()
	case st == nil:
		return "not linked"
	case st.AuthRequired:
		return "auth required"
	case st.SyncDisabled:
		return "sync disabled"
	}
	if s, _, err := c.local.GetSettings(); err == nil && !s.SyncEnabled() {
		return "sync disabled"
	}
	return ""
}

func (c *Coordinator) enqueue(op events.Operation, rec models.Record, reason string) {
	if _, err := c.queue.Enqueue(op, rec); err != nil {
		// The record is stored locally and dirty, so the next sync still carries it.
		c.log.Error("enqueue write", "type", rec.Type, "id", rec.ID, "err", err)
		return
	}
	c.log.Info("write queued", "op", op, "type", rec.Type, "id", rec.ID, "reason", reason)
}

// noteRemoteError moves the state machine on transport and auth failures.
func (c *Coordinator) noteRemoteError(err error) {
	switch {
	case remote.IsAuth(err):
		c.log.Warn("remote rejected credentials", "err", err)
		if serr := c.local.SetAuthRequired(true); serr != nil {
			c.log.Error("persist auth-required", "err", serr)
		}
	case remote.IsUnavailable(err):
		c.setState(StateOffline)
	}
}

// Status reports sync health.
func (c *Coordinator) Status() (Status, error) {
	st, err := c.local.GetSyncState()
	if err != nil {
		return Status{}, err
	}
	pending, err := c.local.QueueLen()
	if err != nil {
		return Status{}, err
	}
	dirty, err := c.local.CountDirty()
	if err != nil {
		return Status{}, err
	}
	conflicts, err := c.local.ListConflicts()
	if err != nil {
		return Status{}, err
	}
	settings, _, err := c.local.GetSettings()
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	s := Status{
		InProgress:    c.inFlight.Load(),
		State:         c.state,
		Strategy:      c.strategy,
		PendingCount:  pending,
		DirtyCount:    dirty,
		ConflictCount: len(conflicts),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if st != nil {
		s.Enabled = !st.SyncDisabled && settings.SyncEnabled()
		s.LastSyncTime = st.LastSyncAt
		s.AuthRequired = st.AuthRequired
	}
	return s, nil
}

// SyncNow runs an incremental cycle, or a full one if the store never synced.
// A call made while a cycle is in flight returns nil without doing anything.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	_, err := c.run(ctx, "")
	return err
}

// FullSync reconciles entire collections in both directions.
func (c *Coordinator) FullSync(ctx context.Context) (CycleResult, error) {
	return c.run(ctx, ModeFull)
}

// IncrementalSync reconciles only what changed since the last sync.
func (c *Coordinator) IncrementalSync(ctx context.Context) (CycleResult, error) {
	return c.run(ctx, ModeIncremental)
}

// Drain flushes the write queue outside a sync cycle, under the same
// single-flight guard.
func (c *Coordinator) Drain(ctx context.Context) (DrainResult, error) {
	if c.closed.Load() {
		return DrainResult{}, ErrClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return DrainResult{}, nil
	}
	defer c.inFlight.Store(false)

	if _, err := c.linkedState(); err != nil {
		return DrainResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CycleTimeout)
	defer cancel()

	res, err := c.queue.Drain(ctx, c.userID)
	if err != nil {
		c.noteRemoteError(err)
		return res, err
	}
	if c.State() == StateOffline {
		c.setState(StateIdle)
	}
	return res, nil
}

// linkedState loads the sync state and checks sync may run.
func (c *Coordinator) linkedState() (*db.SyncState, error) {
	st, err := c.local.GetSyncState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotLinked
	}
	if st.AuthRequired {
		return nil, ErrAuthRequired
	}
	if st.SyncDisabled {
		return nil, ErrSyncDisabled
	}
	settings, _, err := c.local.GetSettings()
	if err != nil {
		return nil, err
	}
	if !settings.SyncEnabled() {
		return nil, ErrSyncDisabled
	}
	return st, nil
}

func (c *Coordinator) run(ctx context.Context, mode Mode) (CycleResult, error) {
	if c.closed.Load() {
		return CycleResult{}, ErrClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug("sync already in flight, coalescing")
		return CycleResult{Skipped: true}, nil
	}
	defer c.inFlight.Store(false)

	st, err := c.linkedState()
	if err != nil {
		return CycleResult{}, err
	}
	if mode == "" {
		mode = ModeIncremental
		if st.LastSyncAt.IsZero() {
			mode = ModeFull
		}
	}

	prevState := c.State()
	c.setState(StateSyncing)
	c.broker.Publish(Notification{Kind: NoteSyncStarted})

	ctx, cancel := context.WithTimeout(ctx, c.opts.CycleTimeout)
	defer cancel()

	res, err := c.cycle(ctx, mode, st)
	res.Duration = c.opts.Now().Sub(res.Started)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("sync failed", "mode", mode, "err", err)
		switch {
		case remote.IsUnavailable(err):
			c.setState(StateOffline)
		case remote.IsAuth(err):
			c.noteRemoteError(err)
			c.setState(StateIdle)
		case prevState == StateOffline:
			c.setState(StateOffline)
		default:
			c.setState(StateIdle)
		}
		c.broker.Publish(Notification{Kind: NoteSyncFailed, Err: err})
		return res, err
	}

	c.log.Info("sync complete", "mode", mode, "pulled", res.Pulled, "pushed", res.Pushed,
		"conflicts", res.Conflicts, "acked", res.Acked, "drained", res.Drain.Entries, "duration", res.Duration)
	c.setState(StateIdle)
	result := res
	c.broker.Publish(Notification{Kind: NoteSyncCompleted, Result: &result})
	return res, nil
}

// Close stops background work and releases observers. The coordinator must
// not be used afterwards.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.StopAutoSync()
	c.broker.Close()
	return nil
}
