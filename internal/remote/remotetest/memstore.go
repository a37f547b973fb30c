// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
)

type doc struct {
	rec      models.Record
	serverAt time.Time
}

type subscriber struct {
	userID string
	t      models.RecordType
	ch     chan []remote.ChangeEvent
}

// MemStore is a remote.Store held in memory. Like the real server it assigns a
// strictly increasing arrival time per user and reports it as the fetch cursor.
type MemStore struct {
	mu    sync.Mutex
	docs  map[string]map[models.RecordType]map[string]*doc
	clock map[string]time.Time
	subs  map[int]*subscriber
	next  int
	calls map[string]int

	// Fail, when set, is consulted before every call; a non-nil result is
	// returned instead of performing it. op is the method name.
	Fail func(op string) error

	// Block, when set, is received from before every fetch. Tests use it to
	// hold a sync cycle open.
	Block chan struct{}

	// Reject, when set, is consulted for every record written. A non-nil
	// result refuses the write; inside a batch it refuses the whole batch.
	Reject func(rec models.Record) error

	// MaxBatchBytes, when positive, refuses batches whose encoded records
	// exceed it, as the server's request body limit does.
	MaxBatchBytes int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:  make(map[string]map[models.RecordType]map[string]*doc),
		clock: make(map[string]time.Time),
		subs:  make(map[int]*subscriber),
		calls: make(map[string]int),
	}
}

// SetOffline makes every call fail with remote.ErrUnavailable, or clears that.
func (m *MemStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !offline {
		m.Fail = nil
		return
	}
	m.Fail = func(string) error { return remote.ErrUnavailable }
}

// Calls returns how many times op was invoked, failures included.
func (m *MemStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Writes returns the number of Put, Delete and BatchCommit calls.
func (m *MemStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls["Put"] + m.calls["Delete"] + m.calls["BatchCommit"]
}

// ResetCalls zeroes the call counters.
func (m *MemStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// Get returns one stored record.
func (m *MemStore) Get(userID string, t models.RecordType, id string) (models.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[userID][t][id]
	if !ok {
		return models.Record{}, false
	}
	return d.rec.Clone(), true
}

// Seed stores records directly, as if another device had written them.
func (m *MemStore) Seed(userID string, recs ...models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changes []remote.ChangeEvent
	for _, rec := range recs {
		changes = append(changes, m.store(userID, rec))
	}
	m.publish(userID, changes)
}

func (m *MemStore) begin(op string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail(op)
	}
	return nil
}

func (m *MemStore) wait(ctx context.Context) error {
	if m.Block == nil {
		return nil
	}
	select {
	case <-m.Block:
		return nil
	case <-ctx.Done():
		return remote.ErrUnavailable
	}
}

// arrival returns the next server time for userID. Caller holds mu.
func (m *MemStore) arrival(userID string) time.Time {
	now := time.Now().UTC()
	if last := m.clock[userID]; !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	m.clock[userID] = now
	return now
}

// store upserts rec. Caller holds mu.
func (m *MemStore) store(userID string, rec models.Record) remote.ChangeEvent {
	byType := m.docs[userID]
	if byType == nil {
		byType = make(map[models.RecordType]map[string]*doc)
		m.docs[userID] = byType
	}
	coll := byType[rec.Type]
	if coll == nil {
		coll = make(map[string]*doc)
		byType[rec.Type] = coll
	}
	at := m.arrival(userID)
	kind := events.ChangeUpdated
	prev, ok := coll[rec.ID]
	switch {
	case rec.Deleted:
		kind = events.ChangeDeleted
	case !ok || prev.rec.Deleted:
		kind = events.ChangeCreated
	}
	rec = rec.Clone()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = at
	}
	if ok && !prev.rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.rec.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	if rec.Deleted {
		rec.Payload = nil
	}
	coll[rec.ID] = &doc{rec: rec, serverAt: at}
	return remote.ChangeEvent{Type: rec.Type, Kind: kind, ID: rec.ID, UpdatedAt: rec.UpdatedAt, ServerTime: at}
}

// publish fans changes out to subscribers. Caller holds mu.
func (m *MemStore) publish(userID string, changes []remote.ChangeEvent) {
	for _, s := range m.subs {
		if s.userID != userID {
			continue
		}
		var batch []remote.ChangeEvent
		for _, c := range changes {
			if c.Type == s.t {
				batch = append(batch, c)
			}
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case s.ch <- batch:
		default:
		}
	}
}

func (m *MemStore) page(userID string, t models.RecordType, since time.Time) remote.Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p remote.Page
	for _, d := range m.docs[userID][t] {
		if d.serverAt.After(p.Cursor) {
			p.Cursor = d.serverAt
		}
		if !since.IsZero() && !d.serverAt.After(since) {
			continue
		}
		p.Records = append(p.Records, d.rec.Clone())
	}
	sort.Slice(p.Records, func(i, j int) bool { return p.Records[i].ID < p.Records[j].ID })
	if p.Cursor.IsZero() {
		p.Cursor = since
	}
	return p
}

func (m *MemStore) FetchAll(ctx context.Context, userID string, t models.RecordType) (remote.Page, error) {
	if err := m.begin("FetchAll"); err != nil {
		return remote.Page{}, err
	}
	if err := m.wait(ctx); err != nil {
		return remote.Page{}, err
	}
	return m.page(userID, t, time.Time{}), nil
}

func (m *MemStore) FetchSince(ctx context.Context, userID string, t models.RecordType, since time.Time) (remote.Page, error) {
	if err := m.begin("FetchSince"); err != nil {
		return remote.Page{}, err
	}
	if err := m.wait(ctx); err != nil {
		return remote.Page{}, err
	}
	return m.page(userID, t, since), nil
}

func (m *MemStore) Put(ctx context.Context, userID string, rec models.Record) error {
	if err := m.begin("Put"); err != nil {
		return err
	}
	if !rec.Type.Valid() || rec.ID == "" {
		return &remote.APIError{Status: 400, Code: "bad_request", Message: "invalid record"}
	}
	if m.Reject != nil {
		if err := m.Reject(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish(userID, []remote.ChangeEvent{m.store(userID, rec)})
	return nil
}

func (m *MemStore) Delete(ctx context.Context, userID string, t models.RecordType, id string, deletedAt time.Time) error {
	if err := m.begin("Delete"); err != nil {
		return err
	}
	tomb := models.Record{ID: id, Type: t, UpdatedAt: deletedAt, Deleted: true}
	if m.Reject != nil {
		if err := m.Reject(tomb); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish(userID, []remote.ChangeEvent{m.store(userID, tomb)})
	return nil
}

func (m *MemStore) BatchCommit(ctx context.Context, userID string, ops []remote.Op) error {
	if err := m.begin("BatchCommit"); err != nil {
		return err
	}
	if len(ops) > 500 {
		return &remote.APIError{Status: 400, Code: "batch_too_large", Message: fmt.Sprintf("%d ops", len(ops))}
	}
	size := 0
	for _, op := range ops {
		if !op.Record.Type.Valid() || op.Record.ID == "" {
			return &remote.APIError{Status: 400, Code: "bad_request", Message: "invalid op"}
		}
		if m.Reject != nil {
			if err := m.Reject(op.Record); err != nil {
				return err
			}
		}
		if m.MaxBatchBytes > 0 {
			b, _ := json.Marshal(op.Record)
			size += len(b)
		}
	}
	if m.MaxBatchBytes > 0 && size > m.MaxBatchBytes {
		return &remote.APIError{Status: 413, Code: "too_large", Message: fmt.Sprintf("%d bytes", size)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := make([]remote.ChangeEvent, 0, len(ops))
	for _, op := range ops {
		rec := op.Record
		if op.Kind == remote.OpDelete {
			rec = models.Record{ID: rec.ID, Type: rec.Type, UpdatedAt: rec.UpdatedAt, Deleted: true}
		}
		changes = append(changes, m.store(userID, rec))
	}
	m.publish(userID, changes)
	return nil
}

func (m *MemStore) Subscribe(ctx context.Context, userID string, t models.RecordType) (<-chan []remote.ChangeEvent, func(), error) {
	if err := m.begin("Subscribe"); err != nil {
		return nil, nil, err
	}
	ch := make(chan []remote.ChangeEvent, 16)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = &subscriber{userID: userID, t: t, ch: ch}
	m.mu.Unlock()

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}

// Subscribers returns the number of open change streams.
func (m *MemStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// DropSubscribers closes every open change stream, as a dropped connection would.
func (m *MemStore) DropSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subs {
		delete(m.subs, id)
		close(s.ch)
	}
}

func (m *MemStore) Ping(ctx context.Context) error {
	return m.begin("Ping")
}

var _ remote.Store = (*MemStore)(nil)
