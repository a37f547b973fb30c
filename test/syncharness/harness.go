// Package syncharness drives several riff devices against one real riff-sync
// server so multi-device sync behavior can be tested end to end.
package syncharness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/marcus/riff/internal/api"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
	"github.com/marcus/riff/internal/serverdb"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncclient"
)

// Device is one simulated install: its own store, coordinator and link.
type Device struct {
	Name  string
	DB    *db.DB
	Coord *riffsync.Coordinator
	link  *switchedRemote
	skew  atomic.Int64
}

// Harness owns the server and the devices signed in to one account.
type Harness struct {
	t       *testing.T
	URL     string
	UserID  string
	APIKey  string
	Server  *serverdb.ServerDB
	Devices map[string]*Device
	names   []string
}

// NewHarness starts a server, creates one user and links numDevices devices
// (device-A, device-B, ...) to it using strategy.
func NewHarness(t *testing.T, numDevices int, strategy riffsync.Strategy) *Harness {
	t.Helper()
	tmp := t.TempDir()

	store, err := serverdb.Open(filepath.Join(tmp, "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	srv, err := api.NewServer(api.Config{
		RateLimitRead:      100000,
		RateLimitWrite:     100000,
		RateLimitSubscribe: 100000,
		UserDataDir:        filepath.Join(tmp, "users"),
	}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())

	u, err := store.CreateUser("harness@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	key, _, err := store.GenerateAPIKey(u.ID, "harness", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	h := &Harness{
		t:       t,
		URL:     httpSrv.URL,
		UserID:  u.ID,
		APIKey:  key,
		Server:  store,
		Devices: make(map[string]*Device),
	}
	// Devices close before the server so no request outlives it.
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Shutdown(context.Background())
		store.Close()
	})

	for i := 0; i < numDevices; i++ {
		name := "device-" + string(rune('A'+i))
		h.addDevice(name, filepath.Join(tmp, name), strategy)
	}
	return h
}

func (h *Harness) addDevice(name, dir string, strategy riffsync.Strategy) {
	t := h.t
	local, err := db.Initialize(dir)
	if err != nil {
		t.Fatalf("init %s store: %v", name, err)
	}
	if err := local.SetSyncState(h.UserID, string(strategy)); err != nil {
		t.Fatalf("link %s: %v", name, err)
	}

	d := &Device{Name: name, DB: local}
	d.link = &switchedRemote{Store: syncclient.New(h.URL, h.APIKey)}
	d.Coord = riffsync.New(local, d.link, h.UserID, riffsync.Options{
		Strategy:       strategy,
		RequestTimeout: 5 * time.Second,
		CycleTimeout:   30 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:            func() time.Time { return time.Now().Add(time.Duration(d.skew.Load())) },
	})
	t.Cleanup(func() {
		d.Coord.Close()
		local.Close()
	})

	h.Devices[name] = d
	h.names = append(h.names, name)
}

// Device returns the named device or fails the test.
func (h *Harness) Device(name string) *Device {
	h.t.Helper()
	d, ok := h.Devices[name]
	if !ok {
		h.t.Fatalf("unknown device: %s", name)
	}
	return d
}

// SetOffline cuts or restores one device's network.
func (h *Harness) SetOffline(name string, offline bool) {
	h.Device(name).link.offline.Store(offline)
}

// SetClockSkew shifts the device clock used to stamp local writes.
func (h *Harness) SetClockSkew(name string, skew time.Duration) {
	h.Device(name).skew.Store(int64(skew))
}

// Write saves a record on a device through its coordinator.
func (h *Harness) Write(name string, t models.RecordType, id string, payload any) models.Record {
	h.t.Helper()
	rec, err := models.NewRecord(t, id, payload)
	if err != nil {
		h.t.Fatalf("build %s/%s: %v", t, id, err)
	}
	saved, err := h.Device(name).Coord.EnqueueOrWrite(context.Background(), rec)
	if err != nil {
		h.t.Fatalf("%s: write %s/%s: %v", name, t, id, err)
	}
	return saved
}

// Delete tombstones a record on a device.
func (h *Harness) Delete(name string, t models.RecordType, id string) {
	h.t.Helper()
	if err := h.Device(name).Coord.Delete(context.Background(), t, id); err != nil {
		h.t.Fatalf("%s: delete %s/%s: %v", name, t, id, err)
	}
}

// Sync runs one incremental cycle on a device.
func (h *Harness) Sync(name string) riffsync.CycleResult {
	h.t.Helper()
	res, err := h.Device(name).Coord.IncrementalSync(context.Background())
	if err != nil {
		h.t.Fatalf("%s: sync: %v", name, err)
	}
	return res
}

// FullSync runs one full cycle on a device.
func (h *Harness) FullSync(name string) riffsync.CycleResult {
	h.t.Helper()
	res, err := h.Device(name).Coord.FullSync(context.Background())
	if err != nil {
		h.t.Fatalf("%s: full sync: %v", name, err)
	}
	return res
}

// SyncAll syncs every device twice, in order, so each sees every other's writes.
func (h *Harness) SyncAll() {
	h.t.Helper()
	for round := 0; round < 2; round++ {
		for _, name := range h.names {
			h.Sync(name)
		}
	}
}

// Get returns a device's local copy of a record, tombstones included.
func (h *Harness) Get(name string, t models.RecordType, id string) *models.Record {
	h.t.Helper()
	rec, err := h.Device(name).DB.Get(t, id)
	if err != nil {
		h.t.Fatalf("%s: get %s/%s: %v", name, t, id, err)
	}
	return rec
}

// Live counts a device's non-deleted records of type t.
func (h *Harness) Live(name string, t models.RecordType) int {
	h.t.Helper()
	recs, err := h.Device(name).DB.ListAll(t)
	if err != nil {
		h.t.Fatalf("%s: list %s: %v", name, t, err)
	}
	return len(models.Live(recs))
}

// ServerRecords fetches a collection straight from the server.
func (h *Harness) ServerRecords(t models.RecordType) []models.Record {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	page, err := syncclient.New(h.URL, h.APIKey).FetchAll(ctx, h.UserID, t)
	if err != nil {
		h.t.Fatalf("server fetch %s: %v", t, err)
	}
	return page.Records
}

// AssertConverged fails unless every device and the server hold the same
// version of every record.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	for _, t := range models.AllRecordTypes() {
		want := dump(h.ServerRecords(t))
		for _, name := range h.names {
			recs, err := h.Device(name).DB.ListAll(t)
			if err != nil {
				h.t.Fatalf("%s: list %s: %v", name, t, err)
			}
			if got := dump(recs); got != want {
				h.t.Errorf("%s diverged from server on %s:\n--- server\n%s--- %s\n%s", name, t, want, name, got)
			}
		}
	}
}

// Diff describes how two devices' stores differ, or returns "".
func (h *Harness) Diff(a, b string) string {
	h.t.Helper()
	var sb strings.Builder
	for _, t := range models.AllRecordTypes() {
		ra, err := h.Device(a).DB.ListAll(t)
		if err != nil {
			h.t.Fatalf("%s: list %s: %v", a, t, err)
		}
		rb, err := h.Device(b).DB.ListAll(t)
		if err != nil {
			h.t.Fatalf("%s: list %s: %v", b, t, err)
		}
		if x, y := dump(ra), dump(rb); x != y {
			fmt.Fprintf(&sb, "%s:\n--- %s\n%s--- %s\n%s", t, a, x, b, y)
		}
	}
	return sb.String()
}

// dump renders records one per line, sorted by id, with canonical payloads.
func dump(recs []models.Record) string {
	sorted := append([]models.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	var buf bytes.Buffer
	for _, r := range sorted {
		payload := "-"
		if !r.Deleted {
			if c, err := jcs.Transform(r.Payload); err == nil {
				payload = string(c)
			} else {
				payload = string(r.Payload)
			}
		}
		fmt.Fprintf(&buf, "%s deleted=%v updated=%s %s\n", r.ID, r.Deleted, r.UpdatedAt.UTC().Format(time.RFC3339Nano), payload)
	}
	return buf.String()
}

// switchedRemote is a remote.Store whose network can be cut.
type switchedRemote struct {
	remote.Store
	offline atomic.Bool
}

func (s *switchedRemote) down() error {
	if s.offline.Load() {
		return fmt.Errorf("%w: network down", remote.ErrUnavailable)
	}
	return nil
}

func (s *switchedRemote) FetchAll(ctx context.Context, userID string, t models.RecordType) (remote.Page, error) {
	if err := s.down(); err != nil {
		return remote.Page{}, err
	}
	return s.Store.FetchAll(ctx, userID, t)
}

func (s *switchedRemote) FetchSince(ctx context.Context, userID string, t models.RecordType, since time.Time) (remote.Page, error) {
	if err := s.down(); err != nil {
		return remote.Page{}, err
	}
	return s.Store.FetchSince(ctx, userID, t, since)
}

func (s *switchedRemote) Put(ctx context.Context, userID string, rec models.Record) error {
	if err := s.down(); err != nil {
		return err
	}
	return s.Store.Put(ctx, userID, rec)
}

func (s *switchedRemote) Delete(ctx context.Context, userID string, t models.RecordType, id string, deletedAt time.Time) error {
	if err := s.down(); err != nil {
		return err
	}
	return s.Store.Delete(ctx, userID, t, id, deletedAt)
}

func (s *switchedRemote) BatchCommit(ctx context.Context, userID string, ops []remote.Op) error {
	if err := s.down(); err != nil {
		return err
	}
	return s.Store.BatchCommit(ctx, userID, ops)
}

func (s *switchedRemote) Subscribe(ctx context.Context, userID string, t models.RecordType) (<-chan []remote.ChangeEvent, func(), error) {
	if err := s.down(); err != nil {
		return nil, nil, err
	}
	return s.Store.Subscribe(ctx, userID, t)
}

func (s *switchedRemote) Ping(ctx context.Context) error {
	if err := s.down(); err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}
