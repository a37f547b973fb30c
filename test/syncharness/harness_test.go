package syncharness

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
)

var (
	chaosSeed = flag.Int64("chaos.seed", 0, "PRNG seed (0 = time-based)")
	chaosOps  = flag.Int("chaos.ops", 80, "operations per randomized run")
)

func goal(title string) models.Goal {
	return models.Goal{Title: title}
}

func practice(date string, minutes int) models.PracticeSession {
	return models.PracticeSession{Date: date, DurationMinutes: minutes}
}

func goalTitle(t *testing.T, rec *models.Record) string {
	t.Helper()
	if rec == nil {
		t.Fatal("record missing")
	}
	var g models.Goal
	if err := rec.Decode(&g); err != nil {
		t.Fatalf("decode goal: %v", err)
	}
	return g.Title
}

func TestTwoDevicesConverge(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)

	h.Write("device-A", models.TypePracticeSession, "s-1", practice("2026-03-01", 30))
	h.Write("device-A", models.TypeGoal, "g-1", goal("Play Giant Steps at 200"))
	h.Write("device-B", models.TypeRepertoire, "r-1", models.RepertoireSong{Title: "Giant Steps", Status: models.SongLearning})

	// Online writes go straight through.
	if n := len(h.ServerRecords(models.TypeGoal)); n != 1 {
		t.Fatalf("server has %d goals before any sync, want 1", n)
	}

	h.SyncAll()
	h.AssertConverged()

	if h.Get("device-B", models.TypePracticeSession, "s-1") == nil {
		t.Error("device-B did not receive s-1")
	}
	if h.Get("device-A", models.TypeRepertoire, "r-1") == nil {
		t.Error("device-A did not receive r-1")
	}
	if d := h.Diff("device-A", "device-B"); d != "" {
		t.Errorf("devices differ:\n%s", d)
	}
}

func TestOfflineWritesQueueAndFlush(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)
	a := h.Device("device-A")

	h.SetOffline("device-A", true)
	h.Write("device-A", models.TypeGoal, "g-1", goal("Scales daily"))
	h.Write("device-A", models.TypeGoal, "g-1", goal("Scales and arpeggios daily"))
	h.Write("device-A", models.TypePracticeSession, "s-1", practice("2026-03-02", 45))

	if a.Coord.State() != riffsync.StateOffline {
		t.Errorf("state = %s, want offline", a.Coord.State())
	}
	if n, _ := a.DB.QueueLen(); n != 3 {
		t.Fatalf("queue length = %d, want 3", n)
	}
	if n := len(h.ServerRecords(models.TypeGoal)); n != 0 {
		t.Fatalf("server saw %d goals while device was offline", n)
	}

	if _, err := a.Coord.IncrementalSync(context.Background()); err == nil {
		t.Fatal("sync should fail while offline")
	}

	h.SetOffline("device-A", false)
	h.Sync("device-A")
	if n, _ := a.DB.QueueLen(); n != 0 {
		t.Errorf("queue length after sync = %d, want 0", n)
	}
	if a.Coord.State() != riffsync.StateIdle {
		t.Errorf("state after sync = %s, want idle", a.Coord.State())
	}

	h.Sync("device-B")
	if got := goalTitle(t, h.Get("device-B", models.TypeGoal, "g-1")); got != "Scales and arpeggios daily" {
		t.Errorf("device-B goal = %q, want the last offline edit", got)
	}
	h.AssertConverged()
}

func TestDeletePropagates(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)
	h.Write("device-A", models.TypeGoal, "g-1", goal("Transcribe a solo"))
	h.Write("device-A", models.TypeGoal, "g-2", goal("Learn all 12 keys"))
	h.SyncAll()

	h.Delete("device-B", models.TypeGoal, "g-1")
	h.SyncAll()
	h.AssertConverged()

	rec := h.Get("device-A", models.TypeGoal, "g-1")
	if rec == nil || !rec.Deleted {
		t.Fatalf("device-A should hold a tombstone for g-1, got %+v", rec)
	}
	if n := h.Live("device-A", models.TypeGoal); n != 1 {
		t.Errorf("device-A live goals = %d, want 1", n)
	}
}

func TestLaterUpdateRestoresDeletedRecord(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)
	h.Write("device-A", models.TypeGoal, "g-1", goal("Sight-read"))
	h.SyncAll()

	h.SetOffline("device-B", true)
	h.Delete("device-A", models.TypeGoal, "g-1")
	h.Write("device-B", models.TypeGoal, "g-1", goal("Sight-read every day"))
	h.SetOffline("device-B", false)

	h.SyncAll()
	h.AssertConverged()
	rec := h.Get("device-A", models.TypeGoal, "g-1")
	if rec == nil || rec.Deleted {
		t.Fatalf("later edit should win over the delete, got %+v", rec)
	}
}

func TestLatestWinsByUpdatedAtNotArrival(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)
	h.Write("device-A", models.TypeGoal, "g-1", goal("original"))
	h.SyncAll()

	// B edits offline with a clock running an hour behind, then arrives last.
	h.SetOffline("device-B", true)
	h.SetClockSkew("device-B", -time.Hour)
	h.Write("device-A", models.TypeGoal, "g-1", goal("from A"))
	h.Write("device-B", models.TypeGoal, "g-1", goal("from B"))
	h.SetOffline("device-B", false)

	h.SyncAll()
	h.AssertConverged()
	if got := goalTitle(t, h.Get("device-B", models.TypeGoal, "g-1")); got != "from A" {
		t.Errorf("title = %q, want the version with the larger updatedAt", got)
	}
}

func TestManualStrategyHoldsConflict(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyManual)
	b := h.Device("device-B")

	h.Write("device-A", models.TypeGoal, "g-1", goal("original"))
	h.Write("device-A", models.TypeGoal, "g-2", goal("untouched"))
	h.SyncAll()

	h.SetOffline("device-B", true)
	h.Write("device-A", models.TypeGoal, "g-1", goal("from A"))
	h.Sync("device-A")
	h.Write("device-B", models.TypeGoal, "g-1", goal("from B"))
	h.SetOffline("device-B", false)

	res := h.Sync("device-B")
	if res.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", res.Conflicts)
	}
	if got := goalTitle(t, h.Get("device-B", models.TypeGoal, "g-1")); got != "from B" {
		t.Errorf("held record should keep the local version, got %q", got)
	}
	conflicts, err := b.DB.ListConflicts()
	if err != nil || len(conflicts) != 1 {
		t.Fatalf("stored conflicts = %d err=%v", len(conflicts), err)
	}
	if n, _ := b.DB.QueueLen(); n != 1 {
		t.Errorf("the queued edit should be held, queue length = %d", n)
	}
	for _, r := range h.ServerRecords(models.TypeGoal) {
		if r.ID == "g-1" && goalTitle(t, &r) != "from A" {
			t.Errorf("server copy should be untouched while held, got %q", goalTitle(t, &r))
		}
	}

	// Syncing again does not duplicate or drop the held conflict.
	if res := h.Sync("device-B"); res.Conflicts != 0 {
		t.Errorf("held record re-reported as %d new conflicts", res.Conflicts)
	}

	winner, err := b.Coord.ResolveConflict(context.Background(), models.TypeGoal, "g-1", riffsync.KeepLocal)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if goalTitle(t, &winner) != "from B" {
		t.Errorf("winner = %q", goalTitle(t, &winner))
	}
	if n, _ := b.DB.QueueLen(); n != 0 {
		t.Errorf("resolving should drop the held queue entry, queue length = %d", n)
	}
	if cs, _ := b.DB.ListConflicts(); len(cs) != 0 {
		t.Errorf("conflict not cleared: %+v", cs)
	}

	h.SyncAll()
	h.AssertConverged()
	if got := goalTitle(t, h.Get("device-A", models.TypeGoal, "g-1")); got != "from B" {
		t.Errorf("device-A title = %q, want the resolved version", got)
	}
}

func TestManualStrategyAcceptsEditOnPushedVersion(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyManual)

	h.Write("device-A", models.TypeGoal, "g-1", goal("original"))
	h.SyncAll()

	// A's edit goes straight to the server, so it is not an unsynced change
	// when B builds on it.
	h.Write("device-A", models.TypeGoal, "g-1", goal("from A"))
	h.Sync("device-B")
	if got := goalTitle(t, h.Get("device-B", models.TypeGoal, "g-1")); got != "from A" {
		t.Fatalf("device-B title = %q, want from A", got)
	}
	h.Write("device-B", models.TypeGoal, "g-1", goal("from B"))

	res := h.Sync("device-A")
	if res.Conflicts != 0 {
		t.Fatalf("conflicts = %d, want 0 for an edit already on the server", res.Conflicts)
	}
	if got := goalTitle(t, h.Get("device-A", models.TypeGoal, "g-1")); got != "from B" {
		t.Errorf("device-A title = %q, want from B", got)
	}
	if cs, _ := h.Device("device-A").DB.ListConflicts(); len(cs) != 0 {
		t.Errorf("stored conflicts = %d, want 0", len(cs))
	}
}

func TestLargeNotesSyncAfterReconnect(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)
	a := h.Device("device-A")

	// Each note escapes to about 120 KB on the wire, so the backlog is
	// larger than one request body may be.
	notes := strings.Repeat("<", 20000)
	h.SetOffline("device-A", true)
	for i := 0; i < 100; i++ {
		s := practice("2026-03-01", 30)
		s.Notes = notes
		h.Write("device-A", models.TypePracticeSession, fmt.Sprintf("s-%03d", i), s)
	}
	h.SetOffline("device-A", false)

	res := h.FullSync("device-A")
	if res.Pushed != 100 || res.Rejected != 0 {
		t.Errorf("pushed=%d rejected=%d, want 100 and 0", res.Pushed, res.Rejected)
	}
	if n := len(h.ServerRecords(models.TypePracticeSession)); n != 100 {
		t.Fatalf("server has %d sessions, want 100", n)
	}
	if n, _ := a.DB.QueueLen(); n != 0 {
		t.Errorf("queue len = %d after sync", n)
	}

	h.Sync("device-B")
	h.AssertConverged()
}

func TestSettingsKeepUnknownKeysAcrossDevices(t *testing.T) {
	h := NewHarness(t, 2, riffsync.StrategyLatest)

	s := models.DefaultSettings()
	if err := s.Set("futureKey", json.RawMessage(`{"nested":[1,2,3]}`)); err != nil {
		t.Fatal(err)
	}
	h.Write("device-A", models.TypeSettings, models.SettingsID, s)
	h.SyncAll()

	bs, _, err := h.Device("device-B").DB.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	if err := bs.Set(models.SettingTheme, json.RawMessage(`"dark"`)); err != nil {
		t.Fatal(err)
	}
	h.Write("device-B", models.TypeSettings, models.SettingsID, bs)
	h.SyncAll()
	h.AssertConverged()

	as, _, err := h.Device("device-A").DB.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	if as.Theme != "dark" {
		t.Errorf("theme = %q, want dark", as.Theme)
	}
	if got := string(as.Unknown["futureKey"]); got != `{"nested":[1,2,3]}` {
		t.Errorf("futureKey = %s", got)
	}
}

func TestNewDeviceBootstrapsWithFullSync(t *testing.T) {
	h := NewHarness(t, 1, riffsync.StrategyLatest)
	for i := 0; i < 5; i++ {
		h.Write("device-A", models.TypePracticeSession, fmt.Sprintf("s-%d", i), practice("2026-03-01", 10+i))
	}
	h.Delete("device-A", models.TypePracticeSession, "s-0")

	h.addDevice("device-B", filepath.Join(t.TempDir(), "device-B"), riffsync.StrategyLatest)
	res := h.FullSync("device-B")
	if res.Mode != riffsync.ModeFull || res.Pulled != 5 {
		t.Errorf("bootstrap result: %+v", res)
	}
	if n := h.Live("device-B", models.TypePracticeSession); n != 4 {
		t.Errorf("live sessions = %d, want 4", n)
	}
	h.AssertConverged()
}

func TestRandomizedConvergence(t *testing.T) {
	seed := *chaosSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	t.Logf("seed: %d (use -chaos.seed=%d to reproduce)", seed, seed)
	rng := rand.New(rand.NewSource(seed))

	h := NewHarness(t, 3, riffsync.StrategyLatest)
	ids := []string{"g-1", "g-2", "g-3", "g-4", "g-5"}
	offline := map[string]bool{}

	for i := 0; i < *chaosOps; i++ {
		name := h.names[rng.Intn(len(h.names))]
		id := ids[rng.Intn(len(ids))]
		switch r := rng.Intn(10); {
		case r < 5:
			h.Write(name, models.TypeGoal, id, models.Goal{Title: fmt.Sprintf("%s op %d", name, i), Progress: rng.Intn(101)})
		case r < 7:
			if rec := h.Get(name, models.TypeGoal, id); rec != nil && !rec.Deleted {
				h.Delete(name, models.TypeGoal, id)
			}
		case r < 9:
			offline[name] = !offline[name]
			h.SetOffline(name, offline[name])
		default:
			if !offline[name] {
				h.Sync(name)
			}
		}
	}

	for _, name := range h.names {
		h.SetOffline(name, false)
	}
	h.SyncAll()
	h.AssertConverged()
	for _, name := range h.names {
		if n, _ := h.Device(name).DB.QueueLen(); n != 0 {
			t.Errorf("%s: %d writes still queued after convergence", name, n)
		}
	}
}
