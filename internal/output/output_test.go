package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
)

// TestFormatTimeAgoJustNow tests times less than a minute ago
func TestFormatTimeAgoJustNow(t *testing.T) {
	now := time.Now()
	tests := []time.Time{
		now,
		now.Add(-30 * time.Second),
		now.Add(-59 * time.Second),
	}

	for _, tm := range tests {
		result := FormatTimeAgo(tm)
		if result != "just now" {
			t.Errorf("FormatTimeAgo(%v) = %q, want 'just now'", tm, result)
		}
	}
}

// TestFormatTimeAgoMinutes tests times 1-59 minutes ago
func TestFormatTimeAgoMinutes(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Minute, "1m ago"},
		{2 * time.Minute, "2m ago"},
		{30 * time.Minute, "30m ago"},
		{59 * time.Minute, "59m ago"},
	}

	for _, tc := range tests {
		tm := time.Now().Add(-tc.duration)
		result := FormatTimeAgo(tm)
		if result != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.duration, result, tc.expected)
		}
	}
}

// TestFormatTimeAgoHours tests times 1-23 hours ago
func TestFormatTimeAgoHours(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h ago"},
		{2 * time.Hour, "2h ago"},
		{12 * time.Hour, "12h ago"},
		{23 * time.Hour, "23h ago"},
	}

	for _, tc := range tests {
		tm := time.Now().Add(-tc.duration)
		result := FormatTimeAgo(tm)
		if result != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.duration, result, tc.expected)
		}
	}
}

// TestFormatTimeAgoDays tests times 1-6 days ago
func TestFormatTimeAgoDays(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{24 * time.Hour, "1d ago"},
		{48 * time.Hour, "2d ago"},
		{6 * 24 * time.Hour, "6d ago"},
	}

	for _, tc := range tests {
		tm := time.Now().Add(-tc.duration)
		result := FormatTimeAgo(tm)
		if result != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.duration, result, tc.expected)
		}
	}
}

// TestFormatTimeAgoDate tests times 7+ days ago (returns date)
func TestFormatTimeAgoDate(t *testing.T) {
	tm := time.Now().Add(-8 * 24 * time.Hour)
	result := FormatTimeAgo(tm)
	expected := tm.Format("2006-01-02")
	if result != expected {
		t.Errorf("FormatTimeAgo(-8d) = %q, want %q", result, expected)
	}
}

func mustRecord(t *testing.T, rt models.RecordType, id string, payload any) models.Record {
	t.Helper()
	rec, err := models.NewRecord(rt, id, payload)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	rec.UpdatedAt = time.Now().Add(-2 * time.Hour)
	return rec
}

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{5, "5m"},
		{59, "59m"},
		{60, "1h"},
		{90, "1h30m"},
		{125, "2h05m"},
		{1440, "24h"},
	}
	for _, tc := range tests {
		if got := FormatMinutes(tc.in); got != tc.want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("3f2b8c1e-9d4a-4f6b-8e2a-1c5d7e9f0a1b"); got != "3f2b8c1e" {
		t.Errorf("uuid: got %q", got)
	}
	if got := ShortID("settings"); got != "settings" {
		t.Errorf("non-uuid ids are left alone, got %q", got)
	}
}

func TestFormatRecordShortSession(t *testing.T) {
	rec := mustRecord(t, models.TypePracticeSession, "s1", models.PracticeSession{
		Date:            "2026-03-01",
		DurationMinutes: 45,
		Instrument:      "guitar",
		Focus:           "arpeggios",
		Rating:          4,
	})
	got := FormatRecordShort(rec)
	for _, want := range []string{"s1", "2026-03-01", "45m", "arpeggios", "guitar", "****", "2h ago"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestFormatRecordShortGoal(t *testing.T) {
	rec := mustRecord(t, models.TypeGoal, "g1", models.Goal{Title: "Learn Donna Lee", Progress: 40, TargetDate: "2026-06-01"})
	got := FormatRecordShort(rec)
	for _, want := range []string{"[ ]", "Learn Donna Lee", "40%", "due 2026-06-01"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}

	rec = mustRecord(t, models.TypeGoal, "g2", models.Goal{Title: "Done", Completed: true, Progress: 100})
	got = FormatRecordShort(rec)
	if !strings.Contains(got, "[x]") || strings.Contains(got, "100%") {
		t.Errorf("completed goal: %q", got)
	}
}

func TestFormatRecordShortSong(t *testing.T) {
	rec := mustRecord(t, models.TypeRepertoire, "r1", models.RepertoireSong{Title: "Giant Steps", Artist: "John Coltrane", Status: models.SongPolishing})
	got := FormatRecordShort(rec)
	for _, want := range []string{"Giant Steps - John Coltrane", "[polishing]"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestFormatRecordShortDeleted(t *testing.T) {
	rec := models.Record{ID: "g1", Type: models.TypeGoal, Deleted: true, UpdatedAt: time.Now()}
	got := FormatRecordShort(rec)
	if !strings.Contains(got, "[deleted]") {
		t.Errorf("tombstone: %q", got)
	}
}

func TestFormatRecordLong(t *testing.T) {
	rec := mustRecord(t, models.TypeRepertoire, "r1", models.RepertoireSong{
		Title:    "Autumn Leaves",
		Status:   models.SongLearning,
		Key:      "Gm",
		TempoBPM: 120,
	})
	got := FormatRecordLong(rec)
	for _, want := range []string{"repertoire r1", "Title:", "Autumn Leaves", "Key:", "Gm", "Tempo:", "120", "[learning]", "Updated:"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Artist:") {
		t.Errorf("empty fields should be omitted:\n%s", got)
	}
}

func TestFormatSongStatusUnknown(t *testing.T) {
	if got := FormatSongStatus("forgotten"); got != "[forgotten]" {
		t.Errorf("got %q", got)
	}
}

func TestFormatSyncStatus(t *testing.T) {
	st := riffsync.Status{
		Enabled:       true,
		State:         riffsync.StateOffline,
		Strategy:      riffsync.StrategyLatest,
		PendingCount:  3,
		DirtyCount:    1,
		ConflictCount: 2,
		AuthRequired:  true,
		LastError:     "remote unavailable",
	}
	got := FormatSyncStatus(st)
	for _, want := range []string{"enabled", "latest", "offline", "never", "3 queued, 1 unsynced", "Conflicts:  2", "riff auth login", "remote unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}

	st = riffsync.Status{State: riffsync.StateIdle, LastSyncTime: time.Now().Add(-5 * time.Minute)}
	got = FormatSyncStatus(st)
	if !strings.Contains(got, "disabled") || !strings.Contains(got, "5m ago") {
		t.Errorf("disabled status:\n%s", got)
	}
	if strings.Contains(got, "Conflicts") || strings.Contains(got, "auth login") {
		t.Errorf("unexpected sections:\n%s", got)
	}
}

func TestFormatCycleResult(t *testing.T) {
	got := FormatCycleResult(riffsync.CycleResult{Mode: riffsync.ModeIncremental, Pulled: 2, Pushed: 1, Conflicts: 1, Rejected: 1, Duration: 1500 * time.Microsecond})
	for _, want := range []string{"incremental sync", "pulled 2", "pushed 1", "1 conflicts", "1 rejected"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if got := FormatCycleResult(riffsync.CycleResult{Skipped: true}); got != "sync already in progress" {
		t.Errorf("skipped: %q", got)
	}
}

func TestFormatConflict(t *testing.T) {
	c := db.Conflict{
		Type:       models.TypeGoal,
		RecordID:   "g1",
		Local:      mustRecord(t, models.TypeGoal, "g1", models.Goal{Title: "Local title"}),
		Remote:     models.Record{ID: "g1", Type: models.TypeGoal, Deleted: true, UpdatedAt: time.Now()},
		DetectedAt: time.Now(),
	}
	got := FormatConflict(c)
	for _, want := range []string{"goal g1", "local:", "Local title", "remote:", "[deleted]"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatQueueEntry(t *testing.T) {
	e := db.QueueEntry{
		Seq:        7,
		Type:       models.TypeRepertoire,
		Operation:  "delete",
		ID:         "r1",
		EnqueuedAt: time.Now(),
		Attempts:   2,
		LastError:  "remote unavailable",
	}
	got := FormatQueueEntry(e)
	for _, want := range []string{"#7", "delete", "repertoire/r1", "2 failed: remote unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestSectionHeader(t *testing.T) {
	if got := SectionHeader("conflicts"); got != "\nCONFLICTS:\n" {
		t.Errorf("got %q", got)
	}
}
