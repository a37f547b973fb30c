package cmd

import (
	"strings"
	"testing"

	"github.com/marcus/riff/internal/models"
)

func sessionRec(t *testing.T, id, date string, minutes, rating int, instrument string) models.Record {
	t.Helper()
	rec, err := models.NewRecord(models.TypePracticeSession, id, models.PracticeSession{
		Date: date, DurationMinutes: minutes, Rating: rating, Instrument: instrument,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestComputeStats(t *testing.T) {
	deleted := sessionRec(t, "x", "2026-02-17", 500, 0, "piano")
	deleted.Deleted = true
	sessions := []models.Record{
		sessionRec(t, "a", "2026-02-10", 30, 4, "piano"),
		sessionRec(t, "b", "2026-02-11", 60, 2, "piano"),
		sessionRec(t, "c", "2026-02-12", 15, 0, "guitar"),
		sessionRec(t, "d", "2026-02-16", 45, 0, ""),
		sessionRec(t, "e", "2026-02-17", 20, 0, "guitar"),
		sessionRec(t, "f", "2026-02-17", 10, 0, "guitar"),
		deleted,
	}
	song, _ := models.NewRecord(models.TypeRepertoire, "r", models.RepertoireSong{Title: "Misty", Status: models.SongPolishing})
	done, _ := models.NewRecord(models.TypeGoal, "g1", models.Goal{Title: "a", Completed: true})
	open, _ := models.NewRecord(models.TypeGoal, "g2", models.Goal{Title: "b"})

	st := computeStats(sessions, []models.Record{song}, []models.Record{done, open}, "2026-02-18")

	if st.Sessions != 6 || st.TotalMinutes != 180 || st.AverageMinutes != 30 {
		t.Errorf("totals: %+v", st)
	}
	if st.AverageRating != 3 {
		t.Errorf("average rating = %v, want 3", st.AverageRating)
	}
	if st.CurrentStreak != 2 {
		t.Errorf("current streak = %d, want 2 (16th and 17th)", st.CurrentStreak)
	}
	if st.LongestStreak != 3 {
		t.Errorf("longest streak = %d, want 3", st.LongestStreak)
	}
	if st.ByInstrument["piano"] != 90 || st.ByInstrument["guitar"] != 45 || st.ByInstrument["(unspecified)"] != 45 {
		t.Errorf("by instrument: %v", st.ByInstrument)
	}
	if st.ByWeekday["Tue"] != 60 {
		t.Errorf("Tuesday minutes = %d, want 60 (10th and 17th)", st.ByWeekday["Tue"])
	}
	if st.Songs[models.SongPolishing] != 1 || st.GoalsDone != 1 || st.GoalsOpen != 1 {
		t.Errorf("repertoire/goals: %+v", st)
	}
}

func TestStreaksBreakOnGap(t *testing.T) {
	days := map[string]bool{"2026-02-14": true, "2026-02-15": true}
	cur, longest := streaks(days, "2026-02-18")
	if cur != 0 || longest != 2 {
		t.Errorf("streaks = %d, %d; want 0, 2", cur, longest)
	}
	cur, _ = streaks(map[string]bool{"2026-02-18": true}, "2026-02-18")
	if cur != 1 {
		t.Errorf("practicing today starts a streak, got %d", cur)
	}
}

func TestStatsCommand(t *testing.T) {
	setupRiff(t)
	mustRiff(t, "sessions", "add", "--date", "2026-03-01", "-t", "1h", "-i", "bass")
	out := mustRiff(t, "stats")
	for _, want := range []string{"Sessions", "1h", "bass"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorReportsUnlinkedStore(t *testing.T) {
	setupRiff(t)
	out := mustRiff(t, "doctor")
	for _, want := range []string{"not logged in", "Server reachable ....... FAIL", "Local database ......... OK", "not linked"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}
