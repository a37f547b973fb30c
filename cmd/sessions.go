package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/riff/internal/dateparse"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var sessionKind = recordKind{
	use:     "sessions",
	aliases: []string{"session", "s"},
	noun:    "session",
	typ:     models.TypePracticeSession,
	addUse:  "add",
	addArgs: cobra.NoArgs,
	flags: func(fs *pflag.FlagSet, adding bool) {
		fs.StringP("date", "d", "today", "Practice date (2026-03-01, yesterday, -2d, last-friday)")
		fs.StringP("duration", "t", "", "Length in minutes or as 1h30m")
		fs.StringP("instrument", "i", "", "Instrument practiced")
		fs.StringP("focus", "f", "", "What the session worked on")
		fs.String("notes", "", "Free-form notes (markdown)")
		fs.StringSlice("song", nil, "Repertoire song id practiced (repeatable)")
		fs.IntP("rating", "r", 0, "How it went, 1-5")
	},
	build:  buildSession,
	filter: filterSessions,
	less: func(a, b models.Record) bool {
		if x, y := sessionDate(a), sessionDate(b); x != y {
			return x > y
		}
		return newestFirst(a, b)
	},
	footer: func(recs []models.Record) {
		total := 0
		for _, r := range recs {
			var p models.PracticeSession
			if r.Decode(&p) == nil {
				total += p.DurationMinutes
			}
		}
		fmt.Printf("\n%d sessions, %s total\n", len(recs), output.FormatMinutes(total))
	},
}

func sessionDate(r models.Record) string {
	var p models.PracticeSession
	_ = r.Decode(&p)
	return p.Date
}

func buildSession(cmd *cobra.Command, _ []string, prev *models.Record, s *session) (any, error) {
	var p models.PracticeSession
	if prev != nil {
		if err := prev.Decode(&p); err != nil {
			return nil, err
		}
	}
	fs := cmd.Flags()
	adding := prev == nil

	if adding || fs.Changed("date") {
		v, _ := fs.GetString("date")
		d, err := dateparse.ParseDate(v)
		if err != nil {
			return nil, err
		}
		p.Date = d
	}
	if fs.Changed("duration") {
		v, _ := fs.GetString("duration")
		m, err := dateparse.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		p.DurationMinutes = m
	} else if adding {
		return nil, errors.New("--duration is required")
	}
	if fs.Changed("instrument") {
		p.Instrument, _ = fs.GetString("instrument")
	}
	if fs.Changed("focus") {
		p.Focus, _ = fs.GetString("focus")
	}
	if fs.Changed("notes") {
		p.Notes, _ = fs.GetString("notes")
	}
	if fs.Changed("rating") {
		p.Rating, _ = fs.GetInt("rating")
	}
	if fs.Changed("song") {
		refs, _ := fs.GetStringSlice("song")
		p.SongIDs = p.SongIDs[:0]
		for _, ref := range refs {
			song, err := resolveRecord(s.db, models.TypeRepertoire, ref)
			if err != nil {
				return nil, fmt.Errorf("song %s: %w", ref, err)
			}
			p.SongIDs = append(p.SongIDs, song.ID)
		}
	}
	return p, nil
}

func filterSessions(cmd *cobra.Command, recs []models.Record) ([]models.Record, error) {
	since, _ := cmd.Flags().GetString("since")
	if since == "" {
		return recs, nil
	}
	from, err := dateparse.ParseDate(since)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.Deleted || sessionDate(r) >= from {
			out = append(out, r)
		}
	}
	return out, nil
}
