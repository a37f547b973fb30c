// Package output provides styled terminal output helpers (success, error,
// warning, record and sync formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	songStyles   = map[models.SongStatus]lipgloss.Style{
		models.SongLearning:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SongPracticing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SongPolishing:  lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.SongMastered:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
	stateStyles = map[riffsync.State]lipgloss.Style{
		riffsync.StateIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		riffsync.StateSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		riffsync.StateOffline: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatSongStatus formats a song status with color
func FormatSongStatus(s models.SongStatus) string {
	style, ok := songStyles[s]
	if !ok {
		return fmt.Sprintf("[%s]", s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatState formats a coordinator state with color
func FormatState(s riffsync.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// FormatRecordShort formats any record as one line: id, a type-specific summary, age.
func FormatRecordShort(rec models.Record) string {
	parts := []string{titleStyle.Render(ShortID(rec.ID))}
	if rec.Deleted {
		parts = append(parts, errorStyle.Render("[deleted]"))
		return strings.Join(parts, "  ")
	}
	parts = append(parts, summary(rec))
	if !rec.UpdatedAt.IsZero() {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(rec.UpdatedAt)))
	}
	return strings.Join(parts, "  ")
}

func summary(rec models.Record) string {
	switch rec.Type {
	case models.TypePracticeSession:
		var s models.PracticeSession
		if rec.Decode(&s) != nil {
			break
		}
		line := fmt.Sprintf("%s  %s", s.Date, FormatMinutes(s.DurationMinutes))
		if s.Focus != "" {
			line += "  " + s.Focus
		}
		if s.Instrument != "" {
			line += "  " + subtleStyle.Render(s.Instrument)
		}
		if s.Rating > 0 {
			line += "  " + accentStyle.Render(strings.Repeat("*", s.Rating))
		}
		return line
	case models.TypeGoal:
		var g models.Goal
		if rec.Decode(&g) != nil {
			break
		}
		mark := "[ ]"
		if g.Completed {
			mark = successStyle.Render("[x]")
		}
		line := mark + " " + g.Title
		if g.Progress > 0 && !g.Completed {
			line += "  " + accentStyle.Render(fmt.Sprintf("%d%%", g.Progress))
		}
		if g.TargetDate != "" {
			line += "  " + subtleStyle.Render("due "+g.TargetDate)
		}
		return line
	case models.TypeRepertoire:
		var s models.RepertoireSong
		if rec.Decode(&s) != nil {
			break
		}
		line := s.Title
		if s.Artist != "" {
			line += " - " + s.Artist
		}
		return line + "  " + FormatSongStatus(s.Status)
	}
	return subtleStyle.Render(string(rec.Payload))
}

// FormatRecordLong formats a record with every field, rendering notes as markdown.
func FormatRecordLong(rec models.Record) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", rec.Type, rec.ID)))
	sb.WriteString("\n")
	if rec.Deleted {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("deleted %s", FormatTimeAgo(rec.UpdatedAt))))
		sb.WriteString("\n")
		return sb.String()
	}

	field := func(name string, v any) {
		if s := fmt.Sprint(v); s != "" && s != "0" {
			sb.WriteString(fmt.Sprintf("%s %s\n", subtleStyle.Render(name+":"), s))
		}
	}
	var notes string
	switch rec.Type {
	case models.TypePracticeSession:
		var s models.PracticeSession
		if err := rec.Decode(&s); err == nil {
			field("Date", s.Date)
			field("Duration", FormatMinutes(s.DurationMinutes))
			field("Instrument", s.Instrument)
			field("Focus", s.Focus)
			field("Rating", s.Rating)
			if len(s.SongIDs) > 0 {
				field("Songs", strings.Join(s.SongIDs, ", "))
			}
			notes = s.Notes
		}
	case models.TypeGoal:
		var g models.Goal
		if err := rec.Decode(&g); err == nil {
			field("Title", g.Title)
			field("Target", g.TargetDate)
			field("Progress", fmt.Sprintf("%d%%", g.Progress))
			field("Completed", g.Completed)
			notes = g.Description
		}
	case models.TypeRepertoire:
		var s models.RepertoireSong
		if err := rec.Decode(&s); err == nil {
			field("Title", s.Title)
			field("Artist", s.Artist)
			field("Status", FormatSongStatus(s.Status))
			field("Key", s.Key)
			field("Tempo", s.TempoBPM)
			notes = s.Notes
		}
	default:
		sb.WriteString(string(rec.Payload))
		sb.WriteString("\n")
	}
	field("Created", FormatTimestamp(rec.CreatedAt))
	field("Updated", FormatTimestamp(rec.UpdatedAt))

	if notes != "" {
		sb.WriteString("\n")
		if rendered, err := RenderNotes(notes); err == nil {
			sb.WriteString(rendered)
		} else {
			sb.WriteString(notes)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatSyncStatus formats a sync status block.
func FormatSyncStatus(s riffsync.Status) string {
	var sb strings.Builder
	enabled := successStyle.Render("enabled")
	if !s.Enabled {
		enabled = warningStyle.Render("disabled")
	}
	sb.WriteString(fmt.Sprintf("Sync:       %s (%s)\n", enabled, s.Strategy))
	state := FormatState(s.State)
	if s.InProgress {
		state += subtleStyle.Render(" (cycle running)")
	}
	sb.WriteString(fmt.Sprintf("State:      %s\n", state))
	last := "never"
	if !s.LastSyncTime.IsZero() {
		last = FormatTimeAgo(s.LastSyncTime)
	}
	sb.WriteString(fmt.Sprintf("Last sync:  %s\n", last))
	sb.WriteString(fmt.Sprintf("Pending:    %d queued, %d unsynced\n", s.PendingCount, s.DirtyCount))
	if s.ConflictCount > 0 {
		sb.WriteString(warningStyle.Render(fmt.Sprintf("Conflicts:  %d (run 'riff conflicts')", s.ConflictCount)))
		sb.WriteString("\n")
	}
	if s.AuthRequired {
		sb.WriteString(errorStyle.Render("Credentials rejected: run 'riff auth login' to resume sync"))
		sb.WriteString("\n")
	}
	if s.LastError != "" {
		sb.WriteString(subtleStyle.Render("Last error: " + s.LastError))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatCycleResult summarizes one sync cycle on a single line.
func FormatCycleResult(r riffsync.CycleResult) string {
	if r.Skipped {
		return "sync already in progress"
	}
	line := fmt.Sprintf("%s sync: pulled %d, pushed %d", r.Mode, r.Pulled, r.Pushed)
	if r.Drain.Applied > 0 {
		line += fmt.Sprintf(", flushed %d queued", r.Drain.Entries)
	}
	if r.Conflicts > 0 {
		line += warningStyle.Render(fmt.Sprintf(", %d conflicts", r.Conflicts))
	}
	if r.Rejected > 0 {
		line += warningStyle.Render(fmt.Sprintf(", %d rejected", r.Rejected))
	}
	return line + subtleStyle.Render(fmt.Sprintf(" (%s)", r.Duration.Round(time.Millisecond)))
}

// FormatConflict shows both versions of a held record.
func FormatConflict(c db.Conflict) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", c.Type, c.RecordID)))
	sb.WriteString(subtleStyle.Render("  detected " + FormatTimeAgo(c.DetectedAt)))
	sb.WriteString("\n")
	sb.WriteString("  local:  " + versionLine(c.Local) + "\n")
	sb.WriteString("  remote: " + versionLine(c.Remote) + "\n")
	return sb.String()
}

func versionLine(rec models.Record) string {
	when := subtleStyle.Render("(" + FormatTimestamp(rec.UpdatedAt) + ")")
	if rec.Deleted {
		return errorStyle.Render("[deleted] ") + when
	}
	return summary(rec) + " " + when
}

// FormatQueueEntry formats a pending write-queue entry.
func FormatQueueEntry(e db.QueueEntry) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("#%d", e.Seq)),
		accentStyle.Render(string(e.Operation)),
		fmt.Sprintf("%s/%s", e.Type, ShortID(e.ID)),
		subtleStyle.Render(FormatTimeAgo(e.EnqueuedAt)),
	}
	if e.Attempts > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d failed: %s", e.Attempts, e.LastError)))
	}
	return strings.Join(parts, "  ")
}

// FormatMinutes renders a duration in minutes as "45m" or "1h30m".
func FormatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	if m%60 == 0 {
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}

// FormatTimestamp renders a time in local time, or "" for the zero time.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// ShortID trims uuid-style ids to their first 8 characters.
func ShortID(id string) string {
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
