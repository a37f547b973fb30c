package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/riff/internal/dateparse"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
)

var (
	statsHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	statsLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

const (
	barFilled = "█"
	barEmpty  = "░"
)

// PracticeStats summarizes logged practice.
type PracticeStats struct {
	Sessions       int                       `json:"sessions"`
	TotalMinutes   int                       `json:"total_minutes"`
	AverageMinutes int                       `json:"average_minutes"`
	AverageRating  float64                   `json:"average_rating,omitempty"`
	CurrentStreak  int                       `json:"current_streak_days"`
	LongestStreak  int                       `json:"longest_streak_days"`
	ByInstrument   map[string]int            `json:"minutes_by_instrument"`
	ByWeekday      map[string]int            `json:"minutes_by_weekday"`
	Songs          map[models.SongStatus]int `json:"songs_by_status"`
	GoalsOpen      int                       `json:"goals_open"`
	GoalsDone      int                       `json:"goals_completed"`
}

// computeStats aggregates live records. today anchors the current streak,
// which counts back from today or, when nothing is logged today, yesterday.
func computeStats(sessions, songs, goals []models.Record, today string) PracticeStats {
	st := PracticeStats{
		ByInstrument: map[string]int{},
		ByWeekday:    map[string]int{},
		Songs:        map[models.SongStatus]int{},
	}
	days := map[string]bool{}
	rated, ratingSum := 0, 0
	for _, r := range models.Live(sessions) {
		var p models.PracticeSession
		if r.Decode(&p) != nil {
			continue
		}
		st.Sessions++
		st.TotalMinutes += p.DurationMinutes
		if p.Rating > 0 {
			rated++
			ratingSum += p.Rating
		}
		inst := p.Instrument
		if inst == "" {
			inst = "(unspecified)"
		}
		st.ByInstrument[inst] += p.DurationMinutes
		if d, err := time.Parse(dateparse.DateFormat, p.Date); err == nil {
			st.ByWeekday[d.Weekday().String()[:3]] += p.DurationMinutes
			days[p.Date] = true
		}
	}
	if st.Sessions > 0 {
		st.AverageMinutes = st.TotalMinutes / st.Sessions
	}
	if rated > 0 {
		st.AverageRating = float64(ratingSum) / float64(rated)
	}
	st.CurrentStreak, st.LongestStreak = streaks(days, today)

	for _, r := range models.Live(songs) {
		var s models.RepertoireSong
		if r.Decode(&s) == nil {
			st.Songs[s.Status]++
		}
	}
	for _, r := range models.Live(goals) {
		if goalCompleted(r) {
			st.GoalsDone++
		} else {
			st.GoalsOpen++
		}
	}
	return st
}

func streaks(days map[string]bool, today string) (current, longest int) {
	dates := make([]time.Time, 0, len(days))
	for d := range days {
		t, err := time.Parse(dateparse.DateFormat, d)
		if err == nil {
			dates = append(dates, t)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	run := 0
	for i, d := range dates {
		if i > 0 && d.Sub(dates[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}

	t, err := time.Parse(dateparse.DateFormat, today)
	if err != nil {
		return 0, longest
	}
	if !days[today] {
		t = t.AddDate(0, 0, -1)
	}
	for days[t.Format(dateparse.DateFormat)] {
		current++
		t = t.AddDate(0, 0, -1)
	}
	return current, longest
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Summarize practice time, streaks and repertoire",
	GroupID: "practice",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListAll(models.TypePracticeSession)
		if err != nil {
			return err
		}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			from, err := dateparse.ParseDate(since)
			if err != nil {
				return err
			}
			kept := sessions[:0]
			for _, r := range sessions {
				if sessionDate(r) >= from {
					kept = append(kept, r)
				}
			}
			sessions = kept
		}
		songs, err := store.ListAll(models.TypeRepertoire)
		if err != nil {
			return err
		}
		goals, err := store.ListAll(models.TypeGoal)
		if err != nil {
			return err
		}

		st := computeStats(sessions, songs, goals, time.Now().Format(dateparse.DateFormat))
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(st)
		}
		renderStats(st)
		return nil
	},
}

func renderStats(st PracticeStats) {
	fmt.Println(statsHeaderStyle.Render("PRACTICE"))
	row := func(label, value string) {
		fmt.Printf("  %s %s\n", statsLabelStyle.Render(fmt.Sprintf("%-16s", label)), statsValueStyle.Render(value))
	}
	row("Sessions", fmt.Sprint(st.Sessions))
	row("Total time", output.FormatMinutes(st.TotalMinutes))
	if st.Sessions > 0 {
		row("Average", output.FormatMinutes(st.AverageMinutes))
	}
	if st.AverageRating > 0 {
		row("Average rating", fmt.Sprintf("%.1f / 5", st.AverageRating))
	}
	row("Current streak", fmt.Sprintf("%d days", st.CurrentStreak))
	row("Longest streak", fmt.Sprintf("%d days", st.LongestStreak))

	if len(st.ByInstrument) > 0 {
		fmt.Println()
		fmt.Println(statsHeaderStyle.Render("BY INSTRUMENT"))
		renderBarChart(st.ByInstrument, 8, 25)
	}
	if len(st.ByWeekday) > 0 {
		fmt.Println()
		fmt.Println(statsHeaderStyle.Render("BY WEEKDAY"))
		renderBarChart(st.ByWeekday, 7, 25)
	}

	fmt.Println()
	fmt.Println(statsHeaderStyle.Render("REPERTOIRE & GOALS"))
	for _, s := range []models.SongStatus{models.SongLearning, models.SongPracticing, models.SongPolishing, models.SongMastered} {
		row(string(s), fmt.Sprint(st.Songs[s]))
	}
	row("goals open", fmt.Sprint(st.GoalsOpen))
	row("goals completed", fmt.Sprint(st.GoalsDone))
}

// renderBarChart prints minutes per key, largest first.
func renderBarChart(data map[string]int, maxItems, barWidth int) {
	type kv struct {
		Key   string
		Value int
	}
	var sorted []kv
	for k, v := range data {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		return sorted[i].Key < sorted[j].Key
	})
	if len(sorted) > maxItems {
		sorted = sorted[:maxItems]
	}

	maxVal := 1
	for _, kv := range sorted {
		maxVal = max(maxVal, kv.Value)
	}
	for _, kv := range sorted {
		barLen := (kv.Value * barWidth) / maxVal
		filled := strings.Repeat(barFilled, barLen)
		empty := strings.Repeat(barEmpty, barWidth-barLen)

		label := fmt.Sprintf("%-14s", kv.Key)
		if len(label) > 14 {
			label = label[:13] + "…"
		}
		bar := statsValueStyle.Render(filled) + statsLabelStyle.Render(empty)
		fmt.Printf("  %s %s %s\n", label, bar, output.FormatMinutes(kv.Value))
	}
}

func init() {
	statsCmd.Flags().String("since", "", "Only count sessions on or after this date")
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}
