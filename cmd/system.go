package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:     "info",
	Short:   "Show local store overview",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		counts := map[models.RecordType][2]int{}
		for _, t := range models.AllRecordTypes() {
			recs, err := store.ListAll(t)
			if err != nil {
				return err
			}
			live := len(models.Live(recs))
			counts[t] = [2]int{live, len(recs) - live}
		}
		st, err := store.GetSyncState()
		if err != nil {
			return err
		}
		schema, err := store.GetSchemaVersion()
		if err != nil {
			return err
		}
		user := ""
		if st != nil {
			user = st.UserID
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			records := map[string]any{}
			for t, c := range counts {
				records[string(t)] = map[string]int{"live": c[0], "deleted": c[1]}
			}
			return output.JSON(map[string]any{
				"data_dir":       store.DataDir(),
				"schema_version": schema,
				"user":           user,
				"records":        records,
			})
		}

		fmt.Printf("Data dir: %s\n", store.DataDir())
		fmt.Printf("Schema:   v%d\n", schema)
		if user == "" {
			fmt.Println("User:     (not logged in)")
		} else {
			fmt.Printf("User:     %s\n", user)
		}
		fmt.Println()
		fmt.Println("Records:")
		for _, t := range models.AllRecordTypes() {
			c := counts[t]
			fmt.Printf("  %-18s %d", t, c[0])
			if c[1] > 0 {
				fmt.Printf(" (+%d deleted)", c[1])
			}
			fmt.Println()
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Show version",
	GroupID: "system",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Print(version)
			return
		}
		fmt.Printf("riff version %s\n", version)
	},
}

// exportFile is the JSON backup format shared by export and import.
type exportFile struct {
	ExportedAt time.Time       `json:"exported_at"`
	Version    string          `json:"version"`
	Records    []models.Record `json:"records"`
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export local records as JSON or a markdown practice log",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		format, _ := cmd.Flags().GetString("format")
		outputPath, _ := cmd.Flags().GetString("output")
		includeAll, _ := cmd.Flags().GetBool("all")
		renderMarkdown, _ := cmd.Flags().GetBool("render-markdown")

		var recs []models.Record
		for _, t := range models.AllRecordTypes() {
			all, err := store.ListAll(t)
			if err != nil {
				return err
			}
			if !includeAll {
				all = models.Live(all)
			}
			recs = append(recs, all...)
		}

		var data []byte
		switch format {
		case "json":
			if recs == nil {
				recs = []models.Record{}
			}
			data, err = json.MarshalIndent(exportFile{ExportedAt: time.Now().UTC(), Version: version, Records: recs}, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal export: %w", err)
			}
		case "md", "markdown":
			md := practiceLog(recs)
			if renderMarkdown {
				if md, err = output.RenderPracticeLog(md); err != nil {
					return fmt.Errorf("render markdown: %w", err)
				}
			}
			data = []byte(md)
		default:
			return fmt.Errorf("unknown format %q (want json or md)", format)
		}

		if outputPath != "" {
			if err := os.WriteFile(outputPath, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputPath, err)
			}
			fmt.Printf("Exported %d records to %s\n", len(recs), outputPath)
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

// practiceLog renders live records as a markdown document.
func practiceLog(recs []models.Record) string {
	var sb strings.Builder
	sb.WriteString("# Practice Log\n\n")

	byType := map[models.RecordType][]models.Record{}
	for _, r := range models.Live(recs) {
		byType[r.Type] = append(byType[r.Type], r)
	}

	if sessions := byType[models.TypePracticeSession]; len(sessions) > 0 {
		sb.WriteString("## Sessions\n\n")
		sortRecords(sessions, sessionKind.less)
		for _, r := range sessions {
			var p models.PracticeSession
			if r.Decode(&p) != nil {
				continue
			}
			fmt.Fprintf(&sb, "### %s, %s\n\n", p.Date, output.FormatMinutes(p.DurationMinutes))
			if p.Instrument != "" {
				fmt.Fprintf(&sb, "- Instrument: %s\n", p.Instrument)
			}
			if p.Focus != "" {
				fmt.Fprintf(&sb, "- Focus: %s\n", p.Focus)
			}
			if p.Rating > 0 {
				fmt.Fprintf(&sb, "- Rating: %d/5\n", p.Rating)
			}
			if p.Notes != "" {
				fmt.Fprintf(&sb, "\n%s\n", p.Notes)
			}
			sb.WriteString("\n")
		}
	}

	if goals := byType[models.TypeGoal]; len(goals) > 0 {
		sb.WriteString("## Goals\n\n")
		sortRecords(goals, goalKind.less)
		for _, r := range goals {
			var g models.Goal
			if r.Decode(&g) != nil {
				continue
			}
			box := " "
			if g.Completed {
				box = "x"
			}
			fmt.Fprintf(&sb, "- [%s] %s", box, g.Title)
			if g.TargetDate != "" {
				fmt.Fprintf(&sb, " (by %s)", g.TargetDate)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if songs := byType[models.TypeRepertoire]; len(songs) > 0 {
		sb.WriteString("## Repertoire\n\n")
		sortRecords(songs, songKind.less)
		for _, r := range songs {
			var s models.RepertoireSong
			if r.Decode(&s) != nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s", s.Title)
			if s.Artist != "" {
				fmt.Fprintf(&sb, " (%s)", s.Artist)
			}
			fmt.Fprintf(&sb, ": %s\n", s.Status)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a JSON export",
	Long: `Writes every live record of an export through the normal write path, so
imports are validated and synced like local edits. Records whose local copy
is the same age or newer are skipped unless --force is given.`,
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		var in exportFile
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		imported, skipped := 0, 0
		for _, rec := range models.Live(in.Records) {
			if !rec.Type.Valid() {
				output.Warning("skipping %s/%s: unknown record type", rec.Type, rec.ID)
				skipped++
				continue
			}
			cur, err := s.db.Get(rec.Type, rec.ID)
			if err != nil {
				return err
			}
			if cur != nil && !force && !rec.UpdatedAt.After(cur.UpdatedAt) {
				skipped++
				continue
			}
			if dryRun {
				fmt.Printf("would import %s %s\n", rec.Type, rec.ID)
				imported++
				continue
			}
			if _, err := s.coord.EnqueueOrWrite(cmd.Context(), rec); err != nil {
				return fmt.Errorf("import %s/%s: %w", rec.Type, rec.ID, err)
			}
			imported++
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %d records (%d skipped)\n", verb, imported, skipped)
		return nil
	},
}

func init() {
	infoCmd.Flags().Bool("json", false, "Output as JSON")
	versionCmd.Flags().Bool("short", false, "Print only the version string")

	exportCmd.Flags().String("format", "json", "Export format: json or md")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	exportCmd.Flags().Bool("all", false, "Include deleted records (json only)")
	exportCmd.Flags().Bool("render-markdown", false, "Render the markdown log for the terminal")

	importCmd.Flags().Bool("dry-run", false, "Show what would be imported")
	importCmd.Flags().Bool("force", false, "Overwrite local records even when they are newer")

	rootCmd.AddCommand(infoCmd, versionCmd, exportCmd, importCmd)
}
