package cmd

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	setupRiff(t)
	mustRiff(t, "goals", "add", "Learn", "Oleo", "--target", "2026-05-01")
	mustRiff(t, "songs", "add", "Oleo", "--artist", "Sonny Rollins", "--status", "practicing")
	mustRiff(t, "sessions", "add", "--date", "2026-03-03", "-t", "40", "--focus", "head at 180")

	file := filepath.Join(t.TempDir(), "backup.json")
	out := mustRiff(t, "export", "-o", file)
	if !strings.Contains(out, "Exported 3 records") {
		t.Errorf("export output:\n%s", out)
	}

	// A fresh store on "another machine".
	setupRiff(t)
	out = mustRiff(t, "import", file, "--dry-run")
	if !strings.Contains(out, "Would import 3 records") {
		t.Errorf("dry run output:\n%s", out)
	}
	if n := len(listJSON(t, "goals")); n != 0 {
		t.Fatalf("dry run wrote %d goals", n)
	}

	out = mustRiff(t, "import", file)
	if !strings.Contains(out, "Imported 3 records (0 skipped)") {
		t.Errorf("import output:\n%s", out)
	}
	if songs := listJSON(t, "songs"); len(songs) != 1 || songTitle(songs[0]) != "Oleo" {
		t.Errorf("songs after import: %+v", songs)
	}

	// Local copies are now newer than the backup.
	out = mustRiff(t, "import", file)
	if !strings.Contains(out, "Imported 0 records (3 skipped)") {
		t.Errorf("re-import output:\n%s", out)
	}
}

func TestExportMarkdown(t *testing.T) {
	setupRiff(t)
	mustRiff(t, "goals", "add", "Transcribe", "a", "Wes", "solo", "--completed")
	mustRiff(t, "sessions", "add", "--date", "2026-03-04", "-t", "90", "--instrument", "guitar")

	out := mustRiff(t, "export", "--format", "md")
	for _, want := range []string{"# Practice Log", "### 2026-03-04, 1h30m", "- Instrument: guitar", "- [x] Transcribe a Wes solo"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}

	if _, err := runRiff(t, "export", "--format", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestInfo(t *testing.T) {
	setupRiff(t)
	mustRiff(t, "songs", "add", "Blue Monk")
	out := mustRiff(t, "info")
	for _, want := range []string{"(not logged in)", "repertoire", "Schema:"} {
		if !strings.Contains(out, want) {
			t.Errorf("info missing %q:\n%s", want, out)
		}
	}
}
