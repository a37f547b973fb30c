package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	fallbackWidth = 80
	minWidth      = 20
	// Notes are prose typed between takes; wider lines are hard to scan.
	maxNotesWidth = 100
)

// terminalWidth reports the stdout width in columns, or 0 when unknown.
func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

// notesWidth is the wrap column for notes shown on a terminal cols wide.
func notesWidth(cols int) int {
	switch {
	case cols <= 0:
		return fallbackWidth
	case cols < minWidth:
		return minWidth
	case cols > maxNotesWidth:
		return maxNotesWidth
	}
	return cols
}

// RenderNotes renders the markdown notes of a session, goal or song. Line
// breaks are kept as typed, so a list of tempos stays one per line.
func RenderNotes(notes string) (string, error) {
	return renderMarkdown(notes, notesWidth(terminalWidth()), true)
}

// RenderPracticeLog renders an exported practice log across the full terminal.
func RenderPracticeLog(md string) (string, error) {
	width := terminalWidth()
	if width <= 0 {
		width = fallbackWidth
	}
	return renderMarkdown(md, max(width, minWidth), false)
}

func renderMarkdown(text string, width int, keepBreaks bool) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	opts := []glamour.TermRendererOption{
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	}
	if keepBreaks {
		opts = append(opts, glamour.WithPreservedNewLines())
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
