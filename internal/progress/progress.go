// Package progress renders pipeline progress to an observer. The
// session runner emits one event per record transition; listeners must
// tolerate redraws of the same state.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/upscqa/analyzer/internal/model"
)

// Listener receives progress events from the session runner.
type Listener interface {
	Notify(ev model.Event)
}

// Multi fans one event out to several listeners.
type Multi []Listener

func (m Multi) Notify(ev model.Event) {
	for _, l := range m {
		l.Notify(ev)
	}
}

// Console is the plain-text listener used with --no-display and in
// non-interactive environments.
type Console struct {
	w io.Writer
}

// NewConsole returns a console listener writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Notify(ev model.Event) {
	switch ev.Kind {
	case model.EventProcessing:
		fmt.Fprintf(c.w, "Processing question %d/%d\n", ev.Index, ev.Total)
	case model.EventSuccess:
		fmt.Fprintln(c.w, "  done")
	case model.EventFailure:
		fmt.Fprintf(c.w, "  failed: %s\n", ev.Err)
	}
}

var (
	ruleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true).Width(26)
	errTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// PrintSummary renders the final per-run accounting.
func PrintSummary(w io.Writer, s model.RunSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, ruleStyle.Render("── Analysis Complete ──"))

	line := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
	}
	line("Input File:", s.InputFile)
	line("Total Questions:", fmt.Sprintf("%d", s.Total))
	line("Successful:", fmt.Sprintf("%d", s.Completed))
	line("Failed:", fmt.Sprintf("%d", s.Failed))
	line("Malformed Blocks:", fmt.Sprintf("%d", s.ParseSkips))
	line("Success Rate:", fmt.Sprintf("%.1f%%", s.SuccessRate()))
	line("Time Taken:", formatElapsed(s.Elapsed))
	line("Excel File:", s.OutputFile)
	if s.Interrupted {
		fmt.Fprintln(w, errTextStyle.Render("Run interrupted; results above are partial."))
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}
