package progress

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/upscqa/analyzer/internal/model"
)

func TestConsoleNotify(t *testing.T) {
	var buf strings.Builder
	c := NewConsole(&buf)

	c.Notify(model.Event{Kind: model.EventProcessing, Index: 1, Total: 3})
	c.Notify(model.Event{Kind: model.EventSuccess, Index: 1, Total: 3})
	c.Notify(model.Event{Kind: model.EventProcessing, Index: 2, Total: 3})
	c.Notify(model.Event{Kind: model.EventFailure, Index: 2, Total: 3, Err: "model down"})

	out := buf.String()
	for _, want := range []string{
		"Processing question 1/3",
		"  done",
		"Processing question 2/3",
		"  failed: model down",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type countingListener struct {
	n int
}

func (c *countingListener) Notify(model.Event) { c.n++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingListener{}, &countingListener{}
	m := Multi{a, b}

	m.Notify(model.Event{Kind: model.EventProcessing})
	m.Notify(model.Event{Kind: model.EventSuccess})

	if a.n != 2 || b.n != 2 {
		t.Errorf("listener counts = %d, %d, want 2, 2", a.n, b.n)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf strings.Builder
	PrintSummary(&buf, model.RunSummary{
		InputFile:  "questions.txt",
		OutputFile: "output/analysis_results.xlsx",
		Total:      10,
		Completed:  8,
		Failed:     2,
		ParseSkips: 1,
		Elapsed:    95 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{
		"Analysis Complete",
		"questions.txt",
		"Successful:",
		"8",
		"Failed:",
		"80.0%",
		"1m 35s",
		"output/analysis_results.xlsx",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "interrupted") {
		t.Error("summary should not warn about interruption")
	}
}

func TestPrintSummaryInterrupted(t *testing.T) {
	var buf strings.Builder
	PrintSummary(&buf, model.RunSummary{
		InputFile: "questions.txt", Total: 5, Completed: 2, Interrupted: true,
	})
	if !strings.Contains(buf.String(), "interrupted") {
		t.Error("summary should warn about interruption")
	}
}

func TestLiveViewQuestionTruncation(t *testing.T) {
	// A multi-byte rune straddling the display cutoff must not be
	// split into invalid UTF-8.
	m := liveModel{
		total:     1,
		question:  strings.Repeat("a", 99) + strings.Repeat("क", 5),
		startedAt: time.Now(),
		bar:       progress.New(progress.WithDefaultGradient()),
	}
	out := m.View()
	if !utf8.ValidString(out) {
		t.Error("view contains invalid UTF-8")
	}
	if !strings.Contains(out, strings.Repeat("a", 99)+"...") {
		t.Error("view should truncate the question with an ellipsis")
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "0m 42s"},
		{60 * time.Second, "1m 0s"},
		{95 * time.Second, "1m 35s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
