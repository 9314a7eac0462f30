package progress

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/upscqa/analyzer/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4CAF50")).
			Bold(true).
			Padding(0, 1)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
	statLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Width(14)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type liveDoneMsg struct{}

type liveTickMsg time.Time

// Live renders a full-screen progress display while the pipeline runs.
// It satisfies Listener; events are forwarded into the bubbletea
// program as messages.
type Live struct {
	prog     *tea.Program
	finished chan struct{}
}

// NewLive starts the live display for a run of total records writing
// to outputPath.
func NewLive(total int, outputPath string) *Live {
	m := liveModel{
		total:      total,
		outputPath: outputPath,
		startedAt:  time.Now(),
		bar:        progress.New(progress.WithDefaultGradient()),
	}
	l := &Live{
		prog:     tea.NewProgram(m),
		finished: make(chan struct{}),
	}
	go func() {
		defer close(l.finished)
		_, _ = l.prog.Run()
	}()
	return l
}

// Notify forwards a progress event into the display.
func (l *Live) Notify(ev model.Event) {
	l.prog.Send(ev)
}

// Stop shuts the display down and waits for the terminal to be
// restored. Safe to call once the run has finished.
func (l *Live) Stop() {
	l.prog.Send(liveDoneMsg{})
	<-l.finished
}

type liveModel struct {
	total      int
	completed  int
	failed     int
	index      int
	question   string
	lastErr    string
	outputPath string
	startedAt  time.Time
	bar        progress.Model
	width      int
}

func (m liveModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return liveTickMsg(t)
	})
}

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case model.Event:
		m.index = msg.Index
		m.total = msg.Total
		m.completed = msg.Completed
		m.failed = msg.Failed
		if msg.Question != "" {
			m.question = msg.Question
		}
		if msg.Err != "" {
			m.lastErr = msg.Err
		}
		return m, nil
	case liveTickMsg:
		return m, tickCmd()
	case liveDoneMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 12
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// The display quits; the pipeline keeps running and the
			// process-level signal handler decides about the run.
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m liveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("UPSC Question Quality Analysis"))
	b.WriteString("\n\n")

	processed := m.completed + m.failed
	percent := 0.0
	if m.total > 0 {
		percent = float64(processed) / float64(m.total)
	}
	b.WriteString(m.bar.ViewAs(percent))
	fmt.Fprintf(&b, "  %d/%d\n\n", processed, m.total)

	question := m.question
	if len(question) > 100 {
		cut := 100
		for cut > 0 && !utf8.RuneStart(question[cut]) {
			cut--
		}
		question = question[:cut] + "..."
	}
	status := fmt.Sprintf("Processing question %d/%d", m.index, m.total)
	if processed == m.total && m.total > 0 {
		status = "Finishing up"
	}

	stat := func(label, value string) string {
		return statLabelStyle.Render(label) + value + "\n"
	}
	elapsed := time.Since(m.startedAt)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed.Minutes()
	}

	panel := stat("Status", status) +
		stat("Question", question) +
		stat("Successful", fmt.Sprintf("%d", m.completed)) +
		stat("Errors", fmt.Sprintf("%d", m.failed)) +
		stat("Elapsed", formatElapsed(elapsed)) +
		stat("Rate", fmt.Sprintf("%.1f/min", rate)) +
		stat("Output", m.outputPath)
	if m.lastErr != "" {
		panel += stat("Last Error", errStyle.Render(m.lastErr))
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(panel, "\n")))
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("The Excel file is updated in real time; open it in another window to monitor progress. Press Ctrl+C to stop."))
	b.WriteString("\n")

	return b.String()
}
