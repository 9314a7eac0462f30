package handler

import (
	"fmt"
	"sync"
	"time"

	"github.com/upscqa/analyzer/internal/model"
)

// webSession tracks one browser-initiated analysis run. It doubles as
// the run's progress listener.
type webSession struct {
	id string

	mu        sync.Mutex
	status    string // parsing, analyzing, completed, error
	current   int
	total     int
	completed int
	failed    int
	done      bool
	errMsg    string
	messages  []string
	excelPath string
}

// progressSnapshot is the JSON shape the polling endpoint returns.
type progressSnapshot struct {
	Status          string   `json:"status"`
	CurrentQuestion int      `json:"current_question"`
	TotalQuestions  int      `json:"total_questions"`
	ProgressPercent int      `json:"progress_percent"`
	Completed       bool     `json:"completed"`
	Error           string   `json:"error,omitempty"`
	Messages        []string `json:"messages"`
	HasExcel        bool     `json:"has_excel"`
}

func (ws *webSession) Notify(ev model.Event) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.current = ev.Index
	ws.total = ev.Total
	ws.completed = ev.Completed
	ws.failed = ev.Failed
	switch ev.Kind {
	case model.EventProcessing:
		ws.pushMessage(fmt.Sprintf("Processing question %d/%d", ev.Index, ev.Total))
	case model.EventSuccess:
		ws.pushMessage(fmt.Sprintf("Question %d analyzed successfully", ev.Index))
	case model.EventFailure:
		ws.pushMessage(fmt.Sprintf("Question %d failed: %s", ev.Index, ev.Err))
	}
}

func (ws *webSession) addMessage(msg string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.pushMessage(msg)
}

// pushMessage must be called with the lock held.
func (ws *webSession) pushMessage(msg string) {
	ws.messages = append(ws.messages, "["+time.Now().Format("15:04:05")+"] "+msg)
}

func (ws *webSession) setStatus(status string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = status
}

func (ws *webSession) setExcelPath(path string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.excelPath = path
}

func (ws *webSession) excelPathValue() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.excelPath
}

func (ws *webSession) fail(msg string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = "error"
	ws.errMsg = msg
	ws.pushMessage("Fatal error: " + msg)
}

func (ws *webSession) complete(summary model.RunSummary) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = "completed"
	ws.done = true
	ws.pushMessage(fmt.Sprintf("Analysis completed: %d successful, %d failed", summary.Completed, summary.Failed))
	ws.pushMessage("Excel file ready for download")
}

func (ws *webSession) snapshot() progressSnapshot {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	percent := 0
	if ws.total > 0 {
		percent = (ws.completed + ws.failed) * 100 / ws.total
	}
	msgs := ws.messages
	if len(msgs) > 10 {
		msgs = msgs[len(msgs)-10:]
	}
	return progressSnapshot{
		Status:          ws.status,
		CurrentQuestion: ws.current,
		TotalQuestions:  ws.total,
		ProgressPercent: percent,
		Completed:       ws.done,
		Error:           ws.errMsg,
		Messages:        append([]string(nil), msgs...),
		HasExcel:        ws.excelPath != "",
	}
}
