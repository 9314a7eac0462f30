// Package handler serves the local web UI: submit question text, poll
// progress, download the finished workbook.
package handler

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/upscqa/analyzer/internal/config"
	"github.com/upscqa/analyzer/internal/llm"
	"github.com/upscqa/analyzer/internal/parse"
	"github.com/upscqa/analyzer/internal/report"
	"github.com/upscqa/analyzer/internal/session"
)

//go:embed index.html
var staticFS embed.FS

// Handler holds shared dependencies for the web mode.
type Handler struct {
	cfg     config.Config
	llm     *llm.Client
	history session.History

	mu       sync.Mutex
	sessions map[string]*webSession
}

// New creates a Handler. history may be nil.
func New(cfg config.Config, client *llm.Client, history session.History) *Handler {
	return &Handler{
		cfg:      cfg,
		llm:      client,
		history:  history,
		sessions: make(map[string]*webSession),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/analyze", h.handleAnalyze)
	r.Get("/progress/{sessionID}", h.handleProgress)
	r.Get("/download/{sessionID}", h.handleDownload)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFS.ReadFile("index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

type analyzeRequest struct {
	Subject      string `json:"subject"`
	Topic        string `json:"topic"`
	Subtopic     string `json:"subtopic"`
	QuestionText string `json:"question_text"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Topic = strings.TrimSpace(req.Topic)
	req.Subtopic = strings.TrimSpace(req.Subtopic)
	req.QuestionText = strings.TrimSpace(req.QuestionText)

	if req.Subject == "" || req.Topic == "" || req.Subtopic == "" || req.QuestionText == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}
	if !strings.Contains(req.QuestionText, "**QUESTION") {
		writeError(w, http.StatusBadRequest, "no questions found; the text must contain **QUESTION N** markers")
		return
	}

	ws := &webSession{id: newSessionID(), status: "parsing"}
	ws.addMessage("Parsing questions from text...")
	h.mu.Lock()
	h.sessions[ws.id] = ws
	h.mu.Unlock()

	content := fmt.Sprintf("Subject: %s\nTopic: %s\nSubtopic: %s\n\n%s",
		req.Subject, req.Topic, req.Subtopic, req.QuestionText)

	go h.runSession(ws, content)

	writeJSON(w, http.StatusOK, map[string]string{"session_id": ws.id})
}

func (h *Handler) runSession(ws *webSession, content string) {
	runner := &session.Runner{
		Parser:   parse.New(),
		Analyzer: h.llm,
		History:  h.history,
		Listener: ws,
		Model:    h.llm.Model(),
		NewSink: func(string) (session.Sink, error) {
			path := filepath.Join(h.cfg.OutputDir, "analysis_"+ws.id+".xlsx")
			ws.setExcelPath(path)
			return report.NewWriter(path, h.cfg.SheetName)
		},
	}

	ws.setStatus("analyzing")
	ws.addMessage("Starting question analysis...")

	summary, err := runner.RunContent(context.Background(), "web-"+ws.id, content)
	if err != nil {
		ws.fail(err.Error())
		slog.Error("web session failed", "session", ws.id, "error", err)
		return
	}

	ws.complete(summary)
	slog.Info("web session finished",
		"session", ws.id, "completed", summary.Completed, "failed", summary.Failed)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	ws := h.session(chi.URLParam(r, "sessionID"))
	if ws == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.snapshot())
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ws := h.session(chi.URLParam(r, "sessionID"))
	if ws == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	path := ws.excelPathValue()
	if path == "" {
		writeError(w, http.StatusNotFound, "workbook not found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "workbook not found")
		return
	}

	name := fmt.Sprintf("upsc_analysis_%s_%s.xlsx", ws.id, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := h.llm.Ping(r.Context()) == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"ollama_connected": connected,
		"model":            h.llm.Model(),
	})
}

func (h *Handler) session(id string) *webSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

func newSessionID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
