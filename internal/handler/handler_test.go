package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/upscqa/analyzer/internal/config"
	"github.com/upscqa/analyzer/internal/llm"
)

const stubTableResponse = `| Subject | Topic | Subtopic | Question | Answer with Explanation | Rating | Conceptual Depth | Answer Accuracy | Topic Relevance | Improved Question |
|---|---|---|---|---|---|---|---|---|---|
| History | Modern India | Freedom Struggle | Who founded the INC? | A. Hume, a retired civil servant, founded it in 1885. | 8 | Good factual grounding | Accurate | Highly relevant | N/A |`

const validQuestionText = `**QUESTION 1**

**Q:** Who founded the Indian National Congress?
A. A. O. Hume
B. Dadabhai Naoroji
C. W. C. Bonnerjee
D. Surendranath Banerjea

**Correct Answer:** A. A. O. Hume

**Explanation:** Founded in 1885 by Allan Octavian Hume.`

// newStubOllama serves the two OpenAI-compatible routes the client
// uses, always succeeding with a parseable table.
func newStubOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"test-model"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": stubTableResponse}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T) *httptest.Server {
	t.Helper()
	ollama := newStubOllama(t)
	cfg := config.Config{
		Model:      "test-model",
		BaseURL:    ollama.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		OutputDir:  t.TempDir(),
		SheetName:  "UPSC Question Analysis",
	}

	h := New(cfg, llm.New(cfg), nil)
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postAnalyze(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/analyze", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /analyze: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestAnalyzeValidation(t *testing.T) {
	srv := newTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"subject":`},
		{"missing fields", `{"subject":"History","topic":"","subtopic":"x","question_text":"y"}`},
		{"no question marker", `{"subject":"History","topic":"Modern India","subtopic":"Freedom","question_text":"just prose"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postAnalyze(t, srv, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if out["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestProgressUnknownSession(t *testing.T) {
	srv := newTestHandler(t)
	resp, err := http.Get(srv.URL + "/progress/deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownloadUnknownSession(t *testing.T) {
	srv := newTestHandler(t)
	resp, err := http.Get(srv.URL + "/download/deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestHandler(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "healthy" {
		t.Errorf("status field = %v", out["status"])
	}
	if out["ollama_connected"] != true {
		t.Errorf("ollama_connected = %v, want true", out["ollama_connected"])
	}
	if out["model"] != "test-model" {
		t.Errorf("model = %v", out["model"])
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	srv := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{
		"subject":       "History",
		"topic":         "Modern India",
		"subtopic":      "Freedom Struggle",
		"question_text": validQuestionText,
	})
	resp, out := postAnalyze(t, srv, string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	id := out["session_id"]
	if id == "" {
		t.Fatal("expected session_id")
	}

	// Poll until the background session finishes.
	var snap struct {
		Status   string `json:"status"`
		HasExcel bool   `json:"has_excel"`
		Error    string `json:"error"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("session did not finish; last status %q error %q", snap.Status, snap.Error)
		}
		pr, err := http.Get(srv.URL + "/progress/" + id)
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(pr.Body).Decode(&snap)
		pr.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status == "completed" || snap.Status == "error" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if snap.Status != "completed" {
		t.Fatalf("status = %q, error = %q", snap.Status, snap.Error)
	}
	if !snap.HasExcel {
		t.Error("expected has_excel after completion")
	}

	dl, err := http.Get(srv.URL + "/download/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", dl.StatusCode)
	}
	if got := dl.Header.Get("Content-Disposition"); !strings.Contains(got, ".xlsx") {
		t.Errorf("Content-Disposition = %q", got)
	}
}
