package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/upscqa/analyzer/internal/config"
)

const tableResponse = `Here is my analysis:

| Subject | Topic | Subtopic | Question (Complete) | Answer with Explanation (Complete) | Rating (out of 10) | Conceptual Depth | Answer Accuracy | Topic-Subtopic Relevance | Improved Version |
|---------|-------|----------|---------------------|------------------------------------|--------------------|------------------|-----------------|--------------------------|------------------|
| History | Modern India | Freedom Struggle | Who founded the INC? | A. O. Hume; founded 1885. | 8 | Tests recall more than understanding | Answer is correct | Fits the declared subtopic | N/A |
`

func TestParseResponseTable(t *testing.T) {
	res, err := parseResponse(tableResponse)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if res.Rating != 8 {
		t.Errorf("rating = %d, want 8", res.Rating)
	}
	if res.ConceptualDepth != "Tests recall more than understanding" {
		t.Errorf("conceptual depth = %q", res.ConceptualDepth)
	}
	if res.AnswerAccuracy != "Answer is correct" {
		t.Errorf("answer accuracy = %q", res.AnswerAccuracy)
	}
	if res.TopicRelevance != "Fits the declared subtopic" {
		t.Errorf("topic relevance = %q", res.TopicRelevance)
	}
	if res.ImprovedVersion != "N/A" {
		t.Errorf("improved version = %q", res.ImprovedVersion)
	}
	if !strings.Contains(res.AnswerExplanation, "A. O. Hume") {
		t.Errorf("answer explanation = %q", res.AnswerExplanation)
	}
}

func TestParseResponseRatingRange(t *testing.T) {
	tests := []struct {
		cell string
		want int
	}{
		{"8", 8},
		{"Rating: 9/10", 9},
		{"10", 10},
		{"poor", 0},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			if got := firstInt(tt.cell); got != tt.want {
				t.Errorf("firstInt(%q) = %d, want %d", tt.cell, got, tt.want)
			}
		})
	}
}

func TestParseResponseFallback(t *testing.T) {
	raw := `The question is decent overall.

Rating: 6 out of 10
Conceptual Depth: Mostly factual recall
Answer Accuracy: The stated answer is correct
Topic-Subtopic Relevance: Good fit
`
	res, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse fallback: %v", err)
	}
	if res.Rating != 6 {
		t.Errorf("rating = %d, want 6", res.Rating)
	}
	if res.ConceptualDepth != "Mostly factual recall" {
		t.Errorf("conceptual depth = %q", res.ConceptualDepth)
	}
}

func TestParseResponseNoRating(t *testing.T) {
	_, err := parseResponse("I cannot analyze this question.")
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestClampRuneBoundary(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		limit int
		want  string
	}{
		{"under limit", "short", 10, "short"},
		{"at limit", "12345", 5, "12345"},
		{"ascii over limit", "123456", 5, "12345"},
		{"rune straddles limit", strings.Repeat("a", 499) + "क", 500, strings.Repeat("a", 499)},
		{"multibyte over limit", strings.Repeat("क", 4), 7, strings.Repeat("क", 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.s, tt.limit)
			if got != tt.want {
				t.Errorf("clamp(%q, %d) = %q, want %q", tt.s, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("clamp produced invalid UTF-8: %q", got)
			}
			if len(got) > tt.limit {
				t.Errorf("clamp result is %d bytes, limit %d", len(got), tt.limit)
			}
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1"},
	}
	for _, tt := range tests {
		if got := normalizeBaseURL(tt.in); got != tt.want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// newStubServer returns an endpoint that fails the first failures chat
// requests with HTTP 500 and then serves content.
func newStubServer(t *testing.T, failures int, content string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "llama3.1:8b", "object": "model"}},
			})
		case "/v1/chat/completions":
			n := calls.Add(1)
			if n <= int64(failures) {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "stub",
				"object":  "chat.completion",
				"created": 1,
				"model":   "llama3.1:8b",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(srvURL string, maxRetries int) *Client {
	return New(config.Config{
		Model:      "llama3.1:8b",
		BaseURL:    srvURL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: 0,
	})
}

func TestAnalyzeRetriesThenSucceeds(t *testing.T) {
	srv, calls := newStubServer(t, 2, tableResponse)
	client := newTestClient(srv.URL, 3)

	res, err := client.Analyze(context.Background(), "Question 1: test?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Rating != 8 {
		t.Errorf("rating = %d, want 8", res.Rating)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestAnalyzeExhaustsRetries(t *testing.T) {
	srv, calls := newStubServer(t, 100, tableResponse)
	client := newTestClient(srv.URL, 3)

	_, err := client.Analyze(context.Background(), "Question 1: test?")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestAnalyzeRetriesBadResponse(t *testing.T) {
	// The endpoint answers, but with content the parser rejects.
	srv, calls := newStubServer(t, 0, "no table here")
	client := newTestClient(srv.URL, 2)

	_, err := client.Analyze(context.Background(), "Question 1: test?")
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestPingAndListModels(t *testing.T) {
	srv, _ := newStubServer(t, 0, tableResponse)
	client := newTestClient(srv.URL, 1)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0] != "llama3.1:8b" {
		t.Errorf("models = %v", models)
	}
}

func TestPingUnreachable(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", 1)
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}
