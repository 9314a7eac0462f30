// Package llm talks to a locally running Ollama server through its
// OpenAI-compatible API and maps the model's output into analysis
// results.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/upscqa/analyzer/internal/config"
	"github.com/upscqa/analyzer/internal/llm/prompts"
	"github.com/upscqa/analyzer/internal/model"
)

// ErrBadResponse marks a model response the parser could not turn into
// an analysis result. It consumes a retry attempt like a transport
// failure.
var ErrBadResponse = errors.New("unparseable model response")

var (
	intRe      = regexp.MustCompile(`(\d+)`)
	ratingRe   = regexp.MustCompile(`(?i)Rating.*?(\d+)`)
	depthRe    = regexp.MustCompile(`(?i)Conceptual Depth:?\s*([^\n]+)`)
	accuracyRe = regexp.MustCompile(`(?i)Answer Accuracy:?\s*([^\n]+)`)
	relevRe    = regexp.MustCompile(`(?i)Topic.*?Relevance:?\s*([^\n]+)`)
)

// Client wraps an OpenAI-compatible API client with the analyzer's
// retry policy.
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// New creates a client from the loaded configuration.
func New(cfg config.Config) *Client {
	apiCfg := openai.DefaultConfig("ollama")
	apiCfg.BaseURL = normalizeBaseURL(cfg.BaseURL)

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: maxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// normalizeBaseURL appends the /v1 prefix Ollama exposes its
// OpenAI-compatible routes under, unless already present.
func normalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Analyze sends one formatted question for quality analysis. Transport
// failures and unparseable responses both retry up to the configured
// maximum with a fixed delay; exhausting the attempts returns the last
// error without aborting anything above the record level.
func (c *Client) Analyze(ctx context.Context, question string) (model.AnalysisResult, error) {
	prompt, err := prompts.BuildAnalysisPrompt(question)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("build prompt: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		res, err := c.attempt(ctx, prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		slog.Warn("analysis attempt failed",
			"attempt", attempt, "max_retries", c.maxRetries, "error", err)

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return model.AnalysisResult{}, ctx.Err()
		}
	}
	return model.AnalysisResult{}, fmt.Errorf("analysis failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, prompt string) (model.AnalysisResult, error) {
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("model API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.AnalysisResult{}, fmt.Errorf("%w: no choices returned", ErrBadResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("model response", "raw", raw)

	return parseResponse(raw)
}

// parseResponse extracts an analysis result from the model output. It
// expects the single markdown table row the system prompt asks for and
// falls back to labeled-field extraction when the model ignored the
// table format.
func parseResponse(raw string) (model.AnalysisResult, error) {
	if cells, ok := findTableRow(raw); ok {
		return resultFromRow(cells), nil
	}
	return parseFallback(raw)
}

// findTableRow locates the data row of the response table: a pipe
// line that is neither the header nor the separator, with at least
// nine cells.
func findTableRow(raw string) ([]string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "|") ||
			strings.HasPrefix(line, "|---") ||
			strings.Contains(line, "Subject") {
			continue
		}
		cells := strings.Split(line, "|")
		if len(cells) < 3 {
			continue
		}
		cells = cells[1 : len(cells)-1]
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if len(cells) >= 9 {
			return cells, true
		}
	}
	return nil, false
}

func resultFromRow(cells []string) model.AnalysisResult {
	improved := "N/A"
	if len(cells) > 9 {
		improved = clamp(cells[9], 2000)
	}
	return model.AnalysisResult{
		Rating:            firstInt(cells[5]),
		ConceptualDepth:   clamp(cells[6], 500),
		AnswerAccuracy:    clamp(cells[7], 500),
		TopicRelevance:    clamp(cells[8], 500),
		ImprovedVersion:   improved,
		AnswerExplanation: clamp(cells[4], 2000),
	}
}

// parseFallback handles responses that abandoned the table format but
// still carry labeled fields. A response without any recognizable
// rating is a format failure and consumes a retry.
func parseFallback(raw string) (model.AnalysisResult, error) {
	rm := ratingRe.FindStringSubmatch(raw)
	if rm == nil {
		return model.AnalysisResult{}, fmt.Errorf("%w: no rating found", ErrBadResponse)
	}
	rating, _ := strconv.Atoi(rm[1])

	return model.AnalysisResult{
		Rating:          rating,
		ConceptualDepth: clamp(fallbackField(depthRe, raw), 500),
		AnswerAccuracy:  clamp(fallbackField(accuracyRe, raw), 500),
		TopicRelevance:  clamp(fallbackField(relevRe, raw), 500),
		ImprovedVersion: "N/A",
	}, nil
}

func fallbackField(re *regexp.Regexp, raw string) string {
	if m := re.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Not found"
}

// firstInt pulls the first integer out of a cell, 0 when none.
func firstInt(s string) int {
	m := intRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// clamp truncates s to at most limit bytes without splitting a rune.
func clamp(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// Ping verifies the endpoint is reachable and serving models.
func (c *Client) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("model endpoint unreachable: %w", err)
	}
	return nil
}

// ListModels returns the model names the endpoint serves.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}
