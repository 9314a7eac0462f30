// Package parse turns the semi-structured UPSC question text format
// into ordered question records.
//
// A document starts with a short header (Subject:/Topic:/Subtopic:
// lines) followed by question blocks separated by a line of 60 equals
// signs. Each block carries a "**QUESTION N**" marker, a "**Q:**"
// question body, four "A."–"D." options, a "**Correct Answer:**" line
// and an "**Explanation:**" section.
package parse

import (
	"fmt"
	"iter"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/upscqa/analyzer/internal/model"
)

const blockSeparator = "============================================================"

var (
	questionMarkerRe = regexp.MustCompile(`\*\*QUESTION\s+(\d+)\*\*`)
	optionRe         = regexp.MustCompile(`^([A-D])\.\s*(.*)`)
	answerRe         = regexp.MustCompile(`\*\*Correct Answer:\*\*\s*([A-D])\.\s*([^\n]+)`)
	explanationRe    = regexp.MustCompile(`(?s)\*\*Explanation:\*\*(.*?)(?:\n\n|\z)`)
)

// Header is the document-level subject classification applied to every
// record in the file.
type Header struct {
	Subject  string
	Topic    string
	Subtopic string
}

// Result holds a full parse of one document.
type Result struct {
	Records []model.QuestionRecord
	// Skipped counts malformed blocks. They are not fatal; the run
	// reports them alongside analysis failures.
	Skipped int
}

// Parser extracts question records from the documented text format.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// ParseFile reads and parses one input file.
func (p *Parser) ParseFile(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Parse(string(data)), nil
}

// Parse parses a raw document.
func (p *Parser) Parse(content string) Result {
	header := extractHeader(content)

	var res Result
	for _, block := range questionBlocks(content) {
		rec, ok := parseBlock(block, header)
		if !ok {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// Records returns a lazy, restartable sequence over the well-formed
// records of a document. Malformed blocks are skipped silently; use
// Parse when the skip count matters.
func (p *Parser) Records(content string) iter.Seq[model.QuestionRecord] {
	return func(yield func(model.QuestionRecord) bool) {
		header := extractHeader(content)
		for _, block := range questionBlocks(content) {
			rec, ok := parseBlock(block, header)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// extractHeader scans the first ten lines for the Subject/Topic/
// Subtopic classification.
func extractHeader(content string) Header {
	var h Header
	lines := strings.Split(content, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Subject:"):
			h.Subject = strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))
		case strings.HasPrefix(line, "Topic:"):
			h.Topic = strings.TrimSpace(strings.TrimPrefix(line, "Topic:"))
		case strings.HasPrefix(line, "Subtopic:"):
			h.Subtopic = strings.TrimSpace(strings.TrimPrefix(line, "Subtopic:"))
		}
	}
	return h
}

func questionBlocks(content string) []string {
	var blocks []string
	for _, block := range strings.Split(content, blockSeparator) {
		block = strings.TrimSpace(block)
		if block != "" && strings.Contains(block, "**QUESTION") {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// parseBlock extracts one record. A block missing any required field
// reports ok=false and is counted as a parse failure by the caller.
func parseBlock(block string, header Header) (model.QuestionRecord, bool) {
	m := questionMarkerRe.FindStringSubmatch(block)
	if m == nil {
		return model.QuestionRecord{}, false
	}
	number, err := strconv.Atoi(m[1])
	if err != nil {
		return model.QuestionRecord{}, false
	}

	text := extractQuestionText(block)
	if text == "" {
		return model.QuestionRecord{}, false
	}

	options := extractOptions(block)
	if len(options) != 4 {
		return model.QuestionRecord{}, false
	}

	am := answerRe.FindStringSubmatch(block)
	if am == nil {
		return model.QuestionRecord{}, false
	}
	answer := am[1] + ". " + strings.TrimSpace(am[2])

	em := explanationRe.FindStringSubmatch(block)
	if em == nil {
		return model.QuestionRecord{}, false
	}
	explanation := strings.TrimSpace(em[1])

	return model.QuestionRecord{
		Subject:       header.Subject,
		Topic:         header.Topic,
		Subtopic:      header.Subtopic,
		Number:        number,
		Text:          text,
		Options:       options,
		CorrectAnswer: answer,
		Explanation:   explanation,
	}, true
}

// extractQuestionText joins the lines between the **Q:** marker and the
// first lettered option.
func extractQuestionText(block string) string {
	var parts []string
	inQuestion := false
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "**Q:**"):
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "**Q:**")))
			inQuestion = true
		case inQuestion && optionRe.MatchString(line):
			return strings.TrimSpace(strings.Join(parts, " "))
		case inQuestion && line != "":
			parts = append(parts, line)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func extractOptions(block string) []string {
	var options []string
	seenAnswer := false
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "**Correct Answer:**") {
			seenAnswer = true
		}
		if seenAnswer {
			continue
		}
		if m := optionRe.FindStringSubmatch(line); m != nil {
			options = append(options, m[1]+". "+m[2])
		}
	}
	return options
}

// FormatForAnalysis renders a record as the prompt body sent to the
// model.
func FormatForAnalysis(q model.QuestionRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\nTopic: %s\nSubtopic: %s\n\n", q.Subject, q.Topic, q.Subtopic)
	fmt.Fprintf(&sb, "Question %d: %s\n\nOptions:\n", q.Number, q.Text)
	sb.WriteString(strings.Join(q.Options, "\n"))
	fmt.Fprintf(&sb, "\n\nCorrect Answer: %s\n\nExplanation: %s", q.CorrectAnswer, q.Explanation)
	return sb.String()
}
