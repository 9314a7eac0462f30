package model

import "time"

// QuestionRecord is a single parsed question. Immutable once the parser
// has produced it.
type QuestionRecord struct {
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic"`
	Subtopic      string   `json:"subtopic"`
	Number        int      `json:"number"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// AnalysisResult is the structured quality assessment the model returns
// for one question.
type AnalysisResult struct {
	Rating            int    `json:"rating"`
	ConceptualDepth   string `json:"conceptual_depth"`
	AnswerAccuracy    string `json:"answer_accuracy"`
	TopicRelevance    string `json:"topic_relevance"`
	ImprovedVersion   string `json:"improved_version,omitempty"`
	AnswerExplanation string `json:"answer_explanation,omitempty"`
}

// ReportRow is one data row of the output workbook: question fields
// joined with the analysis. Appended exactly once, never rewritten.
type ReportRow struct {
	Subject           string
	Topic             string
	Subtopic          string
	QuestionComplete  string
	AnswerExplanation string
	Rating            int
	ConceptualDepth   string
	AnswerAccuracy    string
	TopicRelevance    string
	ImprovedVersion   string
}

// NewReportRow pairs a record with its analysis. The answer column
// prefers the model's own restatement and falls back to the parsed
// answer and explanation.
func NewReportRow(rec QuestionRecord, res AnalysisResult) ReportRow {
	answer := res.AnswerExplanation
	if answer == "" {
		answer = rec.CorrectAnswer + "\n\n" + rec.Explanation
	}
	improved := res.ImprovedVersion
	if improved == "" {
		improved = "N/A"
	}
	return ReportRow{
		Subject:           rec.Subject,
		Topic:             rec.Topic,
		Subtopic:          rec.Subtopic,
		QuestionComplete:  rec.Text,
		AnswerExplanation: answer,
		Rating:            res.Rating,
		ConceptualDepth:   res.ConceptualDepth,
		AnswerAccuracy:    res.AnswerAccuracy,
		TopicRelevance:    res.TopicRelevance,
		ImprovedVersion:   improved,
	}
}

// EventKind classifies a progress event.
type EventKind string

const (
	// EventProcessing fires when a record starts its analysis.
	EventProcessing EventKind = "processing"
	// EventSuccess fires after a record's row reached the sink.
	EventSuccess EventKind = "success"
	// EventFailure fires when a record exhausted its retries.
	EventFailure EventKind = "failure"
)

// Event is a progress notification. Listeners must render it
// idempotently; the same state may be redrawn.
type Event struct {
	Kind      EventKind
	Index     int // 1-based record index
	Total     int
	Completed int
	Failed    int
	Question  string // current question text, may be truncated
	Err       string // last error message, empty unless Kind is failure
}

// SessionState tracks one run over one input file. Owned and mutated by
// the session runner only.
type SessionState struct {
	CurrentFile string
	Total       int
	Completed   int
	Failed      int
	ParseSkips  int
	StartedAt   time.Time
}

// RunSummary is the final accounting for a run.
type RunSummary struct {
	InputFile   string        `json:"input_file"`
	OutputFile  string        `json:"output_file"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	ParseSkips  int           `json:"parse_skips"`
	Elapsed     time.Duration `json:"elapsed"`
	Interrupted bool          `json:"interrupted"`
}

// SuccessRate returns the completed share of processed records as a
// percentage value in [0, 100].
func (s RunSummary) SuccessRate() float64 {
	processed := s.Completed + s.Failed
	if processed == 0 {
		return 0
	}
	return float64(s.Completed) / float64(processed) * 100
}

// OutcomeKind is the recorded fate of one question record.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeAnalysisFailed OutcomeKind = "analysis_failed"
)

// Outcome is one record's result as persisted in the run history.
type Outcome struct {
	ID        int64       `json:"id"`
	RunID     int64       `json:"run_id"`
	Number    int         `json:"number"`
	Subject   string      `json:"subject"`
	Topic     string      `json:"topic"`
	Question  string      `json:"question"`
	Kind      OutcomeKind `json:"kind"`
	Rating    int         `json:"rating"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// Run is one persisted analysis session.
type Run struct {
	ID         int64      `json:"id"`
	InputFile  string     `json:"input_file"`
	OutputFile string     `json:"output_file"`
	Model      string     `json:"model"`
	Status     RunStatus  `json:"status"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	ParseSkips int        `json:"parse_skips"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunExport is the top-level JSON structure produced by the export
// subcommand.
type RunExport struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Model       string      `json:"model"`
	Runs        []RunDetail `json:"runs"`
}

// RunDetail joins a run with its per-record outcomes for export.
type RunDetail struct {
	Run      Run       `json:"run"`
	Outcomes []Outcome `json:"outcomes"`
}
