// Package session drives the analysis pipeline: parse the input,
// analyze each record sequentially, append each result to the sink and
// notify the progress listener. One run covers one input document.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/upscqa/analyzer/internal/model"
	"github.com/upscqa/analyzer/internal/parse"
	"github.com/upscqa/analyzer/internal/progress"
)

// ErrNoQuestions reports an input document with no well-formed
// question blocks.
var ErrNoQuestions = errors.New("no questions found in input")

// Analyzer produces an analysis result for one formatted question.
type Analyzer interface {
	Analyze(ctx context.Context, question string) (model.AnalysisResult, error)
}

// Sink is the append-only destination for report rows. Sink errors are
// fatal to the run: once the output cannot be guaranteed, continuing
// would silently drop results.
type Sink interface {
	Append(row model.ReportRow) error
	Finalize(summary model.RunSummary) error
	Path() string
	Close() error
}

// History records runs and outcomes for later export. Optional.
type History interface {
	CreateRun(inputFile, outputFile, modelName string, total, parseSkips int) (int64, error)
	AddOutcome(o model.Outcome) (int64, error)
	FinishRun(id int64, status model.RunStatus, completed, failed int) error
}

// Runner owns the session state for one or more runs.
type Runner struct {
	Parser   *parse.Parser
	Analyzer Analyzer
	// NewSink opens the output workbook for a run. The stem is the
	// input file's base name without extension.
	NewSink  func(stem string) (Sink, error)
	History  History // nil disables run persistence
	Listener progress.Listener
	Model    string
}

// RunFile parses and processes one input file.
func (r *Runner) RunFile(ctx context.Context, path string) (model.RunSummary, error) {
	res, err := r.Parser.ParseFile(path)
	if err != nil {
		return model.RunSummary{}, err
	}
	return r.run(ctx, path, res)
}

// RunContent processes an in-memory document, as submitted through the
// web UI. The name identifies the run in progress events and history.
func (r *Runner) RunContent(ctx context.Context, name, content string) (model.RunSummary, error) {
	return r.run(ctx, name, r.Parser.Parse(content))
}

func (r *Runner) run(ctx context.Context, name string, parsed parse.Result) (model.RunSummary, error) {
	state := model.SessionState{
		CurrentFile: name,
		Total:       len(parsed.Records),
		ParseSkips:  parsed.Skipped,
		StartedAt:   time.Now(),
	}
	if state.Total == 0 {
		return r.summary(state, false, ""), ErrNoQuestions
	}
	slog.Info("starting analysis", "file", name, "questions", state.Total, "malformed_blocks", parsed.Skipped)

	sink, err := r.NewSink(stem(name))
	if err != nil {
		return r.summary(state, false, ""), fmt.Errorf("open output sink: %w", err)
	}
	defer sink.Close()

	var runID int64
	if r.History != nil {
		runID, err = r.History.CreateRun(name, sink.Path(), r.Model, state.Total, state.ParseSkips)
		if err != nil {
			slog.Warn("could not record run in history", "error", err)
			runID = 0
		}
	}

	interrupted := false
	for i, rec := range parsed.Records {
		// Ctrl+C cancels ctx; the record already being analyzed is
		// allowed to finish and reach the sink before we stop.
		if ctx.Err() != nil {
			interrupted = true
			slog.Warn("interrupted", "at_question", i+1, "total", state.Total)
			break
		}

		r.notify(model.Event{
			Kind: model.EventProcessing, Index: i + 1, Total: state.Total,
			Completed: state.Completed, Failed: state.Failed,
			Question: rec.Text,
		})

		result, err := r.Analyzer.Analyze(context.WithoutCancel(ctx), parse.FormatForAnalysis(rec))
		if err != nil {
			state.Failed++
			r.notify(model.Event{
				Kind: model.EventFailure, Index: i + 1, Total: state.Total,
				Completed: state.Completed, Failed: state.Failed,
				Err: err.Error(),
			})
			r.record(runID, rec, model.OutcomeAnalysisFailed, 0, err.Error())
			continue
		}

		row := model.NewReportRow(rec, result)
		if err := sink.Append(row); err != nil {
			r.finishHistory(runID, model.RunFailed, state)
			return r.summary(state, false, sink.Path()), fmt.Errorf("write result row: %w", err)
		}

		state.Completed++
		r.notify(model.Event{
			Kind: model.EventSuccess, Index: i + 1, Total: state.Total,
			Completed: state.Completed, Failed: state.Failed,
		})
		r.record(runID, rec, model.OutcomeSuccess, result.Rating, "")
	}

	summary := r.summary(state, interrupted, sink.Path())
	if err := sink.Finalize(summary); err != nil {
		r.finishHistory(runID, model.RunFailed, state)
		return summary, fmt.Errorf("finalize output: %w", err)
	}

	status := model.RunCompleted
	if interrupted {
		status = model.RunInterrupted
	}
	r.finishHistory(runID, status, state)

	slog.Info("analysis finished",
		"file", name, "completed", state.Completed, "failed", state.Failed,
		"interrupted", interrupted, "output", sink.Path())
	return summary, nil
}

// InputFiles lists the input documents matching pattern under dir,
// sorted by name.
func InputFiles(dir, pattern string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list input files: %w", err)
	}
	return files, nil
}

func (r *Runner) notify(ev model.Event) {
	if r.Listener != nil {
		r.Listener.Notify(ev)
	}
}

func (r *Runner) record(runID int64, rec model.QuestionRecord, kind model.OutcomeKind, rating int, errMsg string) {
	if r.History == nil || runID == 0 {
		return
	}
	_, err := r.History.AddOutcome(model.Outcome{
		RunID:    runID,
		Number:   rec.Number,
		Subject:  rec.Subject,
		Topic:    rec.Topic,
		Question: rec.Text,
		Kind:     kind,
		Rating:   rating,
		Error:    errMsg,
	})
	if err != nil {
		slog.Warn("could not record outcome", "error", err)
	}
}

func (r *Runner) finishHistory(runID int64, status model.RunStatus, state model.SessionState) {
	if r.History == nil || runID == 0 {
		return
	}
	if err := r.History.FinishRun(runID, status, state.Completed, state.Failed); err != nil {
		slog.Warn("could not finish run in history", "error", err)
	}
}

func (r *Runner) summary(state model.SessionState, interrupted bool, outputPath string) model.RunSummary {
	return model.RunSummary{
		InputFile:   state.CurrentFile,
		OutputFile:  outputPath,
		Total:       state.Total,
		Completed:   state.Completed,
		Failed:      state.Failed,
		ParseSkips:  state.ParseSkips,
		Elapsed:     time.Since(state.StartedAt),
		Interrupted: interrupted,
	}
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
