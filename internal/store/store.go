// Package store persists the history of analysis runs and per-record
// outcomes in SQLite. The live pipeline works without it; the export
// subcommand and the web download listing read from it.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/upscqa/analyzer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		input_file TEXT NOT NULL,
		output_file TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		total INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		parse_skips INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		rating INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun records the start of an analysis session.
func (s *Store) CreateRun(inputFile, outputFile, modelName string, total, parseSkips int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (input_file, output_file, model, status, total, parse_skips, started_at)
		 VALUES (?, ?, ?, 'running', ?, ?, ?)`,
		inputFile, outputFile, modelName, total, parseSkips, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddOutcome records the fate of one question record.
func (s *Store) AddOutcome(o model.Outcome) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO outcomes (run_id, number, subject, topic, question, kind, rating, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Number, o.Subject, o.Topic, o.Question, o.Kind, o.Rating, o.Error, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun closes out a run with its final counts and status.
func (s *Store) FinishRun(id int64, status model.RunStatus, completed, failed int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed = ?, failed = ?, finished_at = ? WHERE id = ?`,
		status, completed, failed, time.Now(), id,
	)
	return err
}

// GetRun returns a run by ID.
func (s *Store) GetRun(id int64) (model.Run, error) {
	var r model.Run
	err := s.db.QueryRow(
		`SELECT id, input_file, output_file, model, status, total, completed, failed, parse_skips, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.InputFile, &r.OutputFile, &r.Model, &r.Status, &r.Total, &r.Completed, &r.Failed, &r.ParseSkips, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, input_file, output_file, model, status, total, completed, failed, parse_skips, started_at, finished_at
		 FROM runs ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.InputFile, &r.OutputFile, &r.Model, &r.Status, &r.Total, &r.Completed, &r.Failed, &r.ParseSkips, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// OutcomesForRun returns a run's per-record outcomes in processing
// order.
func (s *Store) OutcomesForRun(runID int64) ([]model.Outcome, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, number, subject, topic, question, kind, rating, error, created_at
		 FROM outcomes WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.ID, &o.RunID, &o.Number, &o.Subject, &o.Topic, &o.Question, &o.Kind, &o.Rating, &o.Error, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// RunCount returns the number of persisted runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}
