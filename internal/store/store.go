// Package store keeps the history of evaluation runs and candidate
// metadata in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pavelanni/taskeval/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
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
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL DEFAULT '',
		candidate TEXT NOT NULL DEFAULT '',
		submission_file TEXT NOT NULL DEFAULT '',
		total_points REAL NOT NULL DEFAULT 0,
		max_points REAL NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT '',
		failure_reasons TEXT NOT NULL DEFAULT '[]',
		report TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_exam ON runs(exam_id);
	CREATE INDEX IF NOT EXISTS idx_runs_candidate ON runs(candidate);

	CREATE TABLE IF NOT EXISTS candidate_metadata (
		candidate TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (candidate, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RunFromReport converts a report into a run ready to be recorded.
func RunFromReport(rep *model.Report, submissionFile string) (*model.Run, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return &model.Run{
		ExamID:         rep.ExamID,
		Candidate:      rep.Candidate,
		SubmissionFile: submissionFile,
		TotalPoints:    rep.TotalPoints,
		MaxPoints:      rep.MaxPoints,
		Percentage:     rep.OverallScore,
		Passed:         rep.Passed,
		Tier:           rep.Tier,
		FailureReasons: rep.FailureReasons,
		Report:         data,
		CreatedAt:      rep.EvaluatedAt,
	}, nil
}

// RecordRun stores run, assigning an ID and creation time when unset.
func (s *Store) RecordRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	if run.FailureReasons == nil {
		run.FailureReasons = []string{}
	}
	reasons, err := json.Marshal(run.FailureReasons)
	if err != nil {
		return fmt.Errorf("marshal failure reasons: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, exam_id, candidate, submission_file, total_points, max_points,
		 percentage, passed, tier, failure_reasons, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ExamID, run.Candidate, run.SubmissionFile, run.TotalPoints, run.MaxPoints,
		run.Percentage, run.Passed, run.Tier, string(reasons), string(run.Report), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, exam_id, candidate, submission_file, total_points, max_points,
	percentage, passed, tier, failure_reasons, report, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (model.Run, error) {
	var (
		r       model.Run
		reasons string
		report  string
	)
	err := sc.Scan(&r.ID, &r.ExamID, &r.Candidate, &r.SubmissionFile, &r.TotalPoints, &r.MaxPoints,
		&r.Percentage, &r.Passed, &r.Tier, &reasons, &report, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(reasons), &r.FailureReasons); err != nil {
		return r, fmt.Errorf("run %s: decode failure reasons: %w", r.ID, err)
	}
	if report != "" {
		r.Report = json.RawMessage(report)
	}
	return r, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs matching f, oldest first. Report bodies are not
// loaded.
func (s *Store) ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.ExamID != "" {
		query += ` AND exam_id = ?`
		args = append(args, f.ExamID)
	}
	if f.Candidate != "" {
		query += ` AND candidate = ?`
		args = append(args, f.Candidate)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		r.Report = nil
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunCount returns the number of recorded runs.
func (s *Store) RunCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// DeleteRun removes a run. Deleting a missing run returns ErrNotFound.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}
