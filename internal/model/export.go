package model

import (
	"encoding/json"
	"time"
)

// Run is one recorded evaluation.
type Run struct {
	ID             string          `json:"id"`
	ExamID         string          `json:"exam_id"`
	Candidate      string          `json:"candidate"`
	SubmissionFile string          `json:"submission_file,omitempty"`
	TotalPoints    float64         `json:"total_points"`
	MaxPoints      float64         `json:"max_points"`
	Percentage     float64         `json:"percentage"`
	Passed         bool            `json:"passed"`
	Tier           string          `json:"tier,omitempty"`
	FailureReasons []string        `json:"failure_reasons"`
	Report         json.RawMessage `json:"report,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	ExamID    string
	Candidate string
}

// RunsExport is the top-level JSON structure for run export.
type RunsExport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	NumRuns     int                `json:"num_runs"`
	Runs        []RunRow           `json:"runs"`
	Candidates  []CandidateSummary `json:"candidates"`
}

// RunRow is a run joined with its candidate's metadata.
type RunRow struct {
	RunID      string            `json:"run_id"`
	ExamID     string            `json:"exam_id"`
	Candidate  string            `json:"candidate"`
	Percentage float64           `json:"percentage"`
	Passed     bool              `json:"passed"`
	Tier       string            `json:"tier,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CandidateSummary aggregates all runs of one candidate.
type CandidateSummary struct {
	Candidate string            `json:"candidate"`
	Runs      int               `json:"runs"`
	Passed    int               `json:"passed"`
	MeanScore float64           `json:"mean_score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
