// Package evaluate wires document loading, rubric resolution, scoring,
// the verdict and the report into one call.
package evaluate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/report"
	"github.com/pavelanni/taskeval/internal/rubric"
	"github.com/pavelanni/taskeval/internal/scoring"
	"github.com/pavelanni/taskeval/internal/verdict"
)

// Exam is an answer key with its resolved rubric. It is read-only once
// built and may be shared by concurrent evaluations.
type Exam struct {
	Key    *document.Document
	Rubric *model.Rubric
	Source rubric.Source
}

// Result is everything produced by one evaluation.
type Result struct {
	Root    *model.ResultGroup
	Verdict model.Verdict
	Report  *model.Report
}

// Evaluator runs evaluations with a shared scoring engine.
type Evaluator struct {
	engine *scoring.Engine
	now    func() time.Time
}

// New returns an Evaluator. A nil engine means scoring.New().
func New(engine *scoring.Engine) *Evaluator {
	if engine == nil {
		engine = scoring.New()
	}
	return &Evaluator{engine: engine, now: time.Now}
}

// LoadExam reads the answer key at path and resolves its rubric.
func (ev *Evaluator) LoadExam(answerKeyPath string, cfg model.EvalConfig) (*Exam, error) {
	key, err := document.Load(answerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("answer key: %w", err)
	}
	return ev.ExamFromKey(key, answerKeyPath, cfg)
}

// ExamFromKey resolves the rubric for an already loaded answer key. The
// path is only used to discover a rubric file next to the key and may be
// empty.
func (ev *Evaluator) ExamFromKey(key *document.Document, answerKeyPath string, cfg model.EvalConfig) (*Exam, error) {
	r, src, err := rubric.Resolve(cfg.RubricPath, answerKeyPath, key)
	if err != nil {
		return nil, err
	}
	return newExam(key, r, src, cfg)
}

// ExamWithRubric pairs an answer key with a rubric supplied by the caller.
func (ev *Evaluator) ExamWithRubric(key *document.Document, r *model.Rubric, cfg model.EvalConfig) (*Exam, error) {
	return newExam(key, r, rubric.SourceFile, cfg)
}

func newExam(key *document.Document, r *model.Rubric, src rubric.Source, cfg model.EvalConfig) (*Exam, error) {
	cfg.Apply(r)
	if err := rubric.Validate(r); err != nil {
		return nil, err
	}
	slog.Debug("rubric resolved",
		"source", src,
		"exam_id", r.ExamID,
		"max_points", r.Root.MaxPoints(),
	)
	return &Exam{Key: key, Rubric: r, Source: src}, nil
}

// Evaluate scores sub against ex.
func (ev *Evaluator) Evaluate(ex *Exam, sub *document.Document, candidate string) (*Result, error) {
	root, err := ev.engine.Score(sub, ex.Key, ex.Rubric)
	if err != nil {
		return nil, err
	}
	v := verdict.Resolve(root, ex.Rubric.Policy)
	rep := report.Build(ex.Rubric, root, v, report.Meta{Candidate: candidate, At: ev.now()})
	return &Result{Root: root, Verdict: v, Report: rep}, nil
}

// Files evaluates the submission file against the answer key file. Missing
// or malformed inputs and invalid rubrics are returned as errors.
func (ev *Evaluator) Files(submissionPath, answerKeyPath string, cfg model.EvalConfig) (*Result, error) {
	sub, err := document.Load(submissionPath)
	if err != nil {
		return nil, fmt.Errorf("submission: %w", err)
	}
	ex, err := ev.LoadExam(answerKeyPath, cfg)
	if err != nil {
		return nil, err
	}
	return ev.Evaluate(ex, sub, cfg.Candidate)
}
