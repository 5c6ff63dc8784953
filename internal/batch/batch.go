// Package batch evaluates every candidate submission found in a tree of
// exam folders.
//
// Layout:
//
//	<root>/<exam>/answer_key.json
//	<root>/<exam>/rubric.{json,yaml,yml,toml}   optional
//	<root>/<exam>/submissions/<candidate>.json
//	<root>/<exam>/<candidate>_submission.json
//
// Results are written to <root>/<exam>/results/<candidate>.json.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/evaluate"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/report"
	"github.com/pavelanni/taskeval/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	AnswerKeyFile    = "answer_key.json"
	SubmissionsDir   = "submissions"
	ResultsDir       = "results"
	submissionSuffix = "_submission.json"
)

// Recorder persists evaluation runs. *store.Store implements it.
type Recorder interface {
	RecordRun(ctx context.Context, run *model.Run) error
}

// Exam is one exam folder.
type Exam struct {
	ID          string
	Dir         string
	AnswerKey   string
	Submissions []Submission
}

// Submission is one candidate's answer file.
type Submission struct {
	Candidate string
	Path      string
}

// Discover lists the exam folders directly under root, sorted by name.
// Folders without an answer key are skipped.
func Discover(root string) ([]Exam, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var exams []Exam
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		key := filepath.Join(dir, AnswerKeyFile)
		if _, err := os.Stat(key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("skipping folder without answer key", "dir", dir)
				continue
			}
			return nil, err
		}
		subs, err := discoverSubmissions(dir)
		if err != nil {
			return nil, err
		}
		exams = append(exams, Exam{ID: e.Name(), Dir: dir, AnswerKey: key, Submissions: subs})
	}
	return exams, nil
}

func discoverSubmissions(dir string) ([]Submission, error) {
	var subs []Submission
	seen := make(map[string]bool)
	add := func(candidate, path string) {
		if seen[candidate] {
			slog.Warn("duplicate submission ignored", "candidate", candidate, "path", path)
			return
		}
		seen[candidate] = true
		subs = append(subs, Submission{Candidate: candidate, Path: path})
	}

	subDir := filepath.Join(dir, SubmissionsDir)
	entries, err := os.ReadDir(subDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", subDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		add(strings.TrimSuffix(e.Name(), ".json"), filepath.Join(subDir, e.Name()))
	}

	entries, err = os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, submissionSuffix) {
			continue
		}
		candidate := strings.TrimSuffix(name, submissionSuffix)
		if candidate == "" {
			candidate = "candidate"
		}
		add(candidate, filepath.Join(dir, name))
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Candidate < subs[j].Candidate })
	return subs, nil
}

// Outcome is the result of one submission.
type Outcome struct {
	ExamID     string
	Candidate  string
	ResultPath string
	Percentage float64
	Passed     bool
	Err        error
}

// ExamError records an exam that could not be evaluated at all.
type ExamError struct {
	ExamID string
	Err    error
}

// Summary aggregates a batch run.
type Summary struct {
	Evaluated   int
	Passed      int
	Failed      int // submissions that could not be scored
	FailedExams []ExamError
	Outcomes    []Outcome
}

// Runner evaluates exam folders concurrently.
type Runner struct {
	eval     *evaluate.Evaluator
	recorder Recorder
	cfg      model.EvalConfig
	jobs     int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder records every scored submission.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithJobs bounds the number of concurrent evaluations.
func WithJobs(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.jobs = n
		}
	}
}

// WithConfig sets the overrides applied to every exam's rubric.
func WithConfig(cfg model.EvalConfig) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// NewRunner returns a Runner. A nil evaluator means evaluate.New(nil).
func NewRunner(ev *evaluate.Evaluator, opts ...Option) *Runner {
	if ev == nil {
		ev = evaluate.New(nil)
	}
	r := &Runner{eval: ev, jobs: runtime.NumCPU()}
	for _, o := range opts {
		o(r)
	}
	return r
}

type task struct {
	exam *evaluate.Exam
	info Exam
	sub  Submission
}

// Run evaluates every submission below root. A failing exam or submission
// is reported in the summary and does not stop the others; only a
// cancelled context or an unreadable root is an error.
func (r *Runner) Run(ctx context.Context, root string) (*Summary, error) {
	exams, err := Discover(root)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	var tasks []task
	for _, e := range exams {
		cfg := r.cfg
		cfg.RubricPath = ""
		ex, err := r.eval.LoadExam(e.AnswerKey, cfg)
		if err != nil {
			slog.Error("exam failed", "exam", e.ID, "error", err)
			sum.FailedExams = append(sum.FailedExams, ExamError{ExamID: e.ID, Err: err})
			continue
		}
		if ex.Rubric.ExamID == "" {
			ex.Rubric.ExamID = e.ID
		}
		for _, s := range e.Submissions {
			tasks = append(tasks, task{exam: ex, info: e, sub: s})
		}
	}

	slog.Info("batch: evaluating", "exams", len(exams), "submissions", len(tasks), "jobs", r.jobs)
	start := time.Now()

	var (
		mu        sync.Mutex
		completed int
	)
	outcomes := make([]Outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)
	for i, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.runOne(gctx, t)
			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			slog.Debug("batch: submission processed",
				"progress", fmt.Sprintf("%d/%d", n, len(tasks)),
				"exam", t.info.ID,
				"candidate", t.sub.Candidate,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		sum.Outcomes = append(sum.Outcomes, o)
		if o.Err != nil {
			sum.Failed++
			continue
		}
		sum.Evaluated++
		if o.Passed {
			sum.Passed++
		}
	}
	slog.Info("batch: done",
		"evaluated", sum.Evaluated,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"failed_exams", len(sum.FailedExams),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return sum, nil
}

func (r *Runner) runOne(ctx context.Context, t task) Outcome {
	out := Outcome{ExamID: t.exam.Rubric.ExamID, Candidate: t.sub.Candidate}
	fail := func(err error) Outcome {
		slog.Warn("batch: submission failed", "exam", t.info.ID, "candidate", t.sub.Candidate, "error", err)
		out.Err = err
		return out
	}

	sub, err := document.Load(t.sub.Path)
	if err != nil {
		return fail(err)
	}
	res, err := r.eval.Evaluate(t.exam, sub, t.sub.Candidate)
	if err != nil {
		return fail(err)
	}
	out.ResultPath = filepath.Join(t.info.Dir, ResultsDir, t.sub.Candidate+".json")
	if err := report.Write(out.ResultPath, res.Report); err != nil {
		return fail(err)
	}
	out.Percentage = res.Report.OverallScore
	out.Passed = res.Report.Passed

	if r.recorder != nil {
		run, err := store.RunFromReport(res.Report, t.sub.Path)
		if err != nil {
			return fail(err)
		}
		if err := r.recorder.RecordRun(ctx, run); err != nil {
			return fail(fmt.Errorf("record run: %w", err))
		}
	}
	return out
}
