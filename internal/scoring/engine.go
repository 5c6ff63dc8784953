// Package scoring walks a rubric tree against a submission and an answer
// key and aggregates the achieved points bottom-up.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/matcher"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

var (
	// ErrNoSubmission is returned when there is no submission to score.
	ErrNoSubmission = errors.New("no submission document")
	// ErrNoAnswerKey is returned when there is no answer key to score against.
	ErrNoAnswerKey = errors.New("no answer key document")
	// ErrNoRubric is returned when Score is called without a rubric.
	ErrNoRubric = errors.New("no rubric")
)

// thresholdEpsilon absorbs float rounding when a group fraction is compared
// with its min_fraction.
const thresholdEpsilon = 1e-9

// MatchFunc compares one submitted value with one expected value.
type MatchFunc func(submitted, expected gjson.Result, spec model.MatcherSpec) matcher.Outcome

// Engine scores submissions. The zero value is not usable; call New.
type Engine struct {
	match  MatchFunc
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for item-level diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMatcher replaces the value matcher.
func WithMatcher(fn MatchFunc) Option {
	return func(e *Engine) { e.match = fn }
}

// New returns an Engine using matcher.Match and the default logger.
func New(opts ...Option) *Engine {
	e := &Engine{match: matcher.Match, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score evaluates sub against key under r and returns the result tree. Only
// missing inputs are errors; problems with individual items are recorded on
// the item and score zero.
func (e *Engine) Score(sub, key *document.Document, r *model.Rubric) (*model.ResultGroup, error) {
	switch {
	case sub == nil:
		return nil, ErrNoSubmission
	case key == nil:
		return nil, ErrNoAnswerKey
	case r == nil:
		return nil, ErrNoRubric
	}
	root := e.scoreGroup(sub, key, r.Root)
	e.logger.Debug("scored submission",
		"submission", sub.Name(),
		"achieved", root.AchievedPoints,
		"max", root.MaxPoints,
	)
	return &root, nil
}

func (e *Engine) scoreGroup(sub, key *document.Document, g model.Group) model.ResultGroup {
	rg := model.ResultGroup{
		ID:          g.ID,
		Title:       g.Title,
		Critical:    g.Critical,
		MinFraction: g.MinFraction,
	}
	for _, it := range g.Items {
		ri := e.scoreItem(sub, key, it)
		rg.AchievedPoints += ri.AchievedPoints
		rg.MaxPoints += ri.MaxPoints
		rg.Items = append(rg.Items, ri)
	}
	for _, child := range g.Groups {
		rc := e.scoreGroup(sub, key, child)
		rg.AchievedPoints += rc.AchievedPoints
		rg.MaxPoints += rc.MaxPoints
		rg.Groups = append(rg.Groups, rc)
	}
	// Summing fractions of points can overshoot by an ulp.
	rg.AchievedPoints = math.Min(rg.AchievedPoints, rg.MaxPoints)
	if rg.MaxPoints > 0 {
		rg.Fraction = rg.AchievedPoints / rg.MaxPoints
	}
	if g.MinFraction != nil {
		met := rg.MaxPoints == 0 || rg.Fraction >= *g.MinFraction-thresholdEpsilon
		rg.MetThreshold = &met
	}
	return rg
}

func (e *Engine) scoreItem(sub, key *document.Document, it model.Item) (res model.ResultItem) {
	mode := it.Matcher.Mode
	if mode == "" {
		mode = model.ModeExact
	}
	res = model.ResultItem{
		ID:          it.ID,
		Description: it.Description,
		Mode:        mode,
		MaxPoints:   math.Max(it.Points, 0),
		Critical:    it.Critical,
	}
	defer func() {
		if p := recover(); p != nil {
			res.AchievedPoints, res.Fraction, res.Correct = 0, 0, false
			res.Note = fmt.Sprintf("scoring failed: %v", p)
			e.logger.Debug("item recovered", "item", it.ID, "panic", p)
		}
	}()

	submitted := sub.Resolve(it.SubmissionPath)
	expected := key.Resolve(it.ReferencePath())
	if it.Expected != nil {
		raw := expected
		expected = document.Literal(*it.Expected)
		res.KeyOverride = true
		if raw.Exists() {
			res.AnswerKeyValue = raw.Value()
			if !matcher.Equal(raw, expected) {
				res.KeyOverrideConflict = true
				e.logger.Warn("expected override disagrees with answer key",
					"item", it.ID,
					"key_path", it.ReferencePath().String(),
					"answer_key", raw.Raw,
					"override", expected.Raw,
				)
			}
		}
	}
	res.Submitted = submitted.Value()
	res.Expected = expected.Value()

	out := e.match(submitted, expected, it.Matcher)
	frac := out.Fraction
	if math.IsNaN(frac) || frac < 0 {
		frac = 0
	}
	frac = math.Min(frac, 1)
	res.Fraction = frac
	res.AchievedPoints = frac * res.MaxPoints
	res.Correct = frac >= 1-thresholdEpsilon
	res.Note = out.Note
	if out.Note != "" {
		e.logger.Debug("item not fully credited", "item", it.ID, "fraction", frac, "note", out.Note)
	}
	return res
}
