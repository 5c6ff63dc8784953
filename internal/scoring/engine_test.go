package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/matcher"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func doc(t *testing.T, s string) *document.Document {
	t.Helper()
	d, err := document.Parse("test", []byte(s))
	require.NoError(t, err)
	return d
}

func ptr(f float64) *float64 { return &f }

func raw(s string) *json.RawMessage {
	m := json.RawMessage(s)
	return &m
}

// exampleRubric is one exact item worth 2 and one numeric item worth 3.
func exampleRubric() *model.Rubric {
	return &model.Rubric{Root: model.Group{ID: "exam", Items: []model.Item{
		{ID: "q1", SubmissionPath: model.Path{"q1"}, Matcher: model.MatcherSpec{Mode: model.ModeExact}, Points: 2},
		{ID: "q2", SubmissionPath: model.Path{"q2"}, Matcher: model.MatcherSpec{Mode: model.ModeNumericAbs, Tolerance: 0.01}, Points: 3},
	}}}
}

const exampleKey = `{"q1": "B", "q2": 8635}`

func TestScoreExamples(t *testing.T) {
	e := New()
	key := doc(t, exampleKey)

	root, err := e.Score(doc(t, `{"q1": "B", "q2": 8635.005}`), key, exampleRubric())
	require.NoError(t, err)
	assert.Equal(t, 5.0, root.AchievedPoints)
	assert.Equal(t, 5.0, root.MaxPoints)
	assert.True(t, root.Items[0].Correct)
	assert.True(t, root.Items[1].Correct)

	root, err = e.Score(doc(t, `{"q1": "A", "q2": 8700}`), key, exampleRubric())
	require.NoError(t, err)
	assert.Equal(t, 0.0, root.AchievedPoints)
	assert.Equal(t, 5.0, root.MaxPoints)
	assert.Contains(t, root.Items[1].Note, "exceeds tolerance")
}

func TestScoreSetOverlap(t *testing.T) {
	r := &model.Rubric{Root: model.Group{ID: "exam", Items: []model.Item{
		{ID: "hazards", SubmissionPath: model.Path{"hazards"}, Matcher: model.MatcherSpec{Mode: model.ModeSetOverlap}, Points: 9},
	}}}
	root, err := New().Score(doc(t, `{"hazards": ["X", "Y"]}`), doc(t, `{"hazards": ["X", "Y", "Z"]}`), r)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, root.Items[0].AchievedPoints, 1e-9)
	assert.InDelta(t, 2.0/3.0, root.Items[0].Fraction, 1e-9)
	assert.False(t, root.Items[0].Correct)
}

func TestScoreMissingKeyIsLocal(t *testing.T) {
	root, err := New().Score(doc(t, `{"q2": 8635}`), doc(t, exampleKey), exampleRubric())
	require.NoError(t, err)

	q1, q2 := root.Items[0], root.Items[1]
	assert.Equal(t, 0.0, q1.AchievedPoints)
	assert.Equal(t, "missing in submission", q1.Note)
	assert.Nil(t, q1.Submitted)
	assert.Equal(t, 3.0, q2.AchievedPoints)
	assert.Equal(t, 3.0, root.AchievedPoints)
}

func TestScoreMissingInputs(t *testing.T) {
	e := New()
	key := doc(t, exampleKey)
	_, err := e.Score(nil, key, exampleRubric())
	assert.ErrorIs(t, err, ErrNoSubmission)
	_, err = e.Score(key, nil, exampleRubric())
	assert.ErrorIs(t, err, ErrNoAnswerKey)
	_, err = e.Score(key, key, nil)
	assert.ErrorIs(t, err, ErrNoRubric)
}

func TestScoreDeterministic(t *testing.T) {
	r := &model.Rubric{Root: model.Group{ID: "exam", Groups: []model.Group{
		{ID: "a", Items: []model.Item{
			{ID: "obj", SubmissionPath: model.Path{"obj"}, Matcher: model.MatcherSpec{Mode: model.ModeStructural}, Points: 4},
			{ID: "tags", SubmissionPath: model.Path{"tags"}, Matcher: model.MatcherSpec{Mode: model.ModeSetOverlap}, Points: 2},
		}},
		{ID: "b", Items: []model.Item{
			{ID: "text", SubmissionPath: model.Path{"text"}, Matcher: model.MatcherSpec{
				Mode: model.ModeKeyword, Keywords: []string{"audit", "ledger", "variance"}, Linear: true}, Points: 3},
		}},
	}}}
	sub := doc(t, `{"obj": {"x": 1, "y": "no", "z": true}, "tags": ["b", "q"], "text": "the ledger audit"}`)
	key := doc(t, `{"obj": {"x": 1, "y": "yes", "z": false}, "tags": ["a", "b", "c"]}`)

	first, err := New().Score(sub, key, r)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := New().Score(sub, key, r)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	assert.Equal(t, "a", first.Groups[0].ID)
	assert.Equal(t, "y: does not match expected value; z: does not match expected value", first.Groups[0].Items[0].Note)
}

func TestScoreBounded(t *testing.T) {
	subs := []string{
		`{}`,
		`{"q1": null, "q2": "n/a"}`,
		`{"q1": ["B"], "q2": {"v": 1}}`,
		`{"q1": "b", "q2": "8,635.00"}`,
		`[1, 2, 3]`,
		`"just a string"`,
	}
	for _, s := range subs {
		t.Run(s, func(t *testing.T) {
			root, err := New().Score(doc(t, s), doc(t, exampleKey), exampleRubric())
			require.NoError(t, err)
			root.Walk(func(g *model.ResultGroup) {
				assert.GreaterOrEqual(t, g.AchievedPoints, 0.0)
				assert.LessOrEqual(t, g.AchievedPoints, g.MaxPoints)
				for _, it := range g.Items {
					assert.GreaterOrEqual(t, it.Fraction, 0.0)
					assert.LessOrEqual(t, it.Fraction, 1.0)
				}
			})
		})
	}
}

func TestScoreClampsMatcherOutput(t *testing.T) {
	calls := 0
	e := New(WithMatcher(func(_, _ gjson.Result, _ model.MatcherSpec) matcher.Outcome {
		calls++
		if calls == 1 {
			return matcher.Outcome{Fraction: 1.7}
		}
		return matcher.Outcome{Fraction: -0.2}
	}))
	root, err := e.Score(doc(t, `{}`), doc(t, exampleKey), exampleRubric())
	require.NoError(t, err)
	assert.Equal(t, 2.0, root.Items[0].AchievedPoints)
	assert.Equal(t, 0.0, root.Items[1].AchievedPoints)
}

func TestScoreRecoversPanic(t *testing.T) {
	e := New(WithMatcher(func(sub, _ gjson.Result, _ model.MatcherSpec) matcher.Outcome {
		if sub.Str == "boom" {
			panic("matcher exploded")
		}
		return matcher.Outcome{Fraction: 1}
	}))
	root, err := e.Score(doc(t, `{"q1": "boom", "q2": 1}`), doc(t, exampleKey), exampleRubric())
	require.NoError(t, err)
	assert.Equal(t, 0.0, root.Items[0].AchievedPoints)
	assert.Equal(t, "scoring failed: matcher exploded", root.Items[0].Note)
	assert.Equal(t, 3.0, root.Items[1].AchievedPoints)
}

func TestScoreKeyOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := &model.Rubric{Root: model.Group{ID: "exam", Items: []model.Item{
		{ID: "total", SubmissionPath: model.Path{"total"}, Expected: raw(`8635`),
			Matcher: model.MatcherSpec{Mode: model.ModeNumericAbs, Tolerance: 0.01}, Points: 3},
		{ID: "code", SubmissionPath: model.Path{"code"}, Expected: raw(`"B"`),
			Matcher: model.MatcherSpec{Mode: model.ModeExact}, Points: 1},
		{ID: "extra", SubmissionPath: model.Path{"extra"}, Expected: raw(`"C"`),
			Matcher: model.MatcherSpec{Mode: model.ModeExact}, Points: 1},
	}}}
	key := doc(t, `{"total": 8547, "code": "B"}`)
	sub := doc(t, `{"total": 8635, "code": "B", "extra": "C"}`)

	root, err := New(WithLogger(logger)).Score(sub, key, r)
	require.NoError(t, err)
	assert.Equal(t, 5.0, root.AchievedPoints)

	total := root.Items[0]
	assert.True(t, total.KeyOverride)
	assert.True(t, total.KeyOverrideConflict)
	assert.Equal(t, 8547.0, total.AnswerKeyValue)
	assert.Equal(t, 8635.0, total.Expected)

	code := root.Items[1]
	assert.True(t, code.KeyOverride)
	assert.False(t, code.KeyOverrideConflict)

	extra := root.Items[2]
	assert.True(t, extra.KeyOverride)
	assert.False(t, extra.KeyOverrideConflict)
	assert.Nil(t, extra.AnswerKeyValue)

	assert.Contains(t, buf.String(), "expected override disagrees with answer key")
	assert.Contains(t, buf.String(), "item=total")
}

func TestScoreKeyPath(t *testing.T) {
	r := &model.Rubric{Root: model.Group{ID: "exam", Items: []model.Item{
		{ID: "first", SubmissionPath: model.ParsePath("answers.0"), KeyPath: model.ParsePath("solutions.first"),
			Matcher: model.MatcherSpec{Mode: model.ModeExact}, Points: 1},
	}}}
	root, err := New().Score(doc(t, `{"answers": ["yes"]}`), doc(t, `{"solutions": {"first": "YES"}}`), r)
	require.NoError(t, err)
	assert.Equal(t, 1.0, root.AchievedPoints)
	assert.Equal(t, "YES", root.Items[0].Expected)
}

func TestScoreGroupThresholds(t *testing.T) {
	item := func(id string, pts float64) model.Item {
		return model.Item{ID: id, SubmissionPath: model.Path{id}, Matcher: model.MatcherSpec{Mode: model.ModeExact}, Points: pts}
	}
	r := &model.Rubric{Root: model.Group{ID: "exam", Groups: []model.Group{
		{ID: "safety", Critical: true, MinFraction: ptr(0.8), Items: []model.Item{item("s1", 4), item("s2", 1)}},
		{ID: "report", MinFraction: ptr(0.5), Items: []model.Item{item("r1", 1), item("r2", 1)}},
		{ID: "empty", MinFraction: ptr(1), Items: []model.Item{item("e1", 0)}},
	}}}
	key := doc(t, `{"s1": "a", "s2": "b", "r1": "c", "r2": "d", "e1": "e"}`)
	sub := doc(t, `{"s1": "a", "s2": "x", "r1": "x", "r2": "x"}`)

	root, err := New().Score(sub, key, r)
	require.NoError(t, err)
	assert.Equal(t, 4.0, root.AchievedPoints)
	assert.Equal(t, 7.0, root.MaxPoints)

	tests := []struct {
		id       string
		fraction float64
		met      bool
	}{
		{"safety", 0.8, true},
		{"report", 0, false},
		{"empty", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			g := root.Find(tt.id)
			require.NotNil(t, g)
			assert.InDelta(t, tt.fraction, g.Fraction, 1e-9)
			require.NotNil(t, g.MetThreshold)
			assert.Equal(t, tt.met, *g.MetThreshold)
		})
	}
	assert.Nil(t, root.MetThreshold)
}

func TestScoreZeroMax(t *testing.T) {
	r := &model.Rubric{Root: model.Group{ID: "exam"}}
	root, err := New().Score(doc(t, `{}`), doc(t, `{}`), r)
	require.NoError(t, err)
	assert.Equal(t, 0.0, root.MaxPoints)
	assert.Equal(t, 0.0, root.Fraction)
}

func ExampleEngine_Score() {
	sub, _ := document.Parse("submission.json", []byte(`{"q1": "B", "q2": 8635.005}`))
	key, _ := document.Parse("answer_key.json", []byte(exampleKey))
	root, _ := New().Score(sub, key, exampleRubric())
	fmt.Printf("%.0f/%.0f\n", root.AchievedPoints, root.MaxPoints)
	// Output: 5/5
}
