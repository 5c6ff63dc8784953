package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRoot() *model.ResultGroup {
	return &model.ResultGroup{
		ID:             "exam",
		AchievedPoints: 5,
		MaxPoints:      6,
		Items: []model.ResultItem{
			{ID: "notes", Mode: model.ModeKeyword, MaxPoints: 1, Note: "keyword hits: 0/1"},
		},
		Groups: []model.ResultGroup{{
			ID: "reconciliation", AchievedPoints: 5, MaxPoints: 5, Fraction: 1,
			Items: []model.ResultItem{
				{ID: "q1", Mode: model.ModeExact, MaxPoints: 2, AchievedPoints: 2, Fraction: 1, Correct: true, Submitted: "B", Expected: "B"},
				{ID: "q2", Mode: model.ModeNumericAbs, MaxPoints: 3, AchievedPoints: 3, Fraction: 1, Correct: true, Submitted: 8635.005, Expected: 8635.0},
			},
		}},
	}
}

func TestBuild(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	v := model.Verdict{TotalPoints: 5, MaxPoints: 6, Percentage: 83.33333333, Passed: true, FailureReasons: []string{}}
	rep := Build(&model.Rubric{ExamID: "from-rubric"}, sampleRoot(), v, Meta{Candidate: "model-a", At: at})

	assert.Equal(t, "from-rubric", rep.ExamID)
	assert.Equal(t, "model-a", rep.Candidate)
	assert.Equal(t, 83.33, rep.OverallScore)
	assert.Equal(t, "PASS", rep.Result)
	assert.False(t, rep.Distinction)
	require.Len(t, rep.Sections, 1)
	assert.Equal(t, "reconciliation", rep.Sections[0].ID)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, time.UTC, rep.EvaluatedAt.Location())

	rep = Build(nil, sampleRoot(), v, Meta{ExamID: "override"})
	assert.Equal(t, "override", rep.ExamID)
	assert.False(t, rep.EvaluatedAt.IsZero())
}

func TestBuildEmpty(t *testing.T) {
	rep := Build(nil, &model.ResultGroup{ID: "exam"}, model.Verdict{}, Meta{})
	data, err := Marshal(rep)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0.0, out["overall_score"])
	assert.Equal(t, "FAIL", out["result"])
	assert.Equal(t, []any{}, out["sections"])
	assert.Equal(t, []any{}, out["failure_reasons"])
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DefaultFile)
	v := model.Verdict{
		TotalPoints: 5, MaxPoints: 6, Percentage: 83.333, Passed: false,
		FailureReasons: []string{`critical item "notes" did not receive full credit`},
	}
	rep := Build(nil, sampleRoot(), v, Meta{ExamID: "bookkeeping-01"})
	require.NoError(t, Write(path, rep))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 83.33, raw["overall_score"])
	assert.Equal(t, "FAIL", raw["result"])
	sections := raw["sections"].([]any)
	items := sections[0].(map[string]any)["items"].([]any)
	assert.Equal(t, "B", items[0].(map[string]any)["submitted"])

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, rep.FailureReasons, got.FailureReasons)
	assert.Equal(t, rep.Sections[0].Items[1].AchievedPoints, got.Sections[0].Items[1].AchievedPoints)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	// A second write replaces the file.
	rep.Candidate = "model-b"
	require.NoError(t, Write(path, rep))
	got, err = Read(path)
	require.NoError(t, err)
	assert.Equal(t, "model-b", got.Candidate)
}

func TestSummary(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	rep := &model.Report{OverallScore: 100, Result: "PASS"}
	assert.Equal(t, "Overall score: 100.00%\nResult: PASS\n", Summary(context.Background(), rep))

	rep = &model.Report{OverallScore: 66.67, Result: "FAIL"}
	assert.Equal(t, "Overall score: 66.67%\nResult: FAIL\n", Summary(i18n.WithLang(context.Background(), "en"), rep))

	ru := i18n.WithLang(context.Background(), "ru")
	assert.Equal(t, "Итоговый балл: 66.67%\nРезультат: FAIL\n", Summary(ru, rep))
}

func TestDetails(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	ctx := context.Background()
	assert.Empty(t, Details(ctx, &model.Report{Result: "PASS"}))
	assert.Equal(t, "Tier: distinction\n", Details(ctx, &model.Report{Distinction: true}))
	assert.Equal(t, "  - overall score 10.00% is below the passing threshold of 70.00%\n",
		Details(ctx, &model.Report{FailureReasons: []string{"overall score 10.00% is below the passing threshold of 70.00%"}}))
}
