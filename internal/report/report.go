// Package report serializes a scored result tree into test_results.json
// and renders the console summary.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/model"
)

// DefaultFile is written to the working directory by the CLI.
const DefaultFile = "test_results.json"

// Meta identifies the run a report belongs to.
type Meta struct {
	ExamID    string
	Candidate string
	At        time.Time
}

// Build assembles the report for one evaluation. Nested groups of the
// root become sections; items directly under the root are listed
// separately.
func Build(r *model.Rubric, root *model.ResultGroup, v model.Verdict, meta Meta) *model.Report {
	examID := meta.ExamID
	if examID == "" && r != nil {
		examID = r.ExamID
	}
	at := meta.At
	if at.IsZero() {
		at = time.Now()
	}
	rep := &model.Report{
		ExamID:         examID,
		Candidate:      meta.Candidate,
		OverallScore:   round2(v.Percentage),
		TotalPoints:    v.TotalPoints,
		MaxPoints:      v.MaxPoints,
		Passed:         v.Passed,
		Result:         v.ResultLabel(),
		Tier:           v.Tier,
		Distinction:    v.Tier == model.TierDistinction,
		FailureReasons: v.FailureReasons,
		Sections:       []model.ResultGroup{},
		EvaluatedAt:    at.UTC(),
	}
	if rep.FailureReasons == nil {
		rep.FailureReasons = []string{}
	}
	if root != nil {
		if root.Groups != nil {
			rep.Sections = root.Groups
		}
		rep.Items = root.Items
	}
	return rep
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Marshal encodes rep as indented JSON with a trailing newline.
func Marshal(rep *model.Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// Write stores rep at path. The file is replaced atomically so readers
// never observe a partial report.
func Write(path string, rep *model.Report) error {
	data, err := Marshal(rep)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".taskeval-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var rep model.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &rep, nil
}

// Summary renders the two-line console summary in the context's language.
func Summary(ctx context.Context, rep *model.Report) string {
	var b strings.Builder
	b.WriteString(i18n.Td(ctx, "OverallScore", map[string]any{"Score": fmt.Sprintf("%.2f", rep.OverallScore)}))
	b.WriteByte('\n')
	b.WriteString(i18n.Td(ctx, "ResultLine", map[string]any{"Result": rep.Result}))
	b.WriteByte('\n')
	return b.String()
}

// Details renders the failure reasons and tier below the summary, one
// per line. It is empty for a plain pass.
func Details(ctx context.Context, rep *model.Report) string {
	var b strings.Builder
	if rep.Distinction {
		b.WriteString(i18n.T(ctx, "DistinctionLine"))
		b.WriteByte('\n')
	}
	for _, reason := range rep.FailureReasons {
		b.WriteString(i18n.Td(ctx, "FailureReason", map[string]any{"Reason": reason}))
		b.WriteByte('\n')
	}
	return b.String()
}
