package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/taskeval/internal/model"
)

// ExportRuns joins the runs matching f with candidate metadata and
// summarizes them per candidate.
func (s *Store) ExportRuns(ctx context.Context, f model.RunFilter) (*model.RunsExport, error) {
	runs, err := s.ListRuns(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	md, err := s.AllCandidateMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate metadata: %w", err)
	}

	out := &model.RunsExport{
		GeneratedAt: time.Now().UTC(),
		NumRuns:     len(runs),
		Runs:        make([]model.RunRow, 0, len(runs)),
		Candidates:  []model.CandidateSummary{},
	}
	byCandidate := make(map[string]*model.CandidateSummary)
	var order []string
	for _, r := range runs {
		out.Runs = append(out.Runs, model.RunRow{
			RunID:      r.ID,
			ExamID:     r.ExamID,
			Candidate:  r.Candidate,
			Percentage: r.Percentage,
			Passed:     r.Passed,
			Tier:       r.Tier,
			CreatedAt:  r.CreatedAt,
			Metadata:   md[r.Candidate],
		})

		cs, ok := byCandidate[r.Candidate]
		if !ok {
			cs = &model.CandidateSummary{Candidate: r.Candidate, Metadata: md[r.Candidate]}
			byCandidate[r.Candidate] = cs
			order = append(order, r.Candidate)
		}
		cs.Runs++
		if r.Passed {
			cs.Passed++
		}
		// Accumulate the sum; divided below.
		cs.MeanScore += r.Percentage
	}

	sort.Strings(order)
	for _, c := range order {
		cs := byCandidate[c]
		cs.MeanScore /= float64(cs.Runs)
		out.Candidates = append(out.Candidates, *cs)
	}
	return out, nil
}
