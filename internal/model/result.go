package model

import "time"

// ResultItem is the scored counterpart of an Item.
type ResultItem struct {
	ID                  string    `json:"id"`
	Description         string    `json:"description,omitempty"`
	Mode                MatchMode `json:"mode"`
	MaxPoints           float64   `json:"max_points"`
	AchievedPoints      float64   `json:"achieved_points"`
	Fraction            float64   `json:"fraction"`
	Correct             bool      `json:"correct"`
	Critical            bool      `json:"critical,omitempty"`
	Submitted           any       `json:"submitted"`
	Expected            any       `json:"expected"`
	KeyOverride         bool      `json:"key_override,omitempty"`
	KeyOverrideConflict bool      `json:"key_override_conflict,omitempty"`
	AnswerKeyValue      any       `json:"answer_key_value,omitempty"` // raw key value when overridden
	Note                string    `json:"note,omitempty"`
}

// ResultGroup mirrors a Group with achieved and maximum points.
type ResultGroup struct {
	ID             string        `json:"id"`
	Title          string        `json:"title,omitempty"`
	Critical       bool          `json:"critical,omitempty"`
	MinFraction    *float64      `json:"min_fraction,omitempty"`
	AchievedPoints float64       `json:"achieved_points"`
	MaxPoints      float64       `json:"max_points"`
	Fraction       float64       `json:"fraction"`
	MetThreshold   *bool         `json:"met_threshold,omitempty"`
	Items          []ResultItem  `json:"items,omitempty"`
	Groups         []ResultGroup `json:"groups,omitempty"`
}

// Find returns the group with the given id in the subtree rooted at g.
func (g *ResultGroup) Find(id string) *ResultGroup {
	if g.ID == id {
		return g
	}
	for i := range g.Groups {
		if found := g.Groups[i].Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk calls fn for g and every nested group in depth-first rubric order.
func (g *ResultGroup) Walk(fn func(*ResultGroup)) {
	fn(g)
	for i := range g.Groups {
		g.Groups[i].Walk(fn)
	}
}

// TierDistinction is the only tier above a plain pass.
const TierDistinction = "distinction"

// Verdict is the final pass/fail outcome of an evaluation.
type Verdict struct {
	TotalPoints    float64  `json:"total_points"`
	MaxPoints      float64  `json:"max_points"`
	Percentage     float64  `json:"percentage"`
	Passed         bool     `json:"passed"`
	Tier           string   `json:"tier,omitempty"`
	FailureReasons []string `json:"failure_reasons"`
}

// ResultLabel is PASS or FAIL.
func (v Verdict) ResultLabel() string {
	if v.Passed {
		return "PASS"
	}
	return "FAIL"
}

// Report is the content of test_results.json.
type Report struct {
	ExamID         string        `json:"exam_id,omitempty"`
	Candidate      string        `json:"candidate,omitempty"`
	OverallScore   float64       `json:"overall_score"`
	TotalPoints    float64       `json:"total_points"`
	MaxPoints      float64       `json:"max_points"`
	Passed         bool          `json:"passed"`
	Result         string        `json:"result"`
	Tier           string        `json:"tier,omitempty"`
	Distinction    bool          `json:"distinction"`
	FailureReasons []string      `json:"failure_reasons"`
	Sections       []ResultGroup `json:"sections"`
	Items          []ResultItem  `json:"items,omitempty"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
}
