package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MatchMode selects how a submitted value is compared to an expected value.
type MatchMode string

const (
	ModeExact         MatchMode = "exact"
	ModeNumericAbs    MatchMode = "numeric_abs"
	ModeNumericRel    MatchMode = "numeric_rel"
	ModeNumericTiered MatchMode = "numeric_tiered"
	ModeRange         MatchMode = "range"
	ModeSetExact      MatchMode = "set_exact"
	ModeSetOverlap    MatchMode = "set_overlap"
	ModeKeyword       MatchMode = "keyword"
	ModeStructural    MatchMode = "structural"
)

var validModes = map[MatchMode]bool{
	ModeExact:         true,
	ModeNumericAbs:    true,
	ModeNumericRel:    true,
	ModeNumericTiered: true,
	ModeRange:         true,
	ModeSetExact:      true,
	ModeSetOverlap:    true,
	ModeKeyword:       true,
	ModeStructural:    true,
}

// IsValidMode reports whether m names a supported matcher mode.
func IsValidMode(m MatchMode) bool {
	return validModes[m]
}

// Path locates a value inside a JSON document. Each segment is an object key
// or an array index written in decimal.
type Path []string

// UnmarshalJSON accepts either an array of keys/indices or a dotted string.
func (p *Path) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ParsePath(s)
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("path must be a string or an array: %w", err)
	}
	out := make(Path, 0, len(raw))
	for _, seg := range raw {
		switch v := seg.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return fmt.Errorf("path segment %v: must be a string or an index", seg)
		}
	}
	*p = out
	return nil
}

// ParsePath splits a dotted path such as "tasks.0.total".
func ParsePath(s string) Path {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Tier is one tolerance band of a numeric_tiered matcher.
type Tier struct {
	Tolerance float64 `json:"tolerance"`
	Relative  bool    `json:"relative,omitempty"`
	Credit    float64 `json:"credit"`
}

// KeywordStep awards Credit when at least MinMatches keywords were found.
type KeywordStep struct {
	MinMatches int     `json:"min_matches"`
	Credit     float64 `json:"credit"`
}

// FieldSpec scores one key of a structural comparison.
type FieldSpec struct {
	Matcher MatcherSpec `json:"matcher"`
	Weight  float64     `json:"weight,omitempty"` // 0 means 1
}

// MatcherSpec configures a Value Matcher. Only the parameters of the
// selected Mode are consulted.
type MatcherSpec struct {
	Mode MatchMode `json:"mode"`

	// exact, set_exact, keyword
	CaseSensitive bool              `json:"case_sensitive,omitempty"`
	Alternatives  []json.RawMessage `json:"alternatives,omitempty"`
	FuzzyDistance int               `json:"fuzzy_distance,omitempty"`
	FuzzyCredit   *float64          `json:"fuzzy_credit,omitempty"`

	// numeric_abs, numeric_rel, numeric_tiered
	Tolerance float64 `json:"tolerance,omitempty"`
	Tiers     []Tier  `json:"tiers,omitempty"`

	// range
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// set_overlap, structural
	MinOverlap    float64 `json:"min_overlap,omitempty"`
	AllOrNothing  bool    `json:"all_or_nothing,omitempty"`
	PenalizeExtra bool    `json:"penalize_extra,omitempty"`

	// keyword
	Keywords         []string      `json:"keywords,omitempty"`
	NegativeKeywords []string      `json:"negative_keywords,omitempty"`
	Patterns         []string      `json:"patterns,omitempty"`
	MinMatches       int           `json:"min_matches,omitempty"`
	Steps            []KeywordStep `json:"steps,omitempty"`
	Linear           bool          `json:"linear,omitempty"`
	WordBoundary     bool          `json:"word_boundary,omitempty"`

	// structural
	Fields       map[string]FieldSpec `json:"fields,omitempty"`
	RequiredKeys []string             `json:"required_keys,omitempty"`
}

// Item is a single scored check: a submission path, where to find the
// reference value, how to compare them and how many points it is worth.
type Item struct {
	ID             string           `json:"id"`
	Description    string           `json:"description,omitempty"`
	SubmissionPath Path             `json:"submission_path"`
	KeyPath        Path             `json:"key_path,omitempty"`
	Expected       *json.RawMessage `json:"expected,omitempty"` // literal override of the answer key
	Matcher        MatcherSpec      `json:"matcher"`
	Points         float64          `json:"points"`
	Critical       bool             `json:"critical,omitempty"` // anything below full credit fails the exam
}

// ReferencePath returns KeyPath, falling back to SubmissionPath.
func (it Item) ReferencePath() Path {
	if len(it.KeyPath) > 0 {
		return it.KeyPath
	}
	return it.SubmissionPath
}

// Group is a section of the rubric holding items and nested groups.
type Group struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Critical    bool     `json:"critical,omitempty"`
	MinFraction *float64 `json:"min_fraction,omitempty"`
	Items       []Item   `json:"items,omitempty"`
	Groups      []Group  `json:"groups,omitempty"`
}

// MaxPoints is the sum of the points of every item below g.
func (g Group) MaxPoints() float64 {
	total := 0.0
	for _, it := range g.Items {
		if it.Points > 0 {
			total += it.Points
		}
	}
	for _, sub := range g.Groups {
		total += sub.MaxPoints()
	}
	return total
}

// CriticalGroup requires the group with ID to reach MinFraction of its points.
type CriticalGroup struct {
	ID          string  `json:"id"`
	MinFraction float64 `json:"min_fraction"`
}

// DefaultPassingPercentage is used when a rubric does not set one.
const DefaultPassingPercentage = 70.0

// Policy holds the pass/fail thresholds applied by the verdict resolver.
type Policy struct {
	PassingPercentage     *float64        `json:"passing_percentage,omitempty"`
	DistinctionPercentage *float64        `json:"distinction_percentage,omitempty"`
	CriticalGroups        []CriticalGroup `json:"critical_groups,omitempty"`
}

// Passing returns the configured passing percentage or the default. An
// explicit 0 is kept.
func (p Policy) Passing() float64 {
	if p.PassingPercentage != nil {
		return *p.PassingPercentage
	}
	return DefaultPassingPercentage
}

// Rubric is the complete scoring configuration of one exam.
type Rubric struct {
	ExamID string `json:"exam_id,omitempty"`
	Title  string `json:"title,omitempty"`
	Policy Policy `json:"policy"`
	Root   Group  `json:"root"`
}

// EvalConfig holds runtime evaluation parameters set via CLI flags.
type EvalConfig struct {
	RubricPath  string
	OutputPath  string
	ExamID      string   // overrides the rubric's exam id when set
	Candidate   string   // model or person that produced the submission
	Passing     *float64 // overrides policy.passing_percentage
	Distinction *float64 // overrides policy.distinction_percentage
	Lang        string
}

// Apply merges the CLI overrides into a rubric policy.
func (c EvalConfig) Apply(r *Rubric) {
	if c.ExamID != "" {
		r.ExamID = c.ExamID
	}
	if c.Passing != nil {
		v := *c.Passing
		r.Policy.PassingPercentage = &v
	}
	if c.Distinction != nil {
		d := *c.Distinction
		r.Policy.DistinctionPercentage = &d
	}
}
