// Package matcher compares one submitted JSON value against one expected
// value and returns a credit fraction in [0, 1].
package matcher

import (
	"fmt"
	"math"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

// Outcome is the result of a single comparison.
type Outcome struct {
	Fraction float64 // 1 = full credit, 0 = none
	Note     string  // why credit was withheld or reduced
}

// Full reports whether the outcome awards full credit.
func (o Outcome) Full() bool {
	return o.Fraction >= 1-epsilon
}

// epsilon absorbs float rounding in tolerance comparisons.
const epsilon = 1e-9

func full() Outcome { return Outcome{Fraction: 1} }

func miss(format string, args ...any) Outcome {
	return Outcome{Note: fmt.Sprintf(format, args...)}
}

// Match applies spec to submitted and expected. Missing, null and
// mistyped submissions never panic and never error: they score 0 with a note.
func Match(submitted, expected gjson.Result, spec model.MatcherSpec) Outcome {
	if !submitted.Exists() {
		return miss("missing in submission")
	}
	if submitted.Type == gjson.Null {
		return miss("submitted value is null")
	}

	var out Outcome
	switch spec.Mode {
	case model.ModeExact, "":
		out = matchExact(submitted, expected, spec)
	case model.ModeNumericAbs:
		out = matchNumericAbs(submitted, expected, spec)
	case model.ModeNumericRel:
		out = matchNumericRel(submitted, expected, spec)
	case model.ModeNumericTiered:
		out = matchNumericTiered(submitted, expected, spec)
	case model.ModeRange:
		out = matchRange(submitted, expected, spec)
	case model.ModeSetExact:
		out = matchSetExact(submitted, expected, spec)
	case model.ModeSetOverlap:
		out = matchSetOverlap(submitted, expected, spec)
	case model.ModeKeyword:
		out = matchKeyword(submitted, expected, spec)
	case model.ModeStructural:
		out = matchStructural(submitted, expected, spec)
	default:
		out = miss("unknown matcher mode %q", spec.Mode)
	}
	out.Fraction = clamp(out.Fraction)
	return out
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// kind names a JSON value type for notes.
func kind(r gjson.Result) string {
	switch {
	case !r.Exists():
		return "missing"
	case r.IsArray():
		return "array"
	case r.IsObject():
		return "object"
	}
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	}
	return "null"
}
