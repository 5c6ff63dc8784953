package matcher

import (
	"strconv"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

// elementSet returns the distinct normalized elements of a JSON array in
// first-seen order.
func elementSet(r gjson.Result, caseSensitive bool) ([]string, bool) {
	if !r.IsArray() {
		return nil, false
	}
	seen := make(map[string]struct{})
	var out []string
	for _, e := range r.Array() {
		k := elementKey(e, caseSensitive)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, true
}

func elementKey(e gjson.Result, caseSensitive bool) string {
	switch e.Type {
	case gjson.String:
		return "s:" + normalizeText(e.Str, caseSensitive)
	case gjson.Number:
		return "n:" + strconv.FormatFloat(e.Num, 'f', -1, 64)
	}
	return "j:" + e.Raw
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setOperands(sub, exp gjson.Result, spec model.MatcherSpec) (s, e []string, out Outcome, ok bool) {
	if !present(exp) {
		return nil, nil, miss("no expected value"), false
	}
	e, ok = elementSet(exp, spec.CaseSensitive)
	if !ok {
		return nil, nil, miss("expected value is not a list"), false
	}
	s, ok = elementSet(sub, spec.CaseSensitive)
	if !ok {
		return nil, nil, miss("type mismatch: expected array, got %s", kind(sub)), false
	}
	return s, e, Outcome{}, true
}

func matchSetExact(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	s, e, out, ok := setOperands(sub, exp, spec)
	if !ok {
		return out
	}
	if len(s) != len(e) {
		return miss("expected %d elements, got %d", len(e), len(s))
	}
	want := toSet(e)
	for _, k := range s {
		if _, hit := want[k]; !hit {
			return miss("unexpected element %s", k[2:])
		}
	}
	return full()
}

func matchSetOverlap(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	s, e, out, ok := setOperands(sub, exp, spec)
	if !ok {
		return out
	}
	if len(e) == 0 {
		if len(s) == 0 {
			return full()
		}
		return miss("expected an empty list")
	}

	want := toSet(e)
	hits, extras := 0, 0
	for _, k := range s {
		if _, hit := want[k]; hit {
			hits++
		} else {
			extras++
		}
	}
	score := float64(hits)
	if spec.PenalizeExtra {
		score -= float64(extras)
	}
	frac := clamp(score / float64(len(e)))

	gate := spec.MinOverlap
	if spec.AllOrNothing && gate <= 0 {
		gate = 1
	}
	note := strconv.Itoa(hits) + "/" + strconv.Itoa(len(e)) + " expected elements"
	if frac < gate-epsilon {
		return Outcome{Note: note + ", below minimum overlap"}
	}
	if spec.AllOrNothing {
		return full()
	}
	o := Outcome{Fraction: frac}
	if !o.Full() {
		o.Note = note
	}
	return o
}
