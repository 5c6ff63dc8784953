package matcher

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

func matchStructural(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	if exp.IsArray() {
		return matchRecords(sub, exp, spec)
	}
	return matchRecord(sub, exp, spec)
}

// matchRecords compares an array of records position by position. Each
// expected record weighs the same; extra submitted records cost credit only
// with penalize_extra.
func matchRecords(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	if !sub.IsArray() {
		return miss("type mismatch: expected array of records, got %s", kind(sub))
	}
	want, got := exp.Array(), sub.Array()
	if len(want) == 0 {
		if len(got) == 0 {
			return full()
		}
		return miss("expected no records, got %d", len(got))
	}

	var sum float64
	var notes []string
	for i, e := range want {
		if i >= len(got) {
			notes = append(notes, "["+strconv.Itoa(i)+"]: missing record")
			continue
		}
		o := matchRecord(got[i], e, spec)
		if !o.Full() && o.Note != "" {
			notes = append(notes, "["+strconv.Itoa(i)+"]: "+o.Note)
		}
		sum += o.Fraction
	}
	denom := float64(len(want))
	if spec.PenalizeExtra && len(got) > len(want) {
		notes = append(notes, strconv.Itoa(len(got)-len(want))+" extra records")
		denom = float64(len(got))
	}

	note := strings.Join(notes, "; ")
	frac := sum / denom
	if spec.AllOrNothing && frac < 1-epsilon {
		return Outcome{Note: note}
	}
	return Outcome{Fraction: frac, Note: note}
}

func matchRecord(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	if !sub.IsObject() {
		return miss("type mismatch: expected object, got %s", kind(sub))
	}

	fields := spec.Fields
	if len(fields) == 0 {
		if !exp.IsObject() {
			return miss("expected value is not an object")
		}
		fields = make(map[string]model.FieldSpec)
		exp.ForEach(func(k, _ gjson.Result) bool {
			fields[k.String()] = model.FieldSpec{Matcher: model.MatcherSpec{Mode: model.ModeExact, CaseSensitive: spec.CaseSensitive}}
			return true
		})
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	required := spec.RequiredKeys
	if len(required) == 0 {
		required = keys
	}
	var missing []string
	for _, k := range required {
		if !sub.Get(gjson.Escape(k)).Exists() {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return miss("missing required keys: %s", strings.Join(missing, ", "))
	}
	if len(keys) == 0 {
		return full()
	}

	var sum, weights float64
	var notes []string
	allFull := true
	for _, k := range keys {
		f := fields[k]
		w := f.Weight
		if w <= 0 {
			w = 1
		}
		esc := gjson.Escape(k)
		o := Match(sub.Get(esc), exp.Get(esc), f.Matcher)
		if !o.Full() {
			allFull = false
			if o.Note != "" {
				notes = append(notes, k+": "+o.Note)
			}
		}
		sum += w * o.Fraction
		weights += w
	}

	note := strings.Join(notes, "; ")
	if spec.AllOrNothing {
		if allFull {
			return full()
		}
		return Outcome{Note: note}
	}
	return Outcome{Fraction: sum / weights, Note: note}
}
