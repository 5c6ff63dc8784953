package matcher

import (
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

const defaultFuzzyCredit = 0.5

func matchExact(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	var candidates []gjson.Result
	if present(exp) {
		candidates = append(candidates, exp)
	}
	for _, alt := range spec.Alternatives {
		candidates = append(candidates, gjson.ParseBytes(alt))
	}
	if len(candidates) == 0 {
		return miss("no expected value")
	}

	fuzzy := 0.0
	mismatch := ""
	for _, c := range candidates {
		if !sameKind(sub, c) {
			if mismatch == "" {
				mismatch = "type mismatch: expected " + kind(c) + ", got " + kind(sub)
			}
			continue
		}
		if valuesEqual(sub, c, spec.CaseSensitive) {
			return full()
		}
		if spec.FuzzyDistance > 0 && sub.Type == gjson.String {
			a := normalizeText(sub.Str, spec.CaseSensitive)
			b := normalizeText(c.Str, spec.CaseSensitive)
			if levenshtein(a, b) <= spec.FuzzyDistance {
				fuzzy = defaultFuzzyCredit
				if spec.FuzzyCredit != nil {
					fuzzy = *spec.FuzzyCredit
				}
			}
		}
	}
	if fuzzy > 0 {
		return Outcome{Fraction: fuzzy, Note: "close match (fuzzy)"}
	}
	if mismatch != "" && len(candidates) == 1 {
		return miss("%s", mismatch)
	}
	return miss("does not match expected value")
}

// sameKind reports whether two values are of the same JSON type, treating
// true and false as one type.
func sameKind(a, b gjson.Result) bool {
	return kind(a) == kind(b)
}

// valuesEqual compares two JSON values. Strings are normalized, numbers are
// compared exactly, containers recursively.
func valuesEqual(a, b gjson.Result, caseSensitive bool) bool {
	if !sameKind(a, b) {
		return false
	}
	switch {
	case a.IsArray():
		ae, be := a.Array(), b.Array()
		if len(ae) != len(be) {
			return false
		}
		for i := range ae {
			if !valuesEqual(ae[i], be[i], caseSensitive) {
				return false
			}
		}
		return true
	case a.IsObject():
		am, bm := a.Map(), b.Map()
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valuesEqual(av, bv, caseSensitive) {
				return false
			}
		}
		return true
	}
	switch a.Type {
	case gjson.String:
		return normalizeText(a.Str, caseSensitive) == normalizeText(b.Str, caseSensitive)
	case gjson.Number:
		return a.Num == b.Num
	case gjson.True, gjson.False:
		return a.Type == b.Type
	}
	return true
}

// Equal reports whether two JSON values are the same value, comparing
// strings case-sensitively after whitespace normalization.
func Equal(a, b gjson.Result) bool {
	return valuesEqual(a, b, true)
}
