package matcher

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

// looseNumberRe accepts a whole answer such as "-$8,635.00", "$-5",
// "12.5 %" or "3 days": an optional sign on either side of a currency
// symbol, digits with optional thousands separators, then an optional
// percent sign, currency symbol or single unit word.
var looseNumberRe = regexp.MustCompile(
	`^([-+]?)\s*([$€£¥₽]?)\s*([-+]?)` +
		`(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d*)?|\.\d+)` +
		`\s*(?:%|[$€£¥₽]|\p{L}+\.?)?$`)

// number extracts a finite float from a JSON number or from a string such
// as "$8,635.00", "12.5%" or "3 days".
func number(r gjson.Result) (float64, bool) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		var ok bool
		if v, ok = parseFloatLoose(r.Str); !ok {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}
	m := looseNumberRe.FindStringSubmatch(s)
	if m == nil || (m[1] != "" && m[3] != "") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[4], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if m[1] == "-" || m[3] == "-" {
		v = -v
	}
	return v, true
}

// numbers resolves both sides or explains why it could not.
func numbers(sub, exp gjson.Result) (s, e float64, out Outcome, ok bool) {
	if !present(exp) {
		return 0, 0, miss("no expected value"), false
	}
	e, ok = number(exp)
	if !ok {
		return 0, 0, miss("expected value %q is not numeric", exp.Raw), false
	}
	s, ok = number(sub)
	if !ok {
		return 0, 0, miss("type mismatch: expected number, got %s", kind(sub)), false
	}
	return s, e, Outcome{}, true
}

func within(diff, allowed float64) bool {
	return diff <= allowed+epsilon*math.Max(1, allowed)
}

func matchNumericAbs(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	s, e, out, ok := numbers(sub, exp)
	if !ok {
		return out
	}
	diff := math.Abs(s - e)
	if within(diff, math.Abs(spec.Tolerance)) {
		return full()
	}
	return miss("deviation %g exceeds tolerance %g", diff, math.Abs(spec.Tolerance))
}

func matchNumericRel(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	s, e, out, ok := numbers(sub, exp)
	if !ok {
		return out
	}
	if math.Abs(e) <= epsilon {
		if math.Abs(s) <= epsilon {
			return full()
		}
		return miss("expected zero, got %g", s)
	}
	diff := math.Abs(s - e)
	allowed := math.Abs(e) * math.Abs(spec.Tolerance)
	if within(diff, allowed) {
		return full()
	}
	return miss("relative deviation %.4g exceeds tolerance %g", diff/math.Abs(e), math.Abs(spec.Tolerance))
}

func matchNumericTiered(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	s, e, out, ok := numbers(sub, exp)
	if !ok {
		return out
	}
	if len(spec.Tiers) == 0 {
		return miss("no tolerance tiers configured")
	}

	type band struct {
		width  float64
		credit float64
	}
	bands := make([]band, 0, len(spec.Tiers))
	for _, t := range spec.Tiers {
		w := math.Abs(t.Tolerance)
		if t.Relative {
			w *= math.Abs(e)
		}
		bands = append(bands, band{width: w, credit: t.Credit})
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].width < bands[j].width })

	diff := math.Abs(s - e)
	for _, b := range bands {
		if within(diff, b.width) {
			o := Outcome{Fraction: b.credit}
			if !o.Full() {
				o.Note = "partial credit: deviation " + strconv.FormatFloat(diff, 'g', -1, 64)
			}
			return o
		}
	}
	return miss("deviation %g outside every tier", diff)
}

func matchRange(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	lo, hi := math.Inf(-1), math.Inf(1)
	bounded := false
	if spec.Min != nil {
		lo, bounded = *spec.Min, true
	}
	if spec.Max != nil {
		hi, bounded = *spec.Max, true
	}
	if !bounded && present(exp) {
		var l, h gjson.Result
		switch {
		case exp.IsArray():
			arr := exp.Array()
			if len(arr) == 2 {
				l, h = arr[0], arr[1]
			}
		case exp.IsObject():
			l, h = exp.Get("min"), exp.Get("max")
		}
		if v, ok := number(l); ok {
			lo, bounded = v, true
		}
		if v, ok := number(h); ok {
			hi, bounded = v, true
		}
	}
	if !bounded {
		return miss("range has no bounds")
	}
	s, ok := number(sub)
	if !ok {
		return miss("type mismatch: expected number, got %s", kind(sub))
	}
	if s >= lo-epsilon && s <= hi+epsilon {
		return full()
	}
	return miss("%g outside [%g, %g]", s, lo, hi)
}
