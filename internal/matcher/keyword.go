package matcher

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

// freeText flattens a string or a list of strings into one lowercase text.
func freeText(r gjson.Result) (string, bool) {
	switch {
	case r.Type == gjson.String:
		return normalizeText(r.Str, false), true
	case r.IsArray():
		var parts []string
		for _, e := range r.Array() {
			if e.Type == gjson.String || e.Type == gjson.Number {
				parts = append(parts, e.String())
			}
		}
		return normalizeText(strings.Join(parts, " "), false), true
	}
	return "", false
}

func keywordList(exp gjson.Result, spec model.MatcherSpec) []string {
	if len(spec.Keywords) > 0 {
		return spec.Keywords
	}
	switch {
	case exp.Type == gjson.String:
		return []string{exp.Str}
	case exp.IsArray():
		var out []string
		for _, e := range exp.Array() {
			if e.Type == gjson.String {
				out = append(out, e.Str)
			}
		}
		return out
	}
	return nil
}

// patternCache holds compiled keyword and pattern regexps, keyed by source.
var patternCache sync.Map

func cachedRegexp(expr string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Store(expr, re)
	return re, nil
}

// wordPattern matches alt as a whole word in any script. Go's \b only
// knows ASCII word characters.
func wordPattern(alt string) string {
	return `(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(alt) + `(?:$|[^\p{L}\p{N}_])`
}

// containsKeyword matches any of the pipe-separated alternatives of kw.
func containsKeyword(text, kw string, wordBoundary bool) bool {
	for _, alt := range strings.Split(kw, "|") {
		alt = normalizeText(alt, false)
		if alt == "" {
			continue
		}
		if wordBoundary {
			re, err := cachedRegexp(wordPattern(alt))
			if err == nil && re.MatchString(text) {
				return true
			}
			continue
		}
		if strings.Contains(text, alt) {
			return true
		}
	}
	return false
}

func matchKeyword(sub, exp gjson.Result, spec model.MatcherSpec) Outcome {
	text, ok := freeText(sub)
	if !ok {
		return miss("type mismatch: expected text, got %s", kind(sub))
	}
	keywords := keywordList(exp, spec)
	total := len(keywords) + len(spec.Patterns)
	if total == 0 {
		return miss("no keywords configured")
	}

	for _, neg := range spec.NegativeKeywords {
		if containsKeyword(text, neg, spec.WordBoundary) {
			return miss("negative keyword %q present", neg)
		}
	}

	found := 0
	for _, kw := range keywords {
		if containsKeyword(text, kw, spec.WordBoundary) {
			found++
		}
	}
	for _, p := range spec.Patterns {
		re, err := cachedRegexp("(?i)" + p)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			found++
		}
	}

	need := spec.MinMatches
	if need <= 0 || need > total {
		need = total
	}
	note := "keyword hits: " + strconv.Itoa(found) + "/" + strconv.Itoa(total)
	if found >= need {
		return full()
	}

	steps := append([]model.KeywordStep(nil), spec.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].MinMatches > steps[j].MinMatches })
	for _, st := range steps {
		if found >= st.MinMatches {
			return Outcome{Fraction: st.Credit, Note: note}
		}
	}
	if spec.Linear {
		return Outcome{Fraction: float64(found) / float64(need), Note: note}
	}
	return Outcome{Note: note}
}
