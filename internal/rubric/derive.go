package rubric

import (
	"strconv"
	"strings"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

// DerivedTolerance is the absolute tolerance given to numeric leaves of a
// derived rubric.
const DerivedTolerance = 0.01

// Derive builds a one-point-per-leaf rubric from the answer key: numbers
// are compared with an absolute tolerance, strings and booleans exactly,
// lists of scalars as sets. Objects become groups.
func Derive(key *document.Document) *model.Rubric {
	root := key.Root()
	r := &model.Rubric{Root: model.Group{ID: DefaultRootID}}
	if !root.IsObject() && !root.IsArray() {
		if it, ok := leafItem("answer", nil, root); ok {
			r.Root.Items = append(r.Root.Items, it)
		}
		return r
	}
	deriveInto(&r.Root, nil, root, true)
	return r
}

func deriveInto(g *model.Group, prefix model.Path, v gjson.Result, top bool) {
	idx := 0
	v.ForEach(func(k, child gjson.Result) bool {
		seg := k.String()
		if !k.Exists() {
			// array elements have no key
			seg = strconv.Itoa(idx)
		}
		idx++
		if top && seg == "rubric" {
			return true
		}
		p := append(append(model.Path(nil), prefix...), seg)
		id := strings.Join(p, ".")

		if child.IsObject() || (child.IsArray() && !scalarArray(child)) {
			sub := model.Group{ID: id, Title: seg}
			deriveInto(&sub, p, child, false)
			if len(sub.Items) > 0 || len(sub.Groups) > 0 {
				g.Groups = append(g.Groups, sub)
			}
			return true
		}
		if it, ok := leafItem(id, p, child); ok {
			g.Items = append(g.Items, it)
		}
		return true
	})
}

func scalarArray(v gjson.Result) bool {
	for _, e := range v.Array() {
		if e.IsObject() || e.IsArray() {
			return false
		}
	}
	return true
}

func leafItem(id string, p model.Path, v gjson.Result) (model.Item, bool) {
	it := model.Item{ID: id, SubmissionPath: p, Points: 1}
	switch {
	case v.IsArray():
		it.Matcher = model.MatcherSpec{Mode: model.ModeSetExact}
	case v.Type == gjson.Number:
		it.Matcher = model.MatcherSpec{Mode: model.ModeNumericAbs, Tolerance: DerivedTolerance}
	case v.Type == gjson.String, v.Type == gjson.True, v.Type == gjson.False:
		it.Matcher = model.MatcherSpec{Mode: model.ModeExact}
	default:
		return it, false
	}
	return it, true
}
