// Package rubric loads, validates and discovers the scoring configuration
// of an exam.
package rubric

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/model"
	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Source tells where a rubric came from.
type Source string

const (
	SourceFile       Source = "file"
	SourceAnswerKey  Source = "answer_key"
	SourceDiscovered Source = "discovered"
	SourceDerived    Source = "derived"
)

// DefaultRootID names the root group when a rubric file does not.
const DefaultRootID = "exam"

// discoverNames are tried, in order, next to the answer key.
var discoverNames = []string{"rubric.json", "rubric.yaml", "rubric.yml", "rubric.toml"}

// file is the on-disk shape: either an explicit root group or top-level
// sections and items.
type file struct {
	ExamID   string        `json:"exam_id"`
	Title    string        `json:"title"`
	Policy   model.Policy  `json:"policy"`
	Root     *model.Group  `json:"root"`
	Sections []model.Group `json:"sections"`
	Items    []model.Item  `json:"items"`
}

// Load reads a rubric from a .json, .yaml/.yml or .toml file.
func Load(path string) (*model.Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric %s: %w", path, err)
	}
	raw, err := toJSON(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("decode rubric %s: %w", path, err)
	}
	r, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rubric %s: %w", path, err)
	}
	return r, nil
}

// toJSON converts YAML and TOML rubric files to JSON so every format goes
// through the same schema validation.
func toJSON(ext string, data []byte) ([]byte, error) {
	var v any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites YAML maps with non-string keys so they can be
// marshalled as JSON objects.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	}
	return v
}

// Parse validates raw rubric JSON and decodes it.
func Parse(raw []byte) (*model.Rubric, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode rubric: %w", err)
	}
	r := &model.Rubric{ExamID: f.ExamID, Title: f.Title, Policy: f.Policy}
	if f.Root != nil {
		r.Root = *f.Root
	} else {
		r.Root = model.Group{Groups: f.Sections, Items: f.Items}
	}
	if r.Root.ID == "" {
		r.Root.ID = DefaultRootID
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidationError lists every problem found in a rubric.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid rubric: " + strings.Join(e.Problems, "; ")
}

// Validate checks the invariants the scoring engine relies on.
func Validate(r *model.Rubric) error {
	v := &validator{items: map[string]bool{}, groups: map[string]bool{}}
	v.group(r.Root, true)

	p := r.Policy
	if pp := p.PassingPercentage; pp != nil && (*pp < 0 || *pp > 100) {
		v.addf("passing_percentage %g outside [0, 100]", *pp)
	}
	if d := p.DistinctionPercentage; d != nil && (*d < 0 || *d > 100) {
		v.addf("distinction_percentage %g outside [0, 100]", *d)
	}
	for _, cg := range p.CriticalGroups {
		if !v.groups[cg.ID] {
			v.addf("critical group %q is not defined", cg.ID)
		}
		if cg.MinFraction < 0 || cg.MinFraction > 1 {
			v.addf("critical group %q: min_fraction %g outside [0, 1]", cg.ID, cg.MinFraction)
		}
	}
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	items    map[string]bool
	groups   map[string]bool
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) group(g model.Group, root bool) {
	if g.ID == "" && !root {
		v.addf("group without id")
	}
	if g.ID != "" {
		if v.groups[g.ID] {
			v.addf("duplicate group id %q", g.ID)
		}
		v.groups[g.ID] = true
	}
	if mf := g.MinFraction; mf != nil && (*mf < 0 || *mf > 1) {
		v.addf("group %q: min_fraction %g outside [0, 1]", g.ID, *mf)
	}
	for _, it := range g.Items {
		v.item(it)
	}
	for _, sub := range g.Groups {
		v.group(sub, false)
	}
}

func (v *validator) item(it model.Item) {
	if it.ID == "" {
		v.addf("item without id")
	} else if v.items[it.ID] {
		v.addf("duplicate item id %q", it.ID)
	}
	v.items[it.ID] = true
	if it.Points < 0 || math.IsNaN(it.Points) || math.IsInf(it.Points, 0) {
		v.addf("item %q: points must be a non-negative number", it.ID)
	}
	if it.Expected != nil && !json.Valid(*it.Expected) {
		v.addf("item %q: expected is not valid JSON", it.ID)
	}
	v.matcher(it.ID, it.Matcher)
}

func (v *validator) matcher(id string, m model.MatcherSpec) {
	if !model.IsValidMode(m.Mode) {
		v.addf("item %q: unknown matcher mode %q", id, m.Mode)
	}
	if m.Tolerance < 0 {
		v.addf("item %q: negative tolerance", id)
	}
	for _, p := range m.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			v.addf("item %q: pattern %q: %v", id, p, err)
		}
	}
	for name, f := range m.Fields {
		v.matcher(id+"."+name, f.Matcher)
	}
}

// FromAnswerKey returns the rubric embedded under the answer key's
// top-level "rubric" property, or nil when there is none.
func FromAnswerKey(key *document.Document) (*model.Rubric, error) {
	embedded := key.Root().Get("rubric")
	if !embedded.IsObject() {
		return nil, nil
	}
	r, err := Parse([]byte(embedded.Raw))
	if err != nil {
		return nil, fmt.Errorf("rubric embedded in %s: %w", key.Name(), err)
	}
	return r, nil
}

// Discover loads the first rubric.* file found next to answerKeyPath.
// It returns nil, "" when none exists.
func Discover(answerKeyPath string) (*model.Rubric, string, error) {
	dir := filepath.Dir(answerKeyPath)
	for _, name := range discoverNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		r, err := Load(p)
		return r, p, err
	}
	return nil, "", nil
}

// Resolve picks the rubric for an evaluation: an explicit file, then a
// rubric embedded in the answer key, then a rubric.* next to it, and
// finally one derived from the answer key itself.
func Resolve(explicit, answerKeyPath string, key *document.Document) (*model.Rubric, Source, error) {
	if explicit != "" {
		r, err := Load(explicit)
		return r, SourceFile, err
	}
	r, err := FromAnswerKey(key)
	if err != nil || r != nil {
		return r, SourceAnswerKey, err
	}
	if answerKeyPath != "" {
		r, path, err := Discover(answerKeyPath)
		if err != nil || r != nil {
			if r != nil {
				slog.Debug("discovered rubric", "path", path)
			}
			return r, SourceDiscovered, err
		}
	}
	slog.Warn("no rubric found, deriving one from the answer key", "answer_key", key.Name())
	return Derive(key), SourceDerived, nil
}
