package rubric

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the JSON Schema every rubric document must satisfy before it
// is decoded.
var Schema = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"properties": map[string]any{
		"exam_id":  map[string]any{"type": "string"},
		"title":    map[string]any{"type": "string"},
		"policy":   map[string]any{"$ref": "#/$defs/policy"},
		"root":     map[string]any{"$ref": "#/$defs/group"},
		"sections": map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/group"}},
		"items":    map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/item"}},
	},
	"anyOf": []any{
		map[string]any{"required": []any{"root"}},
		map[string]any{"required": []any{"sections"}},
		map[string]any{"required": []any{"items"}},
	},
	"$defs": map[string]any{
		"path": map[string]any{
			"oneOf": []any{
				map[string]any{"type": "string"},
				map[string]any{"type": "array", "items": map[string]any{"type": []any{"string", "integer"}}},
			},
		},
		"fraction": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"percent":  map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		"matcher": map[string]any{
			"type":     "object",
			"required": []any{"mode"},
			"properties": map[string]any{
				"mode": map[string]any{"enum": []any{
					"exact", "numeric_abs", "numeric_rel", "numeric_tiered", "range",
					"set_exact", "set_overlap", "keyword", "structural",
				}},
				"tolerance":      map[string]any{"type": "number", "minimum": 0},
				"fuzzy_distance": map[string]any{"type": "integer", "minimum": 0},
				"fuzzy_credit":   map[string]any{"$ref": "#/$defs/fraction"},
				"min_overlap":    map[string]any{"$ref": "#/$defs/fraction"},
				"min_matches":    map[string]any{"type": "integer", "minimum": 0},
				"keywords":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"negative_keywords": map[string]any{
					"type": "array", "items": map[string]any{"type": "string"},
				},
				"patterns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"tiers": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []any{"tolerance", "credit"},
						"properties": map[string]any{
							"tolerance": map[string]any{"type": "number", "minimum": 0},
							"relative":  map[string]any{"type": "boolean"},
							"credit":    map[string]any{"$ref": "#/$defs/fraction"},
						},
					},
				},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []any{"min_matches", "credit"},
						"properties": map[string]any{
							"min_matches": map[string]any{"type": "integer", "minimum": 0},
							"credit":      map[string]any{"$ref": "#/$defs/fraction"},
						},
					},
				},
				"fields": map[string]any{
					"type": "object",
					"additionalProperties": map[string]any{
						"type":     "object",
						"required": []any{"matcher"},
						"properties": map[string]any{
							"matcher": map[string]any{"$ref": "#/$defs/matcher"},
							"weight":  map[string]any{"type": "number", "minimum": 0},
						},
					},
				},
				"required_keys": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		"item": map[string]any{
			"type":     "object",
			"required": []any{"id", "submission_path", "matcher", "points"},
			"properties": map[string]any{
				"id":              map[string]any{"type": "string", "minLength": 1},
				"description":     map[string]any{"type": "string"},
				"submission_path": map[string]any{"$ref": "#/$defs/path"},
				"key_path":        map[string]any{"$ref": "#/$defs/path"},
				"matcher":         map[string]any{"$ref": "#/$defs/matcher"},
				"points":          map[string]any{"type": "number", "minimum": 0},
				"critical":        map[string]any{"type": "boolean"},
			},
		},
		"group": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":           map[string]any{"type": "string"},
				"title":        map[string]any{"type": "string"},
				"critical":     map[string]any{"type": "boolean"},
				"min_fraction": map[string]any{"$ref": "#/$defs/fraction"},
				"items":        map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/item"}},
				"groups":       map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/group"}},
			},
		},
		"policy": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"passing_percentage":     map[string]any{"$ref": "#/$defs/percent"},
				"distinction_percentage": map[string]any{"$ref": "#/$defs/percent"},
				"critical_groups": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []any{"id", "min_fraction"},
						"properties": map[string]any{
							"id":           map[string]any{"type": "string", "minLength": 1},
							"min_fraction": map[string]any{"$ref": "#/$defs/fraction"},
						},
					},
				},
			},
		},
	},
}

const schemaURL = "schema://rubric.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// The compiler expects a parsed JSON value, not Go literals with
		// mixed numeric types.
		defBytes, err := json.Marshal(Schema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema definition: %w", err)
			return
		}
		var def any
		if err := json.Unmarshal(defBytes, &def); err != nil {
			compileErr = fmt.Errorf("parse schema definition: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, def); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// validateSchema checks raw rubric JSON against Schema.
func validateSchema(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile rubric schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
