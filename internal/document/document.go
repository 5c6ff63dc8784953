// Package document loads submission and answer-key JSON files once and
// resolves rubric paths against them.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned when a document file does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidJSON is returned when a document is empty or not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON document")
)

// Document is a read-only JSON document.
type Document struct {
	name string
	raw  []byte
}

// Load reads and validates the JSON file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse validates data and wraps it as a Document named name.
func Parse(name string, data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidJSON)
	}
	return &Document{name: name, raw: data}, nil
}

// Name is the file name or label the document was loaded from.
func (d *Document) Name() string { return d.name }

// Bytes returns the raw JSON.
func (d *Document) Bytes() []byte { return d.raw }

// Root returns the whole document as a gjson result.
func (d *Document) Root() gjson.Result {
	return gjson.ParseBytes(d.raw)
}

// Resolve looks up p. The result's Exists reports whether the path was
// present; a present JSON null has Type gjson.Null and Exists true.
func (d *Document) Resolve(p model.Path) gjson.Result {
	if len(p) == 0 {
		return d.Root()
	}
	return gjson.GetBytes(d.raw, Query(p))
}

// Query converts p into gjson path syntax, escaping every segment.
func Query(p model.Path) string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = gjson.Escape(seg)
	}
	return strings.Join(parts, ".")
}

// Literal wraps an inline JSON value, such as a rubric's expected override,
// as a gjson result.
func Literal(raw []byte) gjson.Result {
	return gjson.ParseBytes(bytes.TrimSpace(raw))
}
