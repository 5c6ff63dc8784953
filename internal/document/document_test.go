package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"q1": "B"}`), 0o644))
	doc, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, good, doc.Name())

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, ErrNotFound))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"q1": `), 0o644))
	_, err = Load(bad)
	assert.True(t, errors.Is(err, ErrInvalidJSON))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err = Load(empty)
	assert.True(t, errors.Is(err, ErrInvalidJSON))
}

func TestResolve(t *testing.T) {
	doc, err := Parse("sub", []byte(`{
		"tasks": [{"total": 8635.005}, {"total": null}],
		"a.b": {"c": "dotted"},
		"q*": "wild"
	}`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    model.Path
		exists  bool
		typ     gjson.Type
		wantStr string
	}{
		{"array index", model.Path{"tasks", "0", "total"}, true, gjson.Number, "8635.005"},
		{"explicit null", model.Path{"tasks", "1", "total"}, true, gjson.Null, ""},
		{"missing key", model.Path{"tasks", "0", "missing"}, false, gjson.Null, ""},
		{"index out of range", model.Path{"tasks", "5"}, false, gjson.Null, ""},
		{"dotted key", model.Path{"a.b", "c"}, true, gjson.String, "dotted"},
		{"wildcard chars", model.Path{"q*"}, true, gjson.String, "wild"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := doc.Resolve(tt.path)
			assert.Equal(t, tt.exists, got.Exists())
			assert.Equal(t, tt.typ, got.Type)
			if tt.wantStr != "" {
				assert.Equal(t, tt.wantStr, got.String())
			}
		})
	}
}

func TestResolveEmptyPathReturnsRoot(t *testing.T) {
	doc, err := Parse("sub", []byte(`{"x": 1}`))
	require.NoError(t, err)
	assert.True(t, doc.Resolve(nil).IsObject())
}
