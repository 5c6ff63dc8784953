package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/report"
)

const answerKey = `{
	"q1": "B",
	"q2": 8635,
	"rubric": {
		"exam_id": "ledger-01",
		"items": [
			{"id": "q1", "submission_path": "q1", "matcher": {"mode": "exact"}, "points": 2},
			{"id": "q2", "submission_path": "q2", "matcher": {"mode": "numeric_abs", "tolerance": 0.01}, "points": 3}
		]
	}
}`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeCapture(t, args...)
	return out, err
}

func executeCapture(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestEvaluateCommand(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, filepath.Join(dir, "answer_key.json"), answerKey)
	results := filepath.Join(dir, "out", report.DefaultFile)

	tests := []struct {
		name       string
		submission string
		extra      []string
		want       string
	}{
		{"pass", `{"q1": "B", "q2": 8635.004}`, nil, "Overall score: 100.00%\nResult: PASS\n"},
		{"fail still exits zero", `{"q1": "B", "q2": 1}`, nil, "Overall score: 40.00%\nResult: FAIL\n"},
		{"passing override", `{"q1": "B", "q2": 1}`, []string{"--passing", "40"}, "Overall score: 40.00%\nResult: PASS\n"},
		{"russian", `{"q1": "B", "q2": 8635}`, []string{"--lang", "ru"}, "Итоговый балл: 100.00%\nРезультат: PASS\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := writeFile(t, filepath.Join(t.TempDir(), "submission.json"), tt.submission)
			out, err := execute(t, append([]string{sub, key, "--output", results}, tt.extra...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			rep, err := report.Read(results)
			require.NoError(t, err)
			assert.Equal(t, "ledger-01", rep.ExamID)
		})
	}
}

func TestEvaluateCommandDetailsOnStderr(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, filepath.Join(dir, "answer_key.json"), answerKey)
	sub := writeFile(t, filepath.Join(dir, "submission.json"), `{"q1": "B", "q2": 1}`)

	stdout, stderr, err := executeCapture(t, sub, key, "--output", filepath.Join(dir, report.DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, "Overall score: 40.00%\nResult: FAIL\n", stdout)
	assert.Contains(t, stderr, "  - overall score 40.00% is below the passing threshold of 70.00%")
}

func TestEvaluateCommandPassingZero(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, filepath.Join(dir, "answer_key.json"), answerKey)
	sub := writeFile(t, filepath.Join(dir, "submission.json"), `{"q1": "A", "q2": 1}`)

	out, err := execute(t, sub, key, "--output", filepath.Join(dir, report.DefaultFile), "--passing", "0")
	require.NoError(t, err)
	assert.Equal(t, "Overall score: 0.00%\nResult: PASS\n", out)
}

func TestEvaluateCommandFatal(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, filepath.Join(dir, "answer_key.json"), answerKey)
	bad := writeFile(t, filepath.Join(dir, "bad.json"), `{"q1": `)
	results := filepath.Join(dir, report.DefaultFile)

	tests := []struct {
		name string
		args []string
	}{
		{"missing submission", []string{filepath.Join(dir, "nope.json"), key}},
		{"missing answer key", []string{key, filepath.Join(dir, "nope.json")}},
		{"invalid submission", []string{bad, key}},
		{"invalid answer key", []string{key, bad}},
		{"wrong arg count", []string{key}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(tt.args, "--output", results)...)
			assert.Error(t, err)
			_, statErr := os.Stat(results)
			assert.True(t, os.IsNotExist(statErr), "no results file on fatal errors")
		})
	}
}

func TestEvaluateRecordsAndExports(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	key := writeFile(t, filepath.Join(dir, "answer_key.json"), answerKey)
	sub := writeFile(t, filepath.Join(dir, "submission.json"), `{"q1": "B", "q2": 8635}`)
	md := writeFile(t, filepath.Join(dir, "models.yaml"), "model-a:\n  vendor: acme\n  params: 7000000000\n")

	_, err := execute(t, sub, key, "--output", filepath.Join(dir, "r.json"), "--db", db, "--candidate", "model-a")
	require.NoError(t, err)

	out, err := execute(t, "models", "import", md, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "Metadata imported for 1 candidate.\n", out)

	out, err = execute(t, "models", "list", "--db", db)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model-a": {"vendor": "acme", "params": "7000000000"}}`, out)

	out, err = execute(t, "export", "--db", db, "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "run_id,exam_id,candidate,percentage,passed,tier,created_at,params,vendor", lines[0])
	assert.Contains(t, lines[1], ",ledger-01,model-a,100.00,true,")

	xlsx := filepath.Join(dir, "runs.xlsx")
	_, err = execute(t, "export", "--db", db, "-o", xlsx)
	require.NoError(t, err)
	info, err := os.Stat(xlsx)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	out, err = execute(t, "export", "--db", db)
	require.NoError(t, err)
	var exp model.RunsExport
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, 1, exp.NumRuns)
}

func TestBatchCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "exam-a", "answer_key.json"), answerKey)
	writeFile(t, filepath.Join(root, "exam-a", "submissions", "model-a.json"), `{"q1": "B", "q2": 8635}`)
	writeFile(t, filepath.Join(root, "exam-a", "submissions", "model-b.json"), `{"q1": "C"}`)

	out, err := execute(t, "batch", root, "--jobs", "2")
	require.NoError(t, err)
	assert.Equal(t, "2 submissions evaluated.\n1 submission passed.\n", out)

	rep, err := report.Read(filepath.Join(root, "exam-a", "results", "model-b.json"))
	require.NoError(t, err)
	assert.Equal(t, "FAIL", rep.Result)
}

func TestHashTokenCommand(t *testing.T) {
	out, err := execute(t, "hash-token", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
}

func TestResolveTokenHash(t *testing.T) {
	h, err := resolveTokenHash("", "")
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = resolveTokenHash("ignored", "$2a$10$abc")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$abc", string(h))

	h, err = resolveTokenHash("tok", "")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(h, []byte("tok")))
}

func TestReadMetadataFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"models.json", `{"m": {"provider": "acme", "params": 7.5, "tags": ["a", "b"]}}`},
		{"models.yaml", "m:\n  provider: acme\n  params: 7.5\n  tags: [a, b]\n"},
		{"models.toml", "[m]\nprovider = \"acme\"\nparams = 7.5\ntags = [\"a\", \"b\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := readMetadataFile(writeFile(t, filepath.Join(dir, tt.name), tt.content))
			require.NoError(t, err)
			assert.Equal(t, map[string]map[string]string{
				"m": {"provider": "acme", "params": "7.5", "tags": "a,b"},
			}, md)
		})
	}

	_, err := readMetadataFile(writeFile(t, filepath.Join(dir, "bad.json"), `[1, 2]`))
	assert.Error(t, err)
}
