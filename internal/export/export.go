// Package export writes recorded runs, joined with candidate metadata, as
// JSON, CSV or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/taskeval/internal/model"
	"github.com/xuri/excelize/v2"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Sheet names of the XLSX export.
const (
	SheetRuns       = "runs"
	SheetCandidates = "candidates"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, csv or xlsx)", s)
}

// FormatFromPath guesses the format from a file extension, defaulting to
// JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	}
	return FormatJSON
}

// Write encodes exp to w in format f.
func Write(w io.Writer, exp *model.RunsExport, f Format) error {
	switch f {
	case FormatJSON, "":
		return WriteJSON(w, exp)
	case FormatCSV:
		return WriteCSV(w, exp)
	case FormatXLSX:
		return WriteXLSX(w, exp)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteJSON writes exp as indented JSON.
func WriteJSON(w io.Writer, exp *model.RunsExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exp); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// WriteCSV writes one row per run. Metadata keys become trailing columns.
func WriteCSV(w io.Writer, exp *model.RunsExport) error {
	cw := csv.NewWriter(w)
	header, rows := runTable(exp)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = cellString(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with a runs sheet and a per-candidate
// summary sheet.
func WriteXLSX(w io.Writer, exp *model.RunsExport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRuns); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetCandidates); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header, rows := runTable(exp)
	if err := writeSheet(f, SheetRuns, header, rows); err != nil {
		return err
	}
	header, rows = candidateTable(exp)
	if err := writeSheet(f, SheetCandidates, header, rows); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &hdr); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("%s panes: %w", sheet, err)
	}
	return nil
}

func runTable(exp *model.RunsExport) ([]string, [][]any) {
	mds := make([]map[string]string, len(exp.Runs))
	for i, r := range exp.Runs {
		mds[i] = r.Metadata
	}
	keys := metadataKeys(mds)
	header := append([]string{"run_id", "exam_id", "candidate", "percentage", "passed", "tier", "created_at"}, keys...)
	rows := make([][]any, 0, len(exp.Runs))
	for _, r := range exp.Runs {
		row := []any{r.RunID, r.ExamID, r.Candidate, r.Percentage, r.Passed, r.Tier, r.CreatedAt.UTC().Format(time.RFC3339)}
		for _, k := range keys {
			row = append(row, r.Metadata[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

func candidateTable(exp *model.RunsExport) ([]string, [][]any) {
	mds := make([]map[string]string, len(exp.Candidates))
	for i, c := range exp.Candidates {
		mds[i] = c.Metadata
	}
	keys := metadataKeys(mds)
	header := append([]string{"candidate", "runs", "passed", "mean_score"}, keys...)
	rows := make([][]any, 0, len(exp.Candidates))
	for _, c := range exp.Candidates {
		row := []any{c.Candidate, c.Runs, c.Passed, c.MeanScore}
		for _, k := range keys {
			row = append(row, c.Metadata[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

// metadataKeys returns the sorted union of keys.
func metadataKeys(mds []map[string]string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, md := range mds {
		for k := range md {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	}
	return fmt.Sprint(v)
}
