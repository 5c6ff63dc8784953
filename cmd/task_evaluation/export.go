package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/taskeval/internal/export"
	appI18n "github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/store"
)

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLang(cmd.Context(), lang)

	outPath := v.GetString("output")
	format := export.FormatJSON
	if s := v.GetString("format"); s != "" {
		f, err := export.ParseFormat(s)
		if err != nil {
			return err
		}
		format = f
	} else if outPath != "" && outPath != "-" {
		format = export.FormatFromPath(outPath)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exp, err := db.ExportRuns(ctx, model.RunFilter{
		ExamID:    v.GetString("exam-id"),
		Candidate: v.GetString("candidate"),
	})
	if err != nil {
		return fmt.Errorf("export runs: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := export.Write(w, exp, format); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported runs", "format", format, "output", outPath)
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Tp(ctx, "RunsExported", exp.NumRuns))
	return nil
}
