package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/taskeval/internal/batch"
	"github.com/pavelanni/taskeval/internal/evaluate"
	"github.com/pavelanni/taskeval/internal/handler"
	appI18n "github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/report"
	"github.com/pavelanni/taskeval/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "task_evaluation <submission.json> <answer_key.json>",
		Short:        "Score a JSON submission against an answer key",
		Args:         cobra.ExactArgs(2),
		RunE:         runEvaluate,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("lang", "l", appI18n.DefaultLang, "Console language (en, ru)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")

	f := root.Flags()
	f.String("rubric", "", "Rubric file (JSON, YAML or TOML)")
	f.StringP("output", "o", report.DefaultFile, "Results file path")
	f.String("db", "", "SQLite database to record the run in (disabled when empty)")
	f.String("candidate", "", "Model or person that produced the submission")
	addEvalFlags(root)

	root.AddCommand(batchCmd(), serveCmd(), exportCmd(), modelsCmd(), hashTokenCmd())
	return root
}

// addEvalFlags registers the rubric overrides shared by evaluate and batch.
func addEvalFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier (overrides the rubric's)")
	f.Float64("passing", model.DefaultPassingPercentage, "Passing percentage (overrides the rubric policy)")
	f.Float64("distinction", 0, "Distinction percentage (overrides the rubric policy)")
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <root>",
		Short: "Evaluate every exam folder under root",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	f := cmd.Flags()
	f.IntP("jobs", "j", 0, "Concurrent evaluations (0 = number of CPUs)")
	f.String("db", "", "SQLite database to record runs in (disabled when empty)")
	addEvalFlags(cmd)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "taskeval.db", "SQLite database path (empty disables run history)")
	f.String("token", "", "API bearer token (or set TASKEVAL_TOKEN)")
	f.String("token-hash", "", "bcrypt hash of the API bearer token (or set TASKEVAL_TOKEN_HASH)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded runs as JSON, CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "taskeval.db", "SQLite database path")
	f.String("format", "", "Output format (json, csv, xlsx); defaults to the output file extension")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("exam-id", "", "Only export runs of this exam")
	f.String("candidate", "", "Only export runs of this candidate")
	return cmd
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use with serve --token-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handler.HashToken(args[0])
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return err
		},
	}
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	default:
		logHandler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TASKEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("taskeval")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/taskeval")
	v.AddConfigPath("/etc/taskeval")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// evalConfig collects the rubric overrides. Passing and distinction only
// override the rubric when set explicitly.
func evalConfig(v *viper.Viper) model.EvalConfig {
	cfg := model.EvalConfig{
		RubricPath: v.GetString("rubric"),
		OutputPath: v.GetString("output"),
		ExamID:     v.GetString("exam-id"),
		Candidate:  v.GetString("candidate"),
		Lang:       v.GetString("lang"),
	}
	if v.IsSet("passing") {
		p := v.GetFloat64("passing")
		cfg.Passing = &p
	}
	if v.IsSet("distinction") {
		d := v.GetFloat64("distinction")
		cfg.Distinction = &d
	}
	return cfg
}

// commandContext returns the command's context with the console language
// and a cancel on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command, lang string) (context.Context, context.CancelFunc) {
	ctx := appI18n.WithLang(cmd.Context(), lang)
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := evalConfig(v)

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx, stop := commandContext(cmd, cfg.Lang)
	defer stop()

	submissionPath, answerKeyPath := args[0], args[1]
	res, err := evaluate.New(nil).Files(submissionPath, answerKeyPath, cfg)
	if err != nil {
		return err
	}

	if err := report.Write(cfg.OutputPath, res.Report); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	slog.Debug("results written", "path", cfg.OutputPath)

	if dbPath := v.GetString("db"); dbPath != "" {
		if err := recordRun(ctx, dbPath, res.Report, submissionPath); err != nil {
			return err
		}
	}

	// stdout carries only the two summary lines.
	fmt.Fprint(cmd.OutOrStdout(), report.Summary(ctx, res.Report))
	fmt.Fprint(cmd.ErrOrStderr(), report.Details(ctx, res.Report))
	return nil
}

func recordRun(ctx context.Context, dbPath string, rep *model.Report, submissionPath string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	abs, err := filepath.Abs(submissionPath)
	if err != nil {
		abs = submissionPath
	}
	run, err := store.RunFromReport(rep, abs)
	if err != nil {
		return err
	}
	if err := db.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	slog.Info("recorded run", "id", run.ID, "db", dbPath)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := evalConfig(v)

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx, stop := commandContext(cmd, cfg.Lang)
	defer stop()

	opts := []batch.Option{batch.WithJobs(v.GetInt("jobs")), batch.WithConfig(cfg)}
	if dbPath := v.GetString("db"); dbPath != "" {
		db, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		opts = append(opts, batch.WithRecorder(db))
	}

	start := time.Now()
	sum, err := batch.NewRunner(nil, opts...).Run(ctx, args[0])
	if err != nil {
		return err
	}
	for _, fe := range sum.FailedExams {
		slog.Error("exam could not be evaluated", "exam_id", fe.ExamID, "error", fe.Err)
	}
	for _, o := range sum.Outcomes {
		if o.Err != nil {
			slog.Error("submission could not be evaluated", "exam_id", o.ExamID, "candidate", o.Candidate, "error", o.Err)
		}
	}
	slog.Info("batch finished", "root", args[0], "duration", time.Since(start).Round(time.Millisecond))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, appI18n.Tp(ctx, "BatchEvaluated", sum.Evaluated))
	fmt.Fprintln(out, appI18n.Tp(ctx, "BatchPassed", sum.Passed))
	if n := len(sum.FailedExams); n > 0 {
		fmt.Fprintln(out, appI18n.Tp(ctx, "BatchFailedExams", n))
	}
	if sum.Evaluated == 0 && (sum.Failed > 0 || len(sum.FailedExams) > 0) {
		return errors.New("no submission could be evaluated")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var opts []handler.Option
	if dbPath := v.GetString("db"); dbPath != "" {
		db, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		opts = append(opts, handler.WithStore(db))
	}

	tokenHash, err := resolveTokenHash(v.GetString("token"), v.GetString("token-hash"))
	if err != nil {
		return err
	}
	if tokenHash != nil {
		opts = append(opts, handler.WithTokenHash(tokenHash))
	} else {
		slog.Warn("API token not configured, /api is open to everyone")
	}

	h := handler.New(nil, opts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"auth", tokenHash != nil,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// resolveTokenHash prefers an explicit bcrypt hash and otherwise hashes the
// plain token. Both empty disables authentication.
func resolveTokenHash(token, hash string) ([]byte, error) {
	if hash != "" {
		return []byte(hash), nil
	}
	if token == "" {
		return nil, nil
	}
	h, err := handler.HashToken(token)
	if err != nil {
		return nil, fmt.Errorf("hash API token: %w", err)
	}
	return h, nil
}
