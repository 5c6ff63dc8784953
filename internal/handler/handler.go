package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/taskeval/internal/document"
	"github.com/pavelanni/taskeval/internal/evaluate"
	"github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/model"
	"github.com/pavelanni/taskeval/internal/rubric"
	"github.com/pavelanni/taskeval/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	eval      *evaluate.Evaluator
	store     *store.Store
	tokenHash []byte
}

// Option configures a Handler.
type Option func(*Handler)

// WithStore enables run recording and the run, export and candidate
// endpoints.
func WithStore(s *store.Store) Option {
	return func(h *Handler) { h.store = s }
}

// WithTokenHash requires a bearer token matching the bcrypt hash on every
// /api request.
func WithTokenHash(hash []byte) Option {
	return func(h *Handler) { h.tokenHash = hash }
}

// New creates a new Handler. A nil evaluator means evaluate.New(nil).
func New(ev *evaluate.Evaluator, opts ...Option) *Handler {
	if ev == nil {
		ev = evaluate.New(nil)
	}
	h := &Handler{eval: ev}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Use(h.requireToken)
		api.Post("/evaluate", h.handleEvaluate)
		if h.store == nil {
			return
		}
		api.Get("/runs", h.handleListRuns)
		api.Get("/runs/{runID}", h.handleGetRun)
		api.Delete("/runs/{runID}", h.handleDeleteRun)
		api.Get("/export", h.handleExport)
		api.Get("/candidates/{candidate}/metadata", h.handleGetCandidateMetadata)
		api.Put("/candidates/{candidate}/metadata", h.handlePutCandidateMetadata)
		api.Post("/candidates/import", h.handleImportCandidates)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "store": h.store != nil}
	if h.store != nil {
		if _, err := h.store.RunCount(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			status["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

type evaluateRequest struct {
	Submission  json.RawMessage `json:"submission"`
	AnswerKey   json.RawMessage `json:"answer_key"`
	Rubric      json.RawMessage `json:"rubric,omitempty"`
	ExamID      string          `json:"exam_id,omitempty"`
	Candidate   string          `json:"candidate,omitempty"`
	Passing     *float64        `json:"passing,omitempty"`
	Distinction *float64        `json:"distinction,omitempty"`
	Record      bool            `json:"record,omitempty"`
}

type evaluateResponse struct {
	RunID  string        `json:"run_id,omitempty"`
	Report *model.Report `json:"report"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
		return
	}

	sub, err := document.Parse("submission", req.Submission)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "ErrInvalidDocument", err)
		return
	}
	key, err := document.Parse("answer_key", req.AnswerKey)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "ErrInvalidDocument", err)
		return
	}

	cfg := model.EvalConfig{
		ExamID:      req.ExamID,
		Candidate:   req.Candidate,
		Passing:     req.Passing,
		Distinction: req.Distinction,
	}
	var ex *evaluate.Exam
	if len(req.Rubric) > 0 && string(req.Rubric) != "null" {
		rb, perr := rubric.Parse(req.Rubric)
		if perr != nil {
			writeError(w, r, http.StatusUnprocessableEntity, "ErrInvalidRubric", perr)
			return
		}
		ex, err = h.eval.ExamWithRubric(key, rb, cfg)
	} else {
		ex, err = h.eval.ExamFromKey(key, "", cfg)
	}
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "ErrInvalidRubric", err)
		return
	}

	res, err := h.eval.Evaluate(ex, sub, req.Candidate)
	if err != nil {
		slog.Error("evaluation failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}

	resp := evaluateResponse{Report: res.Report}
	if req.Record {
		if h.store == nil {
			slog.Warn("record requested but no database is configured")
		} else {
			run, err := store.RunFromReport(res.Report, "")
			if err == nil {
				err = h.store.RecordRun(r.Context(), run)
			}
			if err != nil {
				slog.Error("failed to record run", "error", err)
				writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
				return
			}
			resp.RunID = run.ID
		}
	}
	slog.Info("evaluated submission",
		"exam_id", res.Report.ExamID,
		"candidate", res.Report.Candidate,
		"score", res.Report.OverallScore,
		"result", res.Report.Result,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := h.store.ListRuns(r.Context(), model.RunFilter{
		ExamID:    q.Get("exam_id"),
		Candidate: q.Get("candidate"),
	})
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrRunNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to get run", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrRunNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to delete run", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError sends a localized message; err, when set, becomes the detail.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, err error) {
	resp := errorResponse{Error: i18n.T(r.Context(), msgID)}
	if err != nil && status < http.StatusInternalServerError {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
