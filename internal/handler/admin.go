package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/taskeval/internal/export"
	"github.com/pavelanni/taskeval/internal/model"
)

var contentTypes = map[export.Format]string{
	export.FormatJSON: "application/json",
	export.FormatCSV:  "text/csv; charset=utf-8",
	export.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := export.FormatJSON
	if s := q.Get("format"); s != "" {
		f, err := export.ParseFormat(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
			return
		}
		format = f
	}

	exp, err := h.store.ExportRuns(r.Context(), model.RunFilter{
		ExamID:    q.Get("exam_id"),
		Candidate: q.Get("candidate"),
	})
	if err != nil {
		slog.Error("failed to export runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}

	w.Header().Set("Content-Type", contentTypes[format])
	if format != export.FormatJSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="runs.%s"`, format))
	}
	if err := export.Write(w, exp, format); err != nil {
		slog.Error("failed to write export", "format", format, "error", err)
	}
}

func (h *Handler) handleGetCandidateMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.store.GetCandidateMetadata(r.Context(), chi.URLParam(r, "candidate"))
	if err != nil {
		slog.Error("failed to get candidate metadata", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *Handler) handlePutCandidateMetadata(w http.ResponseWriter, r *http.Request) {
	candidate := chi.URLParam(r, "candidate")
	var md map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&md); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
		return
	}
	if _, err := h.store.ImportCandidateMetadata(r.Context(), map[string]map[string]string{candidate: md}); err != nil {
		slog.Error("failed to set candidate metadata", "candidate", candidate, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	h.handleGetCandidateMetadata(w, r)
}

// handleImportCandidates accepts {"candidate": {"key": "value"}} either as
// the request body or as the metadata_file field of a multipart form.
func (h *Handler) handleImportCandidates(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
			return
		}
		file, header, err := r.FormFile("metadata_file")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
			return
		}
		slog.Debug("candidate metadata upload", "filename", header.Filename)
	} else {
		var err error
		if data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
			return
		}
	}

	var md map[string]map[string]string
	if err := json.Unmarshal(data, &md); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest", err)
		return
	}
	n, err := h.store.ImportCandidateMetadata(r.Context(), md)
	if err != nil {
		slog.Error("failed to import candidate metadata", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
		return
	}
	slog.Info("imported candidate metadata via API", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
