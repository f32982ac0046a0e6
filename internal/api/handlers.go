package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/dataset"
	"github.com/starford/scenecorpus/internal/index"
)

// Handler holds API route handlers.
type Handler struct {
	svc *dataset.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *dataset.Service) *Handler {
	return &Handler{svc: svc}
}

// ListRecords handles GET /api/records.
//
//	@Summary		List final records with optional pagination and filtering
//	@Tags			records
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			source	query		string	false	"Filter by source id"
//	@Param			split	query		string	false	"Filter by split"	Enums(train, test, unassigned)
//	@Success		200		{object}	RecordListResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, total, err := h.svc.ListRecords(r.Context(), index.RecordFilter{
		Source: q.Get("source"),
		Split:  q.Get("split"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeInternal(w, "list records failed", err)
		return
	}
	if items == nil {
		items = []RecordListItem{}
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: items, Total: total})
}

// GetRecord handles GET /api/records/{id}.
//
//	@Summary		Get a single final record by row id
//	@Tags			records
//	@Produce		json
//	@Param			id	path		int	true	"Row id"
//	@Success		200	{object}	RecordDetail
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("id must be a non-negative integer"))
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeInternal(w, "get record failed", err, slog.Int("id", id))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across descriptions and code
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.svc.Search(r.Context(), q, queryInt(r, "limit"))
	if err != nil {
		writeInternal(w, "search failed", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Report handles GET /api/report.
//
//	@Summary		Get the report of the latest run
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	report.Report
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/report [get]
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Report(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("no run recorded"))
		} else {
			writeInternal(w, "report failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recorded runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.Runs(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeInternal(w, "list runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// StartRun handles POST /api/runs.
//
//	@Summary		Start a pipeline run in the background
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StartRunRequest	false	"Run options"
//	@Success		202		{object}	StartRunResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	err := h.svc.StartRun(assemble.Options{
		Sources:  req.Sources,
		Force:    req.Force,
		DryCount: req.DryCount,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("a run is already in progress"))
		case errors.Is(err, apperr.ErrUnknownSource):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			writeInternal(w, "start run failed", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, StartRunResponse{Status: "started"})
}

// ListSources handles GET /api/sources.
//
//	@Summary		List registered sources
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	SourceListResponse
//	@Security		BearerAuth
//	@Router			/sources [get]
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := h.svc.Sources(r.Context())
	if err != nil {
		writeInternal(w, "list sources failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SourceListResponse{Sources: srcs})
}
