package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/scenecorpus/internal/dataset"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *dataset.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Final records.
	r.Get("/records", h.ListRecords)
	r.Get("/records/{id}", h.GetRecord)

	// Search.
	r.Get("/search", h.Search)

	// Runs and reporting.
	r.Get("/report", h.Report)
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.StartRun)
	r.Get("/sources", h.ListSources)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
