package api

import (
	"github.com/starford/scenecorpus/internal/dataset"
)

// StartRunRequest is the request body for starting a run. All fields are optional.
type StartRunRequest struct {
	Sources  []string `json:"sources" example:"docs,bench"`
	Force    bool     `json:"force" example:"false"`
	DryCount bool     `json:"dry_count" example:"false"`
}

// StartRunResponse acknowledges a started run.
type StartRunResponse struct {
	Status string `json:"status" example:"started" validate:"required"`
}

// RecordDetail is the full record response type (aliased from the domain layer).
type RecordDetail = dataset.RecordDetail

// RecordListItem is a lightweight item in a list response (aliased from the domain layer).
type RecordListItem = dataset.RecordListItem

// RecordListResponse wraps paginated record listings.
type RecordListResponse struct {
	Records []RecordListItem `json:"records" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []dataset.SearchHit `json:"results" validate:"required"`
}

// SourceListResponse wraps the registered sources.
type SourceListResponse struct {
	Sources []dataset.SourceInfo `json:"sources" validate:"required"`
}

// RunListResponse wraps the run history.
type RunListResponse struct {
	Runs []dataset.RunSummary `json:"runs" validate:"required"`
}
