// Package dataset is the query and control surface over an assembled corpus,
// shared by the REST API, the MCP server and the watcher.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/index"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/report"
)

// RecordDetail is the full representation of a final record.
type RecordDetail struct {
	ID          int            `json:"id"`
	SourceID    string         `json:"source_id"`
	Priority    int            `json:"priority"`
	Split       models.Split   `json:"split"`
	Description string         `json:"description"`
	Code        string         `json:"code"`
	Metadata    map[string]any `json:"metadata"`
}

// RecordListItem is a lightweight item in a list response.
type RecordListItem struct {
	ID          int          `json:"id"`
	SourceID    string       `json:"source_id"`
	Split       models.Split `json:"split"`
	Description string       `json:"description"`
}

// SearchHit is one search result.
type SearchHit struct {
	ID          int    `json:"id"`
	SourceID    string `json:"source_id"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
}

// SourceInfo describes a registered source and its standing in the corpus.
type SourceInfo struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Cached   bool   `json:"cached"`
	Records  int    `json:"records"`
}

// RunSummary is one entry of the run history.
type RunSummary = index.RunRow

// Service coordinates the assembler, the artifact store and the catalog.
type Service struct {
	catalog index.Catalog
	store   *artifact.Store
	asm     *assemble.Assembler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active bool
}

// NewService creates a new dataset service.
func NewService(catalog index.Catalog, store *artifact.Store, asm *assemble.Assembler, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		catalog: catalog,
		store:   store,
		asm:     asm,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels a background run, if any, and waits for it.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until the background run, if any, has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Refresh brings the catalog up to date with the artifacts on disk.
func (s *Service) Refresh(_ context.Context) error {
	return index.Sync(s.catalog, s.store, s.logger)
}

// Run executes a pipeline run and refreshes the catalog afterwards. The
// catalog is refreshed even when no source succeeded, so the failed run is
// recorded.
func (s *Service) Run(ctx context.Context, opts assemble.Options) (*assemble.Result, error) {
	res, err := s.asm.Run(ctx, opts)
	if res != nil {
		if syncErr := s.Refresh(ctx); syncErr != nil {
			s.logger.Error("catalog refresh failed", slog.String("error", syncErr.Error()))
		}
	}
	return res, err
}

// StartRun launches a run in the background. It fails with apperr.ErrConflict
// while another run is active.
func (s *Service) StartRun(opts assemble.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.asm.Running() {
		return fmt.Errorf("dataset: %w", apperr.ErrConflict)
	}
	for _, id := range opts.Sources {
		if s.asm.Registry().Order(id) < 0 {
			return fmt.Errorf("dataset: %q: %w", id, apperr.ErrUnknownSource)
		}
	}
	s.active = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}()
		if _, err := s.Run(s.ctx, opts); err != nil {
			s.logger.Error("background run failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active || s.asm.Running()
}

// GetRecord returns the final record at row position id.
func (s *Service) GetRecord(_ context.Context, id int) (*RecordDetail, error) {
	row, err := s.catalog.GetRecord(id)
	if err != nil {
		return nil, err
	}
	return &RecordDetail{
		ID:          row.ID,
		SourceID:    row.SourceID,
		Priority:    row.Priority,
		Split:       row.Split,
		Description: row.Description,
		Code:        row.Code,
		Metadata:    nonNilMap(row.Metadata),
	}, nil
}

// ListRecords returns paginated records with optional source and split filters.
func (s *Service) ListRecords(_ context.Context, f index.RecordFilter) ([]RecordListItem, int, error) {
	rows, total, err := s.catalog.ListRecords(f)
	if err != nil {
		return nil, 0, err
	}
	items := make([]RecordListItem, len(rows))
	for i, r := range rows {
		items[i] = RecordListItem{
			ID:          r.ID,
			SourceID:    r.SourceID,
			Split:       r.Split,
			Description: r.Description,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the catalog.
func (s *Service) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	results, err := s.catalog.Search(query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit(r)
	}
	return hits, nil
}

// Report returns the report of the latest run, falling back to report.json
// when the catalog has none.
func (s *Service) Report(_ context.Context) (*report.Report, error) {
	r, err := s.catalog.LatestRun()
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return s.store.ReadReport()
}

// Runs returns the run history, newest first.
func (s *Service) Runs(_ context.Context, limit int) ([]RunSummary, error) {
	runs, err := s.catalog.ListRuns(limit)
	return nonNilSlice(runs), err
}

// Sources lists registered sources in registration order.
func (s *Service) Sources(_ context.Context) ([]SourceInfo, error) {
	counts, err := s.catalog.SourceCounts()
	if err != nil {
		return nil, err
	}
	srcs := s.asm.Registry().Sources()
	out := make([]SourceInfo, len(srcs))
	for i, src := range srcs {
		_, merr := s.store.Manifest(src.ID)
		out[i] = SourceInfo{
			ID:       src.ID,
			Kind:     src.Kind,
			Priority: src.Priority,
			Cached:   merr == nil,
			Records:  counts[src.ID],
		}
	}
	return out, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
