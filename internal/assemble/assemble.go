// Package assemble orchestrates extraction, validation, deduplication and
// persistence across all registered sources.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/dedup"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/normalize"
	"github.com/starford/scenecorpus/internal/report"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/validate"
)

// Config holds the assembler settings.
type Config struct {
	// Parallelism bounds how many sources extract at once.
	Parallelism   int
	ExportParquet bool
	ExportChat    bool
	ReportXLSX    bool
	SystemPrompt  string
}

// Options select what one run does.
type Options struct {
	// Sources names a subset to re-extract. Other sources are taken from
	// their cached intermediate tables, or skipped when none exists.
	Sources []string
	// Force re-extracts every source, ignoring cached tables.
	Force bool
	// DryCount computes every statistic but writes no final artifact.
	DryCount bool
}

// Result is the outcome of a run.
type Result struct {
	Report *report.Report
	Final  []models.Record
}

// Assembler runs the pipeline. Only one run is active at a time.
type Assembler struct {
	reg       *source.Registry
	store     *artifact.Store
	validator *validate.Validator
	cfg       Config
	logger    *slog.Logger
	observer  Observer

	mu      sync.Mutex
	running bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(a *Assembler) {
		a.observer = o
	}
}

// New creates an Assembler over a frozen registry.
func New(reg *source.Registry, store *artifact.Store, validator *validate.Validator, cfg Config, logger *slog.Logger, opts ...Option) *Assembler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	a := &Assembler{
		reg:       reg,
		store:     store,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		observer:  func(Event) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Running reports whether a run is in progress.
func (a *Assembler) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Registry returns the source registry.
func (a *Assembler) Registry() *source.Registry { return a.reg }

type mode int

const (
	modeExtract mode = iota
	modeCached
	modeSkip
)

// Run executes one pipeline run. Sources fail independently; the run fails
// only when no source succeeded, in which case no final artifact is written
// and the error wraps apperr.ErrNoSourcesSucceeded.
func (a *Assembler) Run(ctx context.Context, opts Options) (*Result, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, fmt.Errorf("assemble: run in progress: %w", apperr.ErrConflict)
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if !a.reg.Frozen() {
		a.reg.Freeze()
	}
	named, err := a.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(named))
	for _, s := range named {
		want[s.ID] = true
	}
	subset := len(named) > 0

	runID := uuid.NewString()
	started := time.Now().UTC()
	logger := a.logger.With(slog.String("run_id", runID))
	logger.Info("run started",
		slog.Any("sources", opts.Sources),
		slog.Bool("force", opts.Force),
		slog.Bool("dry_count", opts.DryCount))

	sources := a.reg.Sources()
	initial := make([]report.SourceStats, len(sources))
	for i, s := range sources {
		initial[i] = report.SourceStats{ID: s.ID, Kind: s.Kind, Priority: s.Priority}
	}
	builder := report.NewBuilder(runID, started, opts.DryCount, initial)

	batches := make([][]models.Keyed, len(sources))
	within := make([][]dedup.Discard, len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallelism)
	for i, src := range sources {
		m := modeExtract
		switch {
		case opts.Force || want[src.ID]:
		case a.cached(src.ID):
			m = modeCached
		case subset:
			m = modeSkip
		}

		g.Go(func() error {
			switch m {
			case modeSkip:
				builder.Update(src.ID, func(s *report.SourceStats) { s.Status = report.StatusSkipped })
				return nil
			case modeCached:
				batch, discards, ok := a.loadCached(src, builder, logger)
				if ok {
					batches[i] = batch
					within[i] = discards
					return nil
				}
			}
			batch, discards, err := a.runSource(gCtx, src, runID, builder, logger)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				a.fail(src, runID, err, builder, logger)
				return nil
			}
			batches[i] = batch
			within[i] = discards
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	var withinAll []dedup.Discard
	for _, d := range within {
		withinAll = append(withinAll, d...)
	}

	if len(builder.Succeeded()) == 0 {
		rep := builder.Finish(time.Now().UTC(), nil, withinAll)
		if err := a.store.WriteReport(rep, a.cfg.ReportXLSX); err != nil {
			logger.Error("write report failed", slog.String("error", err.Error()))
		}
		a.observer(Event{Kind: EventRunFinished, RunID: runID, Report: rep, Error: apperr.ErrNoSourcesSucceeded.Error()})
		logger.Error("run failed: no source succeeded", slog.Any("failed", rep.Failed))
		return &Result{Report: rep}, fmt.Errorf("assemble: %w", apperr.ErrNoSourcesSucceeded)
	}

	var present [][]models.Keyed
	for _, b := range batches {
		if b != nil {
			present = append(present, b)
		}
	}
	res := dedup.New(a.reg.Order).Run(dedup.PassCross, present...)
	final := make([]models.Record, len(res.Survivors))
	for i, k := range res.Survivors {
		final[i] = k.Record
	}

	if !opts.DryCount {
		if err := a.persistFinal(ctx, final); err != nil {
			return nil, err
		}
	}

	rep := builder.Finish(time.Now().UTC(), &res, withinAll)
	if err := a.store.WriteReport(rep, a.cfg.ReportXLSX); err != nil {
		return nil, fmt.Errorf("assemble: write report: %w", err)
	}

	logger.Info("run finished",
		slog.Int("final", rep.FinalCount),
		slog.Any("failed", rep.Failed),
		slog.Int("discards", len(rep.Discards)),
		slog.Duration("elapsed", rep.FinishedAt.Sub(started)))
	a.observer(Event{Kind: EventRunFinished, RunID: runID, Report: rep})
	return &Result{Report: rep, Final: final}, nil
}

func (a *Assembler) persistFinal(ctx context.Context, final []models.Record) error {
	if err := a.store.WriteFinal(final); err != nil {
		return fmt.Errorf("assemble: write final: %w", err)
	}
	if a.cfg.ExportParquet {
		if err := a.store.WriteParquet(ctx); err != nil {
			return fmt.Errorf("assemble: %w", err)
		}
	}
	if a.cfg.ExportChat {
		if err := a.store.WriteChat(final, a.cfg.SystemPrompt); err != nil {
			return fmt.Errorf("assemble: %w", err)
		}
	}
	return nil
}

func (a *Assembler) cached(id string) bool {
	_, err := a.store.Manifest(id)
	return err == nil
}

// loadCached reads a source's intermediate table. It reports false when the
// table is unusable, so the caller extracts instead.
func (a *Assembler) loadCached(src source.Source, builder *report.Builder, logger *slog.Logger) ([]models.Keyed, []dedup.Discard, bool) {
	recs, m, err := a.store.LoadIntermediate(src.ID, src.Priority)
	if err != nil {
		logger.Warn("cached table unusable, extracting",
			slog.String("source", src.ID),
			slog.String("error", err.Error()))
		return nil, nil, false
	}
	batch := make([]models.Keyed, len(recs))
	for i, r := range recs {
		batch[i] = normalize.Keys(r)
	}
	builder.Update(src.ID, func(s *report.SourceStats) {
		s.Status = report.StatusCached
		s.Extracted = m.Stats.Extracted
		for k, v := range m.Stats.Rejected {
			s.Rejected[k] = v
		}
		for k, v := range m.Stats.Duplicates {
			s.Duplicates[k] = v
		}
		s.Surviving = len(recs)
	})
	logger.Info("source loaded from cache", slog.String("source", src.ID), slog.Int("records", len(recs)))
	return batch, m.Discards, true
}

// runSource is the sequential per-source chain: extract, admit, validate,
// key, deduplicate within the source, persist.
func (a *Assembler) runSource(ctx context.Context, src source.Source, runID string, builder *report.Builder, logger *slog.Logger) ([]models.Keyed, []dedup.Discard, error) {
	start := time.Now()
	logger = logger.With(slog.String("source", src.ID))
	logger.Info("source started", slog.Int("priority", src.Priority))
	a.observer(Event{Kind: EventSourceStarted, RunID: runID, Source: src.ID})

	stats := report.SourceStats{
		ID:         src.ID,
		Kind:       src.Kind,
		Priority:   src.Priority,
		Rejected:   map[string]int{},
		Duplicates: map[string]int{},
	}
	var kept []models.Keyed
	var rejected []artifact.Rejection

	ordinal := 0
	for raw, err := range src.Extractor.Extract(ctx) {
		if err != nil {
			return nil, nil, err
		}
		rec, ferr := src.Admit(raw, ordinal)
		ordinal++
		stats.Extracted++

		var res validate.Result
		if ferr != nil {
			res = validate.Reject(rec, validate.ReasonAmbiguousFence, "")
		} else {
			res = a.validator.Validate(ctx, rec)
		}
		if !res.Valid {
			stats.Rejected[string(res.Reason)]++
			rejected = append(rejected, artifact.Rejection{
				Ordinal:     rec.Ordinal,
				Description: rec.Description,
				Code:        rec.Code,
				Reason:      string(res.Reason),
				Detail:      res.Detail,
				Metadata:    rec.Metadata,
			})
			logger.Debug("record rejected",
				slog.String("record", rec.Ref()),
				slog.String("reason", string(res.Reason)))
			continue
		}
		kept = append(kept, normalize.Keys(res.Record))
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res := dedup.New(a.reg.Order).Run(dedup.PassWithin, kept)
	for _, d := range res.Discards {
		stats.Duplicates[string(d.Reason)]++
	}

	// Ordinals become row positions, the same numbering a cached load yields.
	recs := make([]models.Record, len(res.Survivors))
	batch := make([]models.Keyed, len(res.Survivors))
	rows := make(map[int]int, len(res.Survivors))
	for i, k := range res.Survivors {
		rows[k.Ordinal] = i
		k.Ordinal = i
		batch[i] = k
		recs[i] = k.Record
	}
	discards := withinRefs(res.Discards, rows)
	stats.Surviving = len(recs)
	stats.Status = report.StatusOK
	stats.DurationMS = time.Since(start).Milliseconds()

	m := artifact.Manifest{
		SourceID:  src.ID,
		Kind:      src.Kind,
		Priority:  src.Priority,
		RunID:     runID,
		WrittenAt: time.Now().UTC(),
		Stats:     stats,
		Discards:  discards,
	}
	if err := a.store.WriteIntermediate(m, recs, rejected); err != nil {
		return nil, nil, fmt.Errorf("persist intermediate: %w", err)
	}

	builder.Update(src.ID, func(s *report.SourceStats) { *s = stats })
	logger.Info("source finished",
		slog.Int("extracted", stats.Extracted),
		slog.Int("rejected", stats.RejectedTotal()),
		slog.Int("duplicates", stats.DuplicatesTotal()),
		slog.Int("surviving", stats.Surviving))
	a.observer(Event{Kind: EventSourceFinished, RunID: runID, Source: src.ID, Stats: &stats})
	return batch, discards, nil
}

// withinRefs names within-source discards in the numbering of the persisted
// table. A loser never reached the table, so it is named by extraction
// position (source@N, also kept in its metadata). A winner that survived is
// named by its row (source#N).
func withinRefs(ds []dedup.Discard, rows map[int]int) []dedup.Discard {
	out := make([]dedup.Discard, len(ds))
	for i, d := range ds {
		loser := models.Record{SourceID: d.Source, Ordinal: d.Ordinal, Metadata: d.Metadata}
		d.Ref = loser.ExtractedRef()
		d.Metadata = loser.WithMetadata(models.MetaExtractedOrdinal, d.Ordinal).Metadata

		winner := models.Record{SourceID: d.WinnerSource, Ordinal: d.WinnerOrdinal}
		if row, ok := rows[d.WinnerOrdinal]; ok {
			winner.Ordinal = row
			d.Winner = winner.Ref()
		} else {
			d.Winner = winner.ExtractedRef()
		}
		out[i] = d
	}
	return out
}

func (a *Assembler) fail(src source.Source, runID string, err error, builder *report.Builder, logger *slog.Logger) {
	builder.Update(src.ID, func(s *report.SourceStats) {
		s.Status = report.StatusFailed
		s.Error = err.Error()
		s.Surviving = 0
	})
	attrs := []any{slog.String("source", src.ID), slog.String("error", err.Error())}
	if errors.Is(err, apperr.ErrSourceUnavailable) {
		logger.Error("source unavailable", attrs...)
	} else {
		logger.Error("source failed", attrs...)
	}
	stats := builder.Snapshot(src.ID)
	a.observer(Event{Kind: EventSourceFailed, RunID: runID, Source: src.ID, Stats: &stats, Error: err.Error()})
}
