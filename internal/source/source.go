// Package source defines the extractor contract, the source registry, and the
// built-in extractors.
package source

import (
	"context"
	"fmt"
	"iter"
	"maps"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/normalize"
)

// Extractor yields raw records from one origin.
//
// The sequence is finite and restartable: ranging over a fresh call to Extract
// reproduces the same records for the same origin state. Bad items are skipped.
// When the origin cannot be reached at all, the sequence yields a single error
// wrapping apperr.ErrSourceUnavailable and ends.
type Extractor interface {
	Extract(ctx context.Context) iter.Seq2[models.RawRecord, error]
}

// Source is a registered, prioritised origin of records.
type Source struct {
	ID        string
	Kind      string
	Priority  int
	Extractor Extractor
}

// Admit turns the ordinal-th raw record of s into a Record: it stamps the
// source identity and strips one markdown fence from the code. The returned
// record is always populated; a non-nil error wraps apperr.ErrAmbiguousFence
// and the code is left as extracted.
func (s Source) Admit(raw models.RawRecord, ordinal int) (models.Record, error) {
	md := maps.Clone(raw.Metadata)
	if md == nil {
		md = map[string]any{}
	}
	split := raw.Split
	if split == "" {
		split = models.SplitUnassigned
	}

	code, err := normalize.Defence(raw.Code)
	rec := models.Record{
		Description: raw.Description,
		Code:        code,
		SourceID:    s.ID,
		Priority:    s.Priority,
		Split:       split,
		Metadata:    md,
		Ordinal:     ordinal,
	}
	if err != nil {
		return rec, fmt.Errorf("source %s: record %d: %w", s.ID, ordinal, err)
	}
	return rec, nil
}

// unavailable wraps err as a source-level failure.
func unavailable(kind string, err error) error {
	return fmt.Errorf("%s: %w: %v", kind, apperr.ErrSourceUnavailable, err)
}

// fail returns a sequence that yields a single error.
func fail(err error) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		yield(models.RawRecord{}, err)
	}
}
