// Package models defines the domain types for scenecorpus.
package models

import (
	"fmt"
	"maps"
	"strings"
)

// PlaceholderDescription marks a description left for later automated backfill.
const PlaceholderDescription = "[NEEDS_DESCRIPTION]"

// Metadata keys written by this module. Source-specific keys are opaque.
const (
	MetaStill            = "still"
	MetaSceneName        = "scene_name"
	MetaHasAnimation     = "has_animation"
	MetaNeedsDescription = "needs_description"
	MetaSourcePage       = "source_page"
	MetaURL              = "url"
	MetaFile             = "file"
	// MetaExtractedOrdinal is set on records dropped before they reached a table.
	MetaExtractedOrdinal = "extracted_ordinal"
)

// Split is the dataset partition a record belongs to.
type Split string

const (
	SplitTrain      Split = "train"
	SplitTest       Split = "test"
	SplitUnassigned Split = "unassigned"
)

// ParseSplit maps free-form split labels onto a Split. Unknown labels are unassigned.
func ParseSplit(s string) Split {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train", "training":
		return SplitTrain
	case "test", "eval", "validation":
		return SplitTest
	default:
		return SplitUnassigned
	}
}

// RawRecord is what an extractor yields before the registry boundary stamps it.
type RawRecord struct {
	Description string
	Code        string
	Split       Split
	Metadata    map[string]any
}

// Record is one description/code training pair plus its origin.
type Record struct {
	Description string         `json:"description"`
	Code        string         `json:"code"`
	SourceID    string         `json:"source_id"`
	Priority    int            `json:"priority"`
	Split       Split          `json:"split"`
	Metadata    map[string]any `json:"metadata"`

	// Ordinal is the encounter position within the source. Not persisted;
	// reassigned from row order when an artifact is loaded.
	Ordinal int `json:"-"`
}

// Ref identifies a record within one run by its row in the table it was
// persisted to.
func (r Record) Ref() string {
	return fmt.Sprintf("%s#%d", r.SourceID, r.Ordinal)
}

// ExtractedRef identifies a record by its extraction position. It names
// records that never reached a table.
func (r Record) ExtractedRef() string {
	return fmt.Sprintf("%s@%d", r.SourceID, r.Ordinal)
}

// IsPlaceholder reports whether the description awaits backfill.
func (r Record) IsPlaceholder() bool {
	return IsPlaceholder(r.Description)
}

// IsPlaceholder reports whether desc is a pending-backfill placeholder.
func IsPlaceholder(desc string) bool {
	return strings.HasPrefix(strings.TrimSpace(desc), PlaceholderDescription)
}

// WithMetadata returns a copy of r with key set to value in a fresh metadata map.
func (r Record) WithMetadata(key string, value any) Record {
	md := make(map[string]any, len(r.Metadata)+1)
	maps.Copy(md, r.Metadata)
	md[key] = value
	r.Metadata = md
	return r
}

// WithPriority returns a copy of r restamped with priority.
func (r Record) WithPriority(priority int) Record {
	r.Priority = priority
	return r
}

// Keyed pairs a record with its comparison keys. Keys are never stored.
type Keyed struct {
	Record
	CodeKey        string
	DescriptionKey string
	// Lines is the logical line count of CodeKey, used by the simplicity tie-break.
	Lines int
}
