// Package apperr holds the sentinel errors shared across the pipeline.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnknownSource = errors.New("unknown source")

	// ErrSourceUnavailable is fatal to one source's branch, never to the run.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNoSourcesSucceeded aborts the run before the final artifact is written.
	ErrNoSourcesSucceeded = errors.New("no sources succeeded")

	// ErrAmbiguousFence marks unbalanced or nested markdown fences.
	ErrAmbiguousFence = errors.New("ambiguous markdown fence")
	// ErrAlreadyFenced guards export against double fencing.
	ErrAlreadyFenced = errors.New("code already fenced")

	ErrRegistryFrozen = errors.New("source registry is frozen")
)
