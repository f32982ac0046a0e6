// Package testutil provides shared test helpers for setting up output roots,
// catalogs and fake extractors.
package testutil

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/index"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "scenecorpus-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary output root with an artifact store.
func TestStore(t *testing.T) (string, *artifact.Store) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, artifact.NewStore(fs)
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Extractor yields fixed records, or Err once when set. Calls counts how
// many times Extract was ranged over.
type Extractor struct {
	Records []models.RawRecord
	Err     error
	Calls   atomic.Int32
}

// Extract implements the extractor contract.
func (e *Extractor) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		e.Calls.Add(1)
		if e.Err != nil {
			yield(models.RawRecord{}, e.Err)
			return
		}
		for _, r := range e.Records {
			if ctx.Err() != nil {
				yield(models.RawRecord{}, ctx.Err())
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Scene returns a minimal valid scene module named name whose construct body
// holds body lines.
func Scene(name string, body ...string) string {
	code := "from manim import *\n\nclass " + name + "(Scene):\n    def construct(self):\n"
	if len(body) == 0 {
		body = []string{"self.wait()"}
	}
	for _, line := range body {
		code += "        " + line + "\n"
	}
	return code
}
