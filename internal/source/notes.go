package source

import (
	"context"
	"iter"
	"log/slog"
	"os"

	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/parser"
	"github.com/starford/scenecorpus/internal/storage"
)

// Notes reads community examples from a directory of Markdown files. Each
// file contributes its first python block. The description comes from the
// frontmatter "description" key, the lead paragraph, or the title.
type Notes struct {
	dir    string
	logger *slog.Logger
}

// NewNotes creates an extractor over the Markdown files under dir.
func NewNotes(dir string, logger *slog.Logger) *Notes {
	return &Notes{dir: dir, logger: logger}
}

// Extract yields one record per note in path order. Code keeps its fence; it
// is stripped once when the record is admitted.
func (n *Notes) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		if _, err := os.Stat(n.dir); err != nil {
			yield(models.RawRecord{}, unavailable(KindNotes, err))
			return
		}
		fs, err := storage.NewFS(n.dir)
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindNotes, err))
			return
		}
		files, err := fs.List("", ".md")
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindNotes, err))
			return
		}

		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			data, err := fs.Read(f.Path)
			if err != nil {
				n.logger.Warn("skip note", slog.String("file", f.Path), slog.String("error", err.Error()))
				continue
			}
			res, err := parser.Parse(data)
			if err != nil {
				n.logger.Warn("skip note", slog.String("file", f.Path), slog.String("error", err.Error()))
				continue
			}
			block, ok := res.FirstBlock("python", "py", "python3")
			if !ok {
				n.logger.Debug("skip note: no code block", slog.String("file", f.Path))
				continue
			}

			desc := res.String("description")
			if desc == "" {
				desc = res.Lead
			}
			if desc == "" {
				desc = res.Title
			}
			md := map[string]any{
				models.MetaFile: f.Path,
				"checksum":      f.Checksum,
			}
			if len(res.Tags) > 0 {
				md["tags"] = res.Tags
			}
			if len(res.Blocks) > 1 {
				md["blocks"] = len(res.Blocks)
			}
			raw := models.RawRecord{
				Description: desc,
				Code:        block.Raw,
				Split:       models.ParseSplit(res.String("split")),
				Metadata:    md,
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
}
