package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/starford/scenecorpus/internal/models"
)

// fieldPairs are the accepted (description, code) key pairs, tried in order.
var fieldPairs = [][2]string{
	{"description", "code"},
	{"prompt", "completion"},
	{"question", "answer"},
	{"instruction", "output"},
}

// passthrough keys copied into metadata when present.
var passthrough = []string{"difficulty", "category"}

// JSONDataset reads a JSON array of objects.
type JSONDataset struct {
	path   string
	logger *slog.Logger
}

// NewJSONDataset creates an extractor for the JSON file at path.
func NewJSONDataset(path string, logger *slog.Logger) *JSONDataset {
	return &JSONDataset{path: path, logger: logger}
}

// Extract streams the array with a json.Decoder so large files are never held
// in memory at once.
func (j *JSONDataset) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		f, err := os.Open(j.path)
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindJSON, err))
			return
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		tok, err := dec.Token()
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindJSON, err))
			return
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			yield(models.RawRecord{}, unavailable(KindJSON, fmt.Errorf("%s: top level is not an array", j.path)))
			return
		}

		for idx := 0; dec.More(); idx++ {
			if ctx.Err() != nil {
				return
			}
			var item map[string]any
			if err := dec.Decode(&item); err != nil {
				var syn *json.SyntaxError
				if errors.As(err, &syn) || errors.Is(err, io.ErrUnexpectedEOF) {
					j.logger.Warn("truncated dataset", slog.Int("item", idx), slog.String("error", err.Error()))
					return
				}
				j.logger.Warn("skip item", slog.Int("item", idx), slog.String("error", err.Error()))
				continue
			}
			raw, ok := j.record(idx, item)
			if !ok {
				continue
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
}

func (j *JSONDataset) record(idx int, item map[string]any) (models.RawRecord, bool) {
	for _, pair := range fieldPairs {
		desc, okD := item[pair[0]].(string)
		code, okC := item[pair[1]].(string)
		if !okD || !okC {
			continue
		}
		desc = strings.TrimSpace(desc)
		if desc == "" || strings.TrimSpace(code) == "" {
			j.logger.Debug("skip item: missing description or code", slog.Int("item", idx))
			return models.RawRecord{}, false
		}
		md := map[string]any{"item_index": idx}
		for _, k := range passthrough {
			if v, ok := item[k]; ok {
				md[k] = v
			}
		}
		split := models.SplitUnassigned
		if s, ok := item["split"].(string); ok {
			split = models.ParseSplit(s)
		}
		return models.RawRecord{Description: desc, Code: code, Split: split, Metadata: md}, true
	}

	j.logger.Debug("skip item: unknown format",
		slog.Int("item", idx),
		slog.Any("keys", slices.Sorted(maps.Keys(item))))
	return models.RawRecord{}, false
}
