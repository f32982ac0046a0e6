package source

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver

	"github.com/starford/scenecorpus/internal/models"
)

// Benchmark table columns. The reviewed description wins over the generated one.
const (
	colReviewed  = "Reviewed Description"
	colGenerated = "Generated Description"
	colCode      = "Code"
	colType      = "Type"
	colSplit     = "Split"
)

// Bench reads a curated benchmark table from a Parquet file through DuckDB.
type Bench struct {
	path   string
	logger *slog.Logger
}

// NewBench creates an extractor for the Parquet file at path.
func NewBench(path string, logger *slog.Logger) *Bench {
	return &Bench{path: path, logger: logger}
}

// Extract yields one record per table row in file order.
func (b *Bench) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		if _, err := os.Stat(b.path); err != nil {
			yield(models.RawRecord{}, unavailable(KindBench, err))
			return
		}

		db, err := sql.Open("duckdb", "")
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindBench, err))
			return
		}
		defer db.Close()

		query := fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteLiteral(b.path))
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindBench, err))
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			yield(models.RawRecord{}, unavailable(KindBench, err))
			return
		}
		if !slices.Contains(cols, colCode) {
			yield(models.RawRecord{}, unavailable(KindBench, fmt.Errorf("%s: missing %q column", b.path, colCode)))
			return
		}

		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}

		for idx := 0; rows.Next(); idx++ {
			if err := rows.Scan(ptrs...); err != nil {
				b.logger.Warn("skip row", slog.Int("row", idx), slog.String("error", err.Error()))
				continue
			}
			row := make(map[string]string, len(cols))
			for i, c := range cols {
				row[c] = text(vals[i])
			}

			desc := strings.TrimSpace(row[colReviewed])
			if desc == "" {
				desc = strings.TrimSpace(row[colGenerated])
			}
			if desc == "" || strings.TrimSpace(row[colCode]) == "" {
				b.logger.Debug("skip row: missing description or code", slog.Int("row", idx))
				continue
			}

			md := map[string]any{"item_index": idx}
			if t := row[colType]; t != "" {
				md["type"] = t
			}
			raw := models.RawRecord{
				Description: desc,
				Code:        row[colCode],
				Split:       models.ParseSplit(row[colSplit]),
				Metadata:    md,
			}
			if !yield(raw, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			b.logger.Warn("row iteration stopped", slog.String("error", err.Error()))
		}
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
