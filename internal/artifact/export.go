package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver

	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/normalize"
)

// DefaultSystemPrompt opens every exported conversation.
const DefaultSystemPrompt = "You are a Manim code generator. Create clean, working Manim animations using ManimCE syntax. Always wrap code in Python code blocks."

// Turn is one message of an exported conversation.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// Conversation is one chat-format training example.
type Conversation struct {
	Conversations []Turn `json:"conversations"`
}

// ChatExample converts rec into a conversation. The code is fenced here and
// nowhere else.
func ChatExample(rec models.Record, systemPrompt string) (Conversation, error) {
	fenced, err := normalize.Fence(rec.Code)
	if err != nil {
		return Conversation{}, fmt.Errorf("artifact: %s: %w", rec.Ref(), err)
	}
	return Conversation{Conversations: []Turn{
		{From: "system", Value: systemPrompt},
		{From: "user", Value: rec.Description},
		{From: "assistant", Value: fenced},
	}}, nil
}

// WriteChat writes the chat-format export of recs.
func (s *Store) WriteChat(recs []models.Record, systemPrompt string) error {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	convs := make([]Conversation, 0, len(recs))
	for _, rec := range recs {
		c, err := ChatExample(rec, systemPrompt)
		if err != nil {
			return err
		}
		convs = append(convs, c)
	}
	return s.fs.WriteFunc(ChatPath, func(w io.Writer) error {
		return writeLines(w, convs)
	})
}

// WriteParquet copies the final JSONL table to Parquet through DuckDB.
// Metadata is stored as a JSON column.
func (s *Store) WriteParquet(ctx context.Context) error {
	src, err := s.fs.Abs(DatasetPath)
	if err != nil {
		return err
	}
	dst, err := s.fs.Abs(ParquetPath)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("artifact: open duckdb: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`COPY (
	SELECT description, code, source_id, priority, split, metadata
	FROM read_json(%s, format = 'newline_delimited', columns = {
		description: 'VARCHAR',
		code: 'VARCHAR',
		source_id: 'VARCHAR',
		priority: 'INTEGER',
		split: 'VARCHAR',
		metadata: 'JSON'
	})
) TO %s (FORMAT PARQUET)`, literal(src), literal(tmp))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("artifact: write parquet: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("artifact: rename parquet: %w", err)
	}
	return nil
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
