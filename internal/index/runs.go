package index

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/report"
)

// RunRow summarises one recorded run.
type RunRow struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryCount   bool
	FinalCount int
	Failed     []string
}

// RecordRun stores a finished run report. Recording the same run twice
// replaces the earlier entry.
func (db *DB) RecordRun(r *report.Report) error {
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		return fmt.Errorf("index: encode report: %w", err)
	}
	failed := r.Failed
	if failed == nil {
		failed = []string{}
	}
	failedJSON, _ := json.Marshal(failed)

	_, err := db.conn.Exec(`
		INSERT INTO runs (run_id, started_at, finished_at, dry_count, final_count, failed, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			dry_count   = excluded.dry_count,
			final_count = excluded.final_count,
			failed      = excluded.failed,
			report      = excluded.report
	`, r.RunID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.DryCount, r.FinalCount, string(failedJSON), buf.String())
	if err != nil {
		return fmt.Errorf("index: record run: %w", err)
	}
	return nil
}

// LatestRun returns the report of the most recently started run.
func (db *DB) LatestRun() (*report.Report, error) {
	var data string
	err := db.conn.QueryRow(`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: latest run: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: latest run: %w", err)
	}
	return report.ReadJSON(strings.NewReader(data))
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT run_id, started_at, finished_at, dry_count, final_count, failed
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var failed string
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.DryCount, &r.FinalCount, &failed); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(failed), &r.Failed)
		out = append(out, r)
	}
	return out, rows.Err()
}
