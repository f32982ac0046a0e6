package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/models"
)

// RecordRow is one record of the final dataset. ID is its row position.
type RecordRow struct {
	ID          int
	SourceID    string
	Priority    int
	Split       models.Split
	Description string
	Code        string
	Metadata    map[string]any
}

// Record converts the row back to a domain record.
func (r RecordRow) Record() models.Record {
	return models.Record{
		Description: r.Description,
		Code:        r.Code,
		SourceID:    r.SourceID,
		Priority:    r.Priority,
		Split:       r.Split,
		Metadata:    r.Metadata,
		Ordinal:     r.ID,
	}
}

// Rows numbers recs by position.
func Rows(recs []models.Record) []RecordRow {
	out := make([]RecordRow, len(recs))
	for i, r := range recs {
		out[i] = RecordRow{
			ID:          i,
			SourceID:    r.SourceID,
			Priority:    r.Priority,
			Split:       r.Split,
			Description: r.Description,
			Code:        r.Code,
			Metadata:    r.Metadata,
		}
	}
	return out
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	Source string
	Split  string
	Limit  int
	Offset int
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID          int
	SourceID    string
	Description string
	Snippet     string
}

const metaDatasetChecksum = "dataset_checksum"

// ReplaceRecords swaps the catalog contents for rows within one transaction
// and remembers the checksum of the dataset they came from.
func (db *DB) ReplaceRecords(rows []RecordRow, datasetChecksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("index: clear records: %w", err)
	}
	if err := ftsClear(tx); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO records (id, source_id, priority, split, description, code, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		md := r.Metadata
		if md == nil {
			md = map[string]any{}
		}
		mdJSON, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("index: encode metadata %d: %w", r.ID, err)
		}
		if _, err := stmt.Exec(r.ID, r.SourceID, r.Priority, string(r.Split), r.Description, r.Code, string(mdJSON)); err != nil {
			return fmt.Errorf("index: insert record %d: %w", r.ID, err)
		}
		if err := ftsInsert(tx, r.ID, r.SourceID, r.Description, r.Code); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaDatasetChecksum, datasetChecksum)
	if err != nil {
		return fmt.Errorf("index: store checksum: %w", err)
	}
	return tx.Commit()
}

// DatasetChecksum returns the checksum recorded by the last ReplaceRecords,
// or an empty string when the catalog was never filled.
func (db *DB) DatasetChecksum() (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaDatasetChecksum).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: dataset checksum: %w", err)
	}
	return cs, nil
}

const recordColumns = `id, source_id, priority, split, description, code, metadata`

// GetRecord returns the record at row position id.
func (db *DB) GetRecord(id int) (*RecordRow, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: record %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get record: %w", err)
	}
	return r, nil
}

// ListRecords returns a page of records in row order plus the total number
// of records matching f.
func (db *DB) ListRecords(f RecordFilter) ([]RecordRow, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var where []string
	var args []any
	if f.Source != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.Source)
	}
	if f.Split != "" {
		where = append(where, "split = ?")
		args = append(args, f.Split)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count records: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+recordColumns+` FROM records`+clause+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list records: %w", err)
	}
	defer rows.Close()

	var out []RecordRow
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// SourceCounts returns the number of final records per source.
func (db *DB) SourceCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT source_id, count(*) FROM records GROUP BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("index: source counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*RecordRow, error) {
	var r RecordRow
	var split, md string
	if err := s.Scan(&r.ID, &r.SourceID, &r.Priority, &split, &r.Description, &r.Code, &md); err != nil {
		return nil, err
	}
	r.Split = models.Split(split)
	r.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(md), &r.Metadata); err != nil {
		return nil, fmt.Errorf("index: decode metadata %d: %w", r.ID, err)
	}
	return &r, nil
}
