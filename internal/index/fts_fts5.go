//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			id UNINDEXED,
			source_id UNINDEXED,
			description,
			code,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsClear(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM records_fts`); err != nil {
		return fmt.Errorf("index: clear fts: %w", err)
	}
	return nil
}

func ftsInsert(tx *sql.Tx, id int, sourceID, description, code string) error {
	_, err := tx.Exec(`INSERT INTO records_fts (id, source_id, description, code) VALUES (?, ?, ?, ?)`,
		id, sourceID, description, code)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search over descriptions and code and
// returns matching records with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id,
		       source_id,
		       description,
		       snippet(records_fts, -1, '<b>', '</b>', '...', 32)
		FROM records_fts
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Description, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
