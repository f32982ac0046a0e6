// Package index provides a SQLite catalog of the assembled dataset and its run
// history, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY,
	source_id   TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	split       TEXT NOT NULL DEFAULT 'unassigned',
	description TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id);
CREATE INDEX IF NOT EXISTS idx_records_split ON records(split);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	dry_count   INTEGER NOT NULL DEFAULT 0,
	final_count INTEGER NOT NULL DEFAULT 0,
	failed      TEXT NOT NULL DEFAULT '[]',
	report      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
