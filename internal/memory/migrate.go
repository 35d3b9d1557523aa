package memory

import (
	"database/sql"
	"fmt"
)

// ftsSchema is shared by initial creation and the reindexer's staging
// rebuild so both structures always use the same tokenizer. unicode61
// lowercases and splits on non-alphanumeric runs without stemming.
const ftsSchema = `CREATE VIRTUAL TABLE %s USING fts5(
	record_id UNINDEXED,
	content,
	tokenize='unicode61'
)`

// migrations are applied in order; PRAGMA user_version tracks progress.
var migrations = []func(*sql.Tx) error{
	migrateInitialSchema,
}

func (e *Engine) migrate() error {
	var version int
	if err := e.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("migrate: read user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := e.db.Begin()
		if err != nil {
			return fmt.Errorf("migrate: begin v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: apply v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: bump user_version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit v%d: %w", v+1, err)
		}
	}
	return nil
}

func migrateInitialSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			chunk_path TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			embedding_dim INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at)`,
		fmt.Sprintf(ftsSchema, "records_fts"),
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dim INTEGER NOT NULL DEFAULT 0,
			last_used INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_last_used ON embedding_cache(last_used)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
