package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Store chunks content and persists one record per chunk. The records
// and their keyword postings commit in a single transaction, so a
// stored record is searchable by keyword the moment Store returns.
// Embeddings are resolved afterwards through the cache when autoSave is
// on; a provider failure leaves them null for a later backfill and
// never fails the call.
func (e *Engine) Store(ctx context.Context, content string, tags []string) ([]int64, error) {
	chunks := SplitChunks(content, e.chunkMaxLines)
	if len(chunks) == 0 {
		return nil, nil
	}
	source := strings.Join(tags, ",")
	now := time.Now().UnixNano()

	e.mu.Lock()
	ids, err := e.insertChunks(ctx, chunks, source, now)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if e.autoSave && e.cache != nil {
		for i, id := range ids {
			text := indexText(chunks[i].Path, chunks[i].Content)
			vector, err := e.cache.GetOrCompute(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return ids, nil
				}
				log.Printf("[memory] store embedding deferred for record %d: %v", id, err)
				continue
			}
			if err := e.updateEmbedding(ctx, id, vector); err != nil {
				log.Printf("[memory] store embedding persist failed for record %d: %v", id, err)
			}
		}
	}

	return ids, nil
}

func (e *Engine) insertChunks(ctx context.Context, chunks []Chunk, source string, now int64) ([]int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(chunks))
	for _, chunk := range chunks {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO records (content, chunk_path, source, created_at)
			VALUES (?, ?, ?, ?)
		`, chunk.Content, chunk.Path, source, now)
		if err != nil {
			return nil, fmt.Errorf("store: insert record: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("store: last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records_fts (record_id, content) VALUES (?, ?)
		`, id, indexText(chunk.Path, chunk.Content)); err != nil {
			return nil, fmt.Errorf("store: index record: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return ids, nil
}

// Get returns the record with the given id, or nil when absent.
func (e *Engine) Get(ctx context.Context, id int64) (*Record, error) {
	row := e.db.QueryRowContext(ctx, `
		SELECT id, content, chunk_path, source, embedding, created_at
		FROM records WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// Forget deletes the record and its keyword postings in one
// transaction. Shared cache entries are left alone: other records with
// identical text may still need them. Returns false when the id did not
// exist.
func (e *Engine) Forget(ctx context.Context, id int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("forget: begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("forget: delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("forget: rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records_fts WHERE record_id = ?`, id); err != nil {
		return false, fmt.Errorf("forget: delete postings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("forget: commit: %w", err)
	}
	return affected > 0, nil
}

// updateEmbedding fills a record's embedding exactly once; an already
// embedded record is left untouched.
func (e *Engine) updateEmbedding(ctx context.Context, id int64, vector []float32) error {
	blob, err := EncodeVector(vector)
	if err != nil {
		return fmt.Errorf("update embedding %d: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.ExecContext(ctx, `
		UPDATE records SET embedding = ?, embedding_dim = ?
		WHERE id = ? AND embedding IS NULL
	`, blob, len(vector), id); err != nil {
		return fmt.Errorf("update embedding %d: %w", id, err)
	}
	return nil
}

// forEachRecord walks every record in id order in fixed-size batches.
// The walk restarts cleanly from any point, which the reindexer relies
// on, and never materializes the whole table.
func (e *Engine) forEachRecord(ctx context.Context, batchSize int, fn func(rec Record) error) error {
	if batchSize <= 0 {
		batchSize = 256
	}

	lastID := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := e.recordBatch(ctx, lastID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
			lastID = rec.ID
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (e *Engine) recordBatch(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, content, chunk_path, source, embedding, created_at
		FROM records WHERE id > ? ORDER BY id ASC LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	batch := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		batch = append(batch, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return batch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var blob []byte
	var createdAt int64
	if err := row.Scan(&rec.ID, &rec.Content, &rec.ChunkPath, &rec.Source, &blob, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if len(blob) > 0 {
		// A corrupt blob reads back as a missing embedding.
		if vector, err := DecodeVector(blob); err == nil {
			rec.Embedding = vector
		}
	}
	return &rec, nil
}

// fetchRecords loads the given ids and returns them keyed by id.
func (e *Engine) fetchRecords(ctx context.Context, ids []int64) (map[int64]Record, error) {
	if len(ids) == 0 {
		return map[int64]Record{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, content, chunk_path, source, embedding, created_at
		FROM records WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("fetch records: %w", err)
		}
		out[rec.ID] = *rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	return out, nil
}
