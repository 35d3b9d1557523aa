package memory

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"
)

const reindexBatchSize = 256

// Reindex rebuilds the keyword index from the record store and then
// backfills missing embeddings. The rebuild goes through a staging
// table that replaces the live index in a single transaction, so a
// crash or cancellation at any point leaves the previous index intact
// and searches keep working throughout.
func (e *Engine) Reindex(ctx context.Context) (ReindexSummary, error) {
	var summary ReindexSummary

	rebuilt, err := e.rebuildKeywordIndex(ctx)
	if err != nil {
		return summary, err
	}
	summary.Rebuilt = rebuilt

	backfilled, missing, err := e.backfillEmbeddings(ctx)
	if err != nil {
		return summary, err
	}
	summary.Backfilled = backfilled
	summary.StillMissing = missing

	if err := e.setMeta(ctx, metaLastReindex, strconv.FormatInt(time.Now().UnixNano(), 10)); err != nil {
		log.Printf("[memory] reindex timestamp not recorded: %v", err)
	}

	log.Printf("[memory] reindex complete: %d indexed, %d embeddings backfilled, %d still missing",
		summary.Rebuilt, summary.Backfilled, summary.StillMissing)
	return summary, nil
}

func (e *Engine) rebuildKeywordIndex(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const staging = "records_fts_staging"
	if _, err := e.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+staging); err != nil {
		return 0, fmt.Errorf("reindex: clear staging: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(ftsSchema, staging)); err != nil {
		return 0, fmt.Errorf("reindex: create staging: %w", err)
	}

	count := 0
	err := e.forEachRecord(ctx, reindexBatchSize, func(rec Record) error {
		if _, err := e.db.ExecContext(ctx, `
			INSERT INTO `+staging+` (record_id, content) VALUES (?, ?)
		`, rec.ID, indexText(rec.ChunkPath, rec.Content)); err != nil {
			return fmt.Errorf("reindex: stage record %d: %w", rec.ID, err)
		}
		count++
		return nil
	})
	if err != nil {
		if _, dropErr := e.db.ExecContext(context.Background(), `DROP TABLE IF EXISTS `+staging); dropErr != nil {
			log.Printf("[memory] reindex staging cleanup failed: %v", dropErr)
		}
		return 0, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reindex: begin swap: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS records_fts`); err != nil {
		return 0, fmt.Errorf("reindex: drop old index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE `+staging+` RENAME TO records_fts`); err != nil {
		return 0, fmt.Errorf("reindex: promote staging: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reindex: commit swap: %w", err)
	}
	return count, nil
}

// backfillEmbeddings embeds every record whose embedding is null. One
// failing record does not stop the pass; it is counted and retried on
// the next reindex. Provider failures also leave records for next
// time, but a cancelled context stops the pass.
func (e *Engine) backfillEmbeddings(ctx context.Context) (backfilled, missing int, err error) {
	if e.embedder == nil || e.cache == nil {
		return 0, 0, nil
	}

	lastID := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return backfilled, missing, err
		}

		batch, err := e.missingEmbeddingBatch(ctx, lastID, reindexBatchSize)
		if err != nil {
			return backfilled, missing, err
		}
		if len(batch) == 0 {
			return backfilled, missing, nil
		}

		for _, rec := range batch {
			lastID = rec.ID
			vector, err := e.cache.GetOrCompute(ctx, indexText(rec.ChunkPath, rec.Content))
			if err != nil {
				if ctx.Err() != nil {
					return backfilled, missing, ctx.Err()
				}
				log.Printf("[memory] backfill record %d failed: %v", rec.ID, err)
				missing++
				continue
			}
			if err := e.updateEmbedding(ctx, rec.ID, vector); err != nil {
				log.Printf("[memory] backfill record %d failed: %v", rec.ID, err)
				missing++
				continue
			}
			backfilled++
		}
		if len(batch) < reindexBatchSize {
			return backfilled, missing, nil
		}
	}
}

func (e *Engine) missingEmbeddingBatch(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, content, chunk_path, source, embedding, created_at
		FROM records WHERE embedding IS NULL AND id > ?
		ORDER BY id ASC LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("backfill: scan: %w", err)
	}
	defer rows.Close()

	var batch []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("backfill: scan: %w", err)
		}
		batch = append(batch, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backfill: scan: %w", err)
	}
	return batch, nil
}

// MissingEmbeddings counts records awaiting a vector.
func (e *Engine) MissingEmbeddings(ctx context.Context) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE embedding IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("missing embeddings: %w", err)
	}
	return count, nil
}
