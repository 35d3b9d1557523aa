package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// EmbeddingCache fronts the embedder with a persistent, bounded cache.
// Entries are keyed by a hash of the text, so identical text embeds at
// most once across records, queries, and process restarts. Concurrent
// misses for the same text coalesce into a single provider call.
type EmbeddingCache struct {
	db       *sql.DB
	embedder Embedder
	capacity int

	mu    sync.Mutex
	clock int64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbeddingCache opens the cache over the engine's database. The
// recency clock resumes from the newest persisted entry so eviction
// order survives restarts.
func NewEmbeddingCache(db *sql.DB, embedder Embedder, capacity int) (*EmbeddingCache, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	c := &EmbeddingCache{db: db, embedder: embedder, capacity: capacity}

	var clock sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(last_used) FROM embedding_cache`).Scan(&clock); err != nil {
		return nil, fmt.Errorf("cache: restore clock: %w", err)
	}
	if clock.Valid {
		c.clock = clock.Int64
	}
	return c, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the embedding for text, computing it through
// the provider only on a miss. Provider errors pass through unchanged;
// cache persistence problems are logged and the computed vector is
// still returned.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	if vector, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return vector, nil
	}
	c.misses.Add(1)

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A peer may have finished while this call waited to lead.
		if vector, ok := c.lookup(ctx, key); ok {
			return vector, nil
		}
		vector, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, key, vector); err != nil {
			log.Printf("[memory] cache persist failed: %v", err)
		}
		return vector, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// lookup reads a cached vector and bumps its recency. A row that fails
// to decode is dropped and treated as a miss so the provider can
// repopulate it.
func (c *EmbeddingCache) lookup(ctx context.Context, key string) ([]float32, bool) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT embedding FROM embedding_cache WHERE content_hash = ?
	`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		log.Printf("[memory] cache lookup failed: %v", err)
		return nil, false
	}

	vector, err := DecodeVector(blob)
	if err != nil {
		if _, err := c.db.ExecContext(ctx, `
			DELETE FROM embedding_cache WHERE content_hash = ?
		`, key); err != nil {
			log.Printf("[memory] cache drop corrupt entry failed: %v", err)
		}
		return nil, false
	}

	if _, err := c.db.ExecContext(ctx, `
		UPDATE embedding_cache SET last_used = ? WHERE content_hash = ?
	`, c.tick(), key); err != nil {
		log.Printf("[memory] cache touch failed: %v", err)
	}
	return vector, true
}

// put inserts a vector and evicts the least recently used entries that
// exceed capacity, both inside one transaction.
func (c *EmbeddingCache) put(ctx context.Context, key string, vector []float32) error {
	blob, err := EncodeVector(vector)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache put: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dim, last_used)
		VALUES (?, ?, ?, ?)
	`, key, blob, len(vector), c.tick()); err != nil {
		return fmt.Errorf("cache put: insert: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&count); err != nil {
		return fmt.Errorf("cache put: count: %w", err)
	}
	if excess := count - c.capacity; excess > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM embedding_cache WHERE content_hash IN (
				SELECT content_hash FROM embedding_cache
				ORDER BY last_used ASC, content_hash ASC
				LIMIT ?
			)
		`, excess); err != nil {
			return fmt.Errorf("cache put: evict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache put: commit: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	return c.clock
}

// Len reports how many entries the cache currently holds.
func (c *EmbeddingCache) Len(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	return count, nil
}

// Counters returns lifetime hit and miss counts for this process.
func (c *EmbeddingCache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
