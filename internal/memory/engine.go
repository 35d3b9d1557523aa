package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Engine is the sqlite-backed hybrid memory backend: durable records,
// an FTS5 keyword structure and a persistent embedding cache in one
// database file.
type Engine struct {
	db       *sql.DB
	mu       sync.Mutex // serializes store/forget/reindex
	embedder Embedder
	cache    *EmbeddingCache

	vectorWeight   float64
	keywordWeight  float64
	chunkMaxLines  int
	candidateLimit int
	autoSave       bool
}

// Options configures a sqlite engine. Embedder may be nil, which
// disables vector scoring and embedding backfill entirely.
type Options struct {
	DBPath         string
	Embedder       Embedder
	CacheCapacity  int
	VectorWeight   float64
	KeywordWeight  float64
	ChunkMaxLines  int
	CandidateLimit int
	AutoSave       bool
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.DBPath == "" {
		return nil, fmt.Errorf("new engine: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("new engine: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("new engine: open sqlite: %w", err)
	}

	e := &Engine{
		db:             db,
		embedder:       opts.Embedder,
		vectorWeight:   opts.VectorWeight,
		keywordWeight:  opts.KeywordWeight,
		chunkMaxLines:  opts.ChunkMaxLines,
		candidateLimit: opts.CandidateLimit,
		autoSave:       opts.AutoSave,
	}
	if e.vectorWeight <= 0 && e.keywordWeight <= 0 {
		e.vectorWeight = 0.7
		e.keywordWeight = 0.3
	}
	if e.chunkMaxLines <= 0 {
		e.chunkMaxLines = defaultChunkMaxLines
	}
	if e.candidateLimit <= 0 {
		e.candidateLimit = 200
	}

	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.Embedder != nil {
		cache, err := NewEmbeddingCache(db, opts.Embedder, opts.CacheCapacity)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		e.cache = cache
	}

	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Cache exposes the engine's embedding cache, nil when no embedder is
// configured.
func (e *Engine) Cache() *EmbeddingCache {
	return e.cache
}

// Stats reports record, embedding and cache counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&s.Records); err != nil {
		return s, fmt.Errorf("stats: count records: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE embedding IS NOT NULL`).Scan(&s.Embedded); err != nil {
		return s, fmt.Errorf("stats: count embedded: %w", err)
	}
	s.MissingEmbeddings = s.Records - s.Embedded

	if e.cache != nil {
		entries, err := e.cache.Len(ctx)
		if err != nil {
			return s, err
		}
		s.CacheEntries = entries
		s.CacheHits, s.CacheMisses = e.cache.Counters()
	}

	if raw, err := e.getMeta(ctx, metaLastReindex); err == nil && raw != "" {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.Unix(0, nanos).UTC()
			s.LastReindex = &t
		}
	}

	return s, nil
}

const metaLastReindex = "last_reindex_at"

func (e *Engine) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := e.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

func (e *Engine) setMeta(ctx context.Context, key, value string) error {
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}
