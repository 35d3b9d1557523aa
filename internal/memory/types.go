package memory

import "time"

// Record is one durable memory chunk. Content is immutable after
// creation; the embedding starts nil and is filled exactly once, either
// at store time or by a later backfill.
type Record struct {
	ID        int64
	Content   string
	ChunkPath string
	Source    string
	Embedding []float32
	CreatedAt time.Time
}

// SearchResult pairs a record with its combined relevance score. The
// per-stream scores are nil when the record was absent from that stream.
type SearchResult struct {
	Record       Record
	Score        float64
	VectorScore  *float64
	KeywordScore *float64
}

// ReindexSummary reports the outcome of one Reindex run.
type ReindexSummary struct {
	Rebuilt      int
	Backfilled   int
	StillMissing int
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Records           int
	Embedded          int
	MissingEmbeddings int
	CacheEntries      int
	CacheHits         int64
	CacheMisses       int64
	LastReindex       *time.Time
}

// indexText is the text a record is indexed and embedded under: the
// heading lineage prefix followed by the chunk content.
func indexText(chunkPath, content string) string {
	if chunkPath == "" {
		return content
	}
	return chunkPath + "\n" + content
}
