package memory

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/clawmem/internal/config"
)

// Backend is the storage-agnostic surface of the memory system. The
// sqlite backend is the full hybrid engine; the markdown backend keeps
// plain files for workspaces that want memories readable and
// git-diffable; none discards everything.
type Backend interface {
	Store(ctx context.Context, content string, tags []string) ([]int64, error)
	Recall(ctx context.Context, query string, topK int) ([]SearchResult, error)
	Forget(ctx context.Context, id int64) (bool, error)
	Reindex(ctx context.Context) (ReindexSummary, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open builds the backend selected by the configuration.
func Open(cfg config.MemoryConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "sqlite":
		embedder, err := NewEmbedder(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		return NewEngine(Options{
			DBPath:         cfg.DBPath,
			Embedder:       embedder,
			VectorWeight:   cfg.VectorWeight,
			KeywordWeight:  cfg.KeywordWeight,
			CacheCapacity:  cfg.CacheCapacity,
			ChunkMaxLines:  cfg.ChunkMaxLines,
			CandidateLimit: cfg.CandidateLimit,
			AutoSave:       cfg.AutoSave,
		})
	case "markdown":
		return NewMarkdownStore(cfg.Workspace)
	case "none":
		return noopBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

type noopBackend struct{}

func (noopBackend) Store(context.Context, string, []string) ([]int64, error) { return nil, nil }
func (noopBackend) Recall(context.Context, string, int) ([]SearchResult, error) {
	return nil, nil
}
func (noopBackend) Forget(context.Context, int64) (bool, error) { return false, nil }
func (noopBackend) Reindex(context.Context) (ReindexSummary, error) {
	return ReindexSummary{}, nil
}
func (noopBackend) Stats(context.Context) (Stats, error) { return Stats{}, nil }
func (noopBackend) Close() error                         { return nil }
