package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Recall runs the keyword and vector streams in parallel, fuses them,
// and returns the top results. A failing embedding provider degrades
// the search to keyword-only instead of failing it; storage errors are
// returned.
func (e *Engine) Recall(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	limit := e.candidateLimit
	if limit < topK {
		limit = topK
	}

	var (
		wg         sync.WaitGroup
		keyword    []scoredMatch
		keywordErr error
		vector     []scoredMatch
		vectorErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		keyword, keywordErr = e.keywordSearch(ctx, query, limit)
	}()
	go func() {
		defer wg.Done()
		vector, vectorErr = e.vectorSearch(ctx, query, limit)
	}()
	wg.Wait()

	if keywordErr != nil {
		return nil, keywordErr
	}
	if vectorErr != nil {
		var providerErr *ProviderError
		if !errors.As(vectorErr, &providerErr) {
			return nil, vectorErr
		}
		log.Printf("[memory] vector search degraded to keyword-only: %v", vectorErr)
		vector = nil
	}

	merged := mergeResults(keyword, vector, e.vectorWeight, e.keywordWeight, topK)
	if len(merged) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(merged))
	for i, m := range merged {
		ids[i] = m.id
	}
	records, err := e.fetchRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(merged))
	for _, m := range merged {
		rec, ok := records[m.id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			Record:       rec,
			Score:        m.score,
			VectorScore:  m.vectorScore,
			KeywordScore: m.keywordScore,
		})
	}
	return results, nil
}

// vectorSearch embeds the query through the cache and scans every
// embedded record, scoring by cosine similarity. Records with no
// positive similarity to the query are dropped rather than ranked.
func (e *Engine) vectorSearch(ctx context.Context, query string, limit int) ([]scoredMatch, error) {
	if e.embedder == nil || e.cache == nil {
		return nil, nil
	}

	queryVector, err := e.cache.GetOrCompute(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, embedding, created_at FROM records
		WHERE embedding IS NOT NULL AND embedding_dim > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []scoredMatch
	for rows.Next() {
		var id int64
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&id, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		vector, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		score := CosineSimilarity(queryVector, vector)
		if score <= 0 {
			continue
		}
		matches = append(matches, scoredMatch{id: id, score: score, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].createdAt != matches[j].createdAt {
			return matches[i].createdAt > matches[j].createdAt
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
