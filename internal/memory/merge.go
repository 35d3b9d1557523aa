package memory

import "sort"

// mergedMatch carries the fused score plus the per-stream raw scores
// for callers that want to explain a ranking.
type mergedMatch struct {
	id           int64
	score        float64
	createdAt    int64
	vectorScore  *float64
	keywordScore *float64
}

// normalizeScores maps a stream's raw scores onto [0, 1] with min-max
// scaling. When every score in the stream is equal there is no spread
// to scale by, so every candidate gets 1: the stream endorses them all
// equally and the weights still apply at full strength.
func normalizeScores(matches []scoredMatch) map[int64]float64 {
	out := make(map[int64]float64, len(matches))
	if len(matches) == 0 {
		return out
	}

	lo, hi := matches[0].score, matches[0].score
	for _, m := range matches[1:] {
		if m.score < lo {
			lo = m.score
		}
		if m.score > hi {
			hi = m.score
		}
	}

	spread := hi - lo
	for _, m := range matches {
		if spread == 0 {
			out[m.id] = 1
			continue
		}
		out[m.id] = (m.score - lo) / spread
	}
	return out
}

// mergeResults fuses the keyword and vector streams into a single
// ranking. Each stream is min-max normalized independently, then
// combined as vectorWeight*vector + keywordWeight*keyword; a candidate
// absent from a stream contributes 0 for it. Ties break newest first,
// then lowest id.
func mergeResults(keyword, vector []scoredMatch, vectorWeight, keywordWeight float64, limit int) []mergedMatch {
	normKeyword := normalizeScores(keyword)
	normVector := normalizeScores(vector)

	type rawScores struct {
		vector  *float64
		keyword *float64
	}
	raw := make(map[int64]rawScores, len(keyword)+len(vector))
	createdAt := make(map[int64]int64, len(keyword)+len(vector))
	for i := range keyword {
		m := keyword[i]
		entry := raw[m.id]
		entry.keyword = &keyword[i].score
		raw[m.id] = entry
		createdAt[m.id] = m.createdAt
	}
	for i := range vector {
		m := vector[i]
		entry := raw[m.id]
		entry.vector = &vector[i].score
		raw[m.id] = entry
		createdAt[m.id] = m.createdAt
	}

	merged := make([]mergedMatch, 0, len(raw))
	for id, scores := range raw {
		combined := vectorWeight*normVector[id] + keywordWeight*normKeyword[id]
		merged = append(merged, mergedMatch{
			id:           id,
			score:        combined,
			createdAt:    createdAt[id],
			vectorScore:  scores.vector,
			keywordScore: scores.keyword,
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		if merged[i].createdAt != merged[j].createdAt {
			return merged[i].createdAt > merged[j].createdAt
		}
		return merged[i].id < merged[j].id
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
