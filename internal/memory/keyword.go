package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// maxQueryTokens caps how many terms a query contributes to the FTS
// match expression; longer queries keep only the leading terms.
const maxQueryTokens = 16

// scoredMatch is one candidate from a single retrieval stream. Scores
// are stream-local until mergeResults normalizes them.
type scoredMatch struct {
	id        int64
	score     float64
	createdAt int64
}

// tokenizeQuery lowercases the query and splits it on anything that is
// not a letter or digit, mirroring the unicode61 tokenizer the index
// uses. FTS5 operator words are dropped so they cannot change the
// query semantics, and duplicates are folded.
func tokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "and", "or", "not", "near":
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
		if len(tokens) == maxQueryTokens {
			break
		}
	}
	return tokens
}

// buildMatchQuery quotes every token and joins them with OR so a match
// on any term qualifies a record; bm25 ranking still rewards records
// matching more of them.
func buildMatchQuery(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// keywordSearch runs the BM25 stream. SQLite's bm25() returns
// lower-is-better negative values, so the sign is flipped to make
// higher mean more relevant like every other score in the engine.
func (e *Engine) keywordSearch(ctx context.Context, query string, limit int) ([]scoredMatch, error) {
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT r.id, -bm25(records_fts), r.created_at
		FROM records_fts
		JOIN records r ON r.id = records_fts.record_id
		WHERE records_fts MATCH ?
		ORDER BY bm25(records_fts) ASC, r.created_at DESC, r.id ASC
		LIMIT ?
	`, buildMatchQuery(tokens), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var matches []scoredMatch
	for rows.Next() {
		var m scoredMatch
		if err := rows.Scan(&m.id, &m.score, &m.createdAt); err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return matches, nil
}
