package memory

import (
	"context"
	"testing"
)

func TestRecall_KeywordMatch(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.Store(ctx, "the deploy pipeline runs on push", []string{"infra"}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if _, err := e.Store(ctx, "lunch options near the office", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	results, err := e.Recall(ctx, "deploy pipeline", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Record.Source != "infra" {
		t.Errorf("wrong record recalled: %+v", results[0].Record)
	}
	if results[0].KeywordScore == nil {
		t.Error("keyword score missing")
	}
	if results[0].VectorScore != nil {
		t.Error("vector score present without an embedder")
	}
}

func TestRecall_EmptyQuery(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.Store(ctx, "anything at all", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	results, err := e.Recall(ctx, "...", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("punctuation-only query returned %d results", len(results))
	}
}

func TestRecall_RecencyBreaksTies(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	// Identical text scores identically under bm25; the newer record
	// must rank first.
	first, err := e.Store(ctx, "rust is a systems language", nil)
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	second, err := e.Store(ctx, "rust is a systems language", nil)
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}

	results, err := e.Recall(ctx, "systems language", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != second[0] || results[1].Record.ID != first[0] {
		t.Errorf("order = [%d %d], want newest first [%d %d]",
			results[0].Record.ID, results[1].Record.ID, second[0], first[0])
	}
}

func TestRecall_ZeroVectorsReduceToKeywordOrder(t *testing.T) {
	// A zero-vector provider has no opinion about anything, so the
	// hybrid ranking must match plain keyword ranking.
	zero := &zeroEmbedder{dim: 8}
	hybrid := newTestEngine(t, Options{Embedder: zero, AutoSave: true})
	plain := newTestEngine(t, Options{})
	ctx := context.Background()

	docs := []string{
		"go is a compiled systems language with garbage collection",
		"rust is a systems language focused on memory safety",
		"python is an interpreted scripting language",
	}
	for _, doc := range docs {
		if _, err := hybrid.Store(ctx, doc, nil); err != nil {
			t.Fatalf("Store error: %v", err)
		}
		if _, err := plain.Store(ctx, doc, nil); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	hybridResults, err := hybrid.Recall(ctx, "systems language", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	plainResults, err := plain.Recall(ctx, "systems language", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}

	if len(hybridResults) != len(plainResults) {
		t.Fatalf("result counts differ: %d vs %d", len(hybridResults), len(plainResults))
	}
	for i := range hybridResults {
		if hybridResults[i].Record.Content != plainResults[i].Record.Content {
			t.Errorf("position %d differs: %q vs %q",
				i, hybridResults[i].Record.Content, plainResults[i].Record.Content)
		}
	}
}

type zeroEmbedder struct{ dim int }

func (z *zeroEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, z.dim), nil
}
func (z *zeroEmbedder) Dimension() int { return z.dim }

func TestRecall_VectorLiftsSemanticMatch(t *testing.T) {
	query := "feline behavior"
	vectors := map[string][]float32{
		query: {1, 0, 0},
		"cats sleep sixteen hours a day":      {0.95, 0.05, 0},
		"the printer jams on legal paper":     {0, 0, 1},
		"behavior of the scheduler under load": {0.1, 0.2, 0.9},
	}
	stub := &stubEmbedder{vectors: vectors, dim: 3}
	e := newTestEngine(t, Options{Embedder: stub, AutoSave: true, VectorWeight: 0.7, KeywordWeight: 0.3})
	ctx := context.Background()

	for text := range vectors {
		if text == query {
			continue
		}
		if _, err := e.Store(ctx, text, nil); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	results, err := e.Recall(ctx, query, 3)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	// The cats record shares no query token but sits closest in vector
	// space, and the weights favor the vector stream.
	if results[0].Record.Content != "cats sleep sixteen hours a day" {
		t.Errorf("top result = %q, want the semantic match", results[0].Record.Content)
	}
	if results[0].VectorScore == nil {
		t.Error("vector score missing on vector-stream result")
	}
}

func TestRecall_ProviderOutageDegradesToKeyword(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, AutoSave: true})
	ctx := context.Background()

	if _, err := e.Store(ctx, "retrieval still works offline", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	stub.err = &ProviderError{Err: context.DeadlineExceeded}
	results, err := e.Recall(ctx, "a phrase never embedded before retrieval offline", 5)
	if err != nil {
		t.Fatalf("Recall should degrade, got error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 keyword result, got %d", len(results))
	}
	if results[0].VectorScore != nil {
		t.Error("vector score present in degraded search")
	}
}

func TestRecall_TopKLimits(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := e.Store(ctx, "shared term plus filler", nil); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}
	results, err := e.Recall(ctx, "shared term", 3)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}
