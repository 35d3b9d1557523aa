package memory

import (
	"context"
	"testing"
)

func TestReindex_RebuildsAndBackfills(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, AutoSave: false})
	ctx := context.Background()

	texts := []string{
		"first note about compilers",
		"second note about gardens",
		"third note about networks",
	}
	for _, text := range texts {
		if _, err := e.Store(ctx, text, nil); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	summary, err := e.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex error: %v", err)
	}
	if summary.Rebuilt != 3 {
		t.Errorf("rebuilt = %d, want 3", summary.Rebuilt)
	}
	if summary.Backfilled != 3 {
		t.Errorf("backfilled = %d, want 3", summary.Backfilled)
	}
	if summary.StillMissing != 0 {
		t.Errorf("still missing = %d, want 0", summary.StillMissing)
	}

	missing, err := e.MissingEmbeddings(ctx)
	if err != nil {
		t.Fatalf("MissingEmbeddings error: %v", err)
	}
	if missing != 0 {
		t.Errorf("missing after backfill = %d", missing)
	}
}

func TestReindex_Idempotent(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, AutoSave: false})
	ctx := context.Background()

	if _, err := e.Store(ctx, "note worth indexing once", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	if _, err := e.Reindex(ctx); err != nil {
		t.Fatalf("first Reindex error: %v", err)
	}
	callsAfterFirst := stub.calls.Load()

	summary, err := e.Reindex(ctx)
	if err != nil {
		t.Fatalf("second Reindex error: %v", err)
	}
	if summary.Backfilled != 0 {
		t.Errorf("second pass backfilled = %d, want 0", summary.Backfilled)
	}
	if stub.calls.Load() != callsAfterFirst {
		t.Errorf("second pass called the provider %d extra times",
			stub.calls.Load()-callsAfterFirst)
	}

	results, err := e.Recall(ctx, "indexing", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result after double reindex, got %d", len(results))
	}
}

func TestReindex_RestoresDroppedIndex(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.Store(ctx, "survives an index wipe", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	if _, err := e.db.ExecContext(ctx, `DROP TABLE records_fts`); err != nil {
		t.Fatalf("drop index: %v", err)
	}

	summary, err := e.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex error: %v", err)
	}
	if summary.Rebuilt != 1 {
		t.Errorf("rebuilt = %d, want 1", summary.Rebuilt)
	}

	results, err := e.Recall(ctx, "wipe", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result after rebuild, got %d", len(results))
	}
}

func TestReindex_CancelLeavesIndexIntact(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.Store(ctx, "still searchable after a cancelled rebuild", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.Reindex(cancelled); err == nil {
		t.Fatal("expected error from cancelled reindex")
	}

	results, err := e.Recall(ctx, "searchable", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("index damaged by cancelled reindex, got %d results", len(results))
	}
}

func TestReindex_CountsProviderFailures(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, AutoSave: false})
	ctx := context.Background()

	if _, err := e.Store(ctx, "will not embed this pass", nil); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	stub.err = &ProviderError{Err: context.DeadlineExceeded}
	summary, err := e.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex error: %v", err)
	}
	if summary.StillMissing != 1 {
		t.Errorf("still missing = %d, want 1", summary.StillMissing)
	}
	if summary.Backfilled != 0 {
		t.Errorf("backfilled = %d, want 0", summary.Backfilled)
	}

	// The provider recovers and the next pass fills the gap.
	stub.err = nil
	summary, err = e.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex error: %v", err)
	}
	if summary.Backfilled != 1 {
		t.Errorf("backfilled after recovery = %d, want 1", summary.Backfilled)
	}
}
