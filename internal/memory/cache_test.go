package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCache_HitSkipsProvider(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub})
	ctx := context.Background()
	cache := e.Cache()

	v1, err := cache.GetOrCompute(ctx, "the same text")
	if err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	v2, err := cache.GetOrCompute(ctx, "the same text")
	if err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", stub.calls.Load())
	}
	if len(v1) != len(v2) {
		t.Errorf("vectors differ in length: %d vs %d", len(v1), len(v2))
	}

	hits, misses := cache.Counters()
	if hits != 1 || misses != 1 {
		t.Errorf("counters = %d hits / %d misses, want 1 / 1", hits, misses)
	}
}

func TestCache_CapacityBound(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, CacheCapacity: 3})
	ctx := context.Background()
	cache := e.Cache()

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		if _, err := cache.GetOrCompute(ctx, text); err != nil {
			t.Fatalf("GetOrCompute(%q) error: %v", text, err)
		}
	}

	n, err := cache.Len(ctx)
	if err != nil {
		t.Fatalf("Len error: %v", err)
	}
	if n != 3 {
		t.Errorf("cache size = %d, want 3", n)
	}

	// "one" was least recently used and must have been evicted, so
	// asking for it again hits the provider.
	before := stub.calls.Load()
	if _, err := cache.GetOrCompute(ctx, "one"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if stub.calls.Load() != before+1 {
		t.Error("evicted entry served without recompute")
	}

	// "four" stayed resident.
	before = stub.calls.Load()
	if _, err := cache.GetOrCompute(ctx, "four"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if stub.calls.Load() != before {
		t.Error("resident entry recomputed")
	}
}

func TestCache_RecencyProtectsEntry(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub, CacheCapacity: 2})
	ctx := context.Background()
	cache := e.Cache()

	for _, text := range []string{"old", "new"} {
		if _, err := cache.GetOrCompute(ctx, text); err != nil {
			t.Fatalf("GetOrCompute error: %v", err)
		}
	}
	// Touch "old" so "new" becomes the eviction candidate.
	if _, err := cache.GetOrCompute(ctx, "old"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if _, err := cache.GetOrCompute(ctx, "third"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}

	before := stub.calls.Load()
	if _, err := cache.GetOrCompute(ctx, "old"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if stub.calls.Load() != before {
		t.Error("recently used entry was evicted")
	}
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	first := &stubEmbedder{}
	e, err := NewEngine(Options{DBPath: path, Embedder: first})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if _, err := e.Cache().GetOrCompute(ctx, "persisted text"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	second := &stubEmbedder{}
	e2, err := NewEngine(Options{DBPath: path, Embedder: second})
	if err != nil {
		t.Fatalf("NewEngine reopen error: %v", err)
	}
	defer e2.Close()

	if _, err := e2.Cache().GetOrCompute(ctx, "persisted text"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if second.calls.Load() != 0 {
		t.Errorf("provider called %d times for a persisted entry", second.calls.Load())
	}
}

func TestCache_CorruptEntryRecomputed(t *testing.T) {
	stub := &stubEmbedder{}
	e := newTestEngine(t, Options{Embedder: stub})
	ctx := context.Background()
	cache := e.Cache()

	if _, err := cache.GetOrCompute(ctx, "soon corrupt"); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	key := hashText("soon corrupt")
	if _, err := e.db.ExecContext(ctx, `
		UPDATE embedding_cache SET embedding = X'00' WHERE content_hash = ?
	`, key); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	before := stub.calls.Load()
	vector, err := cache.GetOrCompute(ctx, "soon corrupt")
	if err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	if len(vector) == 0 {
		t.Fatal("empty vector after recompute")
	}
	if stub.calls.Load() != before+1 {
		t.Error("corrupt entry should force a provider call")
	}
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	stub := &stubEmbedder{delay: 50 * time.Millisecond}
	e := newTestEngine(t, Options{Embedder: stub})
	ctx := context.Background()
	cache := e.Cache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetOrCompute(ctx, "contended text"); err != nil {
				t.Errorf("GetOrCompute error: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := stub.calls.Load(); calls != 1 {
		t.Errorf("provider calls = %d, want 1", calls)
	}
}

func TestCache_ProviderErrorPropagates(t *testing.T) {
	stub := &stubEmbedder{err: &ProviderError{Err: context.DeadlineExceeded}}
	e := newTestEngine(t, Options{Embedder: stub})

	_, err := e.Cache().GetOrCompute(context.Background(), "never cached")
	if err == nil {
		t.Fatal("expected provider error")
	}

	n, lenErr := e.Cache().Len(context.Background())
	if lenErr != nil {
		t.Fatalf("Len error: %v", lenErr)
	}
	if n != 0 {
		t.Errorf("failed embedding was cached, size = %d", n)
	}
}
