package services

import (
	"context"
	"testing"
)

func TestRetrieveFiltersByDistance(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"near":  {1, 0, 0},
		"far":   {0, 1, 0},
		"query": {1, 0, 0},
	}}
	idx, err := BuildIndex(context.Background(), embedder, testChunks("near", "far"))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	results, err := Retrieve(context.Background(), idx, "query", RetrieverOptions{TopK: 4, MaxDistance: 0.5})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the near chunk, got %d results", len(results))
	}
	if results[0].Chunk.Text != "near" {
		t.Errorf("expected near, got %q", results[0].Chunk.Text)
	}
}

func TestRetrieveCapsAtTopK(t *testing.T) {
	embedder := &stubEmbedder{}
	idx, err := BuildIndex(context.Background(), embedder, testChunks("a", "b", "c", "d", "e", "f"))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	results, err := Retrieve(context.Background(), idx, "q", RetrieverOptions{TopK: 3, MaxDistance: 2})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestRetrieveWithBudgetStopsBeforeOverflow(t *testing.T) {
	embedder := &stubEmbedder{}
	chunks := []Chunk{
		{Text: "a", Index: 0, TokenCount: 40},
		{Text: "b", Index: 1, TokenCount: 40},
		{Text: "c", Index: 2, TokenCount: 40},
	}
	idx, err := BuildIndex(context.Background(), embedder, chunks)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	results, err := RetrieveWithBudget(context.Background(), idx, "q", RetrieverOptions{
		TopK:        4,
		MaxDistance: 2,
		TokenBudget: 100,
	})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}

	// 40 + 40 fits, a third chunk would exceed 100
	if len(results) != 2 {
		t.Fatalf("expected 2 budgeted chunks, got %d", len(results))
	}
	used := 0
	for _, r := range results {
		used += r.Chunk.TokenCount
	}
	if used > 100 {
		t.Errorf("budget exceeded: %d tokens", used)
	}
}

func TestRetrieverOptionsDefaults(t *testing.T) {
	opts := RetrieverOptions{}.withDefaults()
	if opts.TopK != 4 || opts.MaxDistance != 0.8 || opts.TokenBudget != 4000 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}
