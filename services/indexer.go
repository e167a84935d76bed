package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrEmbeddingUnavailable wraps any failure of the embedding capability.
// A build that hits it produces no index at all - never a partial one.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// EmbeddingProvider turns text into a vector representation.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ScoredChunk is a retrieved chunk with its cosine distance to the query
// (lower is more similar).
type ScoredChunk struct {
	Chunk    Chunk
	Distance float64
}

// EmbeddingIndex owns (vector, chunk) pairs and answers nearest-neighbor
// queries by cosine distance. It grows only by append.
type EmbeddingIndex struct {
	mu       sync.RWMutex
	embedder EmbeddingProvider
	vectors  [][]float32
	chunks   []Chunk
}

// BuildIndex embeds every chunk and assembles a searchable index. Any
// embedding failure aborts the whole build.
func BuildIndex(ctx context.Context, embedder EmbeddingProvider, chunks []Chunk) (*EmbeddingIndex, error) {
	idx := &EmbeddingIndex{embedder: embedder}
	if err := idx.AddChunks(ctx, chunks); err != nil {
		return nil, err
	}
	return idx, nil
}

// AddChunks appends chunks incrementally without re-embedding existing
// vectors. On failure the index is left unchanged.
func (idx *EmbeddingIndex) AddChunks(ctx context.Context, chunks []Chunk) error {
	vectors := make([][]float32, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := idx.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("%w: chunk %d: %v", ErrEmbeddingUnavailable, ch.Index, err)
		}
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector for chunk %d", ErrEmbeddingUnavailable, ch.Index)
		}
		vectors = append(vectors, vec)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = append(idx.vectors, vectors...)
	idx.chunks = append(idx.chunks, chunks...)
	return nil
}

// Query embeds the text and returns the k nearest chunks in ascending
// distance order.
func (idx *EmbeddingIndex) Query(ctx context.Context, text string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 4
	}
	queryVec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrEmbeddingUnavailable, err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]ScoredChunk, 0, len(idx.chunks))
	for i, vec := range idx.vectors {
		results = append(results, ScoredChunk{
			Chunk:    idx.chunks[i],
			Distance: cosineDistance(queryVec, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len reports the number of indexed chunks.
func (idx *EmbeddingIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// cosineDistance is 1 - cosine similarity; 0 means identical direction.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
