package services

import (
	"context"
)

// RetrieverOptions tunes similarity retrieval.
type RetrieverOptions struct {
	TopK        int     // max results, default 4
	MaxDistance float64 // drop results farther than this, default 0.8
	TokenBudget int     // budgeted variant context cap, default 4000
}

func (o RetrieverOptions) withDefaults() RetrieverOptions {
	if o.TopK <= 0 {
		o.TopK = 4
	}
	if o.MaxDistance <= 0 {
		o.MaxDistance = 0.8
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = 4000
	}
	return o
}

// Retrieve returns at most TopK chunks within MaxDistance, ascending by
// distance.
func Retrieve(ctx context.Context, idx *EmbeddingIndex, query string, opts RetrieverOptions) ([]ScoredChunk, error) {
	opts = opts.withDefaults()

	results, err := idx.Query(ctx, query, opts.TopK)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Distance <= opts.MaxDistance {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// RetrieveWithBudget accumulates ranked chunks until adding the next one
// would exceed the token budget. The returned context never exceeds the
// budget even when individual chunks are large.
func RetrieveWithBudget(ctx context.Context, idx *EmbeddingIndex, query string, opts RetrieverOptions) ([]ScoredChunk, error) {
	opts = opts.withDefaults()

	results, err := Retrieve(ctx, idx, query, opts)
	if err != nil {
		return nil, err
	}

	budgeted := make([]ScoredChunk, 0, len(results))
	used := 0
	for _, r := range results {
		cost := r.Chunk.TokenCount
		if cost == 0 {
			cost = defaultTokenLen(r.Chunk.Text)
		}
		if used+cost > opts.TokenBudget {
			break
		}
		budgeted = append(budgeted, r)
		used += cost
	}
	return budgeted, nil
}
