package ai

import (
	"context"
	"fmt"

	"docchat-backend/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder produces embedding vectors with the Google Generative AI
// embeddings API (text-embedding-004 by default). It implements the
// services.EmbeddingProvider contract and holds one client for its lifetime.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	return &GeminiEmbedder{client: client, modelName: cfg.GoogleEmbeddingsModel}, nil
}

// Embed returns the embedding vector for one text.
func (ge *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := ge.client.EmbeddingModel(ge.modelName)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

// Close releases the underlying API client.
func (ge *GeminiEmbedder) Close() error {
	if ge.client != nil {
		return ge.client.Close()
	}
	return nil
}
