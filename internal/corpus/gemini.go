package corpus

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder calls Google Generative AI embeddings
// (e.g. text-embedding-004, 768 dims).
type GeminiEmbedder struct {
	apiKey    string
	model     string
	dimension int
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(apiKey, model string, dimension int) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	if dimension == 0 {
		dimension = 768 // Default for text-embedding-004
	}
	return &GeminiEmbedder{
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
	}
}

// EmbedBatch generates embeddings for multiple texts in one batched call.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("missing API key for Gemini embeddings")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.EmbeddingModel(e.model)
	batch := model.NewBatch()
	for _, text := range texts {
		batch = batch.AddContent(genai.Text(text))
	}

	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("Gemini embedding request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimension returns the embedding dimension.
func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}
