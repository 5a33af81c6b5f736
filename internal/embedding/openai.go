package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/openai"
	"github.com/hyperjump/tanya/pkg/utils"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder returns an embedder that expects vectors of the given dimension.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions, batchSize int) *OpenAIEmbedder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions, batchSize: batchSize}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most batchSize inputs.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.client.Embeddings(ctx, e.model, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed: %w", err)
		}
		for _, v := range vecs {
			if len(v) != e.dimensions {
				return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(v), e.dimensions)
			}
			utils.NormalizeL2(v)
			out = append(out, v)
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
