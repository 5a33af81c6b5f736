package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/openai"
)

// New builds the embedder selected by cfg.Provider, wrapped in a cache when cfg.CacheSize > 0.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "hash", "":
		inner = NewHashEmbedder(cfg.Dimensions)
	case "openai":
		client := openai.NewClient(openai.Config{
			Name:              "embeddings",
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}, openai.WithLogger(logger))
		inner = NewOpenAIEmbedder(client, cfg.Model, cfg.Dimensions, cfg.BatchSize)
	case "onnx":
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hash, openai, onnx)", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}
