package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/openai"
)

// New builds the generator selected by cfg.Provider.
func New(cfg *config.LLMConfig, logger *zap.Logger) (AnswerGenerator, error) {
	switch cfg.Provider {
	case "extractive", "":
		return NewExtractiveGenerator(), nil
	case "openai":
		client := openai.NewClient(openai.Config{
			Name:              "chat",
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}, openai.WithLogger(logger))
		return NewOpenAIGenerator(client, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, extractive)", cfg.Provider)
	}
}
