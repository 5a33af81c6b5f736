package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/openai"
)

// OpenAIGenerator answers with an OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   int
}

// NewOpenAIGenerator returns a generator for model. maxTokens <= 0 leaves the limit to the server.
func NewOpenAIGenerator(client *openai.Client, model string, temperature *float64, maxTokens int) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, temperature: temperature, maxTokens: maxTokens}
}

func (g *OpenAIGenerator) request(messages []Message) openai.ChatRequest {
	req := openai.ChatRequest{
		Model:       g.model,
		Messages:    make([]openai.ChatMessage, len(messages)),
		Temperature: g.temperature,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatMessage{Role: m.Role, Content: m.Content}
	}
	if g.maxTokens > 0 {
		n := g.maxTokens
		req.MaxTokens = &n
	}
	return req
}

// Generate returns the full completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	answer, err := g.client.ChatCompletion(ctx, g.request(messages))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// Stream emits content deltas as they arrive.
func (g *OpenAIGenerator) Stream(ctx context.Context, messages []Message, emit func(string) error) error {
	return g.client.ChatCompletionStream(ctx, g.request(messages), emit)
}
