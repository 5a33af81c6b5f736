package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ChatMessage is one role-tagged message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat/completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ChatCompletion returns the first choice's message content.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	req.Stream = false
	var resp chatResponse
	if err := c.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatCompletionStream calls onToken for every non-empty content delta.
// Malformed chunks are skipped.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest, onToken func(string) error) error {
	req.Stream = true
	return c.PostStream(ctx, "/chat/completions", req, func(data []byte) error {
		var chunk chatChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return nil
		}
		return onToken(chunk.Choices[0].Delta.Content)
	})
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embeddings returns one vector per input, in input order.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	var resp embeddingResponse
	if err := c.PostJSON(ctx, "/embeddings", embeddingRequest{Model: model, Input: inputs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings returned %d vectors for %d inputs", len(resp.Data), len(inputs))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
