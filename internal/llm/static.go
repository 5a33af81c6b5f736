package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// StaticGenerator replays scripted tokens. Useful in tests and demos.
type StaticGenerator struct {
	Tokens []string
	Err    error         // returned after the tokens
	Delay  time.Duration // pause before each token

	mu       sync.Mutex
	messages [][]Message
}

// NewStaticGenerator returns a generator that answers with tokens.
func NewStaticGenerator(tokens ...string) *StaticGenerator {
	return &StaticGenerator{Tokens: tokens}
}

// Generate returns the tokens joined with spaces, or Err.
func (g *StaticGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	g.record(messages)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Err != nil {
		return "", g.Err
	}
	return strings.Join(g.Tokens, " "), nil
}

// Stream emits each token, then returns Err.
func (g *StaticGenerator) Stream(ctx context.Context, messages []Message, emit func(string) error) error {
	g.record(messages)
	for _, tok := range g.Tokens {
		if g.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(tok); err != nil {
			return err
		}
	}
	return g.Err
}

func (g *StaticGenerator) record(messages []Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, messages)
}

// Calls returns the prompts received so far.
func (g *StaticGenerator) Calls() [][]Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]Message(nil), g.messages...)
}
