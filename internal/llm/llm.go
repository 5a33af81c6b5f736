// Package llm provides answer generators: chat-completion backed, extractive, and scripted.
package llm

import "context"

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    string
	Content string
}

// Generator produces a complete answer.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamGenerator produces an answer token by token. emit blocks until the consumer takes
// the token and returns an error once the consumer is gone; implementations stop there
// and return that error.
type StreamGenerator interface {
	Stream(ctx context.Context, messages []Message, emit func(token string) error) error
}

// AnswerGenerator supports both modes.
type AnswerGenerator interface {
	Generator
	StreamGenerator
}
