package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
)

// EventType tags a stream event.
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one element of a streamed answer. A stream is zero or more token events
// followed by exactly one done or error event, unless the consumer went away first.
type Event struct {
	Type    EventType       `json:"type"`
	Token   string          `json:"token,omitempty"`
	Sources []models.Source `json:"sources,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// ErrorEvent returns the terminal event for err.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Error: err.Error(), Code: models.Kind(err)}
}

// Stream answers question token by token. The returned channel is closed after the
// terminal event. Cancelling ctx stops generation; a consumer that cancelled receives
// no terminal event.
func (e *Engine) Stream(ctx context.Context, userID, question string, k int) <-chan Event {
	out := make(chan Event, e.streamBuffer)
	go func() {
		defer close(out)
		e.stream(ctx, userID, question, k, out)
	}()
	return out
}

func (e *Engine) stream(ctx context.Context, userID, question string, k int, out chan<- Event) {
	send := func(ctx context.Context, ev Event) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			e.logger.Debug("stream consumer gone", zap.String("user_id", userID))
			return
		}
		err = models.Classify(models.ErrQuery, err)
		e.logger.Warn("stream failed", zap.String("user_id", userID), zap.Error(err))
		_ = send(ctx, ErrorEvent(err))
	}

	p, err := e.prepare(ctx, userID, question, k)
	if err != nil {
		fail(err)
		return
	}

	gctx, cancel := e.generationContext(ctx)
	defer cancel()
	var answer strings.Builder
	err = e.generator.Stream(gctx, p.messages, func(token string) error {
		answer.WriteString(token)
		return send(gctx, Event{Type: EventToken, Token: token})
	})
	if err != nil {
		fail(fmt.Errorf("answer generation failed: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if e.persistStreamed {
		if err := e.saveTurn(ctx, userID, question, answer.String(), p.sources); err != nil {
			fail(err)
			return
		}
	}
	_ = send(ctx, Event{Type: EventDone, Sources: p.sources})
}
