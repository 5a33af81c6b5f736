package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

// Engine runs conversational queries. It holds no per-call state.
type Engine struct {
	retriever       *Retriever
	embedder        embedding.Embedder
	generator       llm.AnswerGenerator
	turns           storage.TurnStore
	historyTurns    int
	streamBuffer    int
	persistStreamed bool
	embedTimeout    time.Duration
	llmTimeout      time.Duration
	logger          *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for query events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine with the given dependencies.
func NewEngine(
	retriever *Retriever,
	embedder embedding.Embedder,
	generator llm.AnswerGenerator,
	turns storage.TurnStore,
	cfg *config.Config,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		retriever:       retriever,
		embedder:        embedder,
		generator:       generator,
		turns:           turns,
		historyTurns:    cfg.Query.HistoryTurns,
		streamBuffer:    cfg.Query.StreamBuffer,
		persistStreamed: cfg.Query.PersistStreamedTurnsOrDefault(),
		embedTimeout:    cfg.Embedding.Timeout,
		llmTimeout:      cfg.LLM.Timeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.streamBuffer <= 0 {
		e.streamBuffer = 1
	}
	return e
}

// prepared is the assembled context for one question.
type prepared struct {
	messages []llm.Message
	sources  []models.Source
}

func (e *Engine) prepare(ctx context.Context, userID, question string, k int) (*prepared, error) {
	history, err := e.History(ctx, userID, e.historyTurns)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedQuestion(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	retrieved, err := e.retriever.Retrieve(ctx, userID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	e.logger.Debug("retrieved context",
		zap.String("user_id", userID),
		zap.Int("k", k),
		zap.Int("chunks", len(retrieved)))

	return &prepared{
		messages: BuildMessages(history, retrieved, question),
		sources:  Sources(retrieved),
	}, nil
}

func (e *Engine) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if e.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.embedTimeout)
		defer cancel()
	}
	vec, err := e.embedder.Embed(ctx, question)
	return vec, models.WithTimeout(err)
}

func (e *Engine) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.llmTimeout > 0 {
		return context.WithTimeout(ctx, e.llmTimeout)
	}
	return context.WithCancel(ctx)
}

// Query answers question from the user's top-k chunks and recent turns, then records the
// exchange as a new turn. Nothing is recorded when any step fails.
func (e *Engine) Query(ctx context.Context, userID, question string, k int) (*models.Answer, error) {
	started := time.Now()
	p, err := e.prepare(ctx, userID, question, k)
	if err != nil {
		return nil, models.Classify(models.ErrQuery, err)
	}

	gctx, cancel := e.generationContext(ctx)
	defer cancel()
	answer, err := e.generator.Generate(gctx, p.messages)
	if err != nil {
		return nil, models.Classify(models.ErrQuery, fmt.Errorf("answer generation failed: %w", err))
	}

	if err := e.saveTurn(ctx, userID, question, answer, p.sources); err != nil {
		return nil, models.Classify(models.ErrQuery, err)
	}
	e.logger.Info("query answered",
		zap.String("user_id", userID),
		zap.Int("sources", len(p.sources)),
		zap.Duration("took", time.Since(started)))
	return &models.Answer{Answer: answer, Sources: p.sources}, nil
}

func (e *Engine) saveTurn(ctx context.Context, userID, question, answer string, sources []models.Source) error {
	turn := &models.Turn{
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		Sources:   sources,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.turns.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// History returns up to n of the user's most recent turns, oldest first.
func (e *Engine) History(ctx context.Context, userID string, n int) ([]*models.Turn, error) {
	if n <= 0 {
		return []*models.Turn{}, nil
	}
	turns, err := e.turns.RecentTurns(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearHistory deletes all of the user's turns.
func (e *Engine) ClearHistory(ctx context.Context, userID string) error {
	if err := e.turns.DeleteTurns(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
