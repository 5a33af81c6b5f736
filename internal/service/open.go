package service

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

// Open builds a service from configuration: SQLite storage, the configured turn store,
// embedder, answer generator and vector index backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	var (
		turns   storage.TurnStore = store
		closers []io.Closer
	)
	switch cfg.History.Backend {
	case "sqlite", "":
	case "redis":
		rdb, err := storage.NewRedisClient(ctx, cfg.History.RedisAddr, cfg.History.RedisPassword, cfg.History.RedisDB)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		turns = storage.NewRedisTurnStore(rdb, cfg.History.MaxTurns)
		closers = append(closers, rdb)
	default:
		_ = store.Close()
		return nil, fmt.Errorf("unknown history backend: %s (supported: sqlite, redis)", cfg.History.Backend)
	}

	closeAll := func() {
		_ = store.Close()
		for _, c := range closers {
			_ = c.Close()
		}
	}

	embedder, err := embedding.New(&cfg.Embedding, logger)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	generator, err := llm.New(&cfg.LLM, logger)
	if err != nil {
		_ = embedder.Close()
		closeAll()
		return nil, fmt.Errorf("failed to create answer generator: %w", err)
	}
	vectors, err := vector.NewStore(cfg.Storage.IndexDir, cfg.Vector.IndexType, embedder.Dimensions(), vector.WithLogger(logger))
	if err != nil {
		_ = embedder.Close()
		closeAll()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	logger.Info("service ready",
		zap.String("database", cfg.Storage.DatabasePath),
		zap.String("index_dir", cfg.Storage.IndexDir),
		zap.String("index_type", cfg.Vector.IndexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("history", cfg.History.Backend))

	return New(Dependencies{
		Config:    cfg,
		Storage:   store,
		Turns:     turns,
		Vectors:   vectors,
		Embedder:  embedder,
		Generator: generator,
		Closers:   closers,
	}, WithLogger(logger)), nil
}
