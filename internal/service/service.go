// Package service is the transport-independent entry point: ingestion, deletion,
// conversational queries and per-user housekeeping.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

// ErrInvalidInput marks requests rejected before any work is done.
var ErrInvalidInput = errors.New("invalid input")

// Dependencies are the collaborators a Service is built from.
type Dependencies struct {
	Config    *config.Config
	Storage   storage.Storage
	Turns     storage.TurnStore
	Vectors   *vector.Store
	Embedder  embedding.Embedder
	Generator llm.AnswerGenerator
	// Closers are released by Close after the service's own resources, in order.
	Closers []io.Closer
}

// Service serializes each user's mutations through a WriterQueue and serves reads directly.
type Service struct {
	cfg       *config.Config
	storage   storage.Storage
	turns     storage.TurnStore
	vectors   *vector.Store
	embedder  embedding.Embedder
	indexer   *indexer.Indexer
	engine    *rag.Engine
	extractor *extract.Extractor
	queue     *indexer.WriterQueue
	closers   []io.Closer
	logger    *zap.Logger
	started   time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger passed down to every component.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New assembles a service from deps.
func New(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		cfg:       deps.Config,
		storage:   deps.Storage,
		turns:     deps.Turns,
		vectors:   deps.Vectors,
		embedder:  deps.Embedder,
		extractor: extract.NewExtractor(),
		closers:   deps.Closers,
		logger:    zap.NewNop(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.turns == nil {
		if ts, ok := deps.Storage.(storage.TurnStore); ok {
			s.turns = ts
		}
	}
	s.queue = indexer.NewWriterQueue(s.logger)
	s.indexer = indexer.NewIndexer(deps.Storage, deps.Embedder, deps.Vectors, deps.Config, indexer.WithLogger(s.logger))
	s.engine = rag.NewEngine(
		rag.NewRetriever(deps.Storage, deps.Vectors),
		deps.Embedder, deps.Generator, s.turns, deps.Config,
		rag.WithLogger(s.logger),
	)
	return s
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return nil
}

// Ingest indexes already extracted pages for the user. An empty fileID gets a fresh id.
func (s *Service) Ingest(ctx context.Context, userID, fileID, filename string, pages []models.Page) (*models.Document, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	req := indexer.IngestRequest{
		UserID:   userID,
		FileID:   fileID,
		Filename: filename,
		FileType: extract.FileType(filename),
		Pages:    pages,
	}
	var doc *models.Document
	err := s.queue.Do(ctx, userID, func(ctx context.Context) error {
		var err error
		doc, err = s.indexer.Ingest(ctx, req)
		return err
	})
	return doc, err
}

// IngestFile extracts the file at path and ingests it under filename (the base name of
// path when empty).
func (s *Service) IngestFile(ctx context.Context, userID, fileID, path, filename string) (*models.Document, error) {
	if filename == "" {
		filename = filepath.Base(path)
	}
	if !s.allowed(filename) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, filename)
	}
	pages, err := s.extractor.ExtractPages(path)
	if err != nil {
		return nil, s.extractError(err)
	}
	return s.Ingest(ctx, userID, fileID, filename, pages)
}

// IngestBytes extracts an uploaded file and ingests it.
func (s *Service) IngestBytes(ctx context.Context, userID, filename string, content []byte) (*models.Document, error) {
	if !s.allowed(filename) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, filename)
	}
	pages, err := s.extractor.ExtractPagesBytes(content, filepath.Ext(filename))
	if err != nil {
		return nil, s.extractError(err)
	}
	return s.Ingest(ctx, userID, "", filename, pages)
}

func (s *Service) allowed(filename string) bool {
	return extract.Allowed(filename, s.cfg.Ingest.Extensions)
}

func (s *Service) extractError(err error) error {
	if errors.Is(err, models.ErrUnsupportedFormat) {
		return err
	}
	return models.Classify(models.ErrIngestion, fmt.Errorf("extraction failed: %w", err))
}

// Delete removes a document and rebuilds the user's index. Unknown ids succeed without
// changes; the result reports whether the document existed.
func (s *Service) Delete(ctx context.Context, userID, fileID string) (bool, error) {
	if err := requireUser(userID); err != nil {
		return false, err
	}
	var existed bool
	err := s.queue.Do(ctx, userID, func(ctx context.Context) error {
		var err error
		existed, err = s.indexer.Delete(ctx, userID, fileID)
		return err
	})
	return existed, err
}

// Rebuild re-embeds the user's chunks into a fresh index and renumbers their positions.
// It returns the size of the rebuilt index.
func (s *Service) Rebuild(ctx context.Context, userID string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	var size int
	err := s.queue.Do(ctx, userID, func(ctx context.Context) error {
		if err := s.indexer.Rebuild(ctx, userID); err != nil {
			return err
		}
		var err error
		size, err = s.vectors.Size(userID)
		return err
	})
	return size, err
}

func (s *Service) validate(userID string, req *models.QueryRequest) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if req.K <= 0 {
		req.K = s.cfg.Query.TopK
	}
	if err := req.Validate(s.cfg.Query.MaxK); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Query answers a question and records the turn.
func (s *Service) Query(ctx context.Context, userID string, req models.QueryRequest) (*models.Answer, error) {
	if err := s.validate(userID, &req); err != nil {
		return nil, err
	}
	return s.engine.Query(ctx, userID, req.Question, req.K)
}

// StreamQuery answers a question as a stream of events. Invalid requests fail before the
// stream starts.
func (s *Service) StreamQuery(ctx context.Context, userID string, req models.QueryRequest) (<-chan rag.Event, error) {
	if err := s.validate(userID, &req); err != nil {
		return nil, err
	}
	return s.engine.Stream(ctx, userID, req.Question, req.K), nil
}

// Documents lists the user's documents, newest first.
func (s *Service) Documents(ctx context.Context, userID string) ([]*models.Document, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.storage.ListDocuments(ctx, userID)
}

// Document returns one of the user's documents or storage.ErrNotFound.
func (s *Service) Document(ctx context.Context, userID, fileID string) (*models.Document, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.storage.GetDocument(ctx, userID, fileID)
}

// History returns up to limit recent turns, oldest first. limit <= 0 uses the configured
// history depth.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*models.Turn, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.Query.HistoryTurns
	}
	return s.engine.History(ctx, userID, limit)
}

// ClearHistory deletes the user's conversation turns.
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.engine.ClearHistory(ctx, userID)
}

// DeleteUserData removes every document, chunk, turn and the index snapshot of the user.
func (s *Service) DeleteUserData(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.queue.Do(ctx, userID, func(ctx context.Context) error {
		if err := s.storage.DeleteUserData(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
		if err := s.turns.DeleteTurns(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		if err := s.vectors.Drop(userID); err != nil {
			return err
		}
		s.logger.Info("user data deleted", zap.String("user_id", userID))
		return nil
	})
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Close drains queued writes and releases every resource.
func (s *Service) Close() error {
	s.queue.Close()
	var errs []error
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.storage.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
