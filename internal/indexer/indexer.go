package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

// finishTimeout bounds bookkeeping that must complete after the caller has gone away.
const finishTimeout = 10 * time.Second

// Indexer ingests documents into a user's vector index and rebuilds it on deletion.
// Calls that mutate one user's index must be serialized by the caller (see WriterQueue).
type Indexer struct {
	storage          storage.Storage
	embedder         embedding.Embedder
	vectors          *vector.Store
	chunker          *Chunker
	embedConcurrency int
	embedTimeout     time.Duration
	rebuildTimeout   time.Duration
	logger           *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingestion and rebuild events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	st storage.Storage,
	embedder embedding.Embedder,
	vectors *vector.Store,
	cfg *config.Config,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:          st,
		embedder:         embedder,
		vectors:          vectors,
		chunker:          NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap).WithPreviewLength(cfg.Chunking.PreviewLength),
		embedConcurrency: cfg.Ingest.EmbedConcurrency,
		embedTimeout:     cfg.Embedding.Timeout,
		rebuildTimeout:   cfg.Query.RebuildTimeout,
	}
	if idx.embedConcurrency <= 0 {
		idx.embedConcurrency = 1
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IngestRequest is one extracted document to index.
type IngestRequest struct {
	UserID   string
	FileID   string // generated when empty
	Filename string
	FileType string
	Pages    []models.Page
}

// Ingest chunks, embeds and appends a document. On success the document is indexed and its
// chunk metadata points at the appended positions. On failure the document is marked failed,
// none of its chunk metadata exists, and vectors already appended stay orphaned.
// The returned document reflects the final status in both cases.
func (idx *Indexer) Ingest(ctx context.Context, req IngestRequest) (*models.Document, error) {
	if req.FileID == "" {
		req.FileID = fileid.New()
	}
	doc := &models.Document{
		FileID:    req.FileID,
		UserID:    req.UserID,
		Filename:  req.Filename,
		FileType:  req.FileType,
		PageCount: len(req.Pages),
		Status:    models.StatusProcessing,
	}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		return nil, models.Classify(models.ErrIngestion, fmt.Errorf("failed to store document: %w", err))
	}

	if _, err := idx.Repair(ctx, req.UserID); err != nil {
		idx.markFailed(ctx, doc, err)
		return doc, models.Classify(models.ErrIngestion, err)
	}
	chunks, err := idx.ingest(ctx, req)
	if err != nil {
		idx.markFailed(ctx, doc, err)
		return doc, models.Classify(models.ErrIngestion, err)
	}
	doc.Status = models.StatusIndexed
	if idx.logger != nil {
		idx.logger.Info("document indexed",
			zap.String("user_id", req.UserID),
			zap.String("file_id", req.FileID),
			zap.String("filename", req.Filename),
			zap.Int("pages", len(req.Pages)),
			zap.Int("chunks", chunks))
	}
	return doc, nil
}

func (idx *Indexer) ingest(ctx context.Context, req IngestRequest) (int, error) {
	pageChunks := make([][]*models.Chunk, len(req.Pages))
	for i, page := range req.Pages {
		pageChunks[i] = idx.chunker.ChunkPage(req.UserID, req.FileID, req.Filename, page)
	}

	pageVectors := make([][][]float32, len(req.Pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.embedConcurrency)
	for i, chunks := range pageChunks {
		if len(chunks) == 0 {
			continue
		}
		i, chunks := i, chunks
		g.Go(func() error {
			texts := make([]string, len(chunks))
			for j, c := range chunks {
				texts[j] = c.Content
			}
			vecs, err := idx.embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed page %d: %w", req.Pages[i].Number, err)
			}
			pageVectors[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	all := make([]*models.Chunk, 0)
	for i, chunks := range pageChunks {
		if len(chunks) == 0 {
			continue
		}
		start, err := idx.vectors.Append(ctx, req.UserID, pageVectors[i])
		if err != nil {
			return 0, fmt.Errorf("failed to append page %d: %w", req.Pages[i].Number, err)
		}
		for j, c := range chunks {
			c.Position = start + j
		}
		all = append(all, chunks...)
	}

	if len(all) > 0 {
		if err := idx.vectors.Persist(req.UserID); err != nil {
			return 0, err
		}
	}
	if err := idx.storage.CommitChunks(ctx, req.FileID, len(req.Pages), all); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(all), nil
}

// embed runs one embedding call bounded by the embedding timeout.
func (idx *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if idx.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, idx.embedTimeout)
		defer cancel()
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, models.WithTimeout(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func (idx *Indexer) markFailed(ctx context.Context, doc *models.Document, cause error) {
	doc.Status = models.StatusFailed
	doc.Error = cause.Error()
	// the request context may already be done; the status must still be recorded
	uctx, cancel := detached(ctx)
	defer cancel()
	if err := idx.storage.UpdateDocumentStatus(uctx, doc.FileID, models.StatusFailed, doc.Error); err != nil && idx.logger != nil {
		idx.logger.Error("failed to mark document failed", zap.String("file_id", doc.FileID), zap.Error(err))
	}
	if idx.logger != nil {
		idx.logger.Warn("ingestion failed",
			zap.String("user_id", doc.UserID),
			zap.String("file_id", doc.FileID),
			zap.Error(cause))
	}
}

// detached returns a context that outlives ctx's cancellation, bounded by finishTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// Delete removes a document and its chunks, then rebuilds the user's index from the chunks
// that remain. Deleting an unknown file only repairs a stale index (see Repair).
// Reports whether the document existed.
func (idx *Indexer) Delete(ctx context.Context, userID, fileID string) (bool, error) {
	existed, err := idx.storage.DeleteDocument(ctx, userID, fileID)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	if !existed {
		if idx.logger != nil {
			idx.logger.Debug("delete of unknown document",
				zap.String("user_id", userID), zap.String("file_id", fileID))
		}
		_, err := idx.Repair(ctx, userID)
		return false, err
	}
	if err := idx.Rebuild(ctx, userID); err != nil {
		return true, err
	}
	if idx.logger != nil {
		idx.logger.Info("document deleted", zap.String("user_id", userID), zap.String("file_id", fileID))
	}
	return true, nil
}

// Rebuild re-embeds every remaining chunk of the user in position order, replaces the
// index with the result and renumbers chunk positions 0..m-1. With no chunks the snapshot
// is removed.
func (idx *Indexer) Rebuild(ctx context.Context, userID string) error {
	if idx.rebuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, idx.rebuildTimeout)
		defer cancel()
	}
	started := time.Now()

	chunks, err := idx.storage.ListChunks(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		ids[i] = c.ID
	}

	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to re-embed chunks: %w", models.WithTimeout(err))
		}
	}
	if err := idx.vectors.Rebuild(ctx, userID, vecs); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", models.WithTimeout(err))
	}
	// the new index is live; stopping here would leave chunks pointing at old positions
	rctx, cancel := detached(ctx)
	defer cancel()
	if err := idx.storage.RenumberChunks(rctx, userID, ids); err != nil {
		if idx.logger != nil {
			idx.logger.Error("chunk positions are stale after rebuild",
				zap.String("user_id", userID), zap.Error(err))
		}
		return fmt.Errorf("failed to renumber chunks: %w", models.WithTimeout(err))
	}
	if idx.logger != nil {
		idx.logger.Info("index rebuilt",
			zap.String("user_id", userID),
			zap.Int("chunks", len(chunks)),
			zap.Duration("took", time.Since(started)))
	}
	return nil
}

// Repair rebuilds the user's index when chunk metadata points past its end, which happens
// when renumbering failed after a rebuild. Reports whether a rebuild ran.
func (idx *Indexer) Repair(ctx context.Context, userID string) (bool, error) {
	size, err := idx.vectors.Size(userID)
	if err != nil {
		return false, err
	}
	maxPos, err := idx.storage.MaxPosition(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read chunk positions: %w", err)
	}
	if maxPos < size {
		return false, nil
	}
	if idx.logger != nil {
		idx.logger.Warn("index out of step with chunk metadata, rebuilding",
			zap.String("user_id", userID),
			zap.Int("size", size),
			zap.Int("max_position", maxPos))
	}
	if err := idx.Rebuild(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}
