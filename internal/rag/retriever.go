// Package rag answers questions from a user's indexed documents: retrieval, prompt
// assembly, and the blocking and streaming conversational query paths.
package rag

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

// Retrieved is a chunk returned for a query vector, best first.
type Retrieved struct {
	Chunk *models.Chunk
	Score float64
}

// Retriever joins nearest-neighbour positions against chunk metadata.
type Retriever struct {
	storage storage.Storage
	vectors *vector.Store
}

// NewRetriever creates a retriever over the given stores.
func NewRetriever(st storage.Storage, vectors *vector.Store) *Retriever {
	return &Retriever{storage: st, vectors: vectors}
}

// Retrieve returns up to k chunks nearest to query. Positions without metadata
// (vectors orphaned by a failed ingestion) are skipped.
func (r *Retriever) Retrieve(ctx context.Context, userID string, query []float32, k int) ([]Retrieved, error) {
	hits, err := r.vectors.Query(ctx, userID, query, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Retrieved{}, nil
	}

	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	chunks, err := r.storage.ChunksByPositions(ctx, userID, positions)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk metadata: %w", err)
	}

	out := make([]Retrieved, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.Position]
		if !ok {
			continue
		}
		out = append(out, Retrieved{Chunk: c, Score: h.Score})
	}
	return out, nil
}

// Sources returns the distinct citations of retrieved chunks in rank order.
func Sources(retrieved []Retrieved) []models.Source {
	sources := make([]models.Source, len(retrieved))
	for i, r := range retrieved {
		sources[i] = r.Chunk.Source()
	}
	return models.UniqueSources(sources)
}
