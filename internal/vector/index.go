// Package vector provides the per-user positional vector index and its snapshot store.
package vector

import (
	"context"
	"errors"
)

// ErrIndexClosed is returned by operations on an index after Close.
var ErrIndexClosed = errors.New("vector index closed")

// VectorIndex is an append-only sequence of vectors addressed by position.
// Positions are contiguous from 0 and assigned in append order.
type VectorIndex interface {
	// Append adds vectors and returns the position assigned to the first one.
	Append(ctx context.Context, vectors [][]float32) (int, error)
	// Search ranks positions by descending score; equal scores rank the lower position first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Reset replaces the whole contents with vectors at positions 0..n-1.
	Reset(vectors [][]float32) error
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// Hit is a single nearest-neighbour result.
type Hit struct {
	Position int
	Score    float64 // inner product; cosine similarity for normalized vectors
}
