//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub used when the binary is built without FAISS.
type FAISSIndex struct{}

// NewFAISSIndex always fails without the faiss build tag.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Append(ctx context.Context, vectors [][]float32) (int, error) {
	return 0, errFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Reset(vectors [][]float32) error { return errFAISSUnavailable }
func (f *FAISSIndex) Save(path string) error          { return errFAISSUnavailable }
func (f *FAISSIndex) Load(path string) error          { return errFAISSUnavailable }
func (f *FAISSIndex) Size() int                       { return 0 }
func (f *FAISSIndex) Dimensions() int                 { return 0 }
func (f *FAISSIndex) Close() error                    { return nil }
