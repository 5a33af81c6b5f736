package service

import (
	"context"
	"time"

	"github.com/hyperjump/tanya/internal/storage"
)

// Status summarises the service, or one user when UserID is set.
type Status struct {
	UserID            string `json:"user_id,omitempty"`
	Documents         int64  `json:"documents"`
	Chunks            int64  `json:"chunks"`
	IndexSize         int    `json:"index_size,omitempty"`
	IndexType         string `json:"index_type"`
	Dimensions        int    `json:"dimensions"`
	EmbeddingProvider string `json:"embedding_provider"`
	LLMProvider       string `json:"llm_provider"`
	DiskUsageBytes    int64  `json:"disk_usage_bytes"`
	Uptime            string `json:"uptime"`
}

// Status reports counts for userID, or across all users when userID is empty.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	docs, err := s.storage.CountDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.storage.CountChunks(ctx, userID)
	if err != nil {
		return nil, err
	}
	paths := append(storage.DatabaseFiles(s.cfg.Storage.DatabasePath), s.cfg.Storage.IndexDir)
	disk, err := storage.DiskUsageBytes(paths...)
	if err != nil {
		return nil, err
	}

	st := &Status{
		UserID:            userID,
		Documents:         docs,
		Chunks:            chunks,
		IndexType:         s.cfg.Vector.IndexType,
		Dimensions:        s.vectors.Dimensions(),
		EmbeddingProvider: s.cfg.Embedding.Provider,
		LLMProvider:       s.cfg.LLM.Provider,
		DiskUsageBytes:    disk,
		Uptime:            time.Since(s.started).Round(time.Second).String(),
	}
	if userID != "" {
		size, err := s.vectors.Size(userID)
		if err != nil {
			return nil, err
		}
		st.IndexSize = size
	}
	return st, nil
}
