// Package storage defines persistence for documents, chunk metadata and conversation turns.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/tanya/internal/models"
)

// ErrNotFound is returned when a document does not exist for the user.
var ErrNotFound = errors.New("not found")

// Storage persists documents and the chunk metadata that maps (user, position) to its source.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, userID, fileID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, fileID string, status models.DocumentStatus, errMsg string) error
	// DeleteDocument removes the document and its chunks, reporting whether it existed.
	DeleteDocument(ctx context.Context, userID, fileID string) (bool, error)

	// Chunk operations
	// CommitChunks records chunks and marks the document indexed in one transaction.
	CommitChunks(ctx context.Context, fileID string, pageCount int, chunks []*models.Chunk) error
	ListChunks(ctx context.Context, userID string) ([]*models.Chunk, error)
	ChunksByPositions(ctx context.Context, userID string, positions []int) (map[int]*models.Chunk, error)
	// RenumberChunks assigns position i to chunkIDs[i] in one transaction.
	RenumberChunks(ctx context.Context, userID string, chunkIDs []string) error
	// MaxPosition returns the highest chunk position of the user, or -1 without chunks.
	MaxPosition(ctx context.Context, userID string) (int, error)

	// Stats; an empty userID counts across all users.
	CountDocuments(ctx context.Context, userID string) (int64, error)
	CountChunks(ctx context.Context, userID string) (int64, error)

	DeleteUserData(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	Close() error
}

// TurnStore persists conversation turns.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn *models.Turn) error
	// RecentTurns returns up to n turns, most recent first.
	RecentTurns(ctx context.Context, userID string, n int) ([]*models.Turn, error)
	DeleteTurns(ctx context.Context, userID string) error
}
