package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/hyperjump/tanya/internal/models"
	"go.uber.org/zap"
)

const snapshotExt = ".vec"

var safeUserID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Store owns one VectorIndex per user, lazily loaded from the user's snapshot file.
// Mutations (Append, Rebuild, Drop) for one user must not overlap; callers serialize them
// and an overlap is reported as models.ErrConcurrentWrite.
type Store struct {
	dir        string
	indexType  string
	dimensions int
	logger     *zap.Logger

	mu      sync.Mutex
	indexes map[string]VectorIndex
	writing map[string]bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store that keeps snapshots under dir.
func NewStore(dir, indexType string, dimensions int, opts ...StoreOption) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	s := &Store{
		dir:        dir,
		indexType:  indexType,
		dimensions: dimensions,
		logger:     zap.NewNop(),
		indexes:    make(map[string]VectorIndex),
		writing:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// SnapshotPath returns the snapshot file for userID. IDs that are not plain file names are hashed.
func (s *Store) SnapshotPath(userID string) string {
	name := userID
	if !safeUserID.MatchString(userID) || userID == "." || userID == ".." {
		sum := sha256.Sum256([]byte(userID))
		name = "u-" + hex.EncodeToString(sum[:])[:32]
	}
	return filepath.Join(s.dir, name+snapshotExt)
}

// OpenOrCreate returns the user's index, loading the persisted snapshot on first use.
// A missing snapshot yields an empty index; an unreadable one fails with models.ErrIndexLoad.
func (s *Store) OpenOrCreate(userID string) (VectorIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(userID)
}

func (s *Store) openLocked(userID string) (VectorIndex, error) {
	if idx, ok := s.indexes[userID]; ok {
		return idx, nil
	}
	idx, err := NewVectorIndex(s.indexType, s.dimensions)
	if err != nil {
		return nil, models.Classify(models.ErrIndexLoad, err)
	}
	path := s.SnapshotPath(userID)
	if err := idx.Load(path); err != nil {
		_ = idx.Close()
		s.logger.Error("failed to load vector index snapshot",
			zap.String("user_id", userID),
			zap.String("path", path),
			zap.Error(err))
		return nil, models.Classify(models.ErrIndexLoad, fmt.Errorf("%s: %w", path, err))
	}
	s.indexes[userID] = idx
	s.logger.Debug("vector index opened",
		zap.String("user_id", userID),
		zap.Int("size", idx.Size()))
	return idx, nil
}

// beginWrite marks userID as having an in-flight mutation.
func (s *Store) beginWrite(userID, op string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writing[userID] {
		s.logger.Error("overlapping vector index mutation",
			zap.String("user_id", userID),
			zap.String("op", op))
		return nil, fmt.Errorf("%w: %s for user %q", models.ErrConcurrentWrite, op, userID)
	}
	s.writing[userID] = true
	return func() {
		s.mu.Lock()
		delete(s.writing, userID)
		s.mu.Unlock()
	}, nil
}

// Append adds vectors to the user's index and returns the first assigned position.
// The snapshot is not written; call Persist.
func (s *Store) Append(ctx context.Context, userID string, vectors [][]float32) (int, error) {
	done, err := s.beginWrite(userID, "append")
	if err != nil {
		return 0, err
	}
	defer done()

	idx, err := s.OpenOrCreate(userID)
	if err != nil {
		return 0, err
	}
	return idx.Append(ctx, vectors)
}

// Query returns up to k positions ranked by similarity. An empty index returns no hits.
// A search that races a rebuild is retried once against the replacement index.
func (s *Store) Query(ctx context.Context, userID string, query []float32, k int) ([]Hit, error) {
	hits, err := s.query(ctx, userID, query, k)
	if errors.Is(err, ErrIndexClosed) {
		hits, err = s.query(ctx, userID, query, k)
	}
	return hits, err
}

func (s *Store) query(ctx context.Context, userID string, query []float32, k int) ([]Hit, error) {
	idx, err := s.OpenOrCreate(userID)
	if err != nil {
		return nil, err
	}
	if idx.Size() == 0 {
		return []Hit{}, nil
	}
	return idx.Search(ctx, query, k)
}

// Rebuild replaces the user's index with vectors at positions 0..n-1 and persists it.
// With no vectors the snapshot is removed.
func (s *Store) Rebuild(ctx context.Context, userID string, vectors [][]float32) error {
	done, err := s.beginWrite(userID, "rebuild")
	if err != nil {
		return err
	}
	defer done()
	if err := ctx.Err(); err != nil {
		return err
	}

	fresh, err := NewVectorIndex(s.indexType, s.dimensions)
	if err != nil {
		return err
	}
	path := s.SnapshotPath(userID)
	if len(vectors) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			_ = fresh.Close()
			return fmt.Errorf("failed to remove index snapshot: %w", err)
		}
	} else {
		if err := fresh.Reset(vectors); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("failed to rebuild index: %w", err)
		}
		if err := fresh.Save(path); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("failed to persist rebuilt index: %w", err)
		}
	}

	s.mu.Lock()
	old := s.indexes[userID]
	s.indexes[userID] = fresh
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.logger.Info("vector index rebuilt",
		zap.String("user_id", userID),
		zap.Int("size", len(vectors)))
	return nil
}

// Persist writes the user's index snapshot. An empty index removes the snapshot instead.
func (s *Store) Persist(userID string) error {
	idx, err := s.OpenOrCreate(userID)
	if err != nil {
		return err
	}
	path := s.SnapshotPath(userID)
	if idx.Size() == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove index snapshot: %w", err)
		}
		return nil
	}
	if err := idx.Save(path); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	return nil
}

// Size returns the number of vectors in the user's index.
func (s *Store) Size(userID string) (int, error) {
	idx, err := s.OpenOrCreate(userID)
	if err != nil {
		return 0, err
	}
	return idx.Size(), nil
}

// Drop removes the user's index from memory and disk.
func (s *Store) Drop(userID string) error {
	done, err := s.beginWrite(userID, "drop")
	if err != nil {
		return err
	}
	defer done()

	s.mu.Lock()
	idx := s.indexes[userID]
	delete(s.indexes, userID)
	s.mu.Unlock()
	if idx != nil {
		_ = idx.Close()
	}
	if err := os.Remove(s.SnapshotPath(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove index snapshot: %w", err)
	}
	return nil
}

// Dimensions returns the vector dimension of every index in the store.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Close releases all loaded indexes. Snapshots are not written.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for user, idx := range s.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.indexes, user)
	}
	return firstErr
}
