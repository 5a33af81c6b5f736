package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tanya/internal/models"
)

// SQLiteStorage implements Storage and TurnStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		file_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_type TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		preview TEXT NOT NULL,
		position INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_user_position ON chunks(user_id, position);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `file_id, user_id, filename, file_type, page_count, status, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var status string
	if err := row.Scan(&doc.FileID, &doc.UserID, &doc.Filename, &doc.FileType, &doc.PageCount,
		&status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.StatusProcessing
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.FileID, doc.UserID, doc.Filename, doc.FileType, doc.PageCount,
		string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument returns the user's document by file ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, userID, fileID string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_id = ? AND user_id = ?`,
		fileID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status and error message of a document.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, fileID string, status models.DocumentStatus, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE file_id = ?`,
		string(status), errMsg, time.Now(), fileID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", fileID, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and all its chunks in one transaction.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, userID, fileID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ? AND user_id = ?`, fileID, userID); err != nil {
		return false, fmt.Errorf("failed to delete chunks: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ? AND user_id = ?`, fileID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	n, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CommitChunks inserts chunks and marks the document indexed in a transaction.
func (s *SQLiteStorage) CommitChunks(ctx context.Context, fileID string, pageCount int, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, user_id, file_id, filename, page_number, content, preview, position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.New().String()
		}
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.UserID, chunk.FileID, chunk.Filename,
			chunk.PageNumber, chunk.Content, chunk.Preview, chunk.Position, chunk.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = '', page_count = ?, updated_at = ? WHERE file_id = ?`,
		string(models.StatusIndexed), pageCount, now, fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", fileID, ErrNotFound)
	}
	return tx.Commit()
}

const chunkColumns = `id, user_id, file_id, filename, page_number, content, preview, position, created_at`

func scanChunk(row scanner) (*models.Chunk, error) {
	var c models.Chunk
	if err := row.Scan(&c.ID, &c.UserID, &c.FileID, &c.Filename, &c.PageNumber,
		&c.Content, &c.Preview, &c.Position, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChunks returns all of the user's chunks ordered by position.
func (s *SQLiteStorage) ListChunks(ctx context.Context, userID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE user_id = ? ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]*models.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunksByPositions returns the user's chunks at the given positions, keyed by position.
// Positions without metadata are absent from the map.
func (s *SQLiteStorage) ChunksByPositions(ctx context.Context, userID string, positions []int) (map[int]*models.Chunk, error) {
	out := make(map[int]*models.Chunk, len(positions))
	if len(positions) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(positions)+1)
	args = append(args, userID)
	for _, p := range positions {
		args = append(args, p)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(positions)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE user_id = ? AND position IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.Position] = c
	}
	return out, rows.Err()
}

// RenumberChunks sets position i on chunkIDs[i] in one transaction.
func (s *SQLiteStorage) RenumberChunks(ctx context.Context, userID string, chunkIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET position = ? WHERE id = ? AND user_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, i, id, userID); err != nil {
			return fmt.Errorf("failed to renumber chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MaxPosition returns the highest chunk position of the user, or -1 without chunks.
func (s *SQLiteStorage) MaxPosition(ctx context.Context, userID string) (int, error) {
	var pos sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(position) FROM chunks WHERE user_id = ?`, userID,
	).Scan(&pos); err != nil {
		return 0, err
	}
	if !pos.Valid {
		return -1, nil
	}
	return int(pos.Int64), nil
}

func (s *SQLiteStorage) count(ctx context.Context, table, userID string) (int64, error) {
	var count int64
	var err error
	if userID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE user_id = ?`, userID).Scan(&count)
	}
	return count, err
}

// CountDocuments returns the number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "documents", userID)
}

// CountChunks returns the number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "chunks", userID)
}

// DeleteUserData removes every document, chunk and turn belonging to the user.
func (s *SQLiteStorage) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "documents", "turns"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// AppendTurn stores a conversation turn.
func (s *SQLiteStorage) AppendTurn(ctx context.Context, turn *models.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	sources, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, user_id, question, answer, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.UserID, turn.Question, turn.Answer, string(sources), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to n of the user's turns, most recent first.
func (s *SQLiteStorage) RecentTurns(ctx context.Context, userID string, n int) ([]*models.Turn, error) {
	turns := make([]*models.Turn, 0)
	if n <= 0 {
		return turns, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, sources, created_at
		 FROM turns WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Turn
		var sources string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Question, &t.Answer, &sources, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &t.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// DeleteTurns removes the user's conversation history.
func (s *SQLiteStorage) DeleteTurns(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
