// Package models defines core data structures for documents, chunks, and conversation turns.
package models

import "time"

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	// StatusProcessing is set while a document is being chunked, embedded and appended.
	StatusProcessing DocumentStatus = "processing"
	// StatusIndexed means every chunk of the document is searchable.
	StatusIndexed DocumentStatus = "indexed"
	// StatusFailed means ingestion stopped; none of the document's chunks are visible.
	StatusFailed DocumentStatus = "failed"
)

// Document is one uploaded file owned by a user.
type Document struct {
	FileID    string         `json:"file_id" db:"file_id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Filename  string         `json:"filename" db:"filename"`
	FileType  string         `json:"file_type" db:"file_type"`
	PageCount int            `json:"page_count" db:"page_count"`
	Status    DocumentStatus `json:"status" db:"status"`
	Error     string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Page is the extracted text of one page (or sheet, or slide) of a document.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Chunk is a segment of a page. Position is its offset in the owner's vector index.
type Chunk struct {
	ID         string    `json:"chunk_id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	FileID     string    `json:"file_id" db:"file_id"`
	Filename   string    `json:"filename" db:"filename"`
	PageNumber int       `json:"page" db:"page_number"`
	Content    string    `json:"-" db:"content"`
	Preview    string    `json:"preview" db:"preview"`
	Position   int       `json:"position" db:"position"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Source returns the citation for the chunk.
func (c *Chunk) Source() Source {
	return Source{Filename: c.Filename, Page: c.PageNumber}
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// UploadResult reports the outcome of one uploaded file.
type UploadResult struct {
	Filename string         `json:"filename"`
	FileID   string         `json:"file_id,omitempty"`
	Status   DocumentStatus `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
}
