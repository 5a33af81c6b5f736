// Package indexer chunks pages, appends their embeddings to the owner's vector index and
// keeps chunk metadata in step with index positions.
package indexer

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/hyperjump/tanya/internal/models"
)

// Chunker splits page text into overlapping rune windows.
type Chunker struct {
	chunkSize     int
	chunkOverlap  int
	previewLength int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
// Non-positive size falls back to 700; overlap is clamped below size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 700
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Chunker{
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		previewLength: 200,
	}
}

// WithPreviewLength sets the rune length of chunk previews.
func (c *Chunker) WithPreviewLength(n int) *Chunker {
	if n > 0 {
		c.previewLength = n
	}
	return c
}

// Split returns the segments of text. A window ending mid-word is pulled back to the last
// whitespace in its second half. Whitespace-only text yields no segments.
func (c *Chunker) Split(text string) []string {
	runes := []rune(Preprocess(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var segments []string
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			for j := end; j > start+c.chunkSize/2; j-- {
				if unicode.IsSpace(runes[j-1]) {
					end = j
					break
				}
			}
		}
		if seg := strings.TrimSpace(string(runes[start:end])); seg != "" {
			segments = append(segments, seg)
		}
		if end >= n {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return segments
}

// ChunkPage returns the chunks of one page, stamped with its origin. Positions are left at zero.
func (c *Chunker) ChunkPage(userID, fileID, filename string, page models.Page) []*models.Chunk {
	segments := c.Split(page.Text)
	chunks := make([]*models.Chunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.New().String(),
			UserID:     userID,
			FileID:     fileID,
			Filename:   filename,
			PageNumber: page.Number,
			Content:    seg,
			Preview:    models.Preview(seg, c.previewLength),
		})
	}
	return chunks
}
