package models

import (
	"fmt"
	"strings"
)

// DefaultTopK is the number of chunks retrieved per question when none is given.
const DefaultTopK = 3

// QueryRequest is a question asked against the caller's documents.
type QueryRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// Validate trims the question, rejects empty ones and normalizes K to [1, maxK].
func (q *QueryRequest) Validate(maxK int) error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if q.K <= 0 {
		q.K = DefaultTopK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
