package models

import "time"

// Source cites the file and page a retrieved chunk came from.
type Source struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
}

// Turn is one persisted question/answer exchange. Turns are immutable once written.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	CreatedAt time.Time `json:"timestamp"`
}

// Answer is the result of a conversational query.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// UniqueSources returns sources in first-seen order without duplicates.
func UniqueSources(sources []Source) []Source {
	seen := make(map[Source]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
