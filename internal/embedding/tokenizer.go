package embedding

import (
	"strings"
	"unicode"
)

// BERT special token ids.
const (
	clsTokenID = 101
	sepTokenID = 102
	// word ids start above the special and unused range of the BERT vocabulary
	firstWordID = 1000
	vocabSize   = 30522
)

// Tokens is the fixed-length model input for one text.
type Tokens struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Len returns the number of attended tokens, including [CLS] and [SEP].
func (t Tokens) Len() int {
	n := 0
	for _, m := range t.AttentionMask {
		n += int(m)
	}
	return n
}

// Tokenizer turns text into BERT-style inputs padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) Tokens
}

// SimpleTokenizer maps lowercased words to hashed ids. It needs no vocabulary file, so it
// suits models fine-tuned with the same scheme and tests; words past maxTokens-2 are dropped.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] words... [SEP] followed by padding.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) Tokens {
	if maxTokens < 2 {
		maxTokens = 256
	}
	tok := Tokens{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	pos := 0
	put := func(id int64) {
		tok.InputIDs[pos] = id
		tok.AttentionMask[pos] = 1
		pos++
	}
	put(clsTokenID)
	for _, word := range SplitWords(strings.ToLower(text)) {
		if pos == maxTokens-1 {
			break
		}
		put(int64(firstWordID + HashString(word)%(vocabSize-firstWordID)))
	}
	put(sepTokenID)
	return tok
}

// SplitWords splits text into runs of letters and digits.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		// -MinInt overflows back to itself
		h = 0
	}
	return h
}
