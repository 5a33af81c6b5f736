package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text: CRLF to LF, NUL and other control characters
// dropped, runs of horizontal whitespace collapsed to one space, and at most one blank line
// kept between paragraphs.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			pendingSpace = false
			newlines++
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
			continue
		default:
			if b.Len() > 0 {
				if newlines > 0 {
					if newlines > 2 {
						newlines = 2
					}
					b.WriteString(strings.Repeat("\n", newlines))
				} else if pendingSpace {
					b.WriteByte(' ')
				}
			}
			pendingSpace = false
			newlines = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}
