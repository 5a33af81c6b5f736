package indexer

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/tanya/internal/models"
)

func TestChunker_Split(t *testing.T) {
	c := NewChunker(10, 3)
	segs := c.Split("one two three four five six seven")
	if len(segs) < 3 {
		t.Fatalf("expected several segments, got %q", segs)
	}
	for _, s := range segs {
		if utf8.RuneCountInString(s) > 10 {
			t.Errorf("segment too long: %q", s)
		}
	}
	if segs[0] != "one two" {
		t.Errorf("first segment should end at a word boundary: %q", segs[0])
	}
	if !strings.HasSuffix(segs[len(segs)-1], "seven") {
		t.Errorf("last segment should reach the end: %q", segs[len(segs)-1])
	}
	if !reflect.DeepEqual(segs, c.Split("one two three four five six seven")) {
		t.Error("split should be deterministic")
	}
}

func TestChunker_SplitOverlap(t *testing.T) {
	c := NewChunker(700, 100)
	text := strings.Repeat("abcdefghi ", 150) // 1500 runes
	segs := c.Split(text)
	if len(segs) != 3 {
		t.Fatalf("got %d segments", len(segs))
	}
	tail := segs[0][len(segs[0])-50:]
	if !strings.Contains(segs[1], tail) {
		t.Error("consecutive segments should overlap")
	}
}

func TestChunker_SplitShortAndEmpty(t *testing.T) {
	c := NewChunker(700, 100)
	if segs := c.Split("A short page."); len(segs) != 1 || segs[0] != "A short page." {
		t.Errorf("short text: %q", segs)
	}
	for _, text := range []string{"", "   \n\t  "} {
		if segs := c.Split(text); len(segs) != 0 {
			t.Errorf("Split(%q) = %q, want none", text, segs)
		}
	}
}

func TestChunker_SplitNoWhitespace(t *testing.T) {
	c := NewChunker(4, 1)
	segs := c.Split("abcdefghij")
	want := []string{"abcd", "defg", "ghij"}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("got %q, want %q", segs, want)
	}
}

func TestChunker_ChunkPage(t *testing.T) {
	c := NewChunker(700, 100).WithPreviewLength(5)
	chunks := c.ChunkPage("u1", "f1", "a.pdf", models.Page{Number: 3, Text: "Hello world"})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	ch := chunks[0]
	if ch.UserID != "u1" || ch.FileID != "f1" || ch.Filename != "a.pdf" || ch.PageNumber != 3 {
		t.Errorf("metadata not stamped: %+v", ch)
	}
	if ch.Content != "Hello world" || ch.Preview != "Hello" {
		t.Errorf("content=%q preview=%q", ch.Content, ch.Preview)
	}
	if ch.ID == "" {
		t.Error("chunk ID should be set")
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  b  ", "a b"},
		{"a\r\nb", "a\nb"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"a\x00b\tc", "ab c"},
		{"\n\n", ""},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
