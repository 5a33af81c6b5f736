package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/service"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"compact", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteAnswer_Text(t *testing.T) {
	answer := &models.Answer{
		Answer:  "The answer is 42.",
		Sources: []models.Source{{Filename: "guide.pdf", Page: 3}},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, answer, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "The answer is 42.") {
		t.Errorf("answer missing from output: %q", out)
	}
	if !strings.Contains(out, "guide.pdf (page 3)") {
		t.Errorf("source missing from output: %q", out)
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	answer := &models.Answer{Answer: "42", Sources: []models.Source{{Filename: "a.txt", Page: 1}}}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, answer, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.Answer
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Answer != "42" || len(decoded.Sources) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func streamOf(events ...rag.Event) <-chan rag.Event {
	ch := make(chan rag.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestWriteStream(t *testing.T) {
	events := streamOf(
		rag.Event{Type: rag.EventToken, Token: "The "},
		rag.Event{Type: rag.EventToken, Token: "answer"},
		rag.Event{Type: rag.EventDone, Sources: []models.Source{{Filename: "a.txt", Page: 1}}},
	)
	var buf bytes.Buffer
	if err := WriteStream(&buf, events, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "The answer\n") {
		t.Errorf("tokens not written inline: %q", out)
	}
	if !strings.Contains(out, "a.txt (page 1)") {
		t.Errorf("sources missing: %q", out)
	}
}

func TestWriteStream_ErrorEvent(t *testing.T) {
	events := streamOf(
		rag.Event{Type: rag.EventToken, Token: "par"},
		rag.Event{Type: rag.EventError, Error: "llm down", Code: "query_failure"},
	)
	var buf bytes.Buffer
	err := WriteStream(&buf, events, OutputJSON)
	if err == nil || !strings.Contains(err.Error(), "query_failure") {
		t.Fatalf("expected error carrying the code, got %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one JSON line per event, got %d: %q", len(lines), buf.String())
	}
}

func TestWriteDocuments(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No documents") {
		t.Errorf("empty list output = %q", buf.String())
	}

	buf.Reset()
	docs := []*models.Document{{FileID: "f1", Filename: "report.pdf", PageCount: 2, Status: models.StatusFailed, Error: "boom"}}
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"f1", "report.pdf", "failed", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"documents": []`) {
		t.Errorf("nil documents should encode as an empty list: %q", buf.String())
	}
}

func TestWriteUploads(t *testing.T) {
	results := []models.UploadResult{
		{Filename: "a.txt", FileID: "f1", Status: models.StatusIndexed},
		{Filename: "b.exe", Error: "unsupported format: .exe", Code: "unsupported_format"},
	}
	var buf bytes.Buffer
	if err := WriteUploads(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "a.txt: indexed f1") || !strings.Contains(out, "b.exe: failed (unsupported_format)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestWriteHistory(t *testing.T) {
	turns := []*models.Turn{{Question: "q1", Answer: "a1", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}}
	var buf bytes.Buffer
	if err := WriteHistory(&buf, turns, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Q: q1") || !strings.Contains(out, "A: a1") || !strings.Contains(out, "2024-01-02 03:04:05") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestWriteStatus(t *testing.T) {
	st := &service.Status{UserID: "alice", Documents: 2, Chunks: 5, IndexSize: 5, IndexType: "memory", Dimensions: 384, DiskUsageBytes: 2048}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"alice", "Documents:         2", "memory (384 dims)", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
