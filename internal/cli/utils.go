// Package cli provides output formatting and an HTTP client for the tanya command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/service"
	"github.com/hyperjump/tanya/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its sources.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(answer.Answer))
	writeSources(w, answer.Sources)
	return nil
}

func writeSources(w io.Writer, sources []models.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(w, "  - %s (page %d)\n", s.Filename, s.Page)
	}
}

// WriteStream writes events as they arrive. Text mode prints tokens inline and the sources
// at the end; JSON mode prints one event per line. An error event is returned as an error.
func WriteStream(w io.Writer, events <-chan rag.Event, format OutputFormat) error {
	var streamErr error
	for ev := range events {
		if format == OutputJSON {
			if err := json.NewEncoder(w).Encode(ev); err != nil {
				return err
			}
		} else {
			switch ev.Type {
			case rag.EventToken:
				fmt.Fprint(w, ev.Token)
			case rag.EventDone:
				fmt.Fprintln(w)
				writeSources(w, ev.Sources)
			}
		}
		if ev.Type == rag.EventError {
			streamErr = fmt.Errorf("%s: %s", ev.Code, ev.Error)
		}
	}
	return streamErr
}

// WriteDocuments writes one line per document.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, map[string]interface{}{"documents": docs})
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %-10s  %3d page(s)  %s\n", d.FileID, d.Status, d.PageCount, d.Filename)
		if d.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", d.Error)
		}
	}
	return nil
}

// WriteUploads writes the outcome of each uploaded file.
func WriteUploads(w io.Writer, results []models.UploadResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"results": results})
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s: failed (%s): %s\n", r.Filename, r.Code, r.Error)
			continue
		}
		fmt.Fprintf(w, "%s: %s %s\n", r.Filename, r.Status, r.FileID)
	}
	return nil
}

// WriteHistory writes turns oldest first.
func WriteHistory(w io.Writer, turns []*models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []*models.Turn{}
		}
		return writeJSON(w, map[string]interface{}{"history": turns})
	}
	if len(turns) == 0 {
		fmt.Fprintln(w, "No history.")
		return nil
	}
	for _, t := range turns {
		fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
		fmt.Fprintf(w, "[%s]\nQ: %s\nA: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Question, utils.Truncate(t.Answer, 300))
	}
	return nil
}

// WriteStatus writes service counters.
func WriteStatus(w io.Writer, st *service.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if st.UserID != "" {
		fmt.Fprintf(w, "User:              %s\n", st.UserID)
	}
	fmt.Fprintf(w, "Documents:         %d\n", st.Documents)
	fmt.Fprintf(w, "Chunks:            %d\n", st.Chunks)
	if st.UserID != "" {
		fmt.Fprintf(w, "Index size:        %d\n", st.IndexSize)
	}
	fmt.Fprintf(w, "Index type:        %s (%d dims)\n", st.IndexType, st.Dimensions)
	fmt.Fprintf(w, "Embedding:         %s\n", st.EmbeddingProvider)
	fmt.Fprintf(w, "LLM:               %s\n", st.LLMProvider)
	fmt.Fprintf(w, "Disk usage:        %s\n", formatBytes(st.DiskUsageBytes))
	if st.Uptime != "" {
		fmt.Fprintf(w, "Uptime:            %s\n", st.Uptime)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
