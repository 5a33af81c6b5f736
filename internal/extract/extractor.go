// Package extract turns uploaded files into page-ordered text.
package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

// Extractor extracts page-ordered text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

type extractFunc func(content []byte) ([]models.Page, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": single(extractDOCX),
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odp":  single(extractODP),
	".ods":  single(extractODS),
	".odt":  single(extractWithCat),
	".rtf":  single(extractWithCat),
	".txt":  single(extractPlain),
	".md":   single(extractPlain),
	".rst":  single(extractPlain),
}

// single adapts a whole-document extractor to one page numbered 1.
func single(fn func([]byte) (string, error)) extractFunc {
	return func(content []byte) ([]models.Page, error) {
		text, err := fn(content)
		if err != nil {
			return nil, err
		}
		return []models.Page{{Number: 1, Text: text}}, nil
	}
}

// ExtractPages reads the file at path and returns its pages.
func (e *Extractor) ExtractPages(path string) ([]models.Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return nil, unsupported(ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractPagesBytes(content, ext)
}

// ExtractPagesBytes extracts pages from content based on ext, which includes the leading dot.
// PDFs yield one page per PDF page, spreadsheets one per sheet, presentations one per slide,
// and everything else a single page.
func (e *Extractor) ExtractPagesBytes(content []byte, ext string) ([]models.Page, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		return nil, unsupported(ext)
	}
	return fn(content)
}

func unsupported(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
}

// Supported reports whether ext (with leading dot) can be extracted.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// Allowed reports whether filename has one of extensions and can be extracted.
func Allowed(filename string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if !Supported(ext) {
		return false
	}
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// FileType returns the lowercase extension of filename without the dot.
func FileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// readZipEntry returns the content of the named entry, or nil when it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// joinMatches joins the first submatch of every match with single spaces.
func joinMatches(b *strings.Builder, parts [][]string) {
	for _, p := range parts {
		text := strings.TrimSpace(p[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
