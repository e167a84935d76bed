package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for file types the extractor cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrDocumentNotFound is returned when the document file is missing.
var ErrDocumentNotFound = errors.New("document file not found")

// TextExtractor extracts plain text from an uploaded document.
type TextExtractor interface {
	Extract(path string) (string, error)
	Supported(filename string) bool
}

// FileExtractor reads PDF, TXT and Markdown documents from disk.
type FileExtractor struct {
	maxFileSize int64
}

func NewFileExtractor(maxFileSize int64) *FileExtractor {
	if maxFileSize <= 0 {
		maxFileSize = 20 << 20
	}
	return &FileExtractor{maxFileSize: maxFileSize}
}

// Supported reports whether the filename's extension can be extracted.
func (e *FileExtractor) Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt", ".md":
		return true
	default:
		return false
	}
}

// Extract returns the document's text content.
func (e *FileExtractor) Extract(path string) (string, error) {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat document: %w", err)
	}
	if stat.Size() > e.maxFileSize {
		return "", fmt.Errorf("document too large for extraction (%d bytes)", stat.Size())
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(path)
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read document: %w", err)
		}
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (e *FileExtractor) extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages rather than failing the whole document
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}

	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("no extractable text in pdf (scanned document?)")
	}
	return buf.String(), nil
}
