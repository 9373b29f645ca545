package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentType is the declared format of an uploaded document.
type DocumentType string

const (
	TypePDF      DocumentType = "pdf"
	TypeText     DocumentType = "text"
	TypeMarkdown DocumentType = "markdown"
)

// DefaultMaxFileSize is the upload ceiling (20 MiB).
const DefaultMaxFileSize int64 = 20 << 20

var (
	// ErrUnsupportedFormat is returned for extensions outside .pdf/.txt/.md.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrFileTooLarge is returned for uploads above the size ceiling.
	ErrFileTooLarge = errors.New("file too large")
	// ErrLoad marks unreadable or corrupt source files.
	ErrLoad = errors.New("load error")
)

// LoadError wraps the cause of a failed document read.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

var extTypes = map[string]DocumentType{
	".pdf":      TypePDF,
	".txt":      TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
}

// DetectType maps a file name to its document type by extension.
func DetectType(fileName string) (DocumentType, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := extTypes[ext]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// ParseType validates a declared type string.
func ParseType(s string) (DocumentType, error) {
	switch t := DocumentType(strings.ToLower(s)); t {
	case TypePDF, TypeText, TypeMarkdown:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Validate enforces the extension whitelist and size ceiling before any bytes
// are stored. maxSize <= 0 uses DefaultMaxFileSize.
func Validate(fileName string, size, maxSize int64) (DocumentType, error) {
	t, err := DetectType(fileName)
	if err != nil {
		return "", err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if size > maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d MB", ErrFileTooLarge, size, maxSize>>20)
	}
	return t, nil
}
