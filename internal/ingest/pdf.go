package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"kb-assistant-go/pkg/tika"
)

// Page is the text of one PDF page. Number is 1-based, 0 when unknown.
type Page struct {
	Number int
	Text   string
}

// PDFExtractor extracts page text from a PDF file.
type PDFExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// FitzExtractor reads PDFs in-process with MuPDF.
type FitzExtractor struct{}

func (FitzExtractor) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]Page, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i+1, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// TikaExtractor delegates extraction to an Apache Tika server. Tika returns
// the whole document at once, so page numbers are unknown.
type TikaExtractor struct {
	Client *tika.Client
}

func (e TikaExtractor) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := e.Client.ExtractText(ctx, f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Page{{Text: text}}, nil
}
