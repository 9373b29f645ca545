package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"unicode/utf8"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

// Loader reads a document and splits it into chunks.
type Loader struct {
	splitter Splitter
	pdf      PDFExtractor
}

// NewLoader creates a Loader. pdf may be nil when PDF ingestion is not needed.
func NewLoader(splitter Splitter, pdf PDFExtractor) *Loader {
	return &Loader{splitter: splitter, pdf: pdf}
}

type loadOptions struct {
	source string
}

// LoadOption customises a single Load call.
type LoadOption func(*loadOptions)

// WithSourceName sets the citation name carried by every chunk. Defaults to
// the base name of the path.
func WithSourceName(name string) LoadOption {
	return func(o *loadOptions) { o.source = name }
}

// Load returns the document's chunks in order. Chunk indexes are continuous
// across pages. An empty document yields no chunks and no error.
func (l *Loader) Load(ctx context.Context, path string, typ DocumentType, opts ...LoadOption) ([]model.Chunk, error) {
	o := loadOptions{source: filepath.Base(path)}
	for _, opt := range opts {
		opt(&o)
	}

	var pages []Page
	switch typ {
	case TypeText, TypeMarkdown:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		if !utf8.Valid(data) {
			return nil, &LoadError{Path: path, Err: errors.New("file is not valid UTF-8 text")}
		}
		pages = []Page{{Text: string(data)}}
	case TypePDF:
		if l.pdf == nil {
			return nil, &LoadError{Path: path, Err: errors.New("no PDF extractor configured")}
		}
		var err error
		pages, err = l.pdf.ExtractPages(ctx, path)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	var chunks []model.Chunk
	for _, p := range pages {
		for _, text := range l.splitter.Split(p.Text) {
			chunks = append(chunks, model.Chunk{
				Text:   text,
				Source: o.source,
				Index:  len(chunks),
				Page:   p.Number,
			})
		}
	}
	log.Infof("[Loader] 文档切分完成, source: %s, type: %s, pages: %d, chunks: %d", o.source, typ, len(pages), len(chunks))
	return chunks, nil
}
