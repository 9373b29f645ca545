package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPDF struct {
	pages []Page
	err   error
}

func (s stubPDF) ExtractPages(context.Context, string) ([]Page, error) {
	return s.pages, s.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadText(t *testing.T) {
	path := writeFile(t, "notes.txt", strings.Repeat("word ", 600))
	l := NewLoader(NewSplitter(1000, 200), nil)

	chunks, err := l.Load(context.Background(), path, TypeText)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)
	for i, c := range chunks {
		assert.Equal(t, "notes.txt", c.Source)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 0, c.Page)
		assert.NotEmpty(t, c.Text)
	}
}

func TestLoadWithSourceName(t *testing.T) {
	path := writeFile(t, "tmp123.md", "# Title\n\nBody")
	l := NewLoader(NewSplitter(1000, 200), nil)

	chunks, err := l.Load(context.Background(), path, TypeMarkdown, WithSourceName("lecture.md"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "lecture.md", chunks[0].Source)
	assert.Equal(t, "# Title\n\nBody", chunks[0].Text)
}

func TestLoadPDFPages(t *testing.T) {
	pdf := stubPDF{pages: []Page{
		{Number: 1, Text: "first page"},
		{Number: 3, Text: "third page"},
	}}
	l := NewLoader(NewSplitter(1000, 200), pdf)

	chunks, err := l.Load(context.Background(), "/tmp/book.pdf", TypePDF)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[1].Page)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "book.pdf", chunks[1].Source)
}

func TestLoadErrors(t *testing.T) {
	l := NewLoader(NewSplitter(1000, 200), stubPDF{err: errors.New("corrupt xref")})
	ctx := context.Background()

	_, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.txt"), TypeText)
	assert.True(t, errors.Is(err, ErrLoad))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = l.Load(ctx, "/tmp/broken.pdf", TypePDF)
	assert.True(t, errors.Is(err, ErrLoad))

	bin := writeFile(t, "bin.txt", string([]byte{0xff, 0xfe, 0x00}))
	_, err = l.Load(ctx, bin, TypeText)
	assert.True(t, errors.Is(err, ErrLoad))

	_, err = l.Load(ctx, bin, DocumentType("docx"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadEmptyDocument(t *testing.T) {
	path := writeFile(t, "empty.txt", "  \n ")
	chunks, err := NewLoader(NewSplitter(1000, 200), nil).Load(context.Background(), path, TypeText)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		size    int64
		want    DocumentType
		wantErr error
	}{
		{"pdf", "Lecture.PDF", 1024, TypePDF, nil},
		{"text", "a.txt", 10, TypeText, nil},
		{"markdown", "readme.md", 10, TypeMarkdown, nil},
		{"unsupported", "photo.jpg", 10, "", ErrUnsupportedFormat},
		{"no extension", "README", 10, "", ErrUnsupportedFormat},
		{"too large", "big.pdf", DefaultMaxFileSize + 1, "", ErrFileTooLarge},
		{"at ceiling", "big.pdf", DefaultMaxFileSize, TypePDF, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.file, tt.size, 0)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("PDF")
	require.NoError(t, err)
	assert.Equal(t, TypePDF, got)
	_, err = ParseType("html")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
