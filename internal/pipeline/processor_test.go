package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/index"
	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/repository"
	"kb-assistant-go/pkg/storage"
	"kb-assistant-go/pkg/tasks"
)

type recordingIndex struct {
	chunks []model.Chunk
	err    error
	failed int
}

func (r *recordingIndex) Add(_ context.Context, chunks []model.Chunk) (index.AddResult, error) {
	if r.err != nil {
		return index.AddResult{Failed: len(chunks)}, r.err
	}
	r.chunks = append(r.chunks, chunks...)
	return index.AddResult{Added: len(chunks) - r.failed, Failed: r.failed}, nil
}

func (r *recordingIndex) Search(context.Context, string, int) ([]model.ScoredChunk, error) {
	return nil, nil
}
func (r *recordingIndex) Size(context.Context) int { return len(r.chunks) }
func (r *recordingIndex) Close() error             { return nil }

type fixture struct {
	proc  *Processor
	store *storage.LocalStore
	idx   *recordingIndex
	docs  repository.DocumentRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	idx := &recordingIndex{}
	docs := repository.NewMemoryDocumentRepository()
	loader := ingest.NewLoader(ingest.NewSplitter(100, 20), nil)
	return &fixture{proc: NewProcessor(store, loader, idx, docs), store: store, idx: idx, docs: docs}
}

func (f *fixture) register(t *testing.T, name, content string) tasks.IngestTask {
	t.Helper()
	ctx := context.Background()
	md5 := fmt.Sprintf("%032d", len(content))
	key := "u/" + md5 + "/" + name
	require.NoError(t, f.store.Put(ctx, key, strings.NewReader(content), int64(len(content)), ""))
	doc := &model.Document{FileMD5: md5, FileName: name, ObjectKey: key, UserID: "u", TotalSize: int64(len(content))}
	require.NoError(t, f.docs.Create(ctx, doc))
	return tasks.IngestTask{DocumentID: doc.ID, FileMD5: md5, ObjectKey: key, FileName: name, UserID: "u"}
}

func TestProcessIndexesDocument(t *testing.T) {
	f := newFixture(t)
	text := strings.Repeat("Goroutines are cheap. Channels connect them.\n\n", 10)
	task := f.register(t, "go.md", text)

	res, err := f.proc.Process(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "go.md", res.Source)
	assert.Equal(t, len(f.idx.chunks), res.ChunkCount)
	assert.Greater(t, res.ChunkCount, 1)
	for i, c := range f.idx.chunks {
		assert.Equal(t, "go.md", c.Source)
		assert.Equal(t, i, c.Index)
	}

	doc, err := f.docs.FindByMD5(context.Background(), task.FileMD5)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusIndexed, doc.Status)
	assert.Equal(t, res.ChunkCount, doc.ChunkCount)
}

func TestProcessReportsPartialFailures(t *testing.T) {
	f := newFixture(t)
	f.idx.failed = 1
	task := f.register(t, "notes.txt", strings.Repeat("word ", 100))

	res, err := f.proc.Process(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, len(f.idx.chunks)-1, res.ChunkCount)
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		idxErr  error
		want    error
		wantMsg string
	}{
		{"empty document", "empty.md", "   \n\n ", nil, ingest.ErrLoad, "could not read the document: document contains no text"},
		{"invalid utf8", "bad.txt", string([]byte{0xff, 0xfe, 0xfd}), nil, ingest.ErrLoad, "could not read the document: file is not valid UTF-8 text"},
		{"pdf without extractor", "scan.pdf", "%PDF-1.4", nil, ingest.ErrLoad, "could not read the document: no PDF extractor configured"},
		{"embedding down", "ok.md", "some text", fmt.Errorf("%w: all failed", index.ErrEmbedding), index.ErrEmbedding, "could not embed the document; try again later"},
		{"unsupported", "slides.pptx", "x", nil, ingest.ErrUnsupportedFormat, "unsupported file format; upload a PDF, TXT or MD file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.idx.err = tt.idxErr
			task := f.register(t, tt.file, tt.content)

			res, err := f.proc.Process(context.Background(), task)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantMsg, res.Error)

			doc, ferr := f.docs.FindByMD5(context.Background(), task.FileMD5)
			require.NoError(t, ferr)
			assert.Equal(t, model.DocumentStatusFailed, doc.Status)
		})
	}
}

func TestProcessMissingObject(t *testing.T) {
	f := newFixture(t)
	res, err := f.proc.Process(context.Background(), tasks.IngestTask{ObjectKey: "nope/a.md", FileName: "a.md"})
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))
	assert.False(t, res.Success)
}

func TestDescribeError(t *testing.T) {
	assert.Contains(t, DescribeError(ingest.ErrUnsupportedFormat), "PDF, TXT or MD")
	assert.Equal(t, "could not read the document: corrupt xref",
		DescribeError(&ingest.LoadError{Path: "/tmp/x", Err: errors.New("corrupt xref")}))

	_, statErr := os.Stat("/tmp/kb-ingest-missing.pdf")
	msg := DescribeError(fmt.Errorf("wrapped: %w", &ingest.LoadError{Path: "/tmp/kb-ingest-missing.pdf", Err: statErr}))
	assert.Contains(t, msg, "could not read the document: ")
	assert.NotContains(t, msg, "/tmp/")
	assert.Equal(t, "document processing failed", DescribeError(errors.New("other")))
}
