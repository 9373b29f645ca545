package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/model"
)

type repoFactory func(t *testing.T) DocumentRepository

func openSQLite(t *testing.T) DocumentRepository {
	t.Helper()
	repo, err := OpenSQLiteDocumentRepository(context.Background(), filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

var factories = map[string]repoFactory{
	"memory": func(*testing.T) DocumentRepository { return NewMemoryDocumentRepository() },
	"sqlite": openSQLite,
}

func TestDocumentRepository(t *testing.T) {
	for name, newRepo := range factories {
		t.Run(name, func(t *testing.T) { testCreateFindUpdate(t, newRepo(t)) })
	}
}

func TestDocumentRepositoryListByUser(t *testing.T) {
	for name, newRepo := range factories {
		t.Run(name, func(t *testing.T) { testListByUser(t, newRepo(t)) })
	}
}

func testCreateFindUpdate(t *testing.T, repo DocumentRepository) {
	ctx := context.Background()

	_, err := repo.FindByMD5(ctx, "abc")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	doc := &model.Document{FileMD5: "abc", FileName: "notes.md", UserID: "42", TotalSize: 10}
	require.NoError(t, repo.Create(ctx, doc))
	assert.NotZero(t, doc.ID)

	dup := &model.Document{FileMD5: "abc", FileName: "copy.md", UserID: "7"}
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateDocument)

	require.NoError(t, repo.UpdateResult(ctx, doc.ID, model.DocumentStatusIndexed, 5))
	found, err := repo.FindByMD5(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 5, found.ChunkCount)
	assert.Equal(t, model.DocumentStatusIndexed, found.Status)

	assert.ErrorIs(t, repo.UpdateResult(ctx, 999, model.DocumentStatusFailed, 0), ErrDocumentNotFound)
}

func testListByUser(t *testing.T, repo DocumentRepository) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &model.Document{FileMD5: "1", UserID: "u", FileName: "old", CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &model.Document{FileMD5: "2", UserID: "u", FileName: "new", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, &model.Document{FileMD5: "3", UserID: "other", FileName: "x"}))

	docs, err := repo.ListByUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "new", docs[0].FileName)
	assert.Equal(t, "old", docs[1].FileName)

	none, err := repo.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteDocumentRepositorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "documents.db")

	repo, err := OpenSQLiteDocumentRepository(ctx, path)
	require.NoError(t, err)
	doc := &model.Document{FileMD5: "abc", FileName: "notes.md", ObjectKey: "u/abc/notes.md", UserID: "u", TotalSize: 3}
	require.NoError(t, repo.Create(ctx, doc))
	require.NoError(t, repo.UpdateResult(ctx, doc.ID, model.DocumentStatusIndexed, 4))
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLiteDocumentRepository(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err := reopened.FindByMD5(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)
	assert.Equal(t, "u/abc/notes.md", found.ObjectKey)
	assert.Equal(t, 4, found.ChunkCount)
	assert.Equal(t, model.DocumentStatusIndexed, found.Status)
	assert.ErrorIs(t, reopened.Create(ctx, &model.Document{FileMD5: "abc", UserID: "v"}), ErrDuplicateDocument)
}
