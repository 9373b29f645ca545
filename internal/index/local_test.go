package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/model"
)

func TestLocalIndex(t *testing.T) {
	runIndexSuite(t, func(t *testing.T, e Embedder) Index {
		idx, err := OpenLocal(context.Background(), filepath.Join(t.TempDir(), "kb.db"), e, 4)
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		return idx
	})
}

func TestLocalIndexPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kb.db")
	e := newWordEmbedder()

	idx, err := OpenLocal(ctx, path, e, 2)
	require.NoError(t, err)
	_, err = idx.Add(ctx, []model.Chunk{
		{Text: "Python decorators wrap functions", Source: "python.md", Index: 0, Page: 2},
		{Text: "Rust has ownership", Source: "rust.md", Index: 0},
	})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := OpenLocal(ctx, path, e, 2)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Size(ctx))
	hits, err := reopened.Search(ctx, "decorators", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, model.Chunk{Text: "Python decorators wrap functions", Source: "python.md", Index: 0, Page: 2}, hits[0].Chunk)
	assert.InDelta(t, 0.5, hits[0].Score, 0.01)
}

func TestLocalIndexSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(ctx, filepath.Join(t.TempDir(), "kb.db"), newWordEmbedder(), 2)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Add(ctx, []model.Chunk{{Text: "one", Source: "a"}})
	require.NoError(t, err)
	before := *idx.snap.Load()

	_, err = idx.Add(ctx, []model.Chunk{{Text: "two", Source: "a"}})
	require.NoError(t, err)

	assert.Len(t, before, 1, "published snapshots are never mutated")
	assert.Equal(t, 2, idx.Size(ctx))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-8}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 2}))
}
