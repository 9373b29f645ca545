package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/model"
)

type indexFactory func(t *testing.T, e Embedder) Index

func chunk(source, text string, i int) model.Chunk {
	return model.Chunk{Text: text, Source: source, Index: i}
}

func runIndexSuite(t *testing.T, open indexFactory) {
	ctx := context.Background()

	t.Run("empty index", func(t *testing.T) {
		e := newWordEmbedder()
		idx := open(t, e)
		assert.Equal(t, 0, idx.Size(ctx))
		res, err := idx.Search(ctx, "anything", 3)
		require.NoError(t, err)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	})

	t.Run("invalid k", func(t *testing.T) {
		idx := open(t, newWordEmbedder())
		_, err := idx.Search(ctx, "q", 0)
		assert.True(t, errors.Is(err, ErrInvalidTopK))
	})

	t.Run("relevant chunk ranks first", func(t *testing.T) {
		idx := open(t, newWordEmbedder())
		res, err := idx.Add(ctx, []model.Chunk{
			chunk("cats.txt", "Cats sleep most of the day", 0),
			chunk("python.md", "Python decorators wrap functions", 0),
			chunk("go.md", "Goroutines run concurrently", 0),
		})
		require.NoError(t, err)
		assert.Equal(t, AddResult{Added: 3}, res)
		assert.Equal(t, 3, idx.Size(ctx))

		hits, err := idx.Search(ctx, "what are decorators", 2)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.LessOrEqual(t, len(hits), 2)
		assert.Equal(t, "Python decorators wrap functions", hits[0].Chunk.Text)
		assert.Equal(t, "python.md", hits[0].Chunk.Source)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("k larger than size", func(t *testing.T) {
		idx := open(t, newWordEmbedder())
		_, err := idx.Add(ctx, []model.Chunk{chunk("a", "alpha beta", 0)})
		require.NoError(t, err)
		hits, err := idx.Search(ctx, "alpha", 10)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("best effort add skips failed chunks", func(t *testing.T) {
		e := newWordEmbedder()
		e.failOn = "FAIL"
		idx := open(t, e)
		res, err := idx.Add(ctx, []model.Chunk{
			chunk("a", "good one", 0),
			chunk("a", "FAIL here", 1),
			chunk("a", "good two", 2),
		})
		require.NoError(t, err)
		assert.Equal(t, AddResult{Added: 2, Failed: 1}, res)
		assert.Equal(t, 2, idx.Size(ctx))
	})

	t.Run("all chunks failing is an embedding error", func(t *testing.T) {
		e := newWordEmbedder()
		e.failOn = "FAIL"
		idx := open(t, e)
		res, err := idx.Add(ctx, []model.Chunk{chunk("a", "FAIL", 0), chunk("a", "FAIL too", 1)})
		assert.True(t, errors.Is(err, ErrEmbedding))
		assert.Equal(t, 2, res.Failed)
		assert.Equal(t, 0, idx.Size(ctx))
	})

	t.Run("query embedding failure is returned", func(t *testing.T) {
		e := newWordEmbedder()
		idx := open(t, e)
		_, err := idx.Add(ctx, []model.Chunk{chunk("a", "content", 0)})
		require.NoError(t, err)
		e.failOn = "boom"
		_, err = idx.Search(ctx, "boom", 3)
		assert.True(t, errors.Is(err, ErrEmbedding))
	})

	t.Run("empty add is a no-op", func(t *testing.T) {
		e := newWordEmbedder()
		idx := open(t, e)
		res, err := idx.Add(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, AddResult{}, res)
		assert.Equal(t, int32(0), e.calls.Load())
	})

	t.Run("concurrent adds keep every chunk", func(t *testing.T) {
		idx := open(t, newWordEmbedder())
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				chunks := make([]model.Chunk, 5)
				for i := range chunks {
					chunks[i] = chunk(fmt.Sprintf("doc%d", w), fmt.Sprintf("writer %d chunk %d", w, i), i)
				}
				_, err := idx.Add(ctx, chunks)
				assert.NoError(t, err)
			}(w)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := idx.Search(ctx, "writer chunk", 3)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 40, idx.Size(ctx))
	})
}
