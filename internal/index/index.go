// Package index stores embedded chunks and answers nearest-neighbour queries.
//
// Scores are similarities: higher means more relevant. Every backend reports
// cosine similarity in [-1, 1].
package index

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

var (
	// ErrEmbedding marks a failed call to the embedding provider.
	ErrEmbedding = errors.New("embedding failed")
	// ErrIndexFault marks a storage-layer failure.
	ErrIndexFault = errors.New("index storage fault")
	// ErrInvalidTopK is returned by Search for k <= 0.
	ErrInvalidTopK = errors.New("k must be positive")
)

// DefaultEmbedWorkers bounds concurrent embedding calls per Add.
const DefaultEmbedWorkers = 4

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// AddResult reports how many chunks were stored and how many were skipped
// because their embedding failed.
type AddResult struct {
	Added  int `json:"added"`
	Failed int `json:"failed"`
}

// Index is an append-only knowledge base.
type Index interface {
	// Add embeds and stores chunks, best-effort per chunk. It fails with
	// ErrEmbedding only when no chunk could be embedded.
	Add(ctx context.Context, chunks []model.Chunk) (AddResult, error)
	// Search returns up to k chunks ordered by decreasing score. Storage
	// faults yield an empty result; embedding failures are returned.
	Search(ctx context.Context, query string, k int) ([]model.ScoredChunk, error)
	// Size never fails; it reports 0 on any fault.
	Size(ctx context.Context) int
	Close() error
}

type persistFunc func(ctx context.Context, entries []model.Entry) error

// add is the Add flow shared by every backend: embed outside any lock, then
// hand the successful entries to persist in one call.
func add(ctx context.Context, e Embedder, workers int, chunks []model.Chunk, persist persistFunc) (AddResult, error) {
	if len(chunks) == 0 {
		return AddResult{}, nil
	}
	entries := embedChunks(ctx, e, workers, chunks)
	res := AddResult{Added: len(entries), Failed: len(chunks) - len(entries)}
	if len(entries) == 0 {
		return AddResult{Failed: len(chunks)}, fmt.Errorf("%w: all %d chunks failed", ErrEmbedding, len(chunks))
	}
	if err := persist(ctx, entries); err != nil {
		return AddResult{Failed: len(chunks)}, fmt.Errorf("%w: %w", ErrIndexFault, err)
	}
	if res.Failed > 0 {
		log.Warnf("[Index] 部分分块向量化失败, added: %d, failed: %d", res.Added, res.Failed)
	}
	return res, nil
}

// embedChunks embeds with at most workers concurrent calls and keeps input
// order. Failed chunks are logged and dropped.
func embedChunks(ctx context.Context, e Embedder, workers int, chunks []model.Chunk) []model.Entry {
	if workers <= 0 {
		workers = DefaultEmbedWorkers
	}
	results := make([]*model.Entry, len(chunks))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := e.CreateEmbedding(ctx, c.Text)
			if err != nil {
				log.Errorf("[Index] 分块向量化失败, source: %s, chunk: %d, error: %v", c.Source, c.Index, err)
				return nil
			}
			entry := model.NewEntry(c, vec)
			results[i] = &entry
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]model.Entry, 0, len(chunks))
	for _, r := range results {
		if r != nil {
			entries = append(entries, *r)
		}
	}
	return entries
}

func embedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	vec, err := e.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vec, nil
}

// cosine returns the cosine similarity of a and b, or 0 when the dimensions
// differ or either vector is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
