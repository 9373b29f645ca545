package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

const fakeDims = 256

// wordEmbedder is a bag-of-words embedder: each distinct word gets its own
// dimension, so texts sharing words have positive cosine similarity.
type wordEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls atomic.Int32
	// failOn makes CreateEmbedding fail for texts containing it.
	failOn string
}

func newWordEmbedder() *wordEmbedder {
	return &wordEmbedder{vocab: make(map[string]int)}
}

func (w *wordEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	w.calls.Add(1)
	if w.failOn != "" && strings.Contains(text, w.failOn) {
		return nil, errors.New("provider unavailable")
	}
	vec := make([]float32, fakeDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, word := range words {
		i, ok := w.vocab[word]
		if !ok {
			i = len(w.vocab) % fakeDims
			w.vocab[word] = i
		}
		vec[i]++
	}
	return vec, nil
}
