package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS kb_entries (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	page        INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	created_at  INTEGER NOT NULL
)`

// LocalIndex keeps entries in a SQLite file and serves searches from an
// immutable in-memory snapshot. Writers build a new snapshot and publish it
// atomically, so readers never take a lock.
type LocalIndex struct {
	db       *sql.DB
	embedder Embedder
	workers  int

	mu   sync.Mutex // serialises Add
	snap atomic.Pointer[[]model.Entry]
}

var _ Index = (*LocalIndex)(nil)

// OpenLocal opens (or creates) the index file at path and loads its entries.
func OpenLocal(ctx context.Context, path string, embedder Embedder, workers int) (*LocalIndex, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	idx := &LocalIndex{db: db, embedder: embedder, workers: workers}
	entries, err := idx.loadAll(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.snap.Store(&entries)
	log.Infof("[LocalIndex] 索引已加载, path: %s, entries: %d", path, len(entries))
	return idx, nil
}

func (l *LocalIndex) loadAll(ctx context.Context) ([]model.Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, source, chunk_index, page, content, embedding, created_at FROM kb_entries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	defer rows.Close()

	entries := []model.Entry{}
	for rows.Next() {
		var (
			id      string
			e       model.Entry
			blob    []byte
			created int64
		)
		if err := rows.Scan(&id, &e.Chunk.Source, &e.Chunk.Index, &e.Chunk.Page, &e.Chunk.Text, &blob, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ID, _ = uuid.Parse(id)
		e.Embedding = decodeVector(blob)
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *LocalIndex) Add(ctx context.Context, chunks []model.Chunk) (AddResult, error) {
	return add(ctx, l.embedder, l.workers, chunks, l.persist)
}

func (l *LocalIndex) persist(ctx context.Context, entries []model.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kb_entries (id, source, chunk_index, page, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID.String(), e.Chunk.Source, e.Chunk.Index, e.Chunk.Page,
			e.Chunk.Text, encodeVector(e.Embedding), e.CreatedAt.UnixNano()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	old := *l.snap.Load()
	next := make([]model.Entry, len(old), len(old)+len(entries))
	copy(next, old)
	next = append(next, entries...)
	l.snap.Store(&next)
	return nil
}

func (l *LocalIndex) Search(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	entries := *l.snap.Load()
	if len(entries) == 0 {
		return []model.ScoredChunk{}, nil
	}
	vec, err := embedQuery(ctx, l.embedder, query)
	if err != nil {
		return nil, err
	}

	scored := make([]model.ScoredChunk, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, model.ScoredChunk{Chunk: e.Chunk, Score: cosine(vec, e.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (l *LocalIndex) Size(context.Context) int {
	p := l.snap.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

func (l *LocalIndex) Close() error {
	return l.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
