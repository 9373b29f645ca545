package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

// PgVectorIndex stores entries in PostgreSQL with the pgvector extension.
type PgVectorIndex struct {
	pool     *pgxpool.Pool
	table    string
	embedder Embedder
	workers  int
}

var _ Index = (*PgVectorIndex)(nil)

// OpenPgVector connects to dsn and creates the extension and table if needed.
func OpenPgVector(ctx context.Context, dsn, table string, dims int, embedder Embedder, workers int) (*PgVectorIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PgVectorIndex{
		pool:     pool,
		table:    pgx.Identifier{table}.Sanitize(),
		embedder: embedder,
		workers:  workers,
	}
	if err := p.migrate(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PgVectorIndex) migrate(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          UUID PRIMARY KEY,
			source      TEXT NOT NULL,
			chunk_index INT NOT NULL,
			page        INT NOT NULL DEFAULT 0,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table, dims),
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("failed to migrate pgvector index: %w", err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Add(ctx context.Context, chunks []model.Chunk) (AddResult, error) {
	return add(ctx, p.embedder, p.workers, chunks, p.persist)
}

func (p *PgVectorIndex) persist(ctx context.Context, entries []model.Entry) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		insert := fmt.Sprintf(`INSERT INTO %s (id, source, chunk_index, page, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.table)
		for _, e := range entries {
			batch.Queue(insert, e.ID, e.Chunk.Source, e.Chunk.Index, e.Chunk.Page, e.Chunk.Text,
				pgvector.NewVector(e.Embedding), e.CreatedAt)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}
		return br.Close()
	})
}

func (p *PgVectorIndex) Search(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	if p.Size(ctx) == 0 {
		return []model.ScoredChunk{}, nil
	}
	vec, err := embedQuery(ctx, p.embedder, query)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT source, chunk_index, page, content, 1 - (embedding <=> $1) AS score
		 FROM %s ORDER BY embedding <=> $1 LIMIT $2`, p.table),
		pgvector.NewVector(vec), k)
	if err != nil {
		log.Errorf("[PgVectorIndex] 检索失败, error: %v", err)
		return []model.ScoredChunk{}, nil
	}
	defer rows.Close()

	out := make([]model.ScoredChunk, 0, k)
	for rows.Next() {
		var sc model.ScoredChunk
		if err := rows.Scan(&sc.Chunk.Source, &sc.Chunk.Index, &sc.Chunk.Page, &sc.Chunk.Text, &sc.Score); err != nil {
			log.Errorf("[PgVectorIndex] 读取检索结果失败, error: %v", err)
			return []model.ScoredChunk{}, nil
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		log.Errorf("[PgVectorIndex] 读取检索结果失败, error: %v", err)
		return []model.ScoredChunk{}, nil
	}
	return out, nil
}

func (p *PgVectorIndex) Size(ctx context.Context) int {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n); err != nil {
		log.Errorf("[PgVectorIndex] 统计数量失败, error: %v", err)
		return 0
	}
	return n
}

func (p *PgVectorIndex) Close() error {
	p.pool.Close()
	return nil
}
