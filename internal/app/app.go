// Package app 根据配置创建各个后端，供 server 和 kbctl 共用。
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/index"
	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/repository"
	"kb-assistant-go/internal/session"
	"kb-assistant-go/pkg/database"
	"kb-assistant-go/pkg/embedding"
	"kb-assistant-go/pkg/es"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/storage"
	"kb-assistant-go/pkg/tika"
)

// OpenIndex 按 index.backend 打开知识库索引。
func OpenIndex(ctx context.Context, cfg *config.Config, embedder index.Embedder) (index.Index, error) {
	workers := cfg.Index.EmbedWorkers
	switch cfg.Index.Backend {
	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		return index.NewElastic(client, cfg.Elasticsearch.IndexName, embedder, workers), nil
	case "pgvector":
		idx, err := index.OpenPgVector(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, cfg.Embedding.Dimensions, embedder, workers)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "local":
		idx, err := index.OpenLocal(ctx, cfg.Index.Path, embedder, workers)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// NewEmbedder 创建 embedding 客户端。
func NewEmbedder(cfg *config.Config) embedding.Client {
	return embedding.NewClient(cfg.Embedding)
}

// NewLoader 按 ingest 配置创建切分器和 PDF 提取器。
func NewLoader(cfg *config.Config) *ingest.Loader {
	var pdf ingest.PDFExtractor = ingest.FitzExtractor{}
	if cfg.Ingest.PDFExtractor == "tika" {
		pdf = ingest.TikaExtractor{Client: tika.NewClient(cfg.Tika.ServerURL)}
	}
	return ingest.NewLoader(ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap), pdf)
}

// OpenObjectStore 按 storage.backend 创建文档存储。
func OpenObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Backend == "minio" {
		store, err := storage.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := storage.NewLocalStore(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenDocumentRepository 配置了 MySQL DSN 时使用 GORM，否则使用 database.sqlite.path 处的 SQLite 文件；
// 两者都为空时使用内存实现（重启后去重记录丢失）。返回值实现 io.Closer 时由调用方关闭。
func OpenDocumentRepository(ctx context.Context, cfg *config.Config) (repository.DocumentRepository, error) {
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.OpenMySQL(cfg.Database.MySQL.DSN, &model.Document{})
		if err != nil {
			return nil, err
		}
		return repository.NewDocumentRepository(db), nil
	}
	if cfg.Database.SQLite.Path != "" {
		repo, err := repository.OpenSQLiteDocumentRepository(ctx, cfg.Database.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	log.Warnf("database.mysql.dsn 与 database.sqlite.path 均未配置，文档登记仅保存在内存中")
	return repository.NewMemoryDocumentRepository(), nil
}

// OpenSessionStore 按 session.backend 创建会话存储。redis 后端同时返回客户端，供其他组件复用。
func OpenSessionStore(ctx context.Context, cfg *config.Config) (session.Store, *redis.Client, error) {
	if cfg.Session.Backend != "redis" {
		return session.NewMemoryStore(cfg.Session.HistoryMax), nil, nil
	}
	rdb, err := database.OpenRedis(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(rdb, cfg.Session.HistoryMax, cfg.Session.TTL), rdb, nil
}
