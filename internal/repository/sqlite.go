package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kb-assistant-go/internal/model"
)

const sqliteDocumentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_md5    TEXT NOT NULL UNIQUE,
	file_name   TEXT NOT NULL,
	object_key  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	total_size  INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status      INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents (user_id)`

// SQLiteDocumentRepository 在未配置 MySQL 时把文档登记保存到本地 SQLite 文件，重启后去重记录仍然有效。
type SQLiteDocumentRepository struct {
	db *sql.DB
}

// OpenSQLiteDocumentRepository 打开（或创建）path 处的登记库。
func OpenSQLiteDocumentRepository(ctx context.Context, path string) (*SQLiteDocumentRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create registry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteDocumentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}
	return &SQLiteDocumentRepository{db: db}, nil
}

func (r *SQLiteDocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (file_md5, file_name, object_key, user_id, total_size, chunk_count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(file_md5) DO NOTHING`,
		doc.FileMD5, doc.FileName, doc.ObjectKey, doc.UserID, doc.TotalSize, doc.ChunkCount, doc.Status,
		doc.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrDuplicateDocument
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = uint(id)
	return nil
}

const sqliteDocumentColumns = `id, file_md5, file_name, object_key, user_id, total_size, chunk_count, status, created_at`

func scanDocument(scan func(dest ...interface{}) error) (model.Document, error) {
	var (
		doc     model.Document
		id      int64
		created int64
	)
	err := scan(&id, &doc.FileMD5, &doc.FileName, &doc.ObjectKey, &doc.UserID,
		&doc.TotalSize, &doc.ChunkCount, &doc.Status, &created)
	doc.ID = uint(id)
	doc.CreatedAt = time.Unix(0, created)
	return doc, err
}

func (r *SQLiteDocumentRepository) FindByMD5(ctx context.Context, fileMD5 string) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentColumns+` FROM documents WHERE file_md5 = ?`, fileMD5)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *SQLiteDocumentRepository) UpdateResult(ctx context.Context, id uint, status int, chunkCount int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE documents SET status = ?, chunk_count = ? WHERE id = ?`,
		status, chunkCount, int64(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *SQLiteDocumentRepository) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *SQLiteDocumentRepository) Close() error {
	return r.db.Close()
}
