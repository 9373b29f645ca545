// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"kb-assistant-go/internal/model"
)

var (
	// ErrDocumentNotFound 表示没有对应 MD5 的文档记录。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDuplicateDocument 表示相同 MD5 的文档已登记。
	ErrDuplicateDocument = errors.New("document already registered")
)

// DocumentRepository 记录已上传文档，用于按 MD5 去重。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByMD5(ctx context.Context, fileMD5 string) (*model.Document, error)
	UpdateResult(ctx context.Context, id uint, status int, chunkCount int) error
	ListByUser(ctx context.Context, userID string) ([]model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个基于 GORM 的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条文档记录。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	err := r.db.WithContext(ctx).Create(doc).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateDocument
	}
	return err
}

// FindByMD5 根据文件 MD5 查找文档记录。
func (r *documentRepository) FindByMD5(ctx context.Context, fileMD5 string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("file_md5 = ?", fileMD5).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateResult 更新导入状态与分块数。
func (r *documentRepository) UpdateResult(ctx context.Context, id uint, status int, chunkCount int) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "chunk_count": chunkCount})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// ListByUser 按上传时间倒序返回用户的文档。
func (r *documentRepository) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}
