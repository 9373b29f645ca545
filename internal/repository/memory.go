package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"kb-assistant-go/internal/model"
)

// memoryDocumentRepository 在未配置 MySQL 时使用，进程退出后记录丢失。
type memoryDocumentRepository struct {
	mu     sync.RWMutex
	nextID uint
	byID   map[uint]*model.Document
	byMD5  map[string]uint
}

// NewMemoryDocumentRepository 创建内存实现。
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{
		byID:  make(map[uint]*model.Document),
		byMD5: make(map[string]uint),
	}
}

func (r *memoryDocumentRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byMD5[doc.FileMD5]; ok {
		return ErrDuplicateDocument
	}
	r.nextID++
	doc.ID = r.nextID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	stored := *doc
	r.byID[stored.ID] = &stored
	r.byMD5[stored.FileMD5] = stored.ID
	return nil
}

func (r *memoryDocumentRepository) FindByMD5(_ context.Context, fileMD5 string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMD5[fileMD5]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	doc := *r.byID[id]
	return &doc, nil
}

func (r *memoryDocumentRepository) UpdateResult(_ context.Context, id uint, status int, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	return nil
}

func (r *memoryDocumentRepository) ListByUser(_ context.Context, userID string) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]model.Document, 0)
	for _, d := range r.byID {
		if d.UserID == userID {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}
