// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/pipeline"
	"kb-assistant-go/internal/repository"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/storage"
	"kb-assistant-go/pkg/tasks"
)

// IngestProcessor 执行一次导入任务，由 pipeline.Processor 实现。
type IngestProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) (model.IngestResult, error)
}

// TaskProducer 把导入任务投递到消息队列，由 kafka.Producer 实现。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// DocumentService 接口定义了文档导入相关的业务操作。
type DocumentService interface {
	// Validate 检查扩展名和大小上限。
	Validate(fileName string, size int64) error
	// Ingest 校验、去重、保存并导入文档。失败以 IngestResult.Error 返回。
	Ingest(ctx context.Context, userID model.UserID, fileName string, r io.Reader, size int64) model.IngestResult
	ListDocuments(ctx context.Context, userID model.UserID) ([]model.DocumentView, error)
}

type documentService struct {
	docs        repository.DocumentRepository
	store       storage.ObjectStore
	processor   IngestProcessor
	producer    TaskProducer
	maxFileSize int64
}

// DocumentOption 配置 DocumentService。
type DocumentOption func(*documentService)

// WithTaskProducer 启用异步导入：任务投递到队列后立即返回。
func WithTaskProducer(p TaskProducer) DocumentOption {
	return func(s *documentService) { s.producer = p }
}

// WithMaxFileSize 设置上传大小上限（字节）。
func WithMaxFileSize(n int64) DocumentOption {
	return func(s *documentService) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docs repository.DocumentRepository, store storage.ObjectStore, processor IngestProcessor, opts ...DocumentOption) DocumentService {
	s := &documentService{
		docs:        docs,
		store:       store,
		processor:   processor,
		maxFileSize: ingest.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *documentService) Validate(fileName string, size int64) error {
	_, err := ingest.Validate(filepath.Base(fileName), size, s.maxFileSize)
	return err
}

func (s *documentService) Ingest(ctx context.Context, userID model.UserID, fileName string, r io.Reader, size int64) model.IngestResult {
	fileName = filepath.Base(fileName)
	fail := func(err error) model.IngestResult {
		return model.IngestResult{Success: false, Source: fileName, Error: pipeline.DescribeError(err)}
	}

	// 1. 校验扩展名和声明的大小
	if err := s.Validate(fileName, size); err != nil {
		log.Warnf("[DocumentService] 拒绝上传, user: %s, file: %s, error: %v", userID, fileName, err)
		return fail(err)
	}

	// 2. 读入内存并计算 MD5，多读一个字节用于发现超限
	data, err := io.ReadAll(io.LimitReader(r, s.maxFileSize+1))
	if err != nil {
		log.Errorf("[DocumentService] 读取上传内容失败: %v", err)
		return fail(err)
	}
	if int64(len(data)) > s.maxFileSize {
		return fail(ingest.ErrFileTooLarge)
	}
	sum := md5.Sum(data)
	fileMD5 := hex.EncodeToString(sum[:])

	// 3. 按 MD5 去重
	doc, err := s.docs.FindByMD5(ctx, fileMD5)
	switch {
	case err == nil:
		if res, done := s.existing(doc); done {
			return res
		}
		// 上次导入失败，使用已保存的对象重新导入
	case errors.Is(err, repository.ErrDocumentNotFound):
		doc, err = s.register(ctx, userID, fileName, fileMD5, data)
		if errors.Is(err, repository.ErrDuplicateDocument) {
			// 并发上传了同一文件
			if doc, err = s.docs.FindByMD5(ctx, fileMD5); err == nil {
				if res, done := s.existing(doc); done {
					return res
				}
			}
		}
		if err != nil {
			log.Errorf("[DocumentService] 保存文档失败, md5: %s, error: %v", fileMD5, err)
			return fail(err)
		}
	default:
		log.Errorf("[DocumentService] 查询文档记录失败, md5: %s, error: %v", fileMD5, err)
		return fail(err)
	}

	task := tasks.IngestTask{
		DocumentID: doc.ID,
		FileMD5:    doc.FileMD5,
		ObjectKey:  doc.ObjectKey,
		FileName:   fileName,
		UserID:     string(userID),
	}

	// 4. 异步：投递到队列；投递失败时退回同步导入
	if s.producer != nil {
		err := s.producer.ProduceIngestTask(ctx, task)
		if err == nil {
			log.Infof("[DocumentService] 导入任务已投递, md5: %s, file: %s", fileMD5, fileName)
			return model.IngestResult{Success: true, Source: fileName, Queued: true}
		}
		log.Warnf("[DocumentService] 投递导入任务失败，改为同步导入: %v", err)
	}

	// 失败原因已由 processor 记录，并写入 IngestResult.Error
	res, _ := s.processor.Process(ctx, task)
	return res
}

// existing 处理已登记的文档；done 为 false 表示需要重新导入。
func (s *documentService) existing(doc *model.Document) (model.IngestResult, bool) {
	switch doc.Status {
	case model.DocumentStatusIndexed:
		return model.IngestResult{Success: true, Source: doc.FileName, ChunkCount: doc.ChunkCount, Duplicate: true}, true
	case model.DocumentStatusPending:
		return model.IngestResult{Success: true, Source: doc.FileName, Queued: true, Duplicate: true}, true
	default:
		return model.IngestResult{}, false
	}
}

func (s *documentService) register(ctx context.Context, userID model.UserID, fileName, fileMD5 string, data []byte) (*model.Document, error) {
	key := fmt.Sprintf("%s/%s/%s", userID, fileMD5, fileName)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("保存文档到对象存储失败: %w", err)
	}
	doc := &model.Document{
		FileMD5:   fileMD5,
		FileName:  fileName,
		ObjectKey: key,
		UserID:    string(userID),
		TotalSize: int64(len(data)),
		Status:    model.DocumentStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *documentService) ListDocuments(ctx context.Context, userID model.UserID) ([]model.DocumentView, error) {
	docs, err := s.docs.ListByUser(ctx, string(userID))
	if err != nil {
		return nil, err
	}
	views := make([]model.DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, d.View())
	}
	return views, nil
}
