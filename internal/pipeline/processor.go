// Package pipeline 定义了文档导入的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"kb-assistant-go/internal/index"
	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/repository"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/storage"
	"kb-assistant-go/pkg/tasks"
)

// Processor 封装了文档导入的所有依赖和逻辑，同步上传和 Kafka 消费者共用。
type Processor struct {
	store  storage.ObjectStore
	loader *ingest.Loader
	index  index.Index
	docs   repository.DocumentRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(store storage.ObjectStore, loader *ingest.Loader, idx index.Index, docs repository.DocumentRepository) *Processor {
	return &Processor{store: store, loader: loader, index: idx, docs: docs}
}

// Process 从对象存储取出文档，切分、向量化并写入索引，最后更新文档登记状态。
// 返回的 IngestResult 总是有效；error 非 nil 表示本次失败。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) (model.IngestResult, error) {
	log.Infof("[Processor] 开始处理文件, FileMD5: %s, FileName: %s, UserID: %s", task.FileMD5, task.FileName, task.UserID)
	res, err := p.process(ctx, task)
	if err != nil {
		log.Errorf("[Processor] 文件处理失败, FileMD5: %s, Error: %v", task.FileMD5, err)
		res = model.IngestResult{Success: false, Source: task.FileName, Error: DescribeError(err)}
		p.updateStatus(ctx, task.DocumentID, model.DocumentStatusFailed, 0)
		return res, err
	}
	p.updateStatus(ctx, task.DocumentID, model.DocumentStatusIndexed, res.ChunkCount)
	log.Infof("[Processor] 文件处理成功完成, FileMD5: %s, chunks: %d, failed: %d", task.FileMD5, res.ChunkCount, res.Failed)
	return res, nil
}

func (p *Processor) process(ctx context.Context, task tasks.IngestTask) (model.IngestResult, error) {
	typ, err := ingest.DetectType(task.FileName)
	if err != nil {
		return model.IngestResult{}, err
	}

	// 1. 从对象存储下载到临时文件，PDF 提取器需要文件路径
	path, cleanup, err := p.download(ctx, task)
	if err != nil {
		return model.IngestResult{}, err
	}
	defer cleanup()

	// 2. 提取文本并切块
	chunks, err := p.loader.Load(ctx, path, typ, ingest.WithSourceName(task.FileName))
	if err != nil {
		return model.IngestResult{}, err
	}
	if len(chunks) == 0 {
		return model.IngestResult{}, &ingest.LoadError{Path: task.FileName, Err: errors.New("document contains no text")}
	}

	// 3. 向量化并写入索引（逐块尽力而为）
	added, err := p.index.Add(ctx, chunks)
	if err != nil {
		return model.IngestResult{}, err
	}
	return model.IngestResult{
		Success:    true,
		Source:     task.FileName,
		ChunkCount: added.Added,
		Failed:     added.Failed,
	}, nil
}

func (p *Processor) download(ctx context.Context, task tasks.IngestTask) (string, func(), error) {
	object, err := p.store.Get(ctx, task.ObjectKey)
	if err != nil {
		return "", nil, fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	defer object.Close()

	tmp, err := os.CreateTemp("", "kb-ingest-*"+filepath.Ext(task.FileName))
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	size, err := io.Copy(tmp, object)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("读取对象流失败: %w", err)
	}
	log.Infof("[Processor] 文件下载成功, Object: %s, size: %d", task.ObjectKey, size)
	return tmp.Name(), cleanup, nil
}

func (p *Processor) updateStatus(ctx context.Context, id uint, status, chunkCount int) {
	if id == 0 || p.docs == nil {
		return
	}
	if err := p.docs.UpdateResult(ctx, id, status, chunkCount); err != nil {
		log.Warnf("[Processor] 更新文档状态失败, id: %d, error: %v", id, err)
	}
}

// DescribeError 把内部错误转换成可以返回给用户的描述，不泄露路径或供应商报文。
func DescribeError(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return "unsupported file format; upload a PDF, TXT or MD file"
	case errors.Is(err, ingest.ErrFileTooLarge):
		return "file is too large"
	case errors.Is(err, ingest.ErrLoad):
		return "could not read the document: " + loadCause(err)
	case errors.Is(err, index.ErrEmbedding):
		return "could not embed the document; try again later"
	case errors.Is(err, index.ErrIndexFault):
		return "could not store the document in the knowledge base"
	default:
		return "document processing failed"
	}
}

// loadCause 取出 LoadError 的底层原因；文件系统错误只保留系统描述，不带临时文件路径。
func loadCause(err error) string {
	var le *ingest.LoadError
	if !errors.As(err, &le) || le.Err == nil {
		return "unknown error"
	}
	cause := le.Err
	var pe *fs.PathError
	if errors.As(cause, &pe) {
		cause = pe.Err
	}
	return cause.Error()
}
