// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"fmt"
	"time"
)

// 文档导入状态
const (
	DocumentStatusPending = 0
	DocumentStatusIndexed = 1
	DocumentStatusFailed  = 2
)

// Document 定义了 documents 表的 ORM 模型，记录每个上传文档的元数据与导入结果。
type Document struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileMD5    string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"fileMd5"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectKey  string    `gorm:"type:varchar(512);not null" json:"objectKey"`
	UserID     string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	TotalSize  int64     `gorm:"not null" json:"totalSize"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	Status     int       `gorm:"type:tinyint;not null;default:0" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// IngestResult 是文档导入的结果。
type IngestResult struct {
	Success    bool   `json:"success"`
	Source     string `json:"source,omitempty"`
	ChunkCount int    `json:"chunkCount"`
	Failed     int    `json:"failed,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Queued     bool   `json:"queued,omitempty"`
	Error      string `json:"error,omitempty"`
}

const timeFormat = "2006-01-02 15:04:05"

// DocumentView 是返回给前端的文档信息。
type DocumentView struct {
	FileMD5    string `json:"fileMd5"`
	FileName   string `json:"fileName"`
	TotalSize  int64  `json:"totalSize"`
	ChunkCount int    `json:"chunkCount"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

// View 转换为前端展示结构。
func (d Document) View() DocumentView {
	return DocumentView{
		FileMD5:    d.FileMD5,
		FileName:   d.FileName,
		TotalSize:  d.TotalSize,
		ChunkCount: d.ChunkCount,
		Status:     statusText(d.Status),
		CreatedAt:  d.CreatedAt.Format(timeFormat),
	}
}

func statusText(s int) string {
	switch s {
	case DocumentStatusIndexed:
		return "indexed"
	case DocumentStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func (r IngestResult) String() string {
	if !r.Success {
		return fmt.Sprintf("ingest failed: %s", r.Error)
	}
	if r.Queued {
		return fmt.Sprintf("%s: queued for indexing", r.Source)
	}
	return fmt.Sprintf("%s: %d chunks", r.Source, r.ChunkCount)
}
