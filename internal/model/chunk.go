package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk 是文档切分后的一段文本。
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"` // 文档展示名称
	Index  int    `json:"index"`  // 在源文档中的顺序
	Page   int    `json:"page"`   // 从 1 开始，未知为 0
}

// Entry 是知识库中的一条记录：文本块及其向量。
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEntry 为 chunk 生成新的 ID。
func NewEntry(c Chunk, embedding []float32) Entry {
	return Entry{
		ID:        uuid.New(),
		Chunk:     c,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}

// ScoredChunk 是检索结果，Score 越大越相关。
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// EsChunk 定义了存储在 Elasticsearch 中的文档结构。
type EsChunk struct {
	EntryID   string    `json:"entry_id"`
	Source    string    `json:"source"`
	ChunkIdx  int       `json:"chunk_idx"`
	Page      int       `json:"page"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}
