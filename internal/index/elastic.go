package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/es"
	"kb-assistant-go/pkg/log"
)

// ElasticIndex stores entries in an Elasticsearch dense_vector index and
// searches with approximate kNN.
type ElasticIndex struct {
	client   *elasticsearch.Client
	name     string
	embedder Embedder
	workers  int
}

var _ Index = (*ElasticIndex)(nil)

// NewElastic wraps an existing client. The index must already exist; see es.EnsureIndex.
func NewElastic(client *elasticsearch.Client, indexName string, embedder Embedder, workers int) *ElasticIndex {
	return &ElasticIndex{client: client, name: indexName, embedder: embedder, workers: workers}
}

func (x *ElasticIndex) Add(ctx context.Context, chunks []model.Chunk) (AddResult, error) {
	return add(ctx, x.embedder, x.workers, chunks, x.persist)
}

func (x *ElasticIndex) persist(ctx context.Context, entries []model.Entry) error {
	for i, e := range entries {
		doc := model.EsChunk{
			EntryID:   e.ID.String(),
			Source:    e.Chunk.Source,
			ChunkIdx:  e.Chunk.Index,
			Page:      e.Chunk.Page,
			Text:      e.Chunk.Text,
			Vector:    e.Embedding,
			CreatedAt: e.CreatedAt,
		}
		// 最后一条刷新索引，保证 Add 返回后即可检索
		if err := es.IndexChunk(ctx, x.client, x.name, doc, i == len(entries)-1); err != nil {
			return err
		}
	}
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64       `json:"_score"`
			Source model.EsChunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (x *ElasticIndex) Search(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	if x.Size(ctx) == 0 {
		return []model.ScoredChunk{}, nil
	}
	vec, err := embedQuery(ctx, x.embedder, query)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vec,
			"k":              k,
			"num_candidates": max(k*10, 100),
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode search body: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.name),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ElasticIndex] 检索失败, error: %v", err)
		return []model.ScoredChunk{}, nil
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ElasticIndex] 检索返回错误: %s", res.String())
		return []model.ScoredChunk{}, nil
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		log.Errorf("[ElasticIndex] 解析检索结果失败, error: %v", err)
		return []model.ScoredChunk{}, nil
	}
	out := make([]model.ScoredChunk, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, model.ScoredChunk{
			Chunk: model.Chunk{
				Text:   h.Source.Text,
				Source: h.Source.Source,
				Index:  h.Source.ChunkIdx,
				Page:   h.Source.Page,
			},
			// cosine 相似度的 _score 为 (1 + cos) / 2
			Score: 2*h.Score - 1,
		})
	}
	return out, nil
}

func (x *ElasticIndex) Size(ctx context.Context) int {
	res, err := x.client.Count(x.client.Count.WithContext(ctx), x.client.Count.WithIndex(x.name))
	if err != nil {
		log.Errorf("[ElasticIndex] 统计数量失败, error: %v", err)
		return 0
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ElasticIndex] 统计数量返回错误: %s", res.String())
		return 0
	}
	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0
	}
	return parsed.Count
}

func (x *ElasticIndex) Close() error { return nil }
