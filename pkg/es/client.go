// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

// NewClient 创建 Elasticsearch 客户端，并确保知识库索引存在。
func NewClient(esCfg config.ElasticsearchConfig, dims int) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureIndex(context.Background(), client, esCfg.IndexName, dims); err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则按向量维度 dims 创建它。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"entry_id":   { "type": "keyword" },
				"source":     { "type": "keyword" },
				"chunk_idx":  { "type": "integer" },
				"page":       { "type": "integer" },
				"text":       { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"created_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功, dims: %d", indexName, dims)
	return nil
}

// IndexChunk 将单个文本块写入 Elasticsearch。refresh 为 true 时立即可查。
func IndexChunk(ctx context.Context, client *elasticsearch.Client, indexName string, doc model.EsChunk, refresh bool) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.EntryID,
		Body:       bytes.NewReader(docBytes),
	}
	if refresh {
		req.Refresh = "true"
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index chunk %s: %s", doc.EntryID, res.Status())
	}
	return nil
}
