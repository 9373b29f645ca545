package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Session.HistoryMax)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, int64(20<<20), cfg.Ingest.MaxFileSize())
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, 60*time.Second, cfg.RAG.GenerationTimeout)
	assert.Equal(t, "local", cfg.Index.Backend)
	assert.Equal(t, 4000, cfg.Assistant.MaxReplyLength)
	assert.NotEmpty(t, cfg.RAG.Messages.EmptyKnowledgeBase)
	assert.NotEmpty(t, cfg.RAG.Messages.NoRelevantDocuments)
	assert.NotEmpty(t, cfg.RAG.Messages.Failure)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
session:
  history_max: 8
rag:
  top_k: 5
  generation_timeout: "15s"
index:
  backend: "pgvector"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("KBA_RAG_TOP_K", "7")
	t.Setenv("KBA_LLM_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Session.HistoryMax)
	assert.Equal(t, 7, cfg.RAG.TopK, "environment wins over file")
	assert.Equal(t, 15*time.Second, cfg.RAG.GenerationTimeout)
	assert.Equal(t, "pgvector", cfg.Index.Backend)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"overlap equals size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"zero chunk size", func(c *Config) { c.Ingest.ChunkSize = 0 }},
		{"negative history", func(c *Config) { c.Session.HistoryMax = -1 }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"unknown index backend", func(c *Config) { c.Index.Backend = "chroma" }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "disk" }},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"unknown pdf extractor", func(c *Config) { c.Ingest.PDFExtractor = "ocr" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
