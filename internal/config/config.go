// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 KBA_LLM_API_KEY 覆盖 llm.api_key。
const EnvPrefix = "KBA"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Session       SessionConfig       `mapstructure:"session"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Index         IndexConfig         `mapstructure:"index"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// AuthConfig 存储签发令牌所需的 API Key（bcrypt 哈希）。为空时不校验 API Key。
type AuthConfig struct {
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// SessionConfig 会话存储配置。
type SessionConfig struct {
	Backend    string        `mapstructure:"backend"` // memory | redis
	HistoryMax int           `mapstructure:"history_max"`
	TTL        time.Duration `mapstructure:"ttl"` // 仅 redis，0 表示不过期
}

// AssistantConfig 控制消息分发层的行为。
type AssistantConfig struct {
	MaxReplyLength    int `mapstructure:"max_reply_length"`
	MediaHistoryTurns int `mapstructure:"media_history_turns"`
	SpeechMaxChars    int `mapstructure:"speech_max_chars"`
}

// RAGConfig 检索增强查询配置。
type RAGConfig struct {
	TopK              int           `mapstructure:"top_k"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	Messages          RAGMessages   `mapstructure:"messages"`
}

// RAGMessages 是固定的面向用户的回复文本。
type RAGMessages struct {
	EmptyKnowledgeBase  string `mapstructure:"empty_knowledge_base"`
	NoRelevantDocuments string `mapstructure:"no_relevant_documents"`
	Failure             string `mapstructure:"failure"`
}

// IngestConfig 文档切分与导入配置。
type IngestConfig struct {
	ChunkSize     int    `mapstructure:"chunk_size"`
	ChunkOverlap  int    `mapstructure:"chunk_overlap"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
	PDFExtractor  string `mapstructure:"pdf_extractor"` // fitz | tika
	Async         bool   `mapstructure:"async"`         // 通过 Kafka 异步导入
	SeedDir       string `mapstructure:"seed_dir"`      // 启动时导入该目录下的文档，为空跳过
}

// MaxFileSize 返回字节数。
func (c IngestConfig) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

// IndexConfig 知识库索引配置。
type IndexConfig struct {
	Backend      string `mapstructure:"backend"` // local | elasticsearch | pgvector
	Path         string `mapstructure:"path"`
	EmbedWorkers int    `mapstructure:"embed_workers"`
}

// StorageConfig 原始文档存储配置。
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // local | minio
	Dir     string `mapstructure:"dir"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时文档登记使用 SQLite。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQLiteConfig 未配置 MySQL 时文档登记的本地文件。Path 为空时只保存在内存中。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PostgresConfig 存储 pgvector 索引的连接配置。
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey      string              `mapstructure:"api_key"`
	BaseURL     string              `mapstructure:"base_url"`
	Model       string              `mapstructure:"model"`
	VisionModel string              `mapstructure:"vision_model"`
	AudioModel  string              `mapstructure:"audio_model"`
	SpeechModel string              `mapstructure:"speech_model"`
	Voice       string              `mapstructure:"voice"`
	Timeout     time.Duration       `mapstructure:"timeout"`
	Generation  LLMGenerationConfig `mapstructure:"generation"`
	Prompt      LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式。
type LLMPromptConfig struct {
	Persona      string `mapstructure:"persona"`
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	Instructions string `mapstructure:"instructions"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("auth.api_key_hash", "")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.history_max", 20)
	v.SetDefault("session.ttl", "0s")

	v.SetDefault("assistant.max_reply_length", 4000)
	v.SetDefault("assistant.media_history_turns", 5)
	v.SetDefault("assistant.speech_max_chars", 500)

	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.generation_timeout", "60s")
	v.SetDefault("rag.messages.empty_knowledge_base",
		"Your knowledge base is empty. Upload a PDF, TXT or MD document first, then ask again.")
	v.SetDefault("rag.messages.no_relevant_documents",
		"I could not find anything relevant to your question in the uploaded documents.")
	v.SetDefault("rag.messages.failure",
		"Sorry, something went wrong while searching your documents. Please try again.")

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.max_file_size_mb", 20)
	v.SetDefault("ingest.pdf_extractor", "fitz")
	v.SetDefault("ingest.async", false)
	v.SetDefault("ingest.seed_dir", "")

	v.SetDefault("index.backend", "local")
	v.SetDefault("index.path", "data/kb.db")
	v.SetDefault("index.embed_workers", 4)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "data/uploads")

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.sqlite.path", "data/documents.db")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "kb-ingest")
	v.SetDefault("kafka.group_id", "kb-ingest-group")

	v.SetDefault("tika.server_url", "http://localhost:9998")

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "kb_chunks")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "kb_chunks")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "kb-documents")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.vision_model", "gpt-4o-mini")
	v.SetDefault("llm.audio_model", "gpt-4o-audio-preview")
	v.SetDefault("llm.speech_model", "gpt-4o-mini-tts")
	v.SetDefault("llm.voice", "alloy")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 0.0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("llm.prompt.persona",
		"You are a friendly study assistant. Explain concepts clearly, use examples, and keep answers focused.")
	v.SetDefault("llm.prompt.rules",
		"You are a study assistant that answers questions using the user's own documents.")
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.instructions",
		"Answer only from the reference material above. Cite the sources you used as [Source N]. "+
			"If the material does not contain the answer, say so explicitly.")
}

// Load 读取 .env、YAML 配置文件（path 为空时只用默认值）以及 KBA_ 前缀的环境变量。
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置之间的约束。
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap))
	}
	if c.Ingest.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_file_size_mb must be positive, got %d", c.Ingest.MaxFileSizeMB))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK))
	}
	if c.Session.HistoryMax < 0 {
		errs = append(errs, fmt.Errorf("session.history_max must not be negative, got %d", c.Session.HistoryMax))
	}
	if !oneOf(c.Session.Backend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown session.backend %q", c.Session.Backend))
	}
	if !oneOf(c.Index.Backend, "local", "elasticsearch", "pgvector") {
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	if !oneOf(c.Storage.Backend, "local", "minio") {
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if !oneOf(c.Ingest.PDFExtractor, "fitz", "tika") {
		errs = append(errs, fmt.Errorf("unknown ingest.pdf_extractor %q", c.Ingest.PDFExtractor))
	}
	return errors.Join(errs...)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
