package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig         `yaml:"app"`
	Server       ServerConfig      `yaml:"server"`
	Redis        RedisConfig       `yaml:"redis"`
	Worker       WorkerConfig      `yaml:"worker"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
	Watch        WatchConfig       `yaml:"watch"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	UploadDir        string `yaml:"upload_dir"`
	QueryWaitSeconds int    `yaml:"query_wait_seconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// MemoTTLHours bounds how long memoized step results survive in Redis.
	MemoTTLHours int `yaml:"memo_ttl_hours"`
}

type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency"`
	MaxRetry       int `yaml:"max_retry"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	RetentionHours int `yaml:"retention_hours"`
}

type VectorStoreConfig struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	Dimension  int            `yaml:"dimension"`
	Metric     string         `yaml:"metric"`
	Chromem    ChromemConfig  `yaml:"chromem"`
	Qdrant     QdrantConfig   `yaml:"qdrant"`
	PGVector   PGVectorConfig `yaml:"pgvector"`
}

type ChromemConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	Compress bool   `yaml:"compress"`
}

type QdrantConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type PGVectorConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type WatchConfig struct {
	Dirs       []string `yaml:"dirs"`
	Extensions []string `yaml:"extensions"`
}

const (
	StoreChromem  = "chromem"
	StoreQdrant   = "qdrant"
	StorePGVector = "pgvector"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LoadConfig reads the YAML file at path, applies defaults and environment overrides.
// A missing file yields the defaults. A .env file in the working directory is loaded when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	// zero is a valid setting for these, so they are seeded before the file
	// is decoded instead of being filled in when left empty
	cfg.Worker.MaxRetry = 3
	cfg.InferenceLLM.Temperature = 0.2
	cfg.RAG.ChunkOverlap = 200
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills settings left empty, where an empty value is never meaningful.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "docmind"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploads"
	}
	if cfg.Server.QueryWaitSeconds == 0 {
		cfg.Server.QueryWaitSeconds = 60
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.MemoTTLHours == 0 {
		cfg.Redis.MemoTTLHours = 24
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Worker.TimeoutSeconds == 0 {
		cfg.Worker.TimeoutSeconds = 600
	}
	if cfg.Worker.RetentionHours == 0 {
		cfg.Worker.RetentionHours = 1
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = StoreChromem
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "docs"
	}
	if cfg.VectorStore.Dimension == 0 {
		cfg.VectorStore.Dimension = 3072
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "./chromemdb"
	}
	if cfg.VectorStore.Qdrant.URL == "" {
		cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.VectorStore.Qdrant.TimeoutSeconds == 0 {
		cfg.VectorStore.Qdrant.TimeoutSeconds = 30
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOpenAI
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "text-embedding-3-large"
	}
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = ProviderOpenAI
	}
	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = "gpt-4o-mini"
	}
	if cfg.InferenceLLM.MaxTokens == 0 {
		cfg.InferenceLLM.MaxTokens = 1024
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if len(cfg.Watch.Extensions) == 0 {
		cfg.Watch.Extensions = []string{".pdf"}
	}
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.EmbedLLM.Key == "" && cfg.EmbedLLM.Provider == ProviderOpenAI {
			cfg.EmbedLLM.Key = key
		}
		if cfg.InferenceLLM.Key == "" && cfg.InferenceLLM.Provider == ProviderOpenAI {
			cfg.InferenceLLM.Key = key
		}
	}
	if v := os.Getenv("DOCMIND_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DOCMIND_QDRANT_URL"); v != "" {
		cfg.VectorStore.Qdrant.URL = v
	}
	if v := os.Getenv("DOCMIND_QDRANT_API_KEY"); v != "" {
		cfg.VectorStore.Qdrant.APIKey = v
	}
	if v := os.Getenv("DOCMIND_PG_DSN"); v != "" {
		cfg.VectorStore.PGVector.DSN = v
	}
}

// Validate reports configuration values that would break the pipeline at runtime.
func (c *Config) Validate() error {
	switch c.VectorStore.Type {
	case StoreChromem, StoreQdrant, StorePGVector:
	default:
		return fmt.Errorf("unsupported vector store type: %s", c.VectorStore.Type)
	}
	switch strings.ToLower(c.VectorStore.Metric) {
	case "cosine", "dot", "euclid":
	default:
		return fmt.Errorf("unsupported similarity metric: %s", c.VectorStore.Metric)
	}
	if c.VectorStore.Dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", c.VectorStore.Dimension)
	}
	if c.VectorStore.Type == StorePGVector && c.VectorStore.PGVector.DSN == "" {
		return errors.New("pgvector store requires vector_store.pgvector.dsn")
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be >= 1, got %d", c.RAG.TopK)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("rag.chunk_overlap must be >= 0, got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.Worker.MaxRetry < 0 {
		return fmt.Errorf("worker.max_retry must be >= 0, got %d", c.Worker.MaxRetry)
	}
	for _, llm := range []LLMConfig{c.EmbedLLM, c.InferenceLLM} {
		if llm.Provider != ProviderOpenAI && llm.Provider != ProviderOllama {
			return fmt.Errorf("unsupported llm provider: %s", llm.Provider)
		}
	}
	return nil
}

func (c ServerConfig) QueryWait() time.Duration {
	return time.Duration(c.QueryWaitSeconds) * time.Second
}

func (c WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c WorkerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c RedisConfig) MemoTTL() time.Duration {
	return time.Duration(c.MemoTTLHours) * time.Hour
}

func (c QdrantConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
