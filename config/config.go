// Package config loads policyrag settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/search"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	PostgresURL string `yaml:"postgres_url"`
}

// AIConfig configures the embedding and chat endpoints.
type AIConfig struct {
	EmbeddingHost     string        `yaml:"embedding_host"`
	ChatHost          string        `yaml:"chat_host"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	ChatModel         string        `yaml:"chat_model"`
	APIKey            string        `yaml:"api_key"`
	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// IndexConfig tunes the vector index.
type IndexConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
	ExactThreshold int `yaml:"exact_threshold"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	Limit        int           `yaml:"limit"`
	Threshold    float32       `yaml:"threshold"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// IngestionConfig sizes the ingestion pipeline.
type IngestionConfig struct {
	Workers int `yaml:"workers"`
}

// RAGConfig configures the question answering assistant.
type RAGConfig struct {
	Threshold float32 `yaml:"threshold"`
	TopK      int     `yaml:"top_k"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the root application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	RAG       RAGConfig       `yaml:"rag"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "policyrag.db",
		},
		AI: AIConfig{
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			ChatHost:       aiDefaults.ChatHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			ChatModel:      aiDefaults.ChatModel,
			Dimensions:     aiDefaults.Dimensions,
			Timeout:        aiDefaults.Timeout,
			MaxInputChars:  aiDefaults.MaxInputChars,
		},
		Index: IndexConfig{
			M:              index.DefaultM,
			EfConstruction: index.DefaultEfConstruction,
			EfSearch:       index.DefaultEfSearch,
			ExactThreshold: index.DefaultExactThreshold,
		},
		Search: SearchConfig{
			Limit:        10,
			Threshold:    search.DefaultThreshold,
			EmbedTimeout: search.DefaultEmbedTimeout,
		},
		RAG: RAGConfig{
			Threshold: rag.DefaultThreshold,
			TopK:      rag.DefaultTopK,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		LogLevel: "info",
	}
}

// SearchPath lists the locations Load tries when no path is given, in order.
func SearchPath() []string {
	paths := []string{"policyrag.yaml", "policyrag.yml", "config.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "policyrag", "config.yaml"))
	}
	return append(paths, "/etc/policyrag/config.yaml")
}

// Load reads the configuration at path, or the first file on the search path
// when path is empty. Values missing from the file keep their defaults, and the
// environment overrides both. The returned string is the file used, if any.
func Load(path string) (*Config, string, error) {
	if path == "" {
		for _, candidate := range SearchPath() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, path, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvDB             = "POLICYRAG_DB"
	EnvBackend        = "POLICYRAG_BACKEND"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvEmbeddingHost  = "EMBEDDING_HOST"
	EnvEmbeddingModel = "EMBEDDING_MODEL"
	EnvChatHost       = "CHAT_HOST"
	EnvChatModel      = "CHAT_MODEL"
	EnvAPIKey         = "OPENAI_API_KEY"
)

// ApplyEnv overrides settings from the environment as read by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.Path, EnvDB)
	set(&c.Storage.Backend, EnvBackend)
	set(&c.Storage.PostgresURL, EnvDatabaseURL)
	set(&c.AI.EmbeddingHost, EnvEmbeddingHost)
	set(&c.AI.EmbeddingModel, EnvEmbeddingModel)
	set(&c.AI.ChatHost, EnvChatHost)
	set(&c.AI.ChatModel, EnvChatModel)
	set(&c.AI.APIKey, EnvAPIKey)
}

// AIServiceConfig converts the AI section into an ai.Config.
func (c *Config) AIServiceConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithChatHost(c.AI.ChatHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithChatModel(c.AI.ChatModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithDimensions(c.AI.Dimensions),
		ai.WithTimeout(c.AI.Timeout),
		ai.WithMaxInputChars(c.AI.MaxInputChars),
		ai.WithRequestsPerSecond(c.AI.RequestsPerSecond),
	)
	cfg.Normalize()
	return cfg
}

// Save writes cfg to path as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
