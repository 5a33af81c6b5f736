// Package config provides configuration loading and structs for the tanya server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Query     QueryConfig     `yaml:"query"`
	History   HistoryConfig   `yaml:"history"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AllowedOrigins lists extra origins accepted for websocket upgrades; "*" accepts any.
	// Empty allows same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds the database path and the directory of per-user index snapshots.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexDir     string `yaml:"index_dir"`
}

// VectorConfig selects the vector index backend ("memory" or "faiss").
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// EmbeddingConfig holds embedder settings. Provider is one of hash, openai, onnx.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	ModelPath         string        `yaml:"model_path"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// LLMConfig holds answer generator settings. Provider is one of openai, extractive.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Temperature       *float64      `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// ChunkingConfig holds segmenter settings, in runes.
type ChunkingConfig struct {
	Size          int `yaml:"size"`
	Overlap       int `yaml:"overlap"`
	PreviewLength int `yaml:"preview_length"`
}

// QueryConfig holds retrieval and answer settings.
type QueryConfig struct {
	TopK                 int           `yaml:"top_k"`
	MaxK                 int           `yaml:"max_k"`
	HistoryTurns         int           `yaml:"history_turns"`
	StreamBuffer         int           `yaml:"stream_buffer"`
	PersistStreamedTurns *bool         `yaml:"persist_streamed_turns"`
	RebuildTimeout       time.Duration `yaml:"rebuild_timeout"`
}

// PersistStreamedTurnsOrDefault reports whether streamed answers are saved; defaults to true when unset.
func (q *QueryConfig) PersistStreamedTurnsOrDefault() bool {
	if q.PersistStreamedTurns != nil {
		return *q.PersistStreamedTurns
	}
	return true
}

// HistoryConfig selects where conversation turns are kept ("sqlite" or "redis").
type HistoryConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MaxTurns      int    `yaml:"max_turns"`
}

// IngestConfig holds upload and ingestion settings.
type IngestConfig struct {
	EmbedConcurrency int      `yaml:"embed_concurrency"`
	MaxUploadBytes   int64    `yaml:"max_upload_bytes"`
	Extensions       []string `yaml:"extensions"`
}

// InboxConfig holds the watched inbox. Files at {directory}/{user_id}/{name} are ingested for
// that user. An empty directory disables the inbox.
type InboxConfig struct {
	Directory string        `yaml:"directory"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// overlays secrets from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}

	ApplyEnv(&cfg)
	return &cfg, nil
}

// ApplyEnv overrides secrets with TANYA_LLM_API_KEY, TANYA_EMBEDDING_API_KEY and
// TANYA_REDIS_PASSWORD when they are set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("TANYA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TANYA_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("TANYA_REDIS_PASSWORD"); v != "" {
		cfg.History.RedisPassword = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
