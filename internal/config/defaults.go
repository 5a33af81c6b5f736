package config

import "time"

// DefaultExtensions are the file types accepted for upload and inbox ingestion.
var DefaultExtensions = []string{".pdf", ".docx", ".txt", ".md", ".xlsx", ".pptx", ".odp", ".ods", ".odt", ".rtf"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tanya/data/db/tanya.db"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "/usr/local/var/tanya/data/indices"
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "extractive"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == nil {
		t := 0.0
		cfg.LLM.Temperature = &t
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 700
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 100
	}
	if cfg.Chunking.PreviewLength == 0 {
		cfg.Chunking.PreviewLength = 200
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 3
	}
	if cfg.Query.MaxK == 0 {
		cfg.Query.MaxK = 20
	}
	if cfg.Query.HistoryTurns == 0 {
		cfg.Query.HistoryTurns = 6
	}
	if cfg.Query.StreamBuffer == 0 {
		cfg.Query.StreamBuffer = 8
	}
	if cfg.Query.PersistStreamedTurns == nil {
		t := true
		cfg.Query.PersistStreamedTurns = &t
	}
	if cfg.Query.RebuildTimeout == 0 {
		cfg.Query.RebuildTimeout = 5 * time.Minute
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = "sqlite"
	}
	if cfg.History.RedisAddr == "" {
		cfg.History.RedisAddr = "localhost:6379"
	}
	if cfg.History.MaxTurns == 0 {
		cfg.History.MaxTurns = 100
	}

	if cfg.Ingest.EmbedConcurrency == 0 {
		cfg.Ingest.EmbedConcurrency = 4
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 50 << 20
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Inbox.Debounce == 0 {
		cfg.Inbox.Debounce = 400 * time.Millisecond
	}
}
