package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
embedding:
  provider: openai
  timeout: 5s
query:
  top_k: 4
  persist_streamed_turns: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if !filepath.IsAbs(cfg.Storage.DatabasePath) {
		t.Errorf("database_path should be absolute: %s", cfg.Storage.DatabasePath)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("embedding: %+v", cfg.Embedding)
	}
	if cfg.Query.TopK != 4 {
		t.Errorf("top_k=%d", cfg.Query.TopK)
	}
	if cfg.Query.PersistStreamedTurnsOrDefault() {
		t.Error("persist_streamed_turns should be false when set to false")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/tanya.db"
  index_dir: "./data/indices"
inbox:
  directory: "./inbox"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "tanya.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "indices"); cfg.Storage.IndexDir != want {
		t.Errorf("index_dir = %s, want %s", cfg.Storage.IndexDir, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Inbox.Directory != want {
		t.Errorf("inbox = %s, want %s", cfg.Inbox.Directory, want)
	}
}

func TestLoad_envOverridesSecrets(t *testing.T) {
	t.Setenv("TANYA_LLM_API_KEY", "llm-key")
	t.Setenv("TANYA_EMBEDDING_API_KEY", "emb-key")
	t.Setenv("TANYA_REDIS_PASSWORD", "redis-pw")
	path := writeConfig(t, `
llm:
  api_key: from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "llm-key" || cfg.Embedding.APIKey != "emb-key" || cfg.History.RedisPassword != "redis-pw" {
		t.Errorf("env not applied: llm=%s emb=%s redis=%s", cfg.LLM.APIKey, cfg.Embedding.APIKey, cfg.History.RedisPassword)
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host", cfg.Server.Host, "localhost"},
		{"port", cfg.Server.Port, 8080},
		{"index type", cfg.Vector.IndexType, "memory"},
		{"embedding provider", cfg.Embedding.Provider, "hash"},
		{"llm provider", cfg.LLM.Provider, "extractive"},
		{"chunk size", cfg.Chunking.Size, 700},
		{"chunk overlap", cfg.Chunking.Overlap, 100},
		{"preview length", cfg.Chunking.PreviewLength, 200},
		{"top k", cfg.Query.TopK, 3},
		{"history turns", cfg.Query.HistoryTurns, 6},
		{"stream buffer", cfg.Query.StreamBuffer, 8},
		{"history backend", cfg.History.Backend, "sqlite"},
		{"inbox debounce", cfg.Inbox.Debounce, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if !cfg.Query.PersistStreamedTurnsOrDefault() {
		t.Error("streamed turns should be persisted by default")
	}
	if len(cfg.Ingest.Extensions) != len(DefaultExtensions) {
		t.Errorf("extensions: got %v", cfg.Ingest.Extensions)
	}
}

func TestQueryConfig_PersistStreamedTurnsOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		q := &QueryConfig{}
		if !q.PersistStreamedTurnsOrDefault() {
			t.Error("want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		q := &QueryConfig{PersistStreamedTurns: &f}
		if q.PersistStreamedTurnsOrDefault() {
			t.Error("want false")
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db", IndexDir: "/tmp/idx"},
		Query:   QueryConfig{RebuildTimeout: 90 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Query.RebuildTimeout != 90*time.Second {
		t.Errorf("rebuild timeout: got %s", loaded.Query.RebuildTimeout)
	}
}
