package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ChunkSize != 1000 || c.ChunkOverlap != 200 {
		t.Errorf("chunking = %d/%d, want 1000/200", c.ChunkSize, c.ChunkOverlap)
	}
	if c.TopK != 4 {
		t.Errorf("TopK = %d, want 4", c.TopK)
	}
	if c.LLMModel != "gemini-2.5-flash" {
		t.Errorf("LLMModel = %q", c.LLMModel)
	}
	if c.LLMTemperature != 0.2 {
		t.Errorf("LLMTemperature = %v, want 0.2", c.LLMTemperature)
	}
	if c.LLMAPIKey != "test-key" {
		t.Errorf("LLMAPIKey = %q", c.LLMAPIKey)
	}
}

func TestLoadConfigMissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	_, err := LoadConfig("")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoadConfigLLMKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "other-key")

	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LLMAPIKey != "other-key" {
		t.Errorf("LLMAPIKey = %q, want other-key", c.LLMAPIKey)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "chunk_size: 500\nchunk_overlap: 50\ntop_k: 6\nindex_cache_ttl: 10m\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("TOP_K", "3")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ChunkSize != 500 || c.ChunkOverlap != 50 {
		t.Errorf("chunking = %d/%d, want 500/50", c.ChunkSize, c.ChunkOverlap)
	}
	if c.TopK != 3 {
		t.Errorf("TopK = %d, env should win over file", c.TopK)
	}
	if c.IndexCacheTTL != 10*time.Minute {
		t.Errorf("IndexCacheTTL = %v, want 10m", c.IndexCacheTTL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.LLMAPIKey = "k"

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, false},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, false},
		{"overlap equals size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, false},
		{"zero top k", func(c *Config) { c.TopK = 0 }, false},
		{"unknown index", func(c *Config) { c.IndexKind = "hnsw" }, false},
		{"cover index", func(c *Config) { c.IndexKind = "cover" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, ok want %v", err, tt.ok)
			}
		})
	}
}
