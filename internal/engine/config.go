package engine

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	Port    string `yaml:"port"`
	MCPPort string `yaml:"mcp_port"` // empty = MCP transport disabled

	LLMAPIKey          string        `yaml:"-"`
	LLMAPIKeyFallbacks []string      `yaml:"-"`
	LLMAPIBase         string        `yaml:"llm_api_base"`
	LLMModel           string        `yaml:"llm_model"`
	LLMTemperature     float64       `yaml:"llm_temperature"`
	LLMMaxTokens       int           `yaml:"llm_max_tokens"`
	LLMTimeout         time.Duration `yaml:"llm_timeout"`

	EmbedAPIBase   string        `yaml:"embed_api_base"`
	EmbedModel     string        `yaml:"embed_model"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
	EmbedRPS       float64       `yaml:"embed_rps"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`

	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	IndexKind    string `yaml:"index_kind"` // bruteforce | cover

	IndexCacheTTL        time.Duration `yaml:"index_cache_ttl"` // 0 = build per request
	IndexCacheMaxEntries int           `yaml:"index_cache_max_entries"`
	BuildTimeout         time.Duration `yaml:"build_timeout"`

	TranscriptLangs   []string      `yaml:"transcript_langs"`
	TranscriptTimeout time.Duration `yaml:"transcript_timeout"`
	StrictCaptions    bool          `yaml:"strict_captions"`
	MaxQueryChars     int           `yaml:"max_query_chars"`

	RedisURL             string        `yaml:"redis_url"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries      int           `yaml:"cache_max_entries"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | text | pretty

	HTTPClient *http.Client `yaml:"-"`
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages (rag, sources).
// Always points to the current cfg value.
var Cfg = &cfg

// Init installs c as the process-wide configuration.
func Init(c Config) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg = c
	Cfg = &cfg
}

// DefaultConfig returns the built-in defaults. Chunking, retrieval and model
// settings match the values the service has always shipped with.
func DefaultConfig() Config {
	return Config{
		Port:                 "8000",
		LLMAPIBase:           "https://generativelanguage.googleapis.com/v1beta/openai",
		LLMModel:             "gemini-2.5-flash",
		LLMTemperature:       0.2,
		LLMMaxTokens:         2048,
		LLMTimeout:           60 * time.Second,
		EmbedAPIBase:         "https://generativelanguage.googleapis.com/v1beta/openai",
		EmbedModel:           "text-embedding-004",
		EmbedBatchSize:       32,
		EmbedRPS:             5,
		EmbedTimeout:         30 * time.Second,
		ChunkSize:            1000,
		ChunkOverlap:         200,
		TopK:                 4,
		IndexKind:            "bruteforce",
		IndexCacheTTL:        30 * time.Minute,
		IndexCacheMaxEntries: 64,
		BuildTimeout:         3 * time.Minute,
		TranscriptLangs:      []string{"en"},
		TranscriptTimeout:    20 * time.Second,
		MaxQueryChars:        2000,
		CacheTTL:             6 * time.Hour,
		CacheMaxEntries:      500,
		CacheCleanupInterval: 5 * time.Minute,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// LoadConfig builds the configuration: defaults, then the optional YAML file at
// path, then environment variables. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&c)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	c.Port = env.Str("PORT", c.Port)
	c.MCPPort = env.Str("MCP_PORT", c.MCPPort)

	c.LLMAPIKey = env.Str("GEMINI_API_KEY", "")
	if c.LLMAPIKey == "" {
		c.LLMAPIKey = env.Str("LLM_API_KEY", "")
	}
	c.LLMAPIKeyFallbacks = env.List("LLM_API_KEY_FALLBACKS", "")
	c.LLMAPIBase = env.Str("LLM_API_BASE", c.LLMAPIBase)
	c.LLMModel = env.Str("LLM_MODEL", c.LLMModel)
	c.LLMTemperature = env.Float("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMMaxTokens = env.Int("LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMTimeout = env.Duration("LLM_TIMEOUT", c.LLMTimeout)

	c.EmbedAPIBase = env.Str("EMBED_API_BASE", c.EmbedAPIBase)
	c.EmbedModel = env.Str("EMBED_MODEL", c.EmbedModel)
	c.EmbedBatchSize = env.Int("EMBED_BATCH_SIZE", c.EmbedBatchSize)
	c.EmbedRPS = env.Float("EMBED_RPS", c.EmbedRPS)
	c.EmbedTimeout = env.Duration("EMBED_TIMEOUT", c.EmbedTimeout)

	c.ChunkSize = env.Int("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = env.Int("CHUNK_OVERLAP", c.ChunkOverlap)
	c.TopK = env.Int("TOP_K", c.TopK)
	c.IndexKind = strings.ToLower(env.Str("INDEX_KIND", c.IndexKind))

	c.IndexCacheTTL = env.Duration("INDEX_CACHE_TTL", c.IndexCacheTTL)
	c.IndexCacheMaxEntries = env.Int("INDEX_CACHE_MAX_ENTRIES", c.IndexCacheMaxEntries)
	c.BuildTimeout = env.Duration("BUILD_TIMEOUT", c.BuildTimeout)

	c.TranscriptLangs = env.List("TRANSCRIPT_LANGS", strings.Join(c.TranscriptLangs, ","))
	c.TranscriptTimeout = env.Duration("TRANSCRIPT_TIMEOUT", c.TranscriptTimeout)
	if v, err := strconv.ParseBool(env.Str("STRICT_CAPTIONS", strconv.FormatBool(c.StrictCaptions))); err == nil {
		c.StrictCaptions = v
	}
	c.MaxQueryChars = env.Int("MAX_QUERY_CHARS", c.MaxQueryChars)

	c.RedisURL = env.Str("REDIS_URL", c.RedisURL)
	c.CacheTTL = env.Duration("CACHE_TTL", c.CacheTTL)
	c.CacheMaxEntries = env.Int("CACHE_MAX_ENTRIES", c.CacheMaxEntries)
	c.CacheCleanupInterval = env.Duration("CACHE_CLEANUP_INTERVAL", c.CacheCleanupInterval)

	c.LogLevel = env.Str("LOG_LEVEL", c.LogLevel)
	c.LogFormat = strings.ToLower(env.Str("LOG_FORMAT", c.LogFormat))
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.LLMAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	switch c.IndexKind {
	case "bruteforce", "cover":
	default:
		return fmt.Errorf("INDEX_KIND must be bruteforce or cover, got %q", c.IndexKind)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize)
	}
	return nil
}
