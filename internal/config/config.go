package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	RAG       RAGConfig
	Ingest    IngestConfig
	Webhook   WebhookConfig
	LogLevel  string
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitRPS    float64 // 0 disables rate limiting
	RateLimitBurst  int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string // empty uses the embedded schema
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RequestTimeout   time.Duration
	MaxTokens        int
	Temperature      float64
}

type EmbeddingConfig struct {
	Backend   string // "hash", "openai" or "ollama"
	Model     string
	Dimension int // used by the hash backend
	BatchSize int
	Timeout   time.Duration
	CacheTTL  time.Duration
}

type IndexConfig struct {
	ManifestPath string
}

type RAGConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	DefaultTopK     int
	MaxTopK         int
	ContextChars    int
	ExtractiveChars int
	Hybrid          bool
	StreamPace      time.Duration
	ScreenQuestions bool
}

type IngestConfig struct {
	Parallelism int
	MaxFiles    int
	MaxFileMB   int
}

type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := getEnvBool(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	floatVar := func(key string, fallback float64) float64 {
		v, err := getEnvFloat(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            intVar("SERVER_PORT", 8080),
			ShutdownTimeout: durVar("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:    floatVar("RATE_LIMIT_RPS", 20),
			RateLimitBurst:  intVar("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       intVar("DB_MAX_CONNS", 20),
			MinConns:       intVar("DB_MIN_CONNS", 2),
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       intVar("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       intVar("LLM_MAX_RETRIES", 3),
			RetryBaseDelay:   durVar("LLM_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:    durVar("LLM_RETRY_MAX_DELAY", 10*time.Second),
			RequestTimeout:   durVar("LLM_REQUEST_TIMEOUT", 60*time.Second),
			MaxTokens:        intVar("LLM_MAX_TOKENS", 1024),
			Temperature:      floatVar("LLM_TEMPERATURE", 0.2),
		},
		Embedding: EmbeddingConfig{
			Backend:   getEnv("EMBEDDING_BACKEND", "hash"),
			Model:     getEnv("EMBEDDING_MODEL", ""),
			Dimension: intVar("EMBEDDING_DIMENSION", 384),
			BatchSize: intVar("EMBEDDING_BATCH_SIZE", 100),
			Timeout:   durVar("EMBEDDING_TIMEOUT", 30*time.Second),
			CacheTTL:  durVar("EMBEDDING_CACHE_TTL", time.Hour),
		},
		Index: IndexConfig{
			ManifestPath: getEnv("INDEX_MANIFEST_PATH", "./data/index.json"),
		},
		RAG: RAGConfig{
			ChunkSize:       intVar("RAG_CHUNK_SIZE", 1500),
			ChunkOverlap:    intVar("RAG_CHUNK_OVERLAP", 300),
			DefaultTopK:     intVar("RAG_DEFAULT_TOP_K", 3),
			MaxTopK:         intVar("RAG_MAX_TOP_K", 10),
			ContextChars:    intVar("RAG_CONTEXT_CHARS", 6000),
			ExtractiveChars: intVar("RAG_EXTRACTIVE_CHARS", 2000),
			Hybrid:          boolVar("RETRIEVAL_HYBRID", false),
			StreamPace:      durVar("RAG_STREAM_PACE", 20*time.Millisecond),
			ScreenQuestions: boolVar("RAG_SCREEN_QUESTIONS", true),
		},
		Ingest: IngestConfig{
			Parallelism: intVar("INGEST_PARALLELISM", 4),
			MaxFiles:    intVar("INGEST_MAX_FILES", 10),
			MaxFileMB:   intVar("INGEST_MAX_FILE_MB", 50),
		},
		Webhook: WebhookConfig{
			URL:        getEnv("WEBHOOK_URL", ""),
			Secret:     getEnv("WEBHOOK_SECRET", ""),
			Timeout:    durVar("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxRetries: intVar("WEBHOOK_MAX_RETRIES", 5),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("parse config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ChunkOptions returns the chunking parameters derived from the RAG settings.
func (c *Config) ChunkOptions() chunker.ChunkOptions {
	return chunker.ChunkOptions{
		ChunkSize:    c.RAG.ChunkSize,
		ChunkOverlap: c.RAG.ChunkOverlap,
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if err := c.ChunkOptions().Validate(); err != nil {
		return err
	}

	var problems []string
	if c.RAG.DefaultTopK < 1 || c.RAG.DefaultTopK > c.RAG.MaxTopK {
		problems = append(problems, fmt.Sprintf("RAG_DEFAULT_TOP_K must be in [1, %d]", c.RAG.MaxTopK))
	}
	if c.RAG.ContextChars <= 0 {
		problems = append(problems, "RAG_CONTEXT_CHARS must be positive")
	}
	if c.RAG.ExtractiveChars <= 0 {
		problems = append(problems, "RAG_EXTRACTIVE_CHARS must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		problems = append(problems, "EMBEDDING_BATCH_SIZE must be positive")
	}
	if c.Embedding.Timeout <= 0 {
		problems = append(problems, "EMBEDDING_TIMEOUT must be positive")
	}
	switch c.Embedding.Backend {
	case "hash":
		if c.Embedding.Dimension <= 0 {
			problems = append(problems, "EMBEDDING_DIMENSION must be positive")
		}
	case "openai":
		if c.LLM.OpenAIKey == "" {
			problems = append(problems, "EMBEDDING_BACKEND=openai requires OPENAI_API_KEY")
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			problems = append(problems, "EMBEDDING_BACKEND=ollama requires OLLAMA_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown EMBEDDING_BACKEND %q", c.Embedding.Backend))
	}
	if c.Ingest.Parallelism <= 0 {
		problems = append(problems, "INGEST_PARALLELISM must be positive")
	}
	if c.Ingest.MaxFiles <= 0 || c.Ingest.MaxFileMB <= 0 {
		problems = append(problems, "INGEST_MAX_FILES and INGEST_MAX_FILE_MB must be positive")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		problems = append(problems, "RATE_LIMIT_BURST must be at least 1")
	}
	if c.Index.ManifestPath == "" {
		problems = append(problems, "INDEX_MANIFEST_PATH is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, ", "))
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
