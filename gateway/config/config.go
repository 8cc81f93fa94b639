// Package config loads the gateway configuration from the environment.
package config

import (
	"time"

	sconfig "github.com/nadia-ai/nadia/shared/config"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Memory    MemoryConfig
	Ingest    IngestConfig
	LLM       LLMConfig
	Fallback  LLMConfig
	Embedding EmbeddingConfig
	Router    RouterConfig
	Limits    LimitsConfig
	Timeouts  TimeoutsConfig
	Flags     FlagsConfig
	Recall    RecallConfig
	Cost      CostConfig
	Otel      OtelConfig
}

type ServerConfig struct {
	Addr           string
	RequireAuth    bool
	DefaultUser    string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type RedisConfig struct {
	URL string
}

// MemoryConfig points at the memory service. Token rides on
// x-internal-service.
type MemoryConfig struct {
	URL   string
	Token string
}

// IngestConfig points at the optional document-ingestion upstream. Empty
// disables the ingestion layer.
type IngestConfig struct {
	URL string
}

type LLMConfig struct {
	Name   string
	URL    string
	APIKey string
	Model  string
}

type EmbeddingConfig struct {
	URL        string
	APIKey     string
	Model      string
	Dimensions int
}

// RouterConfig carries the routing tables and tail policy.
type RouterConfig struct {
	KeepLastTurns   int
	MaxInputTokens  int
	MaxOutputTokens int
	TinyModel       string
	CostModel       string
	ContextModel    string
	ReasoningModel  string
}

type LimitsConfig struct {
	RateRPS        float64
	RateBurst      int
	StreamsPerUser int
}

type TimeoutsConfig struct {
	Soft     time.Duration
	Hard     time.Duration
	TTFBSoft time.Duration

	RecallDeadline        time.Duration
	ConversationsDeadline time.Duration
	UnlimitedDeadline     time.Duration
	IngestDeadline        time.Duration
	ResearchWindow        time.Duration
}

type FlagsConfig struct {
	// FR gates unlimited recall end to end: trigger detection and archive
	// loading both sit behind it.
	FR           bool
	RAG          bool
	HybridRAG    bool
	Search       bool
	MemoryEvents bool
}

type RecallConfig struct {
	MaxItems       int
	ConversationsN int
	MinTriggerConf float64
}

// CostConfig prices tokens for the cost_tracking rows, USD per 1k tokens.
type CostConfig struct {
	InputPer1K  float64
	OutputPer1K float64
}

type OtelConfig struct {
	Endpoint    string
	Environment string
	TraceStdout bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           sconfig.GetEnv("NADIA_GATEWAY_ADDR", ":8080"),
			RequireAuth:    sconfig.GetEnvBool("NADIA_REQUIRE_AUTH", false),
			DefaultUser:    sconfig.GetEnv("NADIA_DEFAULT_USER", "default_user"),
			AllowedOrigins: sconfig.GetEnvSlice("NADIA_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			URL:      sconfig.GetEnvWithFallback("NADIA_GATEWAY_DATABASE_URL", "DATABASE_URL", "postgres://localhost:5432/nadia?sslmode=disable"),
			MaxConns: int32(sconfig.GetEnvInt("NADIA_DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			URL: sconfig.GetEnvWithFallback("NADIA_REDIS_URL", "REDIS_URL", "redis://localhost:6379/0"),
		},
		Memory: MemoryConfig{
			URL:   sconfig.GetEnv("NADIA_MEMORY_URL", "http://localhost:8081"),
			Token: sconfig.GetEnv("NADIA_MEMORY_TOKEN", "gateway"),
		},
		Ingest: IngestConfig{
			URL: sconfig.GetEnv("NADIA_INGEST_URL", ""),
		},
		LLM: LLMConfig{
			Name:   sconfig.GetEnv("NADIA_LLM_NAME", "primary"),
			URL:    sconfig.GetEnvWithFallback("NADIA_LLM_URL", "OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey: sconfig.GetEnvWithFallback("NADIA_LLM_API_KEY", "OPENAI_API_KEY", ""),
			Model:  sconfig.GetEnv("NADIA_LLM_MODEL", "gpt-4o-mini"),
		},
		Fallback: LLMConfig{
			Name:   sconfig.GetEnv("NADIA_LLM_FALLBACK_NAME", "fallback"),
			URL:    sconfig.GetEnv("NADIA_LLM_FALLBACK_URL", ""),
			APIKey: sconfig.GetEnv("NADIA_LLM_FALLBACK_API_KEY", ""),
			Model:  sconfig.GetEnv("NADIA_LLM_FALLBACK_MODEL", ""),
		},
		Embedding: EmbeddingConfig{
			URL:        sconfig.GetEnv("NADIA_EMBEDDING_URL", ""),
			APIKey:     sconfig.GetEnv("NADIA_EMBEDDING_API_KEY", ""),
			Model:      sconfig.GetEnv("NADIA_EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: sconfig.GetEnvInt("NADIA_EMBEDDING_DIMENSIONS", 1536),
		},
		Router: RouterConfig{
			KeepLastTurns:   sconfig.GetEnvInt("NADIA_KEEP_LAST_TURNS", 10),
			MaxInputTokens:  sconfig.GetEnvInt("NADIA_MAX_INPUT_TOKENS", 16000),
			MaxOutputTokens: sconfig.GetEnvInt("NADIA_MAX_OUTPUT_TOKENS", 4096),
			TinyModel:       sconfig.GetEnv("NADIA_MODEL_TINY", ""),
			CostModel:       sconfig.GetEnv("NADIA_MODEL_COST", ""),
			ContextModel:    sconfig.GetEnv("NADIA_MODEL_CONTEXT", ""),
			ReasoningModel:  sconfig.GetEnv("NADIA_MODEL_REASONING", ""),
		},
		Limits: LimitsConfig{
			RateRPS:        sconfig.GetEnvFloat("NADIA_RATE_RPS", 10),
			RateBurst:      sconfig.GetEnvInt("NADIA_RATE_BURST", 20),
			StreamsPerUser: sconfig.GetEnvInt("NADIA_MAX_STREAMS_PER_USER", 2),
		},
		Timeouts: TimeoutsConfig{
			Soft:                  time.Duration(sconfig.GetEnvInt("NADIA_TIMEOUT_SOFT_MS", 20000)) * time.Millisecond,
			Hard:                  time.Duration(sconfig.GetEnvInt("NADIA_TIMEOUT_HARD_MS", 120000)) * time.Millisecond,
			TTFBSoft:              time.Duration(sconfig.GetEnvInt("NADIA_TIMEOUT_TTFB_SOFT_MS", 8000)) * time.Millisecond,
			RecallDeadline:        time.Duration(sconfig.GetEnvInt("NADIA_RECALL_DEADLINE_MS", 300)) * time.Millisecond,
			ConversationsDeadline: time.Duration(sconfig.GetEnvInt("NADIA_CONVERSATIONS_DEADLINE_MS", 400)) * time.Millisecond,
			UnlimitedDeadline:     time.Duration(sconfig.GetEnvInt("NADIA_UNLIMITED_DEADLINE_MS", 800)) * time.Millisecond,
			IngestDeadline:        time.Duration(sconfig.GetEnvInt("NADIA_INGEST_DEADLINE_MS", 1000)) * time.Millisecond,
			ResearchWindow:        time.Duration(sconfig.GetEnvInt("NADIA_RESEARCH_WINDOW_MS", 5000)) * time.Millisecond,
		},
		Flags: FlagsConfig{
			FR:           sconfig.GetEnvBool("NADIA_FLAG_FR", true),
			RAG:          sconfig.GetEnvBool("NADIA_FLAG_RAG", true),
			HybridRAG:    sconfig.GetEnvBool("NADIA_FLAG_HYBRID_RAG", true),
			Search:       sconfig.GetEnvBool("NADIA_FLAG_SEARCH", true),
			MemoryEvents: sconfig.GetEnvBool("NADIA_FLAG_MEMORY_EVENTS", true),
		},
		Recall: RecallConfig{
			MaxItems:       sconfig.GetEnvInt("NADIA_RECALL_MAX_ITEMS", 5),
			ConversationsN: clamp(sconfig.GetEnvInt("NADIA_CONVERSATIONS_N", 2), 1, 5),
			MinTriggerConf: sconfig.GetEnvFloat("NADIA_MIN_TRIGGER_CONFIDENCE", 0.7),
		},
		Cost: CostConfig{
			InputPer1K:  sconfig.GetEnvFloat("NADIA_COST_INPUT_PER_1K", 0.00015),
			OutputPer1K: sconfig.GetEnvFloat("NADIA_COST_OUTPUT_PER_1K", 0.0006),
		},
		Otel: OtelConfig{
			Endpoint:    sconfig.GetEnvWithFallback("NADIA_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: sconfig.GetEnvWithFallback("NADIA_ENVIRONMENT", "ENVIRONMENT", "development"),
			TraceStdout: sconfig.GetEnvBool("NADIA_TRACE_STDOUT", false),
		},
	}
}

func (c *Config) IsIngestConfigured() bool {
	return c.Ingest.URL != ""
}

func (c *Config) IsFallbackConfigured() bool {
	return c.Fallback.URL != ""
}

func (c *Config) IsEmbeddingConfigured() bool {
	return c.Embedding.URL != ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
