// Package config loads the memory service configuration from the
// environment.
package config

import (
	"time"

	sconfig "github.com/nadia-ai/nadia/shared/config"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Search    SearchConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Cadence   CadenceConfig
	Audit     AuditConfig
	Research  ResearchConfig
	Tiers     map[string]TierConfig
	Fusion    FusionConfig
	Otel      OtelConfig
}

type ServerConfig struct {
	Addr string
	// InternalTokens authorize service-to-service callers. Empty means
	// internal auth is disabled (local development).
	InternalTokens []string
}

// DatabaseConfig carries both pools: memories live in their own database,
// while the job queue and conversation capture sit in the gateway's.
type DatabaseConfig struct {
	MemoryURL  string
	GatewayURL string
	MaxConns   int32
}

type RedisConfig struct {
	URL string
}

// SearchConfig points at the web-research upstream. Empty disables the
// research pool.
type SearchConfig struct {
	URL string
}

type LLMConfig struct {
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

type CadenceConfig struct {
	Messages int
	Tokens   int
	Interval time.Duration
	Debounce time.Duration
}

type AuditConfig struct {
	HighThreshold float64
	MaxPerAudit   int
	Workers       int
}

type ResearchConfig struct {
	Workers int
}

type TierConfig struct {
	TTLDays       int
	DecayPerWeek  float64
	SaveThreshold float64
}

type FusionConfig struct {
	FTS     float64
	Vector  float64
	Keyword float64
}

type OtelConfig struct {
	Endpoint    string
	Environment string
	TraceStdout bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           sconfig.GetEnv("NADIA_MEMORYD_ADDR", ":8081"),
			InternalTokens: sconfig.GetEnvSlice("NADIA_INTERNAL_TOKENS", nil),
		},
		Database: DatabaseConfig{
			MemoryURL:  sconfig.GetEnvWithFallback("NADIA_MEMORY_DATABASE_URL", "DATABASE_URL", "postgres://localhost:5432/nadia_memory?sslmode=disable"),
			GatewayURL: sconfig.GetEnv("NADIA_GATEWAY_DATABASE_URL", "postgres://localhost:5432/nadia?sslmode=disable"),
			MaxConns:   int32(sconfig.GetEnvInt("NADIA_DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			URL: sconfig.GetEnvWithFallback("NADIA_REDIS_URL", "REDIS_URL", "redis://localhost:6379/0"),
		},
		Search: SearchConfig{
			URL: sconfig.GetEnv("NADIA_SEARCH_URL", ""),
		},
		LLM: LLMConfig{
			URL:    sconfig.GetEnvWithFallback("NADIA_LLM_URL", "OPENAI_BASE_URL", ""),
			APIKey: sconfig.GetEnvWithFallback("NADIA_LLM_API_KEY", "OPENAI_API_KEY", ""),
			Model:  sconfig.GetEnv("NADIA_LLM_MODEL", "gpt-4o-mini"),
		},
		Embedding: EmbeddingConfig{
			URL:        sconfig.GetEnv("NADIA_EMBEDDING_URL", ""),
			APIKey:     sconfig.GetEnv("NADIA_EMBEDDING_API_KEY", ""),
			Model:      sconfig.GetEnv("NADIA_EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: sconfig.GetEnvInt("NADIA_EMBEDDING_DIMENSIONS", 1536),
		},
		Cadence: CadenceConfig{
			Messages: sconfig.GetEnvInt("NADIA_CADENCE_MSGS", 6),
			Tokens:   sconfig.GetEnvInt("NADIA_CADENCE_TOKENS", 1500),
			Interval: time.Duration(sconfig.GetEnvInt("NADIA_CADENCE_MINUTES", 3)) * time.Minute,
			Debounce: time.Duration(sconfig.GetEnvInt("NADIA_CADENCE_DEBOUNCE_SEC", 30)) * time.Second,
		},
		Audit: AuditConfig{
			HighThreshold: sconfig.GetEnvFloat("NADIA_HIGH_THRESHOLD", 0.80),
			MaxPerAudit:   sconfig.GetEnvInt("NADIA_MAX_PER_AUDIT", 3),
			Workers:       sconfig.GetEnvInt("NADIA_AUDIT_WORKERS", 2),
		},
		Research: ResearchConfig{
			Workers: sconfig.GetEnvInt("NADIA_RESEARCH_WORKERS", 2),
		},
		Tiers: map[string]TierConfig{
			"T1": {
				TTLDays:       sconfig.GetEnvInt("NADIA_TIER1_TTL_DAYS", 120),
				DecayPerWeek:  sconfig.GetEnvFloat("NADIA_TIER1_DECAY_PER_WEEK", 0.01),
				SaveThreshold: sconfig.GetEnvFloat("NADIA_TIER1_SAVE_THRESHOLD", sconfig.GetEnvFloat("NADIA_SAVE_THRESHOLD", 0.65)),
			},
			"T2": {
				TTLDays:       sconfig.GetEnvInt("NADIA_TIER2_TTL_DAYS", 365),
				DecayPerWeek:  sconfig.GetEnvFloat("NADIA_TIER2_DECAY_PER_WEEK", 0.005),
				SaveThreshold: sconfig.GetEnvFloat("NADIA_TIER2_SAVE_THRESHOLD", 0.70),
			},
			"T3": {
				TTLDays:       sconfig.GetEnvInt("NADIA_TIER3_TTL_DAYS", 90),
				DecayPerWeek:  sconfig.GetEnvFloat("NADIA_TIER3_DECAY_PER_WEEK", 0.02),
				SaveThreshold: sconfig.GetEnvFloat("NADIA_TIER3_SAVE_THRESHOLD", 0.70),
			},
		},
		Fusion: FusionConfig{
			FTS:     sconfig.GetEnvFloat("NADIA_FUSE_FTS", 0.4),
			Vector:  sconfig.GetEnvFloat("NADIA_FUSE_VECTOR", 0.4),
			Keyword: sconfig.GetEnvFloat("NADIA_FUSE_KEYWORD", 0.2),
		},
		Otel: OtelConfig{
			Endpoint:    sconfig.GetEnvWithFallback("NADIA_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: sconfig.GetEnvWithFallback("NADIA_ENVIRONMENT", "ENVIRONMENT", "development"),
			TraceStdout: sconfig.GetEnvBool("NADIA_TRACE_STDOUT", false),
		},
	}
}

func (c *Config) IsSearchConfigured() bool {
	return c.Search.URL != ""
}

func (c *Config) IsEmbeddingConfigured() bool {
	return c.Embedding.URL != ""
}

func (c *Config) IsLLMConfigured() bool {
	return c.LLM.URL != ""
}
