// Package config loads the recall worker configuration from the environment.
package config

import (
	"time"

	sconfig "github.com/nadia-ai/nadia/shared/config"
)

type Config struct {
	Database  DatabaseConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Worker    WorkerConfig
	Otel      OtelConfig
}

// DatabaseConfig points at the gateway database, where the captured
// conversations and the job queue live.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
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

type WorkerConfig struct {
	Addr         string
	PollInterval time.Duration
	Concurrency  int
	JobBudget    time.Duration
	MaxRetries   int
}

type OtelConfig struct {
	Endpoint    string
	Environment string
	TraceStdout bool
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:      sconfig.GetEnvWithFallback("NADIA_GATEWAY_DATABASE_URL", "DATABASE_URL", "postgres://localhost:5432/nadia?sslmode=disable"),
			MaxConns: int32(sconfig.GetEnvInt("NADIA_DB_MAX_CONNS", 0)),
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
		Worker: WorkerConfig{
			Addr:         sconfig.GetEnv("NADIA_WORKER_ADDR", ":8082"),
			PollInterval: time.Duration(sconfig.GetEnvInt("NADIA_WORKER_POLL_MS", 5000)) * time.Millisecond,
			Concurrency:  sconfig.GetEnvInt("NADIA_WORKER_CONCURRENCY", 4),
			JobBudget:    time.Duration(sconfig.GetEnvInt("NADIA_JOB_BUDGET_SEC", 30)) * time.Second,
			MaxRetries:   sconfig.GetEnvInt("NADIA_JOB_MAX_RETRIES", 3),
		},
		Otel: OtelConfig{
			Endpoint:    sconfig.GetEnvWithFallback("NADIA_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: sconfig.GetEnvWithFallback("NADIA_ENVIRONMENT", "ENVIRONMENT", "development"),
			TraceStdout: sconfig.GetEnvBool("NADIA_TRACE_STDOUT", false),
		},
	}
}

func (c *Config) IsLLMConfigured() bool {
	return c.LLM.URL != ""
}

func (c *Config) IsEmbeddingConfigured() bool {
	return c.Embedding.URL != ""
}
