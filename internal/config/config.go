// Package config reads the environment-style options consumed by the
// retrieval core. Every option has a documented default; a .env file is
// honored when present (loaded by the cmd entry point).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the full configuration surface.
type Config struct {
	// Embedding provider selection: "bge" (local encoder service) or
	// "openai" (remote API).
	EmbeddingProvider string
	EmbeddingModel    string
	// EmbeddingURL is the local encoder service address (bge provider).
	EmbeddingURL string
	OpenAIAPIKey string
	OpenAIURL    string
	// EmbeddingDim must equal the backing index dimension.
	EmbeddingDim    int
	EmbeddingBatch  int
	EmbeddingMaxLen int

	ChunkSize      int
	QueryCacheSize int

	RerankEnable bool
	RerankURL    string
	RerankK      int
	RerankFinalN int

	// Datastore selection: "milvus" or "memory".
	Datastore        string
	MilvusHost       string
	MilvusPort       string
	MilvusCollection string

	// LogLevel: "debug" enables debug logging, anything else is info.
	LogLevel string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		EmbeddingProvider: getEnvWithDefault("EMBEDDING_PROVIDER", "bge"),
		EmbeddingModel:    getEnvWithDefault("EMBEDDING_MODEL", "BAAI/bge-m3"),
		EmbeddingURL:      getEnvWithDefault("EMBEDDING_URL", "http://localhost:8080"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIURL:         getEnvWithDefault("OPENAI_URL", "https://api.openai.com/v1"),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIM", 1024),
		EmbeddingBatch:    getEnvInt("EMBEDDING_BATCH", 64),
		EmbeddingMaxLen:   getEnvInt("EMBEDDING_MAX_LEN", 8192),

		ChunkSize:      getEnvInt("CHUNK_SIZE", 200),
		QueryCacheSize: getEnvInt("QUERY_CACHE_SIZE", 2000),

		RerankEnable: getEnvBool("RERANK_ENABLE", true),
		RerankURL:    getEnvWithDefault("RERANK_URL", "http://localhost:8081"),
		RerankK:      getEnvInt("RERANK_K", 5),
		RerankFinalN: getEnvInt("RERANK_FINAL_N", 3),

		Datastore:        getEnvWithDefault("DATASTORE", "milvus"),
		MilvusHost:       getEnvWithDefault("MILVUS_HOST", "localhost"),
		MilvusPort:       getEnvWithDefault("MILVUS_PORT", "19530"),
		MilvusCollection: getEnvWithDefault("MILVUS_COLLECTION", "documents"),

		LogLevel: strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
	}
}

// MilvusAddr returns the host:port Milvus address.
func (c *Config) MilvusAddr() string {
	return c.MilvusHost + ":" + c.MilvusPort
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}
