// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// LLM backend settings.
	OllamaURL      string
	ConductorModel string // Fallback conductor model when the committee file omits one.

	// Embedding settings.
	EmbedModel      string
	EmbedDimensions int // Vector dimensions; must match the chosen model's output.

	// Cache settings.
	RedisURL        string
	CacheTTL        time.Duration
	CacheSimilarity float64 // Cosine threshold for a semantic hit.
	CacheMaxScan    int     // Upper bound on entries scanned per semantic lookup.

	// Retrieval backend settings.
	SearchURL        string // Lexical search backend (Meilisearch-compatible).
	SearchIndex      string
	SearchAPIKey     string
	QdrantURL        string
	VectorCollection string
	QdrantAPIKey     string
	GraphURL         string // Empty disables the graph expert.
	ExpertTimeout    time.Duration
	RouteTopK        int
	MMRLambda        float64 // Diversity factor for route re-ranking; 0 disables MMR.

	// Consensus settings.
	CommitteeConfig string // Path to the mode/committee YAML file.
	GlossaryPath    string // Path to the glossary YAML file.
	HeavyCapacity   int64  // Concurrent heavy-model slots.

	// Scheduler settings.
	PrewarmInterval time.Duration // 0 disables the background prewarm loop.

	// MCP settings.
	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	RateLimitPerMinute  int // Per-client budget for POST /vote; 0 disables.
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
// Invalid values are collected and reported together rather than one at a time.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Port:                envIntOr(&errs, "CORTEX_PORT", 8080),
		ReadTimeout:         envDurationOr(&errs, "CORTEX_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDurationOr(&errs, "CORTEX_WRITE_TIMEOUT", 60*time.Second),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		ConductorModel:      envStr("CORTEX_CONDUCTOR_MODEL", "mistral:7b"),
		EmbedModel:          envStr("CORTEX_EMBED_MODEL", "nomic-embed-text"),
		EmbedDimensions:     envIntOr(&errs, "CORTEX_EMBED_DIMENSIONS", 768),
		RedisURL:            envStr("REDIS_URL", "redis://localhost:6379/0"),
		CacheTTL:            envDurationOr(&errs, "CORTEX_CACHE_TTL", time.Hour),
		CacheSimilarity:     envFloatOr(&errs, "CORTEX_CACHE_SIMILARITY", 0.93),
		CacheMaxScan:        envIntOr(&errs, "CORTEX_CACHE_MAX_SCAN", 200),
		SearchURL:           envStr("MEILI_URL", "http://localhost:7700"),
		SearchIndex:         envStr("CORTEX_SEARCH_INDEX", "cortex_docs"),
		SearchAPIKey:        envStr("MEILI_API_KEY", ""),
		QdrantURL:           envStr("QDRANT_URL", "http://localhost:6333"),
		VectorCollection:    envStr("CORTEX_VECTOR_COLLECTION", "cortex_docs"),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		GraphURL:            envStr("CORTEX_GRAPH_URL", ""),
		ExpertTimeout:       envDurationOr(&errs, "CORTEX_EXPERT_TIMEOUT", 4*time.Second),
		RouteTopK:           envIntOr(&errs, "CORTEX_ROUTE_TOP_K", 5),
		MMRLambda:           envFloatOr(&errs, "CORTEX_ROUTE_MMR_LAMBDA", 0),
		CommitteeConfig:     envStr("CORTEX_COMMITTEE_CONFIG", "configs/committee.yaml"),
		GlossaryPath:        envStr("CORTEX_GLOSSARY", "configs/glossary.yaml"),
		HeavyCapacity:       int64(envIntOr(&errs, "CORTEX_HEAVY_CAPACITY", 1)),
		PrewarmInterval:     envDurationOr(&errs, "CORTEX_PREWARM_INTERVAL", 5*time.Minute),
		MCPEnabled:          envBoolOr(&errs, "CORTEX_MCP_ENABLED", false),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "cortexd"),
		LogLevel:            envStr("CORTEX_LOG_LEVEL", "info"),
		RateLimitPerMinute:  envIntOr(&errs, "CORTEX_VOTE_RATE_LIMIT", 0),
		MaxRequestBodyBytes: int64(envIntOr(&errs, "CORTEX_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: CORTEX_PORT must be in 1..65535")
	}
	if c.EmbedDimensions <= 0 {
		return fmt.Errorf("config: CORTEX_EMBED_DIMENSIONS must be positive")
	}
	if c.CacheSimilarity <= 0 || c.CacheSimilarity > 1 {
		return fmt.Errorf("config: CORTEX_CACHE_SIMILARITY must be in (0, 1]")
	}
	if c.CacheMaxScan <= 0 {
		return fmt.Errorf("config: CORTEX_CACHE_MAX_SCAN must be positive")
	}
	if c.HeavyCapacity < 1 {
		return fmt.Errorf("config: CORTEX_HEAVY_CAPACITY must be at least 1")
	}
	if c.RouteTopK <= 0 {
		return fmt.Errorf("config: CORTEX_ROUTE_TOP_K must be positive")
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("config: CORTEX_ROUTE_MMR_LAMBDA must be in [0, 1]")
	}
	if c.CommitteeConfig == "" {
		return fmt.Errorf("config: CORTEX_COMMITTEE_CONFIG is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: CORTEX_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envIntOr(errs *[]error, key string, defaultVal int) int {
	v, err := envInt(key, defaultVal)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

func envFloatOr(errs *[]error, key string, defaultVal float64) float64 {
	v, err := envFloat(key, defaultVal)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

func envBoolOr(errs *[]error, key string, defaultVal bool) bool {
	v, err := envBool(key, defaultVal)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

func envDurationOr(errs *[]error, key string, defaultVal time.Duration) time.Duration {
	v, err := envDuration(key, defaultVal)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}
