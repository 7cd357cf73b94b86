package config

import (
	"os"
	"strconv"
)

type Config struct {
	APIPort  string
	LogLevel string

	QdrantURL        string
	QdrantCollection string

	OllamaURL        string
	OllamaEmbedModel string
	EmbeddingDim     int

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string

	SearchDefaultLimit  int
	SearchMinScore      float64
	SearchRelaxedScore  float64
	SearchMinCandidates int
	WindowPageSize      int

	SynthTemperature float64
	SynthMaxTokens   int

	RecallTimeoutSeconds int

	APIRateLimitRPS           float64
	APIRateLimitBurst         int
	APIMaxInFlight            int
	APIBackpressureWaitMillis int
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "browser_history"),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "all-minilm"),
		EmbeddingDim:     mustEnvInt("EMBEDDING_DIM", 384),

		OpenRouterAPIKey:  mustEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: mustEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   mustEnv("OPENROUTER_MODEL", "openai/gpt-4-turbo-preview"),

		SearchDefaultLimit:  mustEnvInt("SEARCH_DEFAULT_LIMIT", 10),
		SearchMinScore:      mustEnvFloat("SEARCH_MIN_SCORE", 0.3),
		SearchRelaxedScore:  mustEnvFloat("SEARCH_RELAXED_SCORE", 0.15),
		SearchMinCandidates: mustEnvInt("SEARCH_MIN_CANDIDATES", 3),
		WindowPageSize:      mustEnvInt("WINDOW_PAGE_SIZE", 100),

		SynthTemperature: mustEnvFloat("SYNTH_TEMPERATURE", 0.7),
		SynthMaxTokens:   mustEnvInt("SYNTH_MAX_TOKENS", 600),

		RecallTimeoutSeconds: mustEnvInt("RECALL_TIMEOUT_SECONDS", 30),

		APIRateLimitRPS:           mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:         mustEnvInt("API_RATE_LIMIT_BURST", 0),
		APIMaxInFlight:            mustEnvInt("API_MAX_IN_FLIGHT", 0),
		APIBackpressureWaitMillis: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 100),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
