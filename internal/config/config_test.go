package config

import "testing"

func TestLoadIncludesSearchDefaults(t *testing.T) {
	t.Setenv("SEARCH_DEFAULT_LIMIT", "")
	t.Setenv("SEARCH_MIN_SCORE", "")
	t.Setenv("SEARCH_RELAXED_SCORE", "")
	t.Setenv("SEARCH_MIN_CANDIDATES", "")
	t.Setenv("EMBEDDING_DIM", "")
	t.Setenv("OLLAMA_EMBED_MODEL", "")

	cfg := Load()
	if cfg.SearchDefaultLimit != 10 {
		t.Fatalf("expected default limit 10, got %d", cfg.SearchDefaultLimit)
	}
	if cfg.SearchMinScore != 0.3 {
		t.Fatalf("expected default min score 0.3, got %f", cfg.SearchMinScore)
	}
	if cfg.SearchRelaxedScore != 0.15 {
		t.Fatalf("expected default relaxed score 0.15, got %f", cfg.SearchRelaxedScore)
	}
	if cfg.SearchMinCandidates != 3 {
		t.Fatalf("expected default min candidates 3, got %d", cfg.SearchMinCandidates)
	}
	if cfg.EmbeddingDim != 384 {
		t.Fatalf("expected default embedding dim 384, got %d", cfg.EmbeddingDim)
	}
	if cfg.OllamaEmbedModel != "all-minilm" {
		t.Fatalf("expected default embed model all-minilm, got %q", cfg.OllamaEmbedModel)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SEARCH_DEFAULT_LIMIT", "25")
	t.Setenv("SEARCH_MIN_SCORE", "0.45")
	t.Setenv("RECALL_TIMEOUT_SECONDS", "10")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")

	cfg := Load()
	if cfg.SearchDefaultLimit != 25 {
		t.Fatalf("expected limit 25, got %d", cfg.SearchDefaultLimit)
	}
	if cfg.SearchMinScore != 0.45 {
		t.Fatalf("expected min score 0.45, got %f", cfg.SearchMinScore)
	}
	if cfg.RecallTimeoutSeconds != 10 {
		t.Fatalf("expected timeout 10s, got %d", cfg.RecallTimeoutSeconds)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5 rps, got %f", cfg.APIRateLimitRPS)
	}
}

func TestLoadFallsBackOnUnparsableValues(t *testing.T) {
	t.Setenv("SEARCH_DEFAULT_LIMIT", "lots")
	t.Setenv("SEARCH_MIN_SCORE", "high")

	cfg := Load()
	if cfg.SearchDefaultLimit != 10 {
		t.Fatalf("expected fallback limit 10, got %d", cfg.SearchDefaultLimit)
	}
	if cfg.SearchMinScore != 0.3 {
		t.Fatalf("expected fallback min score 0.3, got %f", cfg.SearchMinScore)
	}
}
