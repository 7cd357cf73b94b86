package bootstrap

import (
	"time"

	"github.com/retracehq/retrace/internal/config"
	"github.com/retracehq/retrace/internal/core/ports"
	"github.com/retracehq/retrace/internal/core/usecase"
	"github.com/retracehq/retrace/internal/infrastructure/embedding/ollama"
	"github.com/retracehq/retrace/internal/infrastructure/llm/openrouter"
	"github.com/retracehq/retrace/internal/infrastructure/resilience"
	"github.com/retracehq/retrace/internal/infrastructure/vector/qdrant"
	"github.com/retracehq/retrace/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	Vector   ports.VectorStore
	Embedder ports.Embedder
	Chat     ports.ChatModel
	RecallUC ports.RecallService
}

func New(cfg config.Config) *App {
	serverMetrics := metrics.NewHTTPServerMetrics("api")
	executor := resilience.NewExecutor(resilience.DefaultPolicy())

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDim)
	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.EmbeddingDim, executor)
	chat := openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel, executor)

	cascade := usecase.NewSearchCascade(embedder, vectorDB, cfg.SearchRelaxedScore, cfg.SearchMinCandidates, serverMetrics)
	synth := usecase.NewSynthesizer(chat, float32(cfg.SynthTemperature), cfg.SynthMaxTokens, serverMetrics)
	recallUC := usecase.NewRecallUseCase(
		cascade,
		vectorDB,
		synth,
		serverMetrics,
		time.Duration(cfg.RecallTimeoutSeconds)*time.Second,
		cfg.WindowPageSize,
	)

	return &App{
		Config:   cfg,
		Metrics:  serverMetrics,
		Vector:   vectorDB,
		Embedder: embedder,
		Chat:     chat,
		RecallUC: recallUC,
	}
}
