package ports

import (
	"context"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
)

// Embedder turns query text into a fixed-dimension vector. Implementations
// must be safe for concurrent use after their one-time initialization.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the narrow contract over the vector collaborator. All reads
// are scoped to an exact-match user id. UpsertPages belongs to the ingestion
// path, which lives outside this service.
type VectorStore interface {
	Search(ctx context.Context, userID string, vector []float32, limit int, minScore float64) ([]domain.PageMatch, error)
	ScrollRange(ctx context.Context, userID, field string, start, end int64, limit int) ([]domain.PageMatch, error)
	UpsertPages(ctx context.Context, userID string, pages []domain.HistoryPage, vectors [][]float32) error
}

// ChatRequest is one call to the language-model collaborator.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	JSONMode     bool
}

// ChatModel is the language-model collaborator: a blocking full-response mode
// and an incremental token-stream mode over the same request shape.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	CompleteStream(ctx context.Context, req ChatRequest, emit func(token string) error) error
}

// RecallMetrics receives pipeline observations. A nil-safe no-op
// implementation is used where metrics are not wired.
type RecallMetrics interface {
	ObserveRecall(mode string, candidates int, duration time.Duration)
	CascadeTierReached(tier int)
	SynthesisFallback(mode string)
}
