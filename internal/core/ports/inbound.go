package ports

import (
	"context"

	"github.com/retracehq/retrace/internal/core/domain"
)

// RecallService is the inbound contract for the semantic-temporal retrieval
// pipeline. RecallStream drives the same pipeline but emits the envelope as
// a sequence of results/token/done frames.
type RecallService interface {
	Recall(ctx context.Context, q domain.Query) (*domain.RecallResult, error)
	RecallStream(ctx context.Context, q domain.Query, emit func(domain.StreamEvent) error) error
}
