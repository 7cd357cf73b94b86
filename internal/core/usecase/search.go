package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
)

// SearchCascade runs the plain semantic path: embed once, then try up to
// three vector searches with monotonically relaxing thresholds. A single
// fixed threshold either over- or under-returns depending on how the archive
// matches the query, so the cascade degrades to "show something" instead of
// "show nothing".
type SearchCascade struct {
	embedder ports.Embedder
	vector   ports.VectorStore

	relaxedThreshold float64
	minCandidates    int
	metrics          ports.RecallMetrics
}

func NewSearchCascade(
	embedder ports.Embedder,
	vector ports.VectorStore,
	relaxedThreshold float64,
	minCandidates int,
	metrics ports.RecallMetrics,
) *SearchCascade {
	if minCandidates <= 0 {
		minCandidates = 3
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SearchCascade{
		embedder:         embedder,
		vector:           vector,
		relaxedThreshold: relaxedThreshold,
		minCandidates:    minCandidates,
		metrics:          metrics,
	}
}

// tiersFor builds the attempt sequence for one query: the caller's threshold
// first, then the fixed relaxed threshold at twice the limit, then an
// unranked top-K scan.
func (c *SearchCascade) tiersFor(q domain.Query) []domain.RetrievalTier {
	return []domain.RetrievalTier{
		{Threshold: q.MinScore, LimitMultiplier: 1},
		{Threshold: c.relaxedThreshold, LimitMultiplier: 2},
		{Threshold: 0, LimitMultiplier: 2},
	}
}

// Search returns at most q.Limit candidates scoped to q.UserID. A later
// tier's results replace the best tier's only when strictly larger, so a
// looser tier can never shrink the result set. Any collaborator error aborts
// the search, except a context deadline after an earlier tier already
// produced candidates, in which case the best gathered so far is returned.
func (c *SearchCascade) Search(ctx context.Context, q domain.Query) ([]domain.PageMatch, error) {
	vector, err := c.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}

	var best []domain.PageMatch
	tierReached := 0
	for idx, tier := range c.tiersFor(q) {
		if idx > 0 && len(best) >= c.minCandidates {
			break
		}
		tierReached = idx + 1

		found, err := c.vector.Search(ctx, q.UserID, vector, q.Limit*tier.LimitMultiplier, tier.Threshold)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && len(best) > 0 {
				break
			}
			return nil, domain.WrapError(domain.ErrRetrievalFailed, "vector search", err)
		}
		if len(found) > len(best) {
			best = found
		}
	}
	c.metrics.CascadeTierReached(tierReached)

	orderMatches(best)
	if len(best) > q.Limit {
		best = best[:q.Limit]
	}
	return best, nil
}

// orderMatches fixes a deterministic order before truncation: similarity
// first, then recency, then ID to break exact ties.
func orderMatches(matches []domain.PageMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].LastVisitTime != matches[j].LastVisitTime {
			return matches[i].LastVisitTime > matches[j].LastVisitTime
		}
		return matches[i].ID < matches[j].ID
	})
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveRecall(string, int, time.Duration) {}
func (NopMetrics) CascadeTierReached(int)                   {}
func (NopMetrics) SynthesisFallback(string)                 {}
