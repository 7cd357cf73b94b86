package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/retracehq/retrace/internal/core/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeVectorStore struct {
	searchFn func(userID string, limit int, minScore float64) ([]domain.PageMatch, error)
	scrollFn func(userID string, start, end int64, limit int) ([]domain.PageMatch, error)

	searchCalls     int
	searchedScores  []float64
	searchedUserIDs []string
}

func (f *fakeVectorStore) Search(_ context.Context, userID string, _ []float32, limit int, minScore float64) ([]domain.PageMatch, error) {
	f.searchCalls++
	f.searchedScores = append(f.searchedScores, minScore)
	f.searchedUserIDs = append(f.searchedUserIDs, userID)
	return f.searchFn(userID, limit, minScore)
}

func (f *fakeVectorStore) ScrollRange(_ context.Context, userID, _ string, start, end int64, limit int) ([]domain.PageMatch, error) {
	if f.scrollFn == nil {
		return nil, errors.New("unexpected scroll")
	}
	return f.scrollFn(userID, start, end, limit)
}

func (f *fakeVectorStore) UpsertPages(_ context.Context, _ string, _ []domain.HistoryPage, _ [][]float32) error {
	return errors.New("unexpected upsert")
}

func matchesWithScores(scores ...float64) []domain.PageMatch {
	out := make([]domain.PageMatch, 0, len(scores))
	for i, s := range scores {
		out = append(out, domain.PageMatch{ID: string(rune('a' + i)), Score: s})
	}
	return out
}

func testQuery() domain.Query {
	return domain.Query{Text: "robotics", UserID: "u1", Limit: 10, MinScore: 0.3}
}

func TestSearchCascadeRelaxesWhenStrictTierIsThin(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, minScore float64) ([]domain.PageMatch, error) {
			if minScore == 0.3 {
				return matchesWithScores(0.9), nil
			}
			return matchesWithScores(0.9, 0.5, 0.4, 0.3, 0.2), nil
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	got, err := cascade.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 candidates from the relaxed tier, got %d", len(got))
	}
	if store.searchCalls != 2 {
		t.Fatalf("expected 2 tier attempts, got %d", store.searchCalls)
	}
	if store.searchedScores[0] != 0.3 || store.searchedScores[1] != 0.15 {
		t.Fatalf("unexpected threshold sequence: %v", store.searchedScores)
	}
}

func TestSearchCascadeStopsWhenStrictTierIsEnough(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, _ float64) ([]domain.PageMatch, error) {
			return matchesWithScores(0.9, 0.8, 0.7), nil
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	got, err := cascade.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if store.searchCalls != 1 {
		t.Fatalf("expected a single tier attempt, got %d", store.searchCalls)
	}
}

func TestSearchCascadeLooserTierNeverShrinksResults(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, minScore float64) ([]domain.PageMatch, error) {
			if minScore == 0.3 {
				return matchesWithScores(0.9, 0.8), nil
			}
			// A flaky backend could return fewer rows at a looser threshold.
			return matchesWithScores(0.9), nil
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	got, err := cascade.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the larger earlier tier to win, got %d candidates", len(got))
	}
}

func TestSearchCascadeVectorFailureAbortsWithoutPartials(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, _ float64) ([]domain.PageMatch, error) {
			return nil, errors.New("connection refused")
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	got, err := cascade.Search(context.Background(), testQuery())
	if !domain.IsKind(err, domain.ErrRetrievalFailed) {
		t.Fatalf("expected retrieval failure, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected no partial results, got %v", got)
	}
}

func TestSearchCascadeDeadlineReturnsBestSoFar(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, minScore float64) ([]domain.PageMatch, error) {
			if minScore == 0.3 {
				return matchesWithScores(0.9), nil
			}
			return nil, context.DeadlineExceeded
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	got, err := cascade.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("expected best-so-far on deadline, got error %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the strict tier's candidate, got %d", len(got))
	}
}

func TestSearchCascadeOrdersAndTruncates(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(_ string, _ int, _ float64) ([]domain.PageMatch, error) {
			return []domain.PageMatch{
				{ID: "old", Score: 0.9, LastVisitTime: 100},
				{ID: "low", Score: 0.2, LastVisitTime: 300},
				{ID: "new", Score: 0.9, LastVisitTime: 200},
			}, nil
		},
	}
	cascade := NewSearchCascade(&fakeEmbedder{vector: []float32{1}}, store, 0.15, 3, nil)

	q := testQuery()
	q.Limit = 2
	got, err := cascade.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected truncation to limit 2, got %d", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("expected score then recency ordering, got %q, %q", got[0].ID, got[1].ID)
	}
}

func TestSearchCascadeEmbedFailure(t *testing.T) {
	cascade := NewSearchCascade(&fakeEmbedder{err: errors.New("model not loaded")}, &fakeVectorStore{}, 0.15, 3, nil)

	_, err := cascade.Search(context.Background(), testQuery())
	if !domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected embedding unavailable, got %v", err)
	}
}
