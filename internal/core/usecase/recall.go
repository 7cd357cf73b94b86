package usecase

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
)

const clarificationMessage = "I need a topic to search for. For example: 'What was I reading about robotics 4 weeks ago?'"

// RecallUseCase routes a query down one of two paths: temporal queries scan
// a time window of the archive and let the model filter by topic, plain
// queries run the cascading vector search. Both end in synthesis.
type RecallUseCase struct {
	cascade        *SearchCascade
	vector         ports.VectorStore
	synth          *Synthesizer
	metrics        ports.RecallMetrics
	timeout        time.Duration
	windowPageSize int
	now            func() time.Time
}

func NewRecallUseCase(
	cascade *SearchCascade,
	vector ports.VectorStore,
	synth *Synthesizer,
	metrics ports.RecallMetrics,
	timeout time.Duration,
	windowPageSize int,
) *RecallUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if windowPageSize <= 0 {
		windowPageSize = 100
	}
	return &RecallUseCase{
		cascade:        cascade,
		vector:         vector,
		synth:          synth,
		metrics:        metrics,
		timeout:        timeout,
		windowPageSize: windowPageSize,
		now:            time.Now,
	}
}

func (uc *RecallUseCase) Recall(ctx context.Context, q domain.Query) (*domain.RecallResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	started := uc.now()

	if IsTemporalQuery(q.Text) {
		res, err := uc.recallTemporal(ctx, q)
		if err == nil {
			uc.metrics.ObserveRecall("temporal", len(res.Results), uc.now().Sub(started))
		}
		return res, err
	}

	res, err := uc.recallPlain(ctx, q)
	if err == nil {
		uc.metrics.ObserveRecall("plain", len(res.Results), uc.now().Sub(started))
	}
	return res, err
}

func (uc *RecallUseCase) recallTemporal(ctx context.Context, q domain.Query) (*domain.RecallResult, error) {
	window, topic := ParseTemporal(q.Text, uc.now())

	if utf8.RuneCountInString(topic) < 2 {
		return &domain.RecallResult{
			Results:       []domain.PageMatch{},
			Narrative:     clarificationMessage,
			IsTimeMachine: true,
			TimeRange:     window,
		}, nil
	}

	candidates, err := uc.fetchWindow(ctx, q.UserID, window)
	if err != nil {
		return nil, err
	}

	synthesis := uc.synth.Temporal(ctx, q.Text, topic, window, candidates)

	return &domain.RecallResult{
		Results:       synthesis.Selected,
		Narrative:     synthesis.Narrative,
		IsTimeMachine: true,
		TimeRange:     window,
	}, nil
}

func (uc *RecallUseCase) recallPlain(ctx context.Context, q domain.Query) (*domain.RecallResult, error) {
	candidates, err := uc.cascade.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	synthesis := uc.synth.Plain(ctx, q.Text, candidates)

	return &domain.RecallResult{
		Results:   synthesis.Selected,
		Narrative: synthesis.Narrative,
	}, nil
}

// fetchWindow scans the caller's slice of the archive by visit time. A nil
// window means the temporal phrasing carried no bounds, so the scan covers
// everything up to now.
func (uc *RecallUseCase) fetchWindow(ctx context.Context, userID string, window *domain.TimeWindow) ([]domain.PageMatch, error) {
	start, end := int64(0), uc.now().UnixMilli()
	if window != nil {
		start, end = window.Start, window.End
	}

	pages, err := uc.vector.ScrollRange(ctx, userID, "lastVisitTime", start, end, uc.windowPageSize)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalFailed, "fetch window", err)
	}

	// A window scan has no similarity axis; every hit carries the sentinel
	// score so downstream consumers see a uniform value.
	for i := range pages {
		pages[i].Score = domain.WindowScanScore
	}
	return pages, nil
}

// RecallStream runs the same pipeline but emits incrementally: a results
// event once candidates are known, narrative tokens as they arrive, then a
// done event. Temporal queries synthesize whole and stream a single token;
// their JSON filtering step has no incremental form.
func (uc *RecallUseCase) RecallStream(ctx context.Context, q domain.Query, emit func(domain.StreamEvent) error) error {
	if err := q.Validate(); err != nil {
		return err
	}

	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	started := uc.now()

	if IsTemporalQuery(q.Text) {
		res, err := uc.recallTemporal(ctx, q)
		if err != nil {
			return err
		}
		if err := emit(domain.StreamEvent{Type: domain.StreamEventResults, Results: res.Results}); err != nil {
			return err
		}
		if err := emit(domain.StreamEvent{Type: domain.StreamEventToken, Token: res.Narrative}); err != nil {
			return err
		}
		uc.metrics.ObserveRecall("temporal", len(res.Results), uc.now().Sub(started))
		return emit(domain.StreamEvent{Type: domain.StreamEventDone})
	}

	candidates, err := uc.cascade.Search(ctx, q)
	if err != nil {
		return err
	}
	if err := emit(domain.StreamEvent{Type: domain.StreamEventResults, Results: candidates}); err != nil {
		return err
	}

	err = uc.synth.PlainStream(ctx, q.Text, candidates, func(token string) error {
		return emit(domain.StreamEvent{Type: domain.StreamEventToken, Token: token})
	})
	if err != nil {
		return err
	}

	uc.metrics.ObserveRecall("plain", len(candidates), uc.now().Sub(started))
	return emit(domain.StreamEvent{Type: domain.StreamEventDone})
}
