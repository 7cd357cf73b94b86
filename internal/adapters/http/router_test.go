package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/retracehq/retrace/internal/core/domain"
)

type fakeRecallService struct {
	recallFn func(q domain.Query) (*domain.RecallResult, error)
	streamFn func(q domain.Query, emit func(domain.StreamEvent) error) error

	lastQuery domain.Query
}

func (f *fakeRecallService) Recall(_ context.Context, q domain.Query) (*domain.RecallResult, error) {
	f.lastQuery = q
	if f.recallFn == nil {
		return nil, errors.New("unexpected recall")
	}
	return f.recallFn(q)
}

func (f *fakeRecallService) RecallStream(_ context.Context, q domain.Query, emit func(domain.StreamEvent) error) error {
	f.lastQuery = q
	if f.streamFn == nil {
		return errors.New("unexpected stream")
	}
	return f.streamFn(q, emit)
}

func newTestRouter(recall *fakeRecallService) http.Handler {
	return NewRouter(Options{
		Recall:          recall,
		DefaultLimit:    10,
		DefaultMinScore: 0.3,
	}).Handler()
}

func postRecall(handler http.Handler, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRecallRequiresUserHeader(t *testing.T) {
	handler := newTestRouter(&fakeRecallService{})

	res := postRecall(handler, "/v1/recall", "", `{"query": "robotics"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user header, got %d", res.Code)
	}
}

func TestRecallAppliesDefaultsAndEnvelope(t *testing.T) {
	recall := &fakeRecallService{
		recallFn: func(q domain.Query) (*domain.RecallResult, error) {
			return &domain.RecallResult{
				Results:   []domain.PageMatch{{ID: "p1", Title: "Example"}},
				Narrative: "Robotics, mostly.",
			}, nil
		},
	}
	handler := newTestRouter(recall)

	res := postRecall(handler, "/v1/recall", "u1", `{"query": "robotics"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	if recall.lastQuery.UserID != "u1" {
		t.Fatalf("expected user scoping from header, got %q", recall.lastQuery.UserID)
	}
	if recall.lastQuery.Limit != 10 || recall.lastQuery.MinScore != 0.3 {
		t.Fatalf("expected config defaults, got limit=%d minScore=%f", recall.lastQuery.Limit, recall.lastQuery.MinScore)
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope["narrative"] != "Robotics, mostly." {
		t.Fatalf("unexpected narrative %v", envelope["narrative"])
	}
	if envelope["is_time_machine"] != false {
		t.Fatalf("unexpected is_time_machine %v", envelope["is_time_machine"])
	}
	if _, ok := envelope["time_range"]; ok {
		t.Fatal("nil time range must be omitted from the envelope")
	}
}

func TestRecallOverridesDefaults(t *testing.T) {
	recall := &fakeRecallService{
		recallFn: func(q domain.Query) (*domain.RecallResult, error) {
			return &domain.RecallResult{Results: []domain.PageMatch{}}, nil
		},
	}
	handler := newTestRouter(recall)

	res := postRecall(handler, "/v1/recall", "u1", `{"query": "robotics", "limit": 5, "min_score": 0.5}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if recall.lastQuery.Limit != 5 || recall.lastQuery.MinScore != 0.5 {
		t.Fatalf("expected overrides, got limit=%d minScore=%f", recall.lastQuery.Limit, recall.lastQuery.MinScore)
	}
}

func TestRecallErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", domain.WrapError(domain.ErrInvalidQuery, "validate", errors.New("bad")), http.StatusBadRequest},
		{"embedding", domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", errors.New("down")), http.StatusServiceUnavailable},
		{"temporary", domain.WrapError(domain.ErrTemporary, "llm", errors.New("429")), http.StatusServiceUnavailable},
		{"retrieval", domain.WrapError(domain.ErrRetrievalFailed, "search", errors.New("down")), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(&fakeRecallService{
				recallFn: func(domain.Query) (*domain.RecallResult, error) {
					return nil, tc.err
				},
			})
			res := postRecall(handler, "/v1/recall", "u1", `{"query": "robotics"}`)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestRecallRejectsInvalidJSON(t *testing.T) {
	handler := newTestRouter(&fakeRecallService{})

	res := postRecall(handler, "/v1/recall", "u1", `{"query:`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", res.Code)
	}
}

func TestRecallStreamWritesSSEFrames(t *testing.T) {
	recall := &fakeRecallService{
		streamFn: func(_ domain.Query, emit func(domain.StreamEvent) error) error {
			if err := emit(domain.StreamEvent{Type: domain.StreamEventResults, Results: []domain.PageMatch{{ID: "p1"}}}); err != nil {
				return err
			}
			if err := emit(domain.StreamEvent{Type: domain.StreamEventToken, Token: "You read."}); err != nil {
				return err
			}
			return emit(domain.StreamEvent{Type: domain.StreamEventDone})
		},
	}
	handler := newTestRouter(recall)

	res := postRecall(handler, "/v1/recall/stream", "u1", `{"query": "robotics"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	frames := strings.Split(strings.TrimSpace(res.Body.String()), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %q", len(frames), res.Body.String())
	}
	for _, frame := range frames {
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("frame missing data prefix: %q", frame)
		}
	}

	var last domain.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last); err != nil {
		t.Fatalf("decode done frame: %v", err)
	}
	if last.Type != domain.StreamEventDone {
		t.Fatalf("expected done frame, got %+v", last)
	}
}

func TestRecallStreamErrorBeforeFirstFrame(t *testing.T) {
	handler := newTestRouter(&fakeRecallService{
		streamFn: func(domain.Query, func(domain.StreamEvent) error) error {
			return domain.WrapError(domain.ErrRetrievalFailed, "search", errors.New("down"))
		},
	})

	res := postRecall(handler, "/v1/recall/stream", "u1", `{"query": "robotics"}`)
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 before any frame, got %d", res.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&fakeRecallService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRecallMethodNotAllowed(t *testing.T) {
	handler := newTestRouter(&fakeRecallService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/recall", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}
