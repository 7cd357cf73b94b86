package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/infrastructure/resilience"
)

const warmupText = "warmup"

// Service embeds text through Ollama's /api/embed endpoint. The model is
// loaded lazily: the first caller runs a warmup embedding while later
// callers wait on the same mutex, so the model loads exactly once. A failed
// warmup is not latched; the next caller tries again.
type Service struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
	executor   *resilience.Executor

	readyMu sync.Mutex
	ready   atomic.Bool
}

func New(baseURL, model string, dim int, executor *resilience.Executor) *Service {
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dim:        dim,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embedding warmup", err)
	}

	vector, err := s.embedOne(ctx, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}
	return vector, nil
}

func (s *Service) ensureReady(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}

	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready.Load() {
		return nil
	}

	vector, err := s.embedOne(ctx, warmupText)
	if err != nil {
		return err
	}
	if s.dim > 0 && len(vector) != s.dim {
		return fmt.Errorf("model %s produced %d dimensions, want %d", s.model, len(vector), s.dim)
	}

	s.ready.Store(true)
	return nil
}

func (s *Service) embedOne(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": s.model,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	call := func(ctx context.Context) error {
		return s.postJSON(ctx, "/api/embed", request, &response, "embed")
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, "ollama_embed", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

func classifyOllamaError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
