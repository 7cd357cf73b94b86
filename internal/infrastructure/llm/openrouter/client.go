package openrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
	"github.com/retracehq/retrace/internal/infrastructure/resilience"
)

// Client drives chat completions through OpenRouter's OpenAI-compatible
// API. Completions run behind the resilience executor; transient upstream
// failures come back wrapped as domain.ErrTemporary so callers can degrade
// instead of failing hard.
type Client struct {
	api      *openai.Client
	model    string
	executor *resilience.Executor
}

func New(apiKey, baseURL, model string, executor *resilience.Executor) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		model:    model,
		executor: executor,
	}
}

func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	var content string

	call := func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openrouter completion: empty choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	err := c.execute(ctx, "openrouter_complete", call)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openrouter complete", err)
	}
	return content, nil
}

// CompleteStream forwards delta tokens to emit as they arrive. Stream
// creation runs behind the executor; once tokens flow, a broken stream is
// returned as-is rather than retried, since retrying would replay tokens
// the caller already saw.
func (c *Client) CompleteStream(ctx context.Context, req ports.ChatRequest, emit func(token string) error) error {
	var stream *openai.ChatCompletionStream

	open := func(ctx context.Context) error {
		s, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req))
		if err != nil {
			return err
		}
		stream = s
		return nil
	}

	if err := c.execute(ctx, "openrouter_stream", open); err != nil {
		return wrapTemporaryIfNeeded("openrouter stream", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openrouter stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if err := emit(token); err != nil {
			return err
		}
	}
}

func (c *Client) buildRequest(req ports.ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyOpenRouterError)
}

func classifyOpenRouterError(err error) resilience.ErrorClassification {
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

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isRetryableHTTPStatus(apiErr.HTTPStatusCode) {
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

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isRetryableHTTPStatus(reqErr.HTTPStatusCode) {
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

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}

	class := classifyOpenRouterError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
