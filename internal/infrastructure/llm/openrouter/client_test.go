package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retracehq/retrace/internal/core/ports"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		_ = json.NewEncoder(w).Encode(completionResponse("Rust, mostly."))
	}))
	defer server.Close()

	client := New("test-key", server.URL+"/v1", "openai/gpt-4-turbo-preview", nil)
	content, err := client.Complete(context.Background(), ports.ChatRequest{
		SystemPrompt: "system",
		UserPrompt:   "user",
		Temperature:  0.7,
		MaxTokens:    600,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != "Rust, mostly." {
		t.Fatalf("unexpected content %q", content)
	}

	messages := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	if _, ok := captured["response_format"]; ok {
		t.Fatal("response_format must be absent without JSON mode")
	}
}

func TestCompleteJSONModeSetsResponseFormat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		_ = json.NewEncoder(w).Encode(completionResponse(`{"ok": true}`))
	}))
	defer server.Close()

	client := New("test-key", server.URL+"/v1", "openai/gpt-4-turbo-preview", nil)
	if _, err := client.Complete(context.Background(), ports.ChatRequest{
		SystemPrompt: "system",
		UserPrompt:   "user",
		JSONMode:     true,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	format, ok := captured["response_format"].(map[string]any)
	if !ok || format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", captured["response_format"])
	}
}

func TestCompleteStreamEmitsTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, token := range []string{"You ", "were ", "reading."} {
			chunk := map[string]any{
				"id":     "cmpl-1",
				"object": "chat.completion.chunk",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]any{"content": token}},
				},
			}
			payload, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := New("test-key", server.URL+"/v1", "openai/gpt-4-turbo-preview", nil)

	var got string
	err := client.CompleteStream(context.Background(), ports.ChatRequest{
		SystemPrompt: "system",
		UserPrompt:   "user",
	}, func(token string) error {
		got += token
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != "You were reading." {
		t.Fatalf("unexpected streamed content %q", got)
	}
}

func TestCompleteEmptyChoicesFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cmpl-1", "choices": []any{}})
	}))
	defer server.Close()

	client := New("test-key", server.URL+"/v1", "openai/gpt-4-turbo-preview", nil)
	if _, err := client.Complete(context.Background(), ports.ChatRequest{UserPrompt: "user"}); err == nil {
		t.Fatal("expected an error for empty choices")
	}
}
