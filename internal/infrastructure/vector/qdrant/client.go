package qdrant

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retracehq/retrace/internal/core/domain"
)

// Client talks to Qdrant over its HTTP API. Every point belongs to exactly
// one user and every read is filtered by user_id; cross-user reads are not
// expressible through this client.
type Client struct {
	baseURL    string
	collection string
	vectorSize int
	httpClient *http.Client

	ensureMu sync.Mutex
	ensured  bool
}

func New(baseURL, collection string, vectorSize int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		vectorSize: vectorSize,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// pointID derives a stable point identifier from the owning user and the
// page URL, so re-ingesting the same page overwrites instead of duplicating.
func pointID(userID, url string) string {
	sum := md5.Sum([]byte(userID + ":" + url))
	return uuid.UUID(sum).String()
}

func (c *Client) UpsertPages(ctx context.Context, userID string, pages []domain.HistoryPage, vectors [][]float32) error {
	if len(pages) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(pages) != len(vectors) {
		return fmt.Errorf("pages/vectors mismatch")
	}

	if err := c.ensureCollection(ctx); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(pages))
	for i, p := range pages {
		points = append(points, point{
			ID:     pointID(userID, p.URL),
			Vector: vectors[i],
			Payload: map[string]any{
				"user_id":       userID,
				"url":           p.URL,
				"title":         p.Title,
				"lastVisitTime": p.LastVisitTime,
				"visitCount":    p.VisitCount,
				"typedCount":    p.TypedCount,
			},
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("qdrant upsert", resp)
	}
	return nil
}

func (c *Client) Search(
	ctx context.Context,
	userID string,
	vector []float32,
	limit int,
	minScore float64,
) ([]domain.PageMatch, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "user_id",
					"match": map[string]any{"value": userID},
				},
			},
		},
	}
	// A zero threshold is omitted entirely so Qdrant does not filter at all.
	if minScore > 0 {
		reqBody["score_threshold"] = minScore
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("qdrant search", resp)
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.PageMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		m := matchFromPayload(r.Payload)
		m.ID = fmt.Sprintf("%v", r.ID)
		m.Score = r.Score
		out = append(out, m)
	}
	return out, nil
}

// ScrollRange pages through the caller's points whose field value falls in
// [start, end]. Vectors are not returned; a scroll is a payload read.
func (c *Client) ScrollRange(
	ctx context.Context,
	userID, field string,
	start, end int64,
	limit int,
) ([]domain.PageMatch, error) {
	reqBody := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "user_id",
					"match": map[string]any{"value": userID},
				},
				{
					"key": field,
					"range": map[string]any{
						"gte": start,
						"lte": end,
					},
				},
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal scroll body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("qdrant scroll", resp)
	}

	var scrollResp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
		return nil, fmt.Errorf("decode scroll response: %w", err)
	}

	out := make([]domain.PageMatch, 0, len(scrollResp.Result.Points))
	for _, p := range scrollResp.Result.Points {
		m := matchFromPayload(p.Payload)
		m.ID = fmt.Sprintf("%v", p.ID)
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context) error {
	c.ensureMu.Lock()
	if c.ensured {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     c.vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if it already exists (depends on version/config).
	if resp.StatusCode != http.StatusConflict && resp.StatusCode >= 300 {
		return statusError("qdrant ensure collection", resp)
	}

	if err := c.createPayloadIndexes(ctx); err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensured = true
	c.ensureMu.Unlock()
	return nil
}

// createPayloadIndexes indexes the two fields every read filters on. The
// calls are idempotent; Qdrant accepts re-creating an existing index.
func (c *Client) createPayloadIndexes(ctx context.Context) error {
	indexes := []struct {
		field  string
		schema string
	}{
		{"user_id", "keyword"},
		{"lastVisitTime", "integer"},
	}

	for _, idx := range indexes {
		body, err := json.Marshal(map[string]any{
			"field_name":   idx.field,
			"field_schema": idx.schema,
		})
		if err != nil {
			return fmt.Errorf("marshal index body: %w", err)
		}

		url := fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.collection)
		resp, err := c.do(ctx, http.MethodPut, url, body)
		if err != nil {
			return fmt.Errorf("qdrant create index request: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusConflict && resp.StatusCode >= 300 {
			return fmt.Errorf("qdrant create index %s status: %s", idx.field, resp.Status)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("%s status: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("%s status: %s", op, resp.Status)
}

func matchFromPayload(payload map[string]any) domain.PageMatch {
	return domain.PageMatch{
		URL:           getStringPayload(payload, "url"),
		Title:         getStringPayload(payload, "title"),
		LastVisitTime: getInt64Payload(payload, "lastVisitTime"),
		VisitCount:    int(getInt64Payload(payload, "visitCount")),
		TypedCount:    int(getInt64Payload(payload, "typedCount")),
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getInt64Payload(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
