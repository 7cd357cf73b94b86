package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
)

const userIDHeader = "X-User-Id"

// Options carries everything the router needs beyond the recall service.
// Zeroed traffic-control fields disable the corresponding middleware.
type Options struct {
	Recall          ports.RecallService
	DefaultLimit    int
	DefaultMinScore float64

	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration

	MetricsMiddleware func(http.Handler) http.Handler
	MetricsHandler    http.Handler
}

type Router struct {
	opts Options
}

func NewRouter(opts Options) *Router {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	return &Router{opts: opts}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/recall", rt.recall)
	mux.HandleFunc("/v1/recall/stream", rt.recallStream)
	if rt.opts.MetricsHandler != nil {
		mux.Handle("/metrics", rt.opts.MetricsHandler)
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.opts.MetricsMiddleware != nil {
		handler = rt.opts.MetricsMiddleware(handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type recallRequest struct {
	Query    string   `json:"query"`
	Limit    *int     `json:"limit"`
	MinScore *float64 `json:"min_score"`
}

func (rt *Router) parseQuery(r *http.Request) (domain.Query, error) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		return domain.Query{}, domain.WrapError(domain.ErrUnauthorized, "parse request", errMissingUserID)
	}

	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "parse request", err)
	}

	q := domain.Query{
		Text:     strings.TrimSpace(req.Query),
		UserID:   userID,
		Limit:    rt.opts.DefaultLimit,
		MinScore: rt.opts.DefaultMinScore,
	}
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if req.MinScore != nil {
		q.MinScore = *req.MinScore
	}
	return q, q.Validate()
}

func (rt *Router) recall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q, err := rt.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.opts.Recall.Recall(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recallStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q, err := rt.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	streamRecall(w, r, rt.opts.Recall, q)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

type staticError string

func (e staticError) Error() string { return string(e) }

const errMissingUserID = staticError("X-User-Id header is required")
