package domain

import "strings"

// WindowScanScore is the sentinel relevance score assigned to pages fetched
// by an unranked time-window scan: everything in the window is equally
// relevant until the synthesizer filters it.
const WindowScanScore = 1.0

// Query is a single user-scoped recall request. All fields are request-scoped
// and discarded after the response is sent.
type Query struct {
	Text     string
	UserID   string
	Limit    int
	MinScore float64
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return WrapError(ErrInvalidQuery, "validate query", errString("query text is empty"))
	}
	if strings.TrimSpace(q.UserID) == "" {
		return WrapError(ErrInvalidQuery, "validate query", errString("user id is empty"))
	}
	if q.Limit <= 0 {
		return WrapError(ErrInvalidQuery, "validate query", errString("limit must be positive"))
	}
	if q.MinScore < 0 || q.MinScore > 1 {
		return WrapError(ErrInvalidQuery, "validate query", errString("min score must be within [0,1]"))
	}
	return nil
}

// TimeWindow is a closed interval in epoch milliseconds. Produced only by the
// temporal parser; a nil window means no temporal constraint.
type TimeWindow struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Label string `json:"label"`
}

// PageMatch is one archived page matched to a query, not yet confirmed
// relevant by the synthesizer.
type PageMatch struct {
	ID            string  `json:"id"`
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	LastVisitTime int64   `json:"last_visit_time"`
	VisitCount    int     `json:"visit_count"`
	TypedCount    int     `json:"typed_count"`
	Score         float64 `json:"score"`
}

// HistoryPage is the ingestion-side shape of an archived page, accepted by
// the vector collaborator's upsert capability.
type HistoryPage struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	LastVisitTime int64  `json:"last_visit_time"`
	VisitCount    int    `json:"visit_count"`
	TypedCount    int    `json:"typed_count"`
}

// RetrievalTier is one attempt in the cascade fallback sequence. Tiers are
// tried in strictly decreasing selectivity.
type RetrievalTier struct {
	Threshold       float64
	LimitMultiplier int
}

// SynthesisResult is the synthesizer's output: a user-facing narrative and
// the candidate subset it judged relevant. Degraded marks the deterministic
// fallback path taken when the language-model collaborator fails.
type SynthesisResult struct {
	Narrative string
	Selected  []PageMatch
	Degraded  bool
}

// RecallResult is the response envelope consumed by the UI/API layer.
type RecallResult struct {
	Results       []PageMatch `json:"results"`
	Narrative     string      `json:"narrative"`
	IsTimeMachine bool        `json:"is_time_machine"`
	TimeRange     *TimeWindow `json:"time_range,omitempty"`
}

type StreamEventType string

const (
	StreamEventResults StreamEventType = "results"
	StreamEventToken   StreamEventType = "token"
	StreamEventDone    StreamEventType = "done"
)

// StreamEvent is one frame of the incremental recall stream: a results frame
// first, then token frames, then a terminal done frame.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Results []PageMatch     `json:"results,omitempty"`
	Token   string          `json:"token,omitempty"`
}
