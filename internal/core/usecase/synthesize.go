package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
)

// temporalFallbackLimit caps the candidates kept when temporal synthesis
// degrades to the deterministic fallback.
const temporalFallbackLimit = 5

const plainSystemPrompt = `You are Retrace, a friendly assistant helping users rediscover their browsing history.

Your task:
- Analyze the semantic search results from the user's own archive
- Provide a helpful 2-4 sentence summary of what they were exploring
- Highlight the most relevant or interesting finds
- Mention clear patterns casually

Keep it short and conversational. No bullet points or formal lists.`

const temporalSystemPrompt = `You are Retrace's time machine. You help users rediscover what they were browsing during a past time period.

Your task has TWO parts:

1. FILTER: select ONLY the pages truly relevant to the user's topic. Be selective; ignore pages that are tangential or noise.
2. RESPOND: write a short conversational 2-4 sentence summary of what they were exploring back then, mentioning the time period.

You MUST respond with a valid JSON object in exactly this shape:
{"relevantIndices": [1, 3], "response": "your summary here"}

relevantIndices holds the 1-indexed page numbers that are actually relevant. No other keys.`

// Synthesizer turns raw candidates into a user-facing narrative and, in
// temporal mode, a filtered subset. Collaborator failure never surfaces as a
// hard error when candidates exist: synthesis degrades to a deterministic
// templated summary instead.
type Synthesizer struct {
	chat        ports.ChatModel
	temperature float32
	maxTokens   int
	metrics     ports.RecallMetrics
}

func NewSynthesizer(chat ports.ChatModel, temperature float32, maxTokens int, metrics ports.RecallMetrics) *Synthesizer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Synthesizer{
		chat:        chat,
		temperature: temperature,
		maxTokens:   maxTokens,
		metrics:     metrics,
	}
}

// Plain asks the collaborator for a narrative over the candidate list. The
// model summarizes but does not filter: Selected is the input unchanged.
func (s *Synthesizer) Plain(ctx context.Context, query string, candidates []domain.PageMatch) domain.SynthesisResult {
	if len(candidates) == 0 {
		return domain.SynthesisResult{
			Narrative: emptyNarrative(query, nil),
			Selected:  []domain.PageMatch{},
		}
	}

	narrative, err := s.chat.Complete(ctx, ports.ChatRequest{
		SystemPrompt: plainSystemPrompt,
		UserPrompt:   buildPlainUserPrompt(query, candidates),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil || strings.TrimSpace(narrative) == "" {
		s.metrics.SynthesisFallback("plain")
		return domain.SynthesisResult{
			Narrative: countNarrative(len(candidates), query, nil),
			Selected:  candidates,
			Degraded:  true,
		}
	}

	return domain.SynthesisResult{Narrative: strings.TrimSpace(narrative), Selected: candidates}
}

// PlainStream forwards narrative tokens to emit as they arrive. A stream
// that fails before producing any output degrades to a single fallback
// token; emit errors (client gone) propagate unchanged.
func (s *Synthesizer) PlainStream(
	ctx context.Context,
	query string,
	candidates []domain.PageMatch,
	emit func(token string) error,
) error {
	if len(candidates) == 0 {
		return emit(emptyNarrative(query, nil))
	}

	var sent bool
	var emitErr error
	err := s.chat.CompleteStream(ctx, ports.ChatRequest{
		SystemPrompt: plainSystemPrompt,
		UserPrompt:   buildPlainUserPrompt(query, candidates),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	}, func(token string) error {
		if err := emit(token); err != nil {
			emitErr = err
			return err
		}
		sent = true
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil && !sent {
		s.metrics.SynthesisFallback("plain")
		return emit(countNarrative(len(candidates), query, nil))
	}
	// A stream that breaks after tokens went out ends quietly; the caller
	// still closes the frame sequence with a done event.
	return nil
}

type relevanceSelection struct {
	RelevantIndices []int  `json:"relevantIndices"`
	Response        string `json:"response"`
}

// Temporal formats every window candidate with a 1-indexed position and
// requires a strict JSON verdict from the collaborator. The response is
// untrusted input: schema violations and out-of-range indices trigger the
// deterministic fallback rather than partial trust of malformed data.
func (s *Synthesizer) Temporal(
	ctx context.Context,
	query, topic string,
	window *domain.TimeWindow,
	candidates []domain.PageMatch,
) domain.SynthesisResult {
	if len(candidates) == 0 {
		return domain.SynthesisResult{
			Narrative: emptyNarrative(topic, window),
			Selected:  []domain.PageMatch{},
		}
	}

	raw, err := s.chat.Complete(ctx, ports.ChatRequest{
		SystemPrompt: temporalSystemPrompt,
		UserPrompt:   buildTemporalUserPrompt(query, topic, window, candidates),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return s.temporalFallback(topic, window, candidates)
	}

	var selection relevanceSelection
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &selection); err != nil {
		return s.temporalFallback(topic, window, candidates)
	}
	if selection.RelevantIndices == nil || strings.TrimSpace(selection.Response) == "" {
		return s.temporalFallback(topic, window, candidates)
	}

	selected := make([]domain.PageMatch, 0, len(selection.RelevantIndices))
	for _, idx := range selection.RelevantIndices {
		if idx < 1 || idx > len(candidates) {
			continue
		}
		selected = append(selected, candidates[idx-1])
	}

	return domain.SynthesisResult{
		Narrative: strings.TrimSpace(selection.Response),
		Selected:  selected,
	}
}

func (s *Synthesizer) temporalFallback(
	topic string,
	window *domain.TimeWindow,
	candidates []domain.PageMatch,
) domain.SynthesisResult {
	s.metrics.SynthesisFallback("temporal")
	selected := candidates
	if len(selected) > temporalFallbackLimit {
		selected = selected[:temporalFallbackLimit]
	}
	return domain.SynthesisResult{
		Narrative: countNarrative(len(candidates), topic, window),
		Selected:  selected,
		Degraded:  true,
	}
}

func buildPlainUserPrompt(query string, candidates []domain.PageMatch) string {
	var b strings.Builder
	for idx, c := range candidates {
		fmt.Fprintf(&b, "%d. Title: %q\n   URL: %s\n   Vector Match Score: %.0f%%\n   Visit Count: %d\n\n",
			idx+1, c.Title, c.URL, c.Score*100, c.VisitCount)
	}

	return fmt.Sprintf(`The user searched for: %q

Here is what was found in their browsing history:
%s
Give them a friendly, conversational response about what they were exploring.`, query, b.String())
}

func buildTemporalUserPrompt(query, topic string, window *domain.TimeWindow, candidates []domain.PageMatch) string {
	var b strings.Builder
	for idx, c := range candidates {
		visited := time.UnixMilli(c.LastVisitTime).Format("Jan 2, 2006")
		fmt.Fprintf(&b, "%d. %q (visited %s)\n   URL: %s\n   Visits: %d\n\n",
			idx+1, c.Title, visited, c.URL, c.VisitCount)
	}

	period := "All time"
	if window != nil {
		period = window.Label
	}

	return fmt.Sprintf(`The user asked: %q
Topic: %q
Time period: %s

Here are the %d pages from their history:
%s
Return JSON with "relevantIndices" (1-indexed page numbers that truly match the topic %q) and "response" (your friendly summary). Be selective.`,
		query, topic, period, len(candidates), b.String(), topic)
}

// countNarrative is the deterministic fallback summary. Its templated shape
// is the caller-facing signal that synthesis degraded.
func countNarrative(n int, topic string, window *domain.TimeWindow) string {
	if window != nil {
		return fmt.Sprintf("Found %d pages about %q from %s.", n, topic, window.Label)
	}
	return fmt.Sprintf("Found %d pages about %q in your browsing history.", n, topic)
}

func emptyNarrative(topic string, window *domain.TimeWindow) string {
	if window != nil {
		return fmt.Sprintf("I couldn't find anything about %q from %s. You might not have visited any pages matching that topic during that time period.", topic, window.Label)
	}
	return fmt.Sprintf("I couldn't find anything about %q in your browsing history.", topic)
}

// extractJSONObject trims any prose the model wraps around the JSON body.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
