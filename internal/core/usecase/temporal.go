package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/retracehq/retrace/internal/core/domain"
)

// The temporal vocabulary is an ordered list of (pattern, window builder)
// pairs evaluated in priority order, so adding a phrase is a table change,
// not a control-flow change. Windows are anchored at the caller's "now" and
// expressed in local-time epoch milliseconds.

const numberAlt = `a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|\d+`

var numberWords = map[string]int{
	"a": 1, "an": 1,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12,
}

type temporalRule struct {
	re    *regexp.Regexp
	build func(now time.Time, match []string) domain.TimeWindow
}

var temporalRules = []temporalRule{
	{
		re: regexp.MustCompile(`\btoday\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			return domain.TimeWindow{Start: epochMs(startOfDay(now)), End: epochMs(now), Label: "today"}
		},
	},
	{
		re: regexp.MustCompile(`\byesterday\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			start := startOfDay(now).AddDate(0, 0, -1)
			return domain.TimeWindow{
				Start: epochMs(start),
				End:   epochMs(start.AddDate(0, 0, 1).Add(-time.Millisecond)),
				Label: "yesterday",
			}
		},
	},
	{
		re: regexp.MustCompile(`\bthis week\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			start := startOfDay(now).AddDate(0, 0, -int(now.Weekday()))
			return domain.TimeWindow{Start: epochMs(start), End: epochMs(now), Label: "this week"}
		},
	},
	{
		re: regexp.MustCompile(`\blast week\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			start := startOfDay(now).AddDate(0, 0, -int(now.Weekday())-7)
			return domain.TimeWindow{
				Start: epochMs(start),
				End:   epochMs(start.AddDate(0, 0, 7).Add(-time.Millisecond)),
				Label: "last week",
			}
		},
	},
	{
		re: regexp.MustCompile(`\bthis month\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			start := startOfMonth(now)
			return domain.TimeWindow{Start: epochMs(start), End: epochMs(now), Label: "this month"}
		},
	},
	{
		re: regexp.MustCompile(`\blast month\b`),
		build: func(now time.Time, _ []string) domain.TimeWindow {
			first := startOfMonth(now)
			return domain.TimeWindow{
				Start: epochMs(first.AddDate(0, -1, 0)),
				End:   epochMs(first.Add(-time.Millisecond)),
				Label: "last month",
			}
		},
	},
	{
		re: regexp.MustCompile(`(?:around\s+)?(?:about\s+)?\b(` + numberAlt + `)\s+days?\s+ago\b`),
		build: func(now time.Time, match []string) domain.TimeWindow {
			n := parseNumber(match[1])
			start := now.Add(-time.Duration(n) * 24 * time.Hour)
			return domain.TimeWindow{
				Start: epochMs(start),
				End:   epochMs(start.Add(24 * time.Hour)),
				Label: fmt.Sprintf("%d %s ago", n, pluralize(n, "day")),
			}
		},
	},
	{
		re: regexp.MustCompile(`(?:around\s+)?(?:about\s+)?\b(` + numberAlt + `)\s+weeks?\s+ago\b`),
		build: func(now time.Time, match []string) domain.TimeWindow {
			n := parseNumber(match[1])
			start := now.Add(-time.Duration(n) * 7 * 24 * time.Hour)
			return domain.TimeWindow{
				Start: epochMs(start),
				End:   epochMs(start.Add(7 * 24 * time.Hour)),
				Label: fmt.Sprintf("%d %s ago", n, pluralize(n, "week")),
			}
		},
	},
	{
		// Calendar month arithmetic, not a fixed 30-day span.
		re: regexp.MustCompile(`(?:around\s+)?(?:about\s+)?\b(` + numberAlt + `)\s+months?\s+ago\b`),
		build: func(now time.Time, match []string) domain.TimeWindow {
			n := parseNumber(match[1])
			start := now.AddDate(0, -n, 0)
			return domain.TimeWindow{
				Start: epochMs(start),
				End:   epochMs(start.AddDate(0, 1, 0)),
				Label: fmt.Sprintf("%d %s ago", n, pluralize(n, "month")),
			}
		},
	},
	{
		re: regexp.MustCompile(`(?:in the )?\blast\s+(` + numberAlt + `)\s+days?\b`),
		build: func(now time.Time, match []string) domain.TimeWindow {
			n := parseNumber(match[1])
			return domain.TimeWindow{
				Start: epochMs(now.Add(-time.Duration(n) * 24 * time.Hour)),
				End:   epochMs(now),
				Label: fmt.Sprintf("last %d %s", n, pluralize(n, "day")),
			}
		},
	},
	{
		re: regexp.MustCompile(`(?:in the )?\blast\s+(` + numberAlt + `)\s+weeks?\b`),
		build: func(now time.Time, match []string) domain.TimeWindow {
			n := parseNumber(match[1])
			return domain.TimeWindow{
				Start: epochMs(now.Add(-time.Duration(n) * 7 * 24 * time.Hour)),
				End:   epochMs(now),
				Label: fmt.Sprintf("last %d %s", n, pluralize(n, "week")),
			}
		},
	},
}

// temporalDetector is deliberately broader than the parser rules: a lone
// "ago" or "yesterday" is enough to route a query down the temporal path.
var temporalDetector = regexp.MustCompile(
	`(?i)(\b(today|yesterday|this week|last week|this month|last month|ago)\b` +
		`|(?:in the )?\blast\s+(` + numberAlt + `)\s+(days?|weeks?|months?)\b)`,
)

var topicScrubbers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(today|yesterday|this week|last week|this month|last month)\b`),
	regexp.MustCompile(`(?i)\b(?:around\s+)?(?:about\s+)?(` + numberAlt + `)\s+(days?|weeks?|months?)\s+ago\b`),
	regexp.MustCompile(`(?i)\b(?:in the )?last\s+(` + numberAlt + `)\s+(days?|weeks?|months?)\b`),
	regexp.MustCompile(`(?i)\bwhat (?:was|were) i\b`),
	regexp.MustCompile(`(?i)\bwhat did i\b`),
	regexp.MustCompile(`(?i)\bshow me\b`),
	regexp.MustCompile(`(?i)\bfind\b`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// IsTemporalQuery decides which pipeline a query takes. ParseTemporal itself
// is safe to call unconditionally.
func IsTemporalQuery(query string) bool {
	return temporalDetector.MatchString(query)
}

// ParseTemporal maps the first recognized time expression in query to a
// concrete window anchored at now, and returns the residual topic with
// temporal and question-boilerplate phrases stripped. When no expression
// matches, the window is nil and the topic is the trimmed query.
func ParseTemporal(query string, now time.Time) (*domain.TimeWindow, string) {
	lower := strings.ToLower(query)

	for _, rule := range temporalRules {
		match := rule.re.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		window := rule.build(now, match)
		return &window, scrubTopic(query)
	}
	return nil, strings.TrimSpace(query)
}

func scrubTopic(query string) string {
	topic := query
	for _, scrubber := range topicScrubbers {
		topic = scrubber.ReplaceAllString(topic, "")
	}
	topic = whitespaceRun.ReplaceAllString(topic, " ")
	topic = strings.TrimSpace(topic)
	topic = strings.Trim(topic, "?")
	return strings.TrimSpace(topic)
}

func parseNumber(word string) int {
	if n, ok := numberWords[word]; ok {
		return n
	}
	n, err := strconv.Atoi(word)
	if err != nil {
		return 1
	}
	return n
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func epochMs(t time.Time) int64 {
	return t.UnixMilli()
}
