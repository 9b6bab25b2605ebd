package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

// TimeWindow is a resolved relative date range.
type TimeWindow struct {
	Phrase string
	From   time.Time
	To     time.Time
}

type windowRule struct {
	name    string
	pattern *regexp.Regexp
	resolve func(now time.Time, match []string) (time.Time, bool)
}

// windowRules are evaluated in order; the first match wins.
var windowRules = []windowRule{
	{
		name:    "last_n_units",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d{1,3})\s+(day|week|month|quarter|year)s?\b`),
		resolve: func(now time.Time, m []string) (time.Time, bool) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return time.Time{}, false
			}
			return now.Add(-time.Duration(n) * unitDuration(m[2])), true
		},
	},
	{
		name:    "last_unit",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(day|week|month|quarter|year)\b`),
		resolve: func(now time.Time, m []string) (time.Time, bool) {
			return now.Add(-unitDuration(m[1])), true
		},
	},
	{
		name:    "this_week",
		pattern: regexp.MustCompile(`(?i)\bthis\s+week\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			offset := (int(now.Weekday()) + 6) % 7
			return startOfDay(now).AddDate(0, 0, -offset), true
		},
	},
	{
		name:    "this_month",
		pattern: regexp.MustCompile(`(?i)\bthis\s+month\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
		},
	},
	{
		name:    "this_quarter",
		pattern: regexp.MustCompile(`(?i)\bthis\s+quarter\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			first := time.Month((int(now.Month())-1)/3*3 + 1)
			return time.Date(now.Year(), first, 1, 0, 0, 0, 0, now.Location()), true
		},
	},
	{
		name:    "this_year",
		pattern: regexp.MustCompile(`(?i)\bthis\s+year\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), true
		},
	},
	{
		name:    "yesterday",
		pattern: regexp.MustCompile(`(?i)\byesterday\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			return startOfDay(now).AddDate(0, 0, -1), true
		},
	},
	{
		name:    "today",
		pattern: regexp.MustCompile(`(?i)\btoday\b`),
		resolve: func(now time.Time, _ []string) (time.Time, bool) {
			return startOfDay(now), true
		},
	},
}

func unitDuration(unit string) time.Duration {
	day := 24 * time.Hour
	switch strings.ToLower(unit) {
	case "week":
		return 7 * day
	case "month":
		return 30 * day
	case "quarter":
		return 90 * day
	case "year":
		return 365 * day
	default:
		return day
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ResolveTimeWindow finds a relative time phrase in the question.
func ResolveTimeWindow(question string, now time.Time) (TimeWindow, bool) {
	for _, rule := range windowRules {
		match := rule.pattern.FindStringSubmatch(question)
		if match == nil {
			continue
		}
		from, ok := rule.resolve(now, match)
		if !ok {
			continue
		}
		return TimeWindow{Phrase: strings.ToLower(match[0]), From: from, To: now}, true
	}
	return TimeWindow{}, false
}

// ApplyTimeWindow returns a copy of filter bounded by the question's time phrase.
// A filter that already carries caller dates, or a question without a parseable window,
// comes back unchanged.
func ApplyTimeWindow(question string, filter domain.Filter, now time.Time) (domain.Filter, *TimeWindow) {
	out := filter.Clone()
	if filter.HasDateRange() {
		return out, nil
	}
	window, ok := ResolveTimeWindow(question, now)
	if !ok {
		return out, nil
	}
	out.DateFrom = window.From
	out.DateTo = window.To
	return out, &window
}
