package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

func TestResolveTimeWindow(t *testing.T) {
	now := time.Date(2024, 9, 18, 15, 30, 0, 0, time.UTC) // Wednesday
	tests := []struct {
		question string
		from     time.Time
		phrase   string
	}{
		{"What did the team say about the Q3 deadline last month?", now.Add(-30 * 24 * time.Hour), "last month"},
		{"anything in the past week", now.Add(-7 * 24 * time.Hour), "past week"},
		{"summaries from the last 3 days", now.Add(-3 * 24 * time.Hour), "last 3 days"},
		{"last 2 weeks of standups", now.Add(-14 * 24 * time.Hour), "last 2 weeks"},
		{"what happened yesterday", time.Date(2024, 9, 17, 0, 0, 0, 0, time.UTC), "yesterday"},
		{"decisions made today", time.Date(2024, 9, 18, 0, 0, 0, 0, time.UTC), "today"},
		{"progress this week", time.Date(2024, 9, 16, 0, 0, 0, 0, time.UTC), "this week"},
		{"hires this month", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), "this month"},
		{"how did Sarah do last quarter", now.Add(-90 * 24 * time.Hour), "last quarter"},
		{"incidents in the past 2 quarters", now.Add(-180 * 24 * time.Hour), "past 2 quarters"},
		{"roadmap changes this quarter", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), "this quarter"},
		{"launches this year", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "this year"},
	}
	for _, tc := range tests {
		t.Run(tc.phrase, func(t *testing.T) {
			window, ok := ResolveTimeWindow(tc.question, now)
			require.True(t, ok)
			assert.Equal(t, tc.from, window.From)
			assert.Equal(t, now, window.To)
			assert.Equal(t, tc.phrase, window.Phrase)
		})
	}
}

func TestApplyTimeWindowLeavesFilterUnchangedWithoutPhrase(t *testing.T) {
	filter := domain.Filter{RoomIDs: []string{"r1"}}
	out, window := ApplyTimeWindow("who owns the release", filter, time.Now())
	assert.Nil(t, window)
	assert.Equal(t, filter, out)
}

func TestApplyTimeWindowKeepsCallerDates(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := domain.Filter{DateFrom: from}
	out, window := ApplyTimeWindow("last week", filter, time.Now())
	assert.Nil(t, window)
	assert.Equal(t, from, out.DateFrom)
	assert.True(t, out.DateTo.IsZero())
}

func TestApplyTimeWindowDoesNotMutateCallerFilter(t *testing.T) {
	filter := domain.Filter{RoomIDs: []string{"r1"}}
	out, window := ApplyTimeWindow("last month", filter, time.Now())
	require.NotNil(t, window)
	out.RoomIDs[0] = "changed"
	assert.Equal(t, "r1", filter.RoomIDs[0])
	assert.True(t, filter.DateFrom.IsZero())
}
