package xlsx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

func TestWriteEvaluationProducesScoresAndSummary(t *testing.T) {
	stored := domain.StoredEvaluation{
		QueryID:    "q-1",
		Subject:    "Sarah",
		RubricName: "engineering",
		Result: domain.EvaluationResult{
			Scores: []domain.DriverScore{
				{DriverKey: "ownership", Score: 4, Weight: 1, EvidenceStrength: domain.EvidenceStrong, Citations: []string{"c1", "c2"}},
				{DriverKey: "communication", Score: 3, Weight: 0.5, EvidenceStrength: domain.EvidenceInsufficient, Backfilled: true},
			},
			WeightedTotal: 3.67,
			Strengths:     []string{"clear postmortems"},
			Summary:       "Strong owner.",
			ScaleMin:      1,
			ScaleMax:      5,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEvaluation(&buf, stored))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(scoresSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Driver", rows[0][0])
	assert.Equal(t, "ownership", rows[1][0])
	assert.Equal(t, "c1, c2", rows[1][6])
	assert.Equal(t, "communication", rows[2][0])

	subject, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Sarah", subject)
	total, err := f.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "3.67", total)
}
