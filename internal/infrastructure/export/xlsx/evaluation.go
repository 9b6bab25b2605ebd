// Package xlsx renders stored evaluations as spreadsheets.
package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const (
	ContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	scoresSheet  = "Scores"
	summarySheet = "Summary"
)

var scoreHeader = []any{"Driver", "Score", "Weight", "Evidence", "Backfilled", "Reasoning", "Citations"}

// WriteEvaluation writes a two-sheet workbook: per-driver scores and the qualitative summary.
func WriteEvaluation(w io.Writer, stored domain.StoredEvaluation) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", scoresSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeRow(f, scoresSheet, 1, scoreHeader); err != nil {
		return err
	}
	if err := f.SetCellStyle(scoresSheet, "A1", "G1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	result := stored.Result
	for i, s := range result.Scores {
		row := []any{
			s.DriverKey, s.Score, s.Weight, string(s.EvidenceStrength), s.Backfilled, s.Reasoning,
			strings.Join(s.Citations, ", "),
		}
		if err := writeRow(f, scoresSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(scoresSheet, "F", "F", 60); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][]any{
		{"Query ID", stored.QueryID},
		{"Subject", stored.Subject},
		{"Rubric", stored.RubricName},
		{"Weighted total", result.WeightedTotal},
		{"Scale", fmt.Sprintf("%g to %g", result.ScaleMin, result.ScaleMax)},
		{"Strengths", strings.Join(result.Strengths, "\n")},
		{"Growth areas", strings.Join(result.GrowthAreas, "\n")},
		{"Summary", result.Summary},
	}
	if result.Confidence != nil {
		summary = append(summary, []any{"Confidence", result.Confidence.Score})
	}
	if !stored.CreatedAt.IsZero() {
		summary = append(summary, []any{"Created at", stored.CreatedAt.UTC().Format("2006-01-02 15:04:05Z")})
	}
	for i, row := range summary {
		if err := writeRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style summary labels: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
