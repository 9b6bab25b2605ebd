package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

// EvaluationRenderer writes a stored evaluation in some document format.
type EvaluationRenderer func(w io.Writer, stored domain.StoredEvaluation) error

// ReportResult tells the worker what happened to one event.
type ReportResult string

const (
	ReportExported ReportResult = "exported"
	ReportSkipped  ReportResult = "skipped"
)

// ReportUseCase turns recorded evaluations into report files.
type ReportUseCase struct {
	reader    ports.EvaluationReader
	store     ports.ReportStore
	render    EvaluationRenderer
	extension string
}

func NewReportUseCase(reader ports.EvaluationReader, store ports.ReportStore, render EvaluationRenderer, extension string) *ReportUseCase {
	return &ReportUseCase{
		reader:    reader,
		store:     store,
		render:    render,
		extension: strings.TrimPrefix(extension, "."),
	}
}

// ReportKey is the storage key for a query's evaluation report.
func (uc *ReportUseCase) ReportKey(queryID string) string {
	return "evaluation-" + queryID + "." + uc.extension
}

// HandleQueryRecorded exports the evaluation behind event. Events without an evaluation, and
// evaluations that were never stored, are skipped.
func (uc *ReportUseCase) HandleQueryRecorded(ctx context.Context, event domain.QueryRecordedEvent) (ReportResult, error) {
	if !event.Evaluated || strings.TrimSpace(event.QueryID) == "" {
		return ReportSkipped, nil
	}

	stored, err := uc.reader.GetEvaluation(ctx, event.QueryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("report_evaluation_missing", "query_id", event.QueryID, "correlation_id", event.CorrelationID)
			return ReportSkipped, nil
		}
		return "", fmt.Errorf("load evaluation %s: %w", event.QueryID, err)
	}

	var buf bytes.Buffer
	if err := uc.render(&buf, *stored); err != nil {
		return "", fmt.Errorf("render report %s: %w", event.QueryID, err)
	}
	key := uc.ReportKey(event.QueryID)
	if err := uc.store.Save(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("save report %s: %w", key, err)
	}

	slog.Info("report_exported", "query_id", event.QueryID, "key", key, "correlation_id", event.CorrelationID)
	return ReportExported, nil
}
