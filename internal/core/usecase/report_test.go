package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

type fakeEvaluationReader struct {
	stored *domain.StoredEvaluation
	err    error
	calls  int
}

func (f *fakeEvaluationReader) GetEvaluation(_ context.Context, _ string) (*domain.StoredEvaluation, error) {
	f.calls++
	return f.stored, f.err
}

type fakeReportStore struct {
	saved map[string]string
	err   error
}

func (f *fakeReportStore) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[key] = string(body)
	return nil
}

func textRenderer(w io.Writer, stored domain.StoredEvaluation) error {
	_, err := fmt.Fprintf(w, "%s:%.1f", stored.Subject, stored.Result.WeightedTotal)
	return err
}

func TestReportExportsEvaluatedQuery(t *testing.T) {
	reader := &fakeEvaluationReader{stored: &domain.StoredEvaluation{
		QueryID: "q1",
		Subject: "Sarah",
		Result:  domain.EvaluationResult{WeightedTotal: 3.5},
	}}
	store := &fakeReportStore{}
	uc := NewReportUseCase(reader, store, textRenderer, ".xlsx")

	result, err := uc.HandleQueryRecorded(context.Background(), domain.QueryRecordedEvent{QueryID: "q1", Evaluated: true})
	require.NoError(t, err)
	assert.Equal(t, ReportExported, result)
	assert.Equal(t, "Sarah:3.5", store.saved["evaluation-q1.xlsx"])
}

func TestReportSkipsQueriesWithoutEvaluation(t *testing.T) {
	reader := &fakeEvaluationReader{}
	uc := NewReportUseCase(reader, &fakeReportStore{}, textRenderer, "xlsx")

	result, err := uc.HandleQueryRecorded(context.Background(), domain.QueryRecordedEvent{QueryID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, ReportSkipped, result)
	assert.Zero(t, reader.calls)
}

func TestReportSkipsMissingEvaluation(t *testing.T) {
	reader := &fakeEvaluationReader{err: domain.WrapError(domain.ErrNotFound, "get_evaluation", errors.New("no rows"))}
	uc := NewReportUseCase(reader, &fakeReportStore{}, textRenderer, "xlsx")

	result, err := uc.HandleQueryRecorded(context.Background(), domain.QueryRecordedEvent{QueryID: "q1", Evaluated: true})
	require.NoError(t, err)
	assert.Equal(t, ReportSkipped, result)
}

func TestReportPropagatesStoreFailure(t *testing.T) {
	reader := &fakeEvaluationReader{stored: &domain.StoredEvaluation{QueryID: "q1"}}
	uc := NewReportUseCase(reader, &fakeReportStore{err: errors.New("disk full")}, textRenderer, "xlsx")

	_, err := uc.HandleQueryRecorded(context.Background(), domain.QueryRecordedEvent{QueryID: "q1", Evaluated: true})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
}
