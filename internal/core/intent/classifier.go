// Package intent routes a question to casual reply, evidence lookup, or person evaluation.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const (
	SourceLLM     = "llm"
	SourcePattern = "pattern"
)

// Classifier labels a question. Subject is filled only by implementations that extract it.
type Classifier interface {
	Classify(ctx context.Context, question string) (domain.IntentResult, error)
}

// SubjectExtractor finds the person an evaluation question is about.
type SubjectExtractor interface {
	ExtractSubject(ctx context.Context, question string) (string, error)
}

// FallbackClassifier tries the primary classifier and falls back to a deterministic one on
// failure. Evaluation results without a resolvable subject are downgraded to rag.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	subjects SubjectExtractor
}

func NewFallbackClassifier(primary, fallback Classifier, subjects SubjectExtractor) *FallbackClassifier {
	if fallback == nil {
		fallback = NewPatternClassifier()
	}
	if subjects == nil {
		subjects = PatternSubjectExtractor{}
	}
	return &FallbackClassifier{primary: primary, fallback: fallback, subjects: subjects}
}

func (c *FallbackClassifier) Classify(ctx context.Context, question string) (domain.IntentResult, error) {
	var (
		result domain.IntentResult
		err    error
	)
	if c.primary != nil {
		result, err = c.primary.Classify(ctx, question)
		if err != nil {
			slog.Warn("intent_primary_failed", "error", err)
		}
	}
	if c.primary == nil || err != nil || !result.Intent.Valid() {
		result, err = c.fallback.Classify(ctx, question)
		if err != nil {
			return domain.IntentResult{}, err
		}
	}

	if result.Intent != domain.IntentEvaluation {
		result.Subject = ""
		return result, nil
	}

	subject := strings.TrimSpace(result.Subject)
	if subject == "" {
		subject, err = c.subjects.ExtractSubject(ctx, question)
		if err != nil {
			slog.Warn("intent_subject_extraction_failed", "error", err)
			subject = ""
		}
	}
	if subject == "" {
		result.Intent = domain.IntentRAG
		result.Subject = ""
		result.Downgraded = true
		return result, nil
	}
	result.Subject = subject
	return result, nil
}
