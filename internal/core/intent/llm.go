package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

// LLMClassifier asks the generation service for a single-word category.
type LLMClassifier struct {
	generator ports.Generator
}

func NewLLMClassifier(generator ports.Generator) *LLMClassifier {
	return &LLMClassifier{generator: generator}
}

func (c *LLMClassifier) Classify(ctx context.Context, question string) (domain.IntentResult, error) {
	text, err := c.generator.Generate(ctx, ports.GenerateRequest{
		Prompt:      buildClassificationPrompt(question),
		System:      classificationSystem,
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("classify intent: %w", err)
	}
	label, ok := ParseIntentLabel(text)
	if !ok {
		return domain.IntentResult{}, fmt.Errorf("classify intent: unrecognized label %q", truncate(text, 40))
	}
	return domain.IntentResult{Intent: label, Source: SourceLLM}, nil
}

// ParseIntentLabel finds a category in free text. "evaluation" is checked before "casual" and
// "rag" because explanations of an evaluation label often mention the other words.
func ParseIntentLabel(text string) (domain.Intent, bool) {
	lower := strings.ToLower(text)
	for _, label := range []domain.Intent{domain.IntentEvaluation, domain.IntentCasual, domain.IntentRAG} {
		if strings.Contains(lower, string(label)) {
			return label, true
		}
	}
	return "", false
}

// LLMSubjectExtractor asks the generation service for the subject's name and falls back to
// subjectPatterns when the call fails or the answer is not a plausible name.
type LLMSubjectExtractor struct {
	generator ports.Generator
}

func NewLLMSubjectExtractor(generator ports.Generator) *LLMSubjectExtractor {
	return &LLMSubjectExtractor{generator: generator}
}

func (e *LLMSubjectExtractor) ExtractSubject(ctx context.Context, question string) (string, error) {
	text, err := e.generator.Generate(ctx, ports.GenerateRequest{
		Prompt:      buildSubjectPrompt(question),
		System:      subjectSystem,
		Temperature: 0.1,
		MaxTokens:   16,
	})
	if err == nil {
		firstLine := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
		if name := CleanSubject(firstLine); name != "" {
			return name, nil
		}
	}
	return PatternSubjectExtractor{}.ExtractSubject(ctx, question)
}

const classificationSystem = "You route questions about archived team chat. Reply with exactly one word."

const subjectSystem = "You extract person names. Reply with the name only, or NONE."

func buildClassificationPrompt(question string) string {
	return `Classify the question into one category:
casual - greetings, thanks, small talk that needs no chat history
rag - a factual question answered by finding messages in the chat history
evaluation - a request to assess or rate how a specific person is performing overall

Reply with one word: casual, rag, or evaluation.

Question: ` + truncate(question, 1000)
}

func buildSubjectPrompt(question string) string {
	return `Which person is this question asking to evaluate? Reply with their name exactly as written, or NONE.

Question: ` + truncate(question, 1000)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
