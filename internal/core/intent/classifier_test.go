package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

type fakeGenerator struct {
	responses []string
	errs      []error
	calls     int
	requests  []ports.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req ports.GenerateRequest) (string, error) {
	idx := g.calls
	g.calls++
	g.requests = append(g.requests, req)
	var err error
	if idx < len(g.errs) {
		err = g.errs[idx]
	}
	if err != nil {
		return "", err
	}
	if idx < len(g.responses) {
		return g.responses[idx], nil
	}
	return "", nil
}

func (g *fakeGenerator) Stream(context.Context, ports.GenerateRequest, func(string) error) (string, error) {
	return "", errors.New("not used")
}

func TestPatternClassifierExamples(t *testing.T) {
	c := NewPatternClassifier()
	tests := []struct {
		question string
		intent   domain.Intent
		subject  string
	}{
		{"has John ever missed a deadline?", domain.IntentRAG, ""},
		{"how is Sarah performing overall?", domain.IntentEvaluation, "Sarah"},
		{"good morning", domain.IntentCasual, ""},
		{"What did the team say about the Q3 deadline last month?", domain.IntentRAG, ""},
		{"Priya mentioned a vendor change", domain.IntentRAG, ""},
		{"where are the onboarding docs", domain.IntentRAG, ""},
	}
	for _, tc := range tests {
		t.Run(tc.question, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tc.question)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Intent != tc.intent {
				t.Fatalf("intent = %q, want %q", got.Intent, tc.intent)
			}
			if got.Subject != tc.subject {
				t.Fatalf("subject = %q, want %q", got.Subject, tc.subject)
			}
			if got.Source != SourcePattern {
				t.Fatalf("source = %q, want pattern", got.Source)
			}
		})
	}
}

func TestEveryIntentRuleMatchesItsExample(t *testing.T) {
	examples := map[string]string{
		"specific_instance":       "Give me an example of a handoff",
		"deadline_or_time_window": "What shipped this week",
		"overall_performance":     "Rate Marcus on communication",
		"greeting_or_small_talk":  "hey there",
		"name_with_action":        "Dana promised a fix",
	}
	c := NewPatternClassifier()
	if len(examples) != len(c.rules) {
		t.Fatalf("expected one example per rule, have %d examples for %d rules", len(examples), len(c.rules))
	}
	for _, r := range c.rules {
		question, ok := examples[r.name]
		if !ok {
			t.Fatalf("missing example for rule %q", r.name)
		}
		intent, name := c.Match(question)
		if name != r.name || intent != r.intent {
			t.Fatalf("%q matched rule %q (%s), want %q (%s)", question, name, intent, r.name, r.intent)
		}
	}
	if intent, name := c.Match("onboarding docs location"); intent != domain.IntentRAG || name != "default" {
		t.Fatalf("expected default rag, got %s via %s", intent, name)
	}
}

func TestSubjectFromPatterns(t *testing.T) {
	tests := map[string]string{
		"how is Sarah performing overall?":        "Sarah",
		"How has Mary Jane been doing lately":     "Mary Jane",
		"Evaluate Omar please":                    "Omar",
		"what is Kenji's overall performance":     "Kenji",
		"give me a performance review of Alex":    "Alex",
		"how is the team performing":              "",
		"evaluate everyone":                       "",
		"How good is Leila at stakeholder comms?": "Leila",
	}
	for question, want := range tests {
		if got := SubjectFromPatterns(question); got != want {
			t.Fatalf("SubjectFromPatterns(%q) = %q, want %q", question, got, want)
		}
	}
}

func TestParseIntentLabelPriority(t *testing.T) {
	tests := []struct {
		text string
		want domain.Intent
		ok   bool
	}{
		{"evaluation", domain.IntentEvaluation, true},
		{"This is an EVALUATION, not rag.", domain.IntentEvaluation, true},
		{" Casual\n", domain.IntentCasual, true},
		{"rag", domain.IntentRAG, true},
		{"lookup", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseIntentLabel(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseIntentLabel(%q) = %q,%v want %q,%v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLLMClassifierUsesLowTemperature(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"casual"}}
	got, err := NewLLMClassifier(gen).Classify(context.Background(), "thanks!")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != domain.IntentCasual || got.Source != SourceLLM {
		t.Fatalf("unexpected result %+v", got)
	}
	if gen.requests[0].Temperature > 0.2 || gen.requests[0].MaxTokens > 16 {
		t.Fatalf("expected constrained classification request, got %+v", gen.requests[0])
	}
}

func TestFallbackClassifierUsesPatternsWhenPrimaryFails(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	c := NewFallbackClassifier(NewLLMClassifier(gen), NewPatternClassifier(), NewLLMSubjectExtractor(gen))

	got, err := c.Classify(context.Background(), "how is Sarah performing overall?")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != domain.IntentEvaluation || got.Subject != "Sarah" || got.Source != SourcePattern {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFallbackClassifierUsesPatternsOnUnrecognizedLabel(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"I am not sure"}}
	c := NewFallbackClassifier(NewLLMClassifier(gen), nil, nil)

	got, err := c.Classify(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != domain.IntentCasual {
		t.Fatalf("expected casual from fallback, got %+v", got)
	}
}

func TestFallbackClassifierExtractsSubjectWithLLM(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"evaluation", "Sarah Connor\n"}}
	c := NewFallbackClassifier(NewLLMClassifier(gen), nil, NewLLMSubjectExtractor(gen))

	got, err := c.Classify(context.Background(), "what do you think about sarah connor's work")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != domain.IntentEvaluation || got.Subject != "Sarah Connor" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFallbackClassifierDowngradesEvaluationWithoutSubject(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"evaluation", "NONE"}}
	c := NewFallbackClassifier(NewLLMClassifier(gen), nil, NewLLMSubjectExtractor(gen))

	got, err := c.Classify(context.Background(), "how is the team performing overall?")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != domain.IntentRAG || !got.Downgraded || got.Subject != "" {
		t.Fatalf("expected downgrade to rag, got %+v", got)
	}
}
