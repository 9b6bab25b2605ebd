package intent

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

type rule struct {
	name    string
	pattern *regexp.Regexp
	intent  domain.Intent
}

// intentRules are evaluated in order; the first match wins. Instance and time phrasing come
// before performance phrasing so "has X ever missed a deadline" stays a lookup.
var intentRules = []rule{
	{
		name:    "specific_instance",
		pattern: regexp.MustCompile(`(?i)\b(examples?|instances?|specific(ally)?|times?\s+when|ever|when\s+did|did\s+\w+\s+(say|mention|ask|share|send|agree|promise|miss))\b`),
		intent:  domain.IntentRAG,
	},
	{
		name:    "deadline_or_time_window",
		pattern: regexp.MustCompile(`(?i)\b(deadlines?|due\s+dates?|overdue|late|yesterday|today|(last|past|previous|this)\s+(\d+\s+)?(days?|weeks?|months?|quarters?|years?))\b`),
		intent:  domain.IntentRAG,
	},
	{
		name:    "overall_performance",
		pattern: regexp.MustCompile(`(?i)\b(perform(ing|ance)?|overall|rate|rating|evaluat(e|ion)|assess(ment)?|review\s+of|how\s+good\s+is|strengths?|weakness(es)?|growth\s+areas?)\b`),
		intent:  domain.IntentEvaluation,
	},
	{
		name:    "greeting_or_small_talk",
		pattern: regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|greetings|good\s+(morning|afternoon|evening|night)|thanks?(\s+you)?|thank\s+you|how\s+are\s+you|what'?s\s+up|bye|goodbye|see\s+you)\b`),
		intent:  domain.IntentCasual,
	},
	{
		name:    "name_with_action",
		pattern: regexp.MustCompile(`\b[A-Z][a-z]+\s+(said|says|mentioned|asked|shared|sent|wrote|posted|missed|delivered|promised|agreed|decided|told|reported|proposed)\b`),
		intent:  domain.IntentRAG,
	},
}

// PatternClassifier is the deterministic fallback. It never fails; unmatched questions are rag.
type PatternClassifier struct {
	rules []rule
}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{rules: intentRules}
}

func (c *PatternClassifier) Classify(_ context.Context, question string) (domain.IntentResult, error) {
	label, _ := c.Match(question)
	result := domain.IntentResult{Intent: label, Source: SourcePattern}
	if label == domain.IntentEvaluation {
		result.Subject = SubjectFromPatterns(question)
	}
	return result, nil
}

// Match returns the intent and the name of the rule that produced it ("default" when none did).
func (c *PatternClassifier) Match(question string) (domain.Intent, string) {
	for _, r := range c.rules {
		if r.pattern.MatchString(question) {
			return r.intent, r.name
		}
	}
	return domain.IntentRAG, "default"
}

const namePattern = `([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+)?)`

// subjectPatterns capture a person's name from evaluation phrasing, in priority order.
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Hh]ow\s+(?:is|has|was)\s+` + namePattern + `\s+(?:been\s+)?(?:doing|performing|perform|progressing)`),
	regexp.MustCompile(`(?:[Ee]valuate|[Aa]ssess|[Rr]ate|[Rr]eview|[Ss]core)\s+` + namePattern),
	regexp.MustCompile(namePattern + `'s\s+(?:overall\s+)?(?:performance|work|contributions?|strengths?|weaknesses|growth)`),
	regexp.MustCompile(`(?:performance|evaluation|assessment|review|rating)\s+(?:of|for)\s+` + namePattern),
	regexp.MustCompile(`[Hh]ow\s+good\s+is\s+` + namePattern),
}

var nonNames = map[string]struct{}{
	"i": {}, "me": {}, "we": {}, "us": {}, "you": {}, "they": {}, "he": {}, "she": {}, "the": {}, "team": {},
	"everyone": {}, "anyone": {}, "someone": {}, "none": {}, "unknown": {}, "nobody": {}, "n/a": {}, "my": {},
	"our": {}, "their": {}, "this": {}, "that": {}, "how": {}, "what": {}, "who": {},
}

// SubjectFromPatterns returns the first plausible name captured by subjectPatterns, or "".
func SubjectFromPatterns(question string) string {
	for _, p := range subjectPatterns {
		m := p.FindStringSubmatch(question)
		if len(m) < 2 {
			continue
		}
		if name := CleanSubject(m[1]); name != "" {
			return name
		}
	}
	return ""
}

// CleanSubject normalizes a candidate name and rejects pronouns, placeholders and sentences.
func CleanSubject(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, "\"'`.,:;!?()[]")
	name = strings.TrimSpace(strings.TrimSuffix(name, "'s"))
	if name == "" {
		return ""
	}
	words := strings.Fields(name)
	if len(words) > 3 {
		return ""
	}
	if _, ok := nonNames[strings.ToLower(words[0])]; ok {
		return ""
	}
	for _, w := range words {
		r := []rune(w)
		if len(r) == 0 || !unicode.IsUpper(r[0]) {
			return ""
		}
	}
	return strings.Join(words, " ")
}

var errNoSubject = errors.New("no subject found")

// PatternSubjectExtractor extracts subjects with subjectPatterns only.
type PatternSubjectExtractor struct{}

func (PatternSubjectExtractor) ExtractSubject(_ context.Context, question string) (string, error) {
	if name := SubjectFromPatterns(question); name != "" {
		return name, nil
	}
	return "", errNoSubject
}
