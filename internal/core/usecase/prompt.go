package usecase

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const (
	previewRunes  = 240
	excerptRunes  = 1200
	timeSpanDay   = "Jan 2, 2006"
	timeSpanClock = "15:04"
)

const answerSystemPrompt = "You answer questions about a team's archived chat history. " +
	"Use only the numbered excerpts provided. Cite excerpts by their id in square brackets. " +
	"If the excerpts do not answer the question, say so plainly."

const casualSystemPrompt = "You are a friendly assistant for a chat-archive search tool. " +
	"Reply briefly and naturally. Do not invent facts about the archive."

const evaluationSystemPrompt = "You evaluate a person's work using only the chat excerpts provided. " +
	"Return a single JSON object and nothing else."

const narrativeSystemPrompt = "You summarize how a person shows up in a team's chat history using only the excerpts provided. " +
	"Do not assign numeric scores."

const noEvidenceAnswer = "I couldn't find any messages in the archive that answer this question. " +
	"Try widening the date range or the room filters."

func buildAnswerPrompt(question string, evidence []domain.Candidate) string {
	var b strings.Builder
	b.WriteString("Excerpts:\n")
	writeExcerpts(&b, evidence)
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}

func buildCasualPrompt(question string) string {
	return "User: " + strings.TrimSpace(question) + "\nAssistant:"
}

func buildEvaluationPrompt(subject string, rubric domain.Rubric, evidence []domain.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nRubric: %s\nScale: %g to %g\n\nDrivers:\n",
		subject, rubric.Name, rubric.Policy.ScaleMin, rubric.Policy.ScaleMax)
	for _, d := range rubric.Drivers {
		fmt.Fprintf(&b, "- %s (weight %g): %s\n", d.Key, d.Weight, d.Description)
		if len(d.NegativeIndicators) > 0 {
			fmt.Fprintf(&b, "  negative indicators: %s\n", strings.Join(d.NegativeIndicators, "; "))
		}
	}
	if len(rubric.Behaviors) > 0 {
		fmt.Fprintf(&b, "\nExpected behaviors: %s\n", strings.Join(rubric.Behaviors, "; "))
	}
	if len(rubric.Instances) > 0 {
		fmt.Fprintf(&b, "Example instances: %s\n", strings.Join(rubric.Instances, "; "))
	}
	b.WriteString("\nExcerpts:\n")
	writeExcerpts(&b, evidence)
	b.WriteString(`
Respond with JSON:
{"scores":[{"driver_key":"...","score":0,"weight":0,"reasoning":"...","evidence_strength":"strong|moderate|weak|insufficient","citations":["excerpt id"]}],
 "strengths":["..."],"growth_areas":["..."],"summary":"...","confidence":{"score":0.0,"rationale":"..."}}
Score every driver. Cite only excerpt ids listed above.`)
	return b.String()
}

func buildNarrativePrompt(subject, question string, evidence []domain.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nQuestion: %s\n\nExcerpts:\n", subject, strings.TrimSpace(question))
	writeExcerpts(&b, evidence)
	b.WriteString("\nWrite a short qualitative summary of what the excerpts show about the subject. " +
		"Mention where the evidence is thin.")
	return b.String()
}

func writeExcerpts(b *strings.Builder, evidence []domain.Candidate) {
	for i, c := range evidence {
		fmt.Fprintf(b, "%d. [%s] %s (%s)\n%s\n", i+1, c.ID, c.RoomName, formatTimeSpan(c.FirstTS, c.LastTS),
			truncateRunes(strings.TrimSpace(c.Text), excerptRunes))
	}
}

func buildCitations(selected []domain.Candidate) []domain.Citation {
	out := make([]domain.Citation, 0, len(selected))
	for _, c := range selected {
		out = append(out, domain.Citation{
			ID:       c.ID,
			RoomName: c.RoomName,
			TimeSpan: formatTimeSpan(c.FirstTS, c.LastTS),
			Preview:  truncateRunes(strings.Join(strings.Fields(c.Text), " "), previewRunes),
			Score:    c.Score,
		})
	}
	return out
}

func formatTimeSpan(first, last time.Time) string {
	switch {
	case first.IsZero() && last.IsZero():
		return ""
	case first.IsZero():
		first = last
	case last.IsZero():
		last = first
	}
	first, last = first.UTC(), last.UTC()
	if first.Year() == last.Year() && first.YearDay() == last.YearDay() {
		if first.Equal(last) {
			return first.Format(timeSpanDay + " " + timeSpanClock)
		}
		return first.Format(timeSpanDay+" "+timeSpanClock) + " - " + last.Format(timeSpanClock)
	}
	return first.Format(timeSpanDay) + " - " + last.Format(timeSpanDay)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "..."
}

// splitFragments cuts text into word-sized pieces, each carrying its trailing whitespace, so the
// pieces concatenate back to text exactly.
func splitFragments(text string) []string {
	out := make([]string, 0, len(text)/5+1)
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func evaluationSummaryText(result domain.EvaluationResult) string {
	summary := strings.TrimSpace(result.Summary)
	if summary == "" {
		summary = fmt.Sprintf("Evaluation of %s against %s.", result.Subject, result.RubricName)
	}
	return fmt.Sprintf("%s Overall: %.2f on a %g to %g scale.", summary, result.WeightedTotal, result.ScaleMin, result.ScaleMax)
}
