package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

type HybridConfig struct {
	VectorLimit      int
	TextLimit        int
	TextHitScore     float64
	HybridBonus      float64
	MinUsefulResults int
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorLimit:      30,
		TextLimit:        30,
		TextHitScore:     DefaultTextHitScore,
		HybridBonus:      DefaultHybridBonus,
		MinUsefulResults: 3,
	}
}

// SearchOutcome is a sub-search result. Degraded is set when the search failed or was skipped;
// Candidates is then empty, which is still a valid result.
type SearchOutcome struct {
	Candidates []domain.Candidate
	Degraded   error
}

func (o SearchOutcome) OK() bool {
	return o.Degraded == nil
}

type Retrieval struct {
	Vector SearchOutcome
	Text   SearchOutcome
	// Broadened is the single widened text retry, when one was issued.
	Broadened      *SearchOutcome
	BroadenedQuery string
	Fused          []domain.Candidate
}

// Degraded lists the sub-searches that contributed nothing because of a failure.
func (r Retrieval) Degraded() []string {
	out := make([]string, 0, 3)
	if !r.Vector.OK() {
		out = append(out, "vector")
	}
	if !r.Text.OK() {
		out = append(out, "text")
	}
	if r.Broadened != nil && !r.Broadened.OK() {
		out = append(out, "broadened")
	}
	return out
}

type RetrieveRequest struct {
	ClientID    string
	Filter      domain.Filter
	Question    string
	QueryVector []float32
}

var errNoQueryVector = errors.New("query embedding unavailable")

type HybridRetriever struct {
	store ports.ChunkStore
	cfg   HybridConfig
}

func NewHybridRetriever(store ports.ChunkStore, cfg HybridConfig) *HybridRetriever {
	def := DefaultHybridConfig()
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = def.VectorLimit
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = def.TextLimit
	}
	if cfg.TextHitScore <= 0 || cfg.TextHitScore > 1 {
		cfg.TextHitScore = def.TextHitScore
	}
	if cfg.HybridBonus < 0 {
		cfg.HybridBonus = def.HybridBonus
	}
	if cfg.MinUsefulResults < 0 {
		cfg.MinUsefulResults = def.MinUsefulResults
	}
	return &HybridRetriever{store: store, cfg: cfg}
}

// Retrieve runs the vector and text searches concurrently under one filter scope and fuses them.
// Search failures degrade to empty outcomes; only invalid input returns an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, req RetrieveRequest) (Retrieval, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return Retrieval{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("client id is required"))
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Retrieval{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("question is required"))
	}

	var out Retrieval
	var g errgroup.Group
	g.Go(func() error {
		if len(req.QueryVector) == 0 {
			out.Vector = SearchOutcome{Candidates: []domain.Candidate{}, Degraded: errNoQueryVector}
			return nil
		}
		out.Vector = r.search(ctx, "vector", func(ctx context.Context) ([]domain.Candidate, error) {
			return r.store.SearchVector(ctx, req.ClientID, req.Filter, req.QueryVector, r.cfg.VectorLimit)
		})
		return nil
	})
	g.Go(func() error {
		out.Text = r.search(ctx, "text", func(ctx context.Context) ([]domain.Candidate, error) {
			return r.store.SearchText(ctx, req.ClientID, req.Filter, question, r.cfg.TextLimit)
		})
		return nil
	})
	_ = g.Wait()

	out.Fused = Fuse(out.Vector.Candidates, out.Text.Candidates, r.cfg.TextHitScore, r.cfg.HybridBonus)

	if len(out.Fused) < r.cfg.MinUsefulResults && IsNarrowKeywordQuery(question) {
		broadQuery := BroadenedQuery(question)
		if broadQuery != "" {
			broadened := r.search(ctx, "broadened", func(ctx context.Context) ([]domain.Candidate, error) {
				return r.store.SearchText(ctx, req.ClientID, req.Filter, broadQuery, r.cfg.TextLimit)
			})
			out.Broadened = &broadened
			out.BroadenedQuery = broadQuery

			text := make([]domain.Candidate, 0, len(out.Text.Candidates)+len(broadened.Candidates))
			text = append(text, out.Text.Candidates...)
			text = append(text, broadened.Candidates...)
			out.Fused = Fuse(out.Vector.Candidates, text, r.cfg.TextHitScore, r.cfg.HybridBonus)
		}
	}

	slog.Debug("hybrid_retrieval",
		"vector_hits", len(out.Vector.Candidates),
		"text_hits", len(out.Text.Candidates),
		"fused", len(out.Fused),
		"broadened", out.Broadened != nil,
		"degraded", out.Degraded(),
	)
	return out, nil
}

func (r *HybridRetriever) search(
	ctx context.Context,
	mode string,
	fn func(context.Context) ([]domain.Candidate, error),
) SearchOutcome {
	candidates, err := fn(ctx)
	if err != nil {
		slog.Warn("retrieval_degraded", "mode", mode, "error", err)
		return SearchOutcome{Candidates: []domain.Candidate{}, Degraded: err}
	}
	if candidates == nil {
		candidates = []domain.Candidate{}
	}
	return SearchOutcome{Candidates: candidates}
}

// narrowKeywordFamilies are term groups that make a lexical query too restrictive on their own.
var narrowKeywordFamilies = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{name: "deadline", pattern: regexp.MustCompile(`(?i)\b(deadlines?|due(\s+dates?)?|overdue|late|missed|extensions?|eta)\b`)},
	{name: "blocker", pattern: regexp.MustCompile(`(?i)\b(blockers?|blocked|escalat(e|ed|ion))\b`)},
}

func IsNarrowKeywordQuery(question string) bool {
	for _, family := range narrowKeywordFamilies {
		if family.pattern.MatchString(question) {
			return true
		}
	}
	return false
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"about": {}, "with": {}, "what": {}, "who": {}, "when": {}, "where": {}, "why": {}, "how": {}, "did": {},
	"does": {}, "do": {}, "is": {}, "are": {}, "was": {}, "were": {}, "has": {}, "have": {}, "had": {},
	"say": {}, "said": {}, "any": {}, "ever": {}, "last": {}, "this": {}, "that": {}, "week": {}, "month": {},
	"year": {}, "day": {}, "days": {}, "team": {}, "we": {}, "they": {}, "it": {}, "be": {}, "there": {},
}

// BroadenedQuery drops the narrow keyword terms and OR-joins the remaining content words.
// It returns "" when nothing useful is left.
func BroadenedQuery(question string) string {
	stripped := question
	for _, family := range narrowKeywordFamilies {
		stripped = family.pattern.ReplaceAllString(stripped, " ")
	}

	seen := make(map[string]struct{})
	terms := make([]string, 0, 8)
	for _, token := range splitAlphaNumLower(stripped) {
		if len(token) < 2 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		terms = append(terms, token)
	}
	return strings.Join(terms, " or ")
}

func splitAlphaNumLower(s string) []string {
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
