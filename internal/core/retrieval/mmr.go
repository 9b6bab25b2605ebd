package retrieval

import (
	"math"
	"strings"
	"time"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/similarity"
)

const recencyDecayDays = 30.0

// MMRConfig configures one rerank call. Profiles differ per question type; the algorithm does not.
type MMRConfig struct {
	Lambda          float64
	MaxResults      int
	DiversityWeight float64
	RecencyWeight   float64
	Keywords        []string
	KeywordBoost    float64
	// Now anchors recency decay. Zero means time.Now().
	Now time.Time
}

func DefaultMMRConfig() MMRConfig {
	return MMRConfig{
		Lambda:          0.7,
		MaxResults:      8,
		DiversityWeight: 0.3,
		RecencyWeight:   0.1,
	}
}

type mmrItem struct {
	candidate domain.Candidate
	relevance float64
	tokens    similarity.TokenSet
}

// Rerank greedily selects up to cfg.MaxResults candidates balancing relevance and novelty.
// Output is in selection order and never larger than the input.
func Rerank(candidates []domain.Candidate, cfg MMRConfig) []domain.Candidate {
	limit := cfg.MaxResults
	if limit <= 0 || len(candidates) == 0 {
		return []domain.Candidate{}
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}

	remaining := make([]mmrItem, 0, len(candidates))
	for _, c := range candidates {
		remaining = append(remaining, mmrItem{
			candidate: c,
			relevance: enhancedScore(c, cfg, keywords, now),
			tokens:    similarity.Tokens(c.Text),
		})
	}

	seed := 0
	for i := 1; i < len(remaining); i++ {
		if remaining[i].relevance > remaining[seed].relevance {
			seed = i
		}
	}

	selected := make([]mmrItem, 0, limit)
	selected = append(selected, remaining[seed])
	remaining = append(remaining[:seed], remaining[seed+1:]...)

	for len(selected) < limit && len(remaining) > 0 {
		best := -1
		bestScore := math.Inf(-1)
		for i, item := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := similarity.JaccardSets(item.tokens, s.tokens); sim > maxSim {
					maxSim = sim
				}
			}
			score := cfg.Lambda*item.relevance + (1-cfg.Lambda)*cfg.DiversityWeight*(1-maxSim)
			if score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]domain.Candidate, 0, len(selected))
	for _, item := range selected {
		out = append(out, item.candidate)
	}
	return out
}

func enhancedScore(c domain.Candidate, cfg MMRConfig, keywords []string, now time.Time) float64 {
	score := c.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}

	ts := c.LastTS
	if ts.IsZero() {
		ts = c.FirstTS
	}
	if !ts.IsZero() && cfg.RecencyWeight != 0 {
		ageDays := now.Sub(ts).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score += math.Exp(-ageDays/recencyDecayDays) * cfg.RecencyWeight
	}

	if cfg.KeywordBoost != 0 && len(keywords) > 0 {
		text := strings.ToLower(c.Text)
		for _, k := range keywords {
			if strings.Contains(text, k) {
				score += cfg.KeywordBoost
				break
			}
		}
	}
	return score
}
