package retrieval

import (
	"math"
	"sort"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const (
	DefaultTextHitScore = 0.5
	DefaultHybridBonus  = 0.1
)

type fusedCandidate struct {
	candidate domain.Candidate
	vector    float64
	inVector  bool
	inText    bool
	order     int
}

// Fuse merges vector and text hits by chunk id. Text-only hits get textHitScore; chunks found by
// both searches take the larger score plus hybridBonus, capped at 1.
func Fuse(vector, text []domain.Candidate, textHitScore, hybridBonus float64) []domain.Candidate {
	acc := make(map[string]*fusedCandidate, len(vector)+len(text))
	order := 0
	keyOf := func(c domain.Candidate) string {
		if c.ID != "" {
			return c.ID
		}
		return c.RoomID + "|" + c.Text
	}

	for _, c := range vector {
		key := keyOf(c)
		if existing, ok := acc[key]; ok {
			if normalizeVectorScore(c.Score) > existing.vector {
				existing.vector = normalizeVectorScore(c.Score)
			}
			continue
		}
		acc[key] = &fusedCandidate{candidate: c, vector: normalizeVectorScore(c.Score), inVector: true, order: order}
		order++
	}
	for _, c := range text {
		key := keyOf(c)
		if existing, ok := acc[key]; ok {
			existing.inText = true
			if existing.candidate.ContentHash == "" {
				existing.candidate.ContentHash = c.ContentHash
			}
			continue
		}
		acc[key] = &fusedCandidate{candidate: c, inText: true, order: order}
		order++
	}

	out := make([]domain.Candidate, 0, len(acc))
	orders := make(map[string]int, len(acc))
	for _, f := range acc {
		c := f.candidate
		switch {
		case f.inVector && f.inText:
			c.Score = math.Min(1, math.Max(f.vector, textHitScore)+hybridBonus)
			c.Provenance = domain.ProvenanceHybrid
		case f.inVector:
			c.Score = f.vector
			c.Provenance = domain.ProvenanceVector
		default:
			c.Score = textHitScore
			c.Provenance = domain.ProvenanceText
		}
		out = append(out, c)
		orders[keyOf(c)] = f.order
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return orders[keyOf(out[i])] < orders[keyOf(out[j])]
	})
	return out
}

func normalizeVectorScore(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
