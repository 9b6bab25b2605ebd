package retrieval

import (
	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/similarity"
)

const DefaultDedupeThreshold = 0.8

// Dedupe drops exact (content hash) and near (Jaccard above threshold) duplicates.
// The first occurrence wins; later duplicates are dropped, not merged.
func Dedupe(candidates []domain.Candidate, threshold float64) []domain.Candidate {
	if len(candidates) == 0 {
		return []domain.Candidate{}
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupeThreshold
	}

	seenHashes := make(map[string]struct{}, len(candidates))
	accepted := make([]domain.Candidate, 0, len(candidates))
	acceptedTokens := make([]similarity.TokenSet, 0, len(candidates))

	for _, candidate := range candidates {
		if candidate.ContentHash != "" {
			if _, ok := seenHashes[candidate.ContentHash]; ok {
				continue
			}
		}

		tokens := similarity.Tokens(candidate.Text)
		duplicate := false
		for _, prev := range acceptedTokens {
			if similarity.JaccardSets(tokens, prev) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		if candidate.ContentHash != "" {
			seenHashes[candidate.ContentHash] = struct{}{}
		}
		accepted = append(accepted, candidate)
		acceptedTokens = append(acceptedTokens, tokens)
	}
	return accepted
}
