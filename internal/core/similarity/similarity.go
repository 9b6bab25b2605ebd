// Package similarity holds the vector and token-set measures shared by dedupe and MMR.
package similarity

import (
	"math"
	"strings"
)

// TokenSet is a lower-cased, whitespace-tokenized set of words.
type TokenSet map[string]struct{}

func Tokens(text string) TokenSet {
	fields := strings.Fields(strings.ToLower(text))
	out := make(TokenSet, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b|. Either side empty yields 0.
func Jaccard(a, b string) float64 {
	return JaccardSets(Tokens(a), Tokens(b))
}

func JaccardSets(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for token := range small {
		if _, ok := large[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Cosine returns the cosine similarity of two dense vectors.
// Mismatched lengths or a zero-norm vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
