package qdrant

import (
	"cmp"
	"hash/fnv"
	"math"
	"slices"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	bm25K          = 1.2
	roomNameBoost  = 1.5
	maxSparseTerms = 256
	minTokenLen    = 2
)

// termWeights maps a hashed term to its accumulated frequency.
type termWeights map[uint32]float64

func (tw termWeights) add(text string, weight float64) {
	for _, token := range tokenize(text) {
		if len([]rune(token)) < minTokenLen {
			continue
		}
		tw[hashToken(token)] += weight
	}
}

// encodeSparseDocument weights chunk text terms with BM25 saturation. Room name terms count extra.
func encodeSparseDocument(text, roomName string) sparseVector {
	tw := make(termWeights, 64)
	tw.add(text, 1)
	tw.add(roomName, roomNameBoost)
	return tw.vector()
}

func encodeSparseQuery(query string) sparseVector {
	tw := make(termWeights, 16)
	tw.add(query, 1)
	return tw.vector()
}

// vector keeps the heaviest terms when over the cap. Qdrant wants indices ascending.
func (tw termWeights) vector() sparseVector {
	if len(tw) == 0 {
		return sparseVector{}
	}
	terms := make([]uint32, 0, len(tw))
	for term := range tw {
		terms = append(terms, term)
	}
	if len(terms) > maxSparseTerms {
		slices.SortFunc(terms, func(a, b uint32) int {
			if c := cmp.Compare(tw[b], tw[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		terms = terms[:maxSparseTerms]
	}
	slices.Sort(terms)

	out := sparseVector{Indices: terms, Values: make([]float32, len(terms))}
	for i, term := range terms {
		out.Values[i] = float32(saturate(tw[term]))
	}
	return out
}

func saturate(freq float64) float64 {
	w := freq * (bm25K + 1) / (freq + bm25K)
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0
	}
	return w
}

// hashToken never returns 0.
func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return max(h.Sum32(), 1)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
