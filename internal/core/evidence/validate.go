package evidence

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

const (
	minWeight = 0.0
	maxWeight = 2.0
)

// ParseRawResult decodes the first JSON object found in the generation service's output.
func ParseRawResult(text string) (map[string]any, error) {
	body := extractJSONObject(text)
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResult, "parse evaluation", err)
	}
	if raw == nil {
		return nil, domain.WrapError(domain.ErrMalformedResult, "parse evaluation", fmt.Errorf("empty object"))
	}
	return raw, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// ValidateAndClamp turns raw model output into an EvaluationResult that always holds one entry
// per configured driver, with scores and weights inside their bounds and a locally computed
// weighted total.
func ValidateAndClamp(raw map[string]any, policy domain.EvaluationPolicy, drivers []domain.Driver) (domain.EvaluationResult, error) {
	scoresValue, ok := raw["scores"]
	if !ok || scoresValue == nil {
		return domain.EvaluationResult{}, domain.WrapError(domain.ErrMalformedResult, "validate evaluation", fmt.Errorf("scores missing"))
	}
	items, ok := scoresValue.([]any)
	if !ok {
		return domain.EvaluationResult{}, domain.WrapError(domain.ErrMalformedResult, "validate evaluation", fmt.Errorf("scores is not a list"))
	}
	if len(items) == 0 {
		return domain.EvaluationResult{}, domain.WrapError(domain.ErrMalformedResult, "validate evaluation", fmt.Errorf("scores is empty"))
	}

	scaleMin, scaleMax := policy.ScaleMin, policy.ScaleMax
	if scaleMax < scaleMin {
		scaleMin, scaleMax = scaleMax, scaleMin
	}

	known := make(map[string]domain.Driver, len(drivers))
	for _, d := range drivers {
		known[normalizeKey(d.Key)] = d
	}

	accepted := make(map[string]domain.DriverScore, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key := normalizeKey(firstString(obj, "driver_key", "driver", "key"))
		if key == "" {
			continue
		}
		driver, isKnown := known[key]
		if len(drivers) > 0 && !isKnown {
			continue
		}
		if _, dup := accepted[key]; dup {
			continue
		}
		score, ok := toFloat(obj["score"])
		if !ok {
			continue
		}

		weight, ok := toFloat(obj["weight"])
		if !ok {
			weight = 1
			if isKnown {
				weight = driver.Weight
			}
		}

		driverKey := key
		if isKnown {
			driverKey = driver.Key
		}
		accepted[key] = domain.DriverScore{
			DriverKey:        driverKey,
			Score:            clamp(score, scaleMin, scaleMax),
			Weight:           clamp(weight, minWeight, maxWeight),
			Reasoning:        strings.TrimSpace(firstString(obj, "reasoning", "rationale")),
			EvidenceStrength: normalizeStrength(firstString(obj, "evidence_strength", "evidence")),
			Citations:        toStrings(obj["citations"]),
		}
		order = append(order, key)
	}
	if len(accepted) == 0 {
		return domain.EvaluationResult{}, domain.WrapError(domain.ErrNoValidScores, "validate evaluation", fmt.Errorf("no scores matched the rubric drivers"))
	}

	scores := make([]domain.DriverScore, 0, max(len(drivers), len(accepted)))
	if len(drivers) == 0 {
		for _, key := range order {
			scores = append(scores, accepted[key])
		}
	} else {
		mid := clamp((scaleMin+scaleMax)/2, scaleMin, scaleMax)
		for _, d := range drivers {
			if s, ok := accepted[normalizeKey(d.Key)]; ok {
				scores = append(scores, s)
				continue
			}
			scores = append(scores, domain.DriverScore{
				DriverKey:        d.Key,
				Score:            mid,
				Weight:           clamp(d.Weight, minWeight, maxWeight),
				Reasoning:        "No evidence was returned for this driver.",
				EvidenceStrength: domain.EvidenceInsufficient,
				Backfilled:       true,
			})
		}
	}

	result := domain.EvaluationResult{
		Scores:        scores,
		WeightedTotal: WeightedTotal(scores),
		Strengths:     toStrings(raw["strengths"]),
		GrowthAreas:   toStrings(firstPresent(raw, "growth_areas", "areas_for_growth")),
		Summary:       strings.TrimSpace(firstString(raw, "summary", "overall_summary")),
		Confidence:    parseConfidence(raw["confidence"]),
		ScaleMin:      scaleMin,
		ScaleMax:      scaleMax,
	}
	return result, nil
}

// WeightedTotal is Σ(score*weight)/Σ(weight), or 0 when the total weight is 0.
func WeightedTotal(scores []domain.DriverScore) float64 {
	var sum, weights float64
	for _, s := range scores {
		sum += s.Score * s.Weight
		weights += s.Weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func parseConfidence(v any) *domain.Confidence {
	switch c := v.(type) {
	case nil:
		return nil
	case map[string]any:
		score, ok := toFloat(firstPresent(c, "score", "level", "value"))
		if !ok {
			return nil
		}
		return &domain.Confidence{Score: clamp(score, 0, 1), Rationale: strings.TrimSpace(firstString(c, "rationale", "reason"))}
	default:
		score, ok := toFloat(c)
		if !ok {
			return nil
		}
		return &domain.Confidence{Score: clamp(score, 0, 1)}
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeStrength(v string) domain.EvidenceStrength {
	switch s := domain.EvidenceStrength(strings.ToLower(strings.TrimSpace(v))); s {
	case domain.EvidenceStrong, domain.EvidenceModerate, domain.EvidenceWeak, domain.EvidenceInsufficient:
		return s
	default:
		return domain.EvidenceWeak
	}
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(obj map[string]any, keys ...string) string {
	s, _ := firstPresent(obj, keys...).(string)
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
