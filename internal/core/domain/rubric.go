package domain

type Driver struct {
	Key                string   `json:"key" yaml:"key"`
	Description        string   `json:"description" yaml:"description"`
	Weight             float64  `json:"weight" yaml:"weight"`
	NegativeIndicators []string `json:"negative_indicators,omitempty" yaml:"negative_indicators"`
}

// EvaluationPolicy gates evaluation synthesis and bounds rubric scores.
type EvaluationPolicy struct {
	MinEvidenceItems   int     `json:"min_evidence_items" yaml:"min_evidence_items"`
	RequireCitations   bool    `json:"require_citations" yaml:"require_citations"`
	RequireMultiSource bool    `json:"require_multi_source" yaml:"require_multi_source"`
	ScaleMin           float64 `json:"scale_min" yaml:"scale_min"`
	ScaleMax           float64 `json:"scale_max" yaml:"scale_max"`
	// DiversityLeniencyMinItems lets a single-room evidence set proceed with a warning
	// once it holds at least this many items. Zero disables the leniency.
	DiversityLeniencyMinItems int `json:"diversity_leniency_min_items" yaml:"diversity_leniency_min_items"`
}

func DefaultEvaluationPolicy() EvaluationPolicy {
	return EvaluationPolicy{
		MinEvidenceItems:          3,
		RequireCitations:          true,
		RequireMultiSource:        true,
		ScaleMin:                  1,
		ScaleMax:                  5,
		DiversityLeniencyMinItems: 3,
	}
}

func (p EvaluationPolicy) MidScale() float64 {
	return (p.ScaleMin + p.ScaleMax) / 2
}

type Rubric struct {
	Name      string           `json:"name" yaml:"name"`
	Drivers   []Driver         `json:"drivers" yaml:"drivers"`
	Behaviors []string         `json:"behaviors,omitempty" yaml:"behaviors"`
	Instances []string         `json:"instances,omitempty" yaml:"instances"`
	Policy    EvaluationPolicy `json:"policy" yaml:"policy"`
}

type EvidenceStrength string

const (
	EvidenceStrong       EvidenceStrength = "strong"
	EvidenceModerate     EvidenceStrength = "moderate"
	EvidenceWeak         EvidenceStrength = "weak"
	EvidenceInsufficient EvidenceStrength = "insufficient"
)

type DriverScore struct {
	DriverKey        string           `json:"driver_key"`
	Score            float64          `json:"score"`
	Weight           float64          `json:"weight"`
	Reasoning        string           `json:"reasoning"`
	EvidenceStrength EvidenceStrength `json:"evidence_strength"`
	Citations        []string         `json:"citations,omitempty"`
	Backfilled       bool             `json:"backfilled,omitempty"`
}

type Confidence struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// EvaluationResult is a validated rubric evaluation. It is never mutated after storage.
type EvaluationResult struct {
	Subject       string        `json:"subject"`
	RubricName    string        `json:"rubric_name"`
	Scores        []DriverScore `json:"scores"`
	WeightedTotal float64       `json:"weighted_total"`
	Strengths     []string      `json:"strengths"`
	GrowthAreas   []string      `json:"growth_areas"`
	Summary       string        `json:"summary"`
	Confidence    *Confidence   `json:"confidence,omitempty"`
	ScaleMin      float64       `json:"scale_min"`
	ScaleMax      float64       `json:"scale_max"`
}

// WithDefaults fills an unset policy and drops drivers without a key.
func (r Rubric) WithDefaults() Rubric {
	out := r
	def := DefaultEvaluationPolicy()
	if out.Policy.ScaleMax <= out.Policy.ScaleMin {
		out.Policy.ScaleMin, out.Policy.ScaleMax = def.ScaleMin, def.ScaleMax
	}
	if out.Policy.MinEvidenceItems <= 0 {
		out.Policy.MinEvidenceItems = def.MinEvidenceItems
	}
	if out.Policy.DiversityLeniencyMinItems < 0 {
		out.Policy.DiversityLeniencyMinItems = 0
	}
	drivers := make([]Driver, 0, len(out.Drivers))
	for _, d := range out.Drivers {
		if d.Key == "" {
			continue
		}
		if d.Weight <= 0 {
			d.Weight = 1
		}
		drivers = append(drivers, d)
	}
	out.Drivers = drivers
	return out
}
