// Package risk computes composite warehouse risk scores from weighted
// factors in four categories and derives recommendations from them.
package risk

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Factor is one evaluated risk factor. Weight is the effective weight within
// the category after renormalization over the factors that could be
// evaluated, so the contributions of a category sum to its score.
type Factor struct {
	Category     Category `json:"category"`
	Name         string   `json:"name"`
	Weight       float64  `json:"weight"`
	RawValue     float64  `json:"raw_value"`
	Contribution float64  `json:"contribution"`
	Detail       string   `json:"detail"`
}

// RiskScore is the composite score of one warehouse.
type RiskScore struct {
	EntityID          string               `json:"entity_id"`
	OverallScore      float64              `json:"overall_score"`
	CategoryScores    map[Category]float64 `json:"category_scores"`
	Factors           []Factor             `json:"factors"`
	ComputedAt        time.Time            `json:"computed_at"`
	SnapshotVersion   uint64               `json:"snapshot_version"`
	Degraded          bool                 `json:"degraded"`
	MissingCategories []Category           `json:"missing_categories,omitempty"`
}

// Level maps the overall score to a risk level.
func (s RiskScore) Level() string {
	return Level(s.OverallScore)
}

// Level maps a score between 0 and 100 to Low, Medium, High or Critical.
func Level(score float64) string {
	switch {
	case score < 25:
		return "Low"
	case score < 50:
		return "Medium"
	case score < 75:
		return "High"
	default:
		return "Critical"
	}
}

// Clone returns a deep copy.
func (s RiskScore) Clone() RiskScore {
	c := s
	c.CategoryScores = make(map[Category]float64, len(s.CategoryScores))
	for k, v := range s.CategoryScores {
		c.CategoryScores[k] = v
	}
	c.Factors = slices.Clone(s.Factors)
	c.MissingCategories = slices.Clone(s.MissingCategories)
	return c
}

// Engine evaluates the factor catalogue. It holds no mutable state.
type Engine struct {
	cfg Config
	now func() time.Time
}

type EngineOption func(*Engine)

// WithClock replaces time.Now for ComputedAt.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Score computes the risk score of a warehouse from its directly related
// entities. When a category has no contributing factor the score is computed
// from the remaining categories with renormalized weights, marked degraded,
// and returned together with an InsufficientData error naming the missing
// categories.
func (e *Engine) Score(warehouse common.Entity, related []common.Entity) (RiskScore, error) {
	in := newInputs(warehouse, related)

	score := RiskScore{
		EntityID:       warehouse.ID,
		CategoryScores: make(map[Category]float64, len(Categories)),
		ComputedAt:     e.now().UTC(),
	}

	var weighted, weightSum float64
	for _, cat := range Categories {
		factors := e.evaluateCategory(cat, in)
		if len(factors) == 0 {
			score.MissingCategories = append(score.MissingCategories, cat)
			continue
		}

		catScore := 0.0
		for _, f := range factors {
			catScore += f.Contribution
		}
		catScore = round2(catScore)
		score.CategoryScores[cat] = catScore
		score.Factors = append(score.Factors, factors...)

		w := e.cfg.CategoryWeights[cat]
		weighted += w * catScore
		weightSum += w
	}

	if weightSum > 0 {
		score.OverallScore = round2(weighted / weightSum)
	}

	score.Degraded = len(score.MissingCategories) > 0
	return score, degradedError(score)
}

// degradedError returns the InsufficientData error of a degraded score.
func degradedError(s RiskScore) error {
	if !s.Degraded {
		return nil
	}
	details := make([]string, 0, len(s.MissingCategories))
	for _, c := range s.MissingCategories {
		details = append(details, string(c))
	}
	return common.NewError(common.KindInsufficientData, "no contributing factors for "+s.EntityID, nil, details...)
}

// gate reports whether a category can be evaluated at all. Infrastructure
// needs at least one asset and Market at least one market context.
func gate(cat Category, in inputs) bool {
	switch cat {
	case CategoryInfrastructure:
		return len(in.assets) > 0
	case CategoryMarket:
		return len(in.markets) > 0
	}
	return true
}

func (e *Engine) evaluateCategory(cat Category, in inputs) []Factor {
	if !gate(cat, in) {
		return nil
	}

	type evaluated struct {
		spec FactorSpec
		raw  raw
	}
	var (
		present []evaluated
		total   float64
	)
	for _, spec := range Catalogue {
		if spec.Category != cat {
			continue
		}
		r, ok := evaluators[spec.Name](in)
		if !ok {
			continue
		}
		present = append(present, evaluated{spec, r})
		total += e.cfg.FactorWeights[spec.Name]
	}
	if len(present) == 0 || total <= 0 {
		return nil
	}

	factors := make([]Factor, 0, len(present))
	for _, p := range present {
		w := e.cfg.FactorWeights[p.spec.Name] / total
		factors = append(factors, Factor{
			Category:     cat,
			Name:         p.spec.Name,
			Weight:       round4(w),
			RawValue:     p.raw.value,
			Contribution: round2(w * p.raw.value),
			Detail:       p.raw.detail,
		})
	}
	return factors
}

// Severity of a recommendation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Recommendation is a mitigation derived from one high contributing factor.
type Recommendation struct {
	EntityID     string   `json:"entity_id"`
	Severity     Severity `json:"severity"`
	Action       string   `json:"action"`
	Category     Category `json:"category"`
	Factor       string   `json:"factor"`
	Contribution float64  `json:"contribution"`
	Detail       string   `json:"detail,omitempty"`
}

// Recommend yields one recommendation per factor whose contribution exceeds
// the severity threshold, ordered by contribution descending, then category
// order, factor name and entity id, capped at MaxRecommendations.
func (e *Engine) Recommend(scores ...RiskScore) []Recommendation {
	var out []Recommendation
	for _, s := range scores {
		for _, f := range s.Factors {
			if f.Contribution <= e.cfg.SeverityThreshold {
				continue
			}
			spec, _ := specOf(f.Name)
			out = append(out, Recommendation{
				EntityID:     s.EntityID,
				Severity:     e.severity(f.Contribution),
				Action:       spec.Action,
				Category:     f.Category,
				Factor:       f.Name,
				Contribution: f.Contribution,
				Detail:       f.Detail,
			})
		}
	}

	slices.SortStableFunc(out, func(a, b Recommendation) int {
		return cmp.Or(
			cmp.Compare(b.Contribution, a.Contribution),
			cmp.Compare(slices.Index(Categories, a.Category), slices.Index(Categories, b.Category)),
			cmp.Compare(a.Factor, b.Factor),
			cmp.Compare(a.EntityID, b.EntityID),
		)
	})
	if limit := e.cfg.MaxRecommendations; len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) severity(contribution float64) Severity {
	switch {
	case contribution >= e.cfg.CriticalAt:
		return SeverityCritical
	case contribution >= e.cfg.HighAt:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
