package risk

import (
	"fmt"
	"math"
	"slices"
)

const weightTolerance = 1e-6

// Config holds the scoring weights and recommendation settings.
type Config struct {
	CategoryWeights map[Category]float64 `yaml:"category_weights" json:"category_weights"`
	// FactorWeights maps factor name to its weight within its category.
	FactorWeights map[string]float64 `yaml:"factor_weights" json:"factor_weights"`
	// SeverityThreshold is the contribution a factor must exceed to yield a
	// recommendation.
	SeverityThreshold  float64 `yaml:"severity_threshold" json:"severity_threshold"`
	MaxRecommendations int     `yaml:"max_recommendations" json:"max_recommendations"`
	// CriticalAt and HighAt are the contribution bands of the CRITICAL and
	// HIGH severities; everything above the threshold below HighAt is MEDIUM.
	CriticalAt float64 `yaml:"critical_at" json:"critical_at"`
	HighAt     float64 `yaml:"high_at" json:"high_at"`
}

// DefaultConfig returns the built-in weights.
func DefaultConfig() Config {
	return Config{
		CategoryWeights: map[Category]float64{
			CategoryInfrastructure: 0.3,
			CategoryLocation:       0.25,
			CategoryOperational:    0.3,
			CategoryMarket:         0.15,
		},
		FactorWeights: map[string]float64{
			FactorFloodProtection:       0.4,
			FactorElectricBackup:        0.3,
			FactorTemperatureRegulation: 0.3,
			FactorFloodExposure:         0.5,
			FactorHubDistance:           0.3,
			FactorLocationType:          0.2,
			FactorBreakdowns:            0.4,
			FactorStorageIssues:         0.3,
			FactorTransportIssues:       0.3,
			FactorCompetition:           0.4,
			FactorFloodImpacted:         0.35,
			FactorRetailDensity:         0.25,
		},
		SeverityThreshold:  15,
		MaxRecommendations: 5,
		CriticalAt:         40,
		HighAt:             25,
	}
}

// Validate checks that every weight is within [0,1], that category weights
// sum to 1 and that the factor weights of each category sum to 1.
func (c Config) Validate() error {
	sum := 0.0
	for _, cat := range Categories {
		w, ok := c.CategoryWeights[cat]
		if !ok {
			return fmt.Errorf("risk config: missing weight for category %s", cat)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("risk config: category %s weight %v outside [0,1]", cat, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("risk config: category weights sum to %v, want 1", sum)
	}
	for cat := range c.CategoryWeights {
		if !slices.Contains(Categories, cat) {
			return fmt.Errorf("risk config: unknown category %q", cat)
		}
	}

	perCategory := make(map[Category]float64, len(Categories))
	for _, spec := range Catalogue {
		w, ok := c.FactorWeights[spec.Name]
		if !ok {
			return fmt.Errorf("risk config: missing weight for factor %s", spec.Name)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("risk config: factor %s weight %v outside [0,1]", spec.Name, w)
		}
		perCategory[spec.Category] += w
	}
	for name := range c.FactorWeights {
		if _, ok := specOf(name); !ok {
			return fmt.Errorf("risk config: unknown factor %q", name)
		}
	}
	for _, cat := range Categories {
		if s := perCategory[cat]; math.Abs(s-1) > weightTolerance {
			return fmt.Errorf("risk config: factor weights of %s sum to %v, want 1", cat, s)
		}
	}

	if c.SeverityThreshold < 0 || c.SeverityThreshold > 100 {
		return fmt.Errorf("risk config: severity threshold %v outside [0,100]", c.SeverityThreshold)
	}
	if c.MaxRecommendations < 1 {
		return fmt.Errorf("risk config: max recommendations must be at least 1, got %d", c.MaxRecommendations)
	}
	if c.HighAt > c.CriticalAt {
		return fmt.Errorf("risk config: high band %v above critical band %v", c.HighAt, c.CriticalAt)
	}
	return nil
}
