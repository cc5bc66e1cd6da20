package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// riskFile mirrors risk.Config with optional scalars. Weight maps replace
// the defaults as a whole since each set has to sum to one.
type riskFile struct {
	CategoryWeights    map[risk.Category]float64 `yaml:"category_weights"`
	FactorWeights      map[string]float64        `yaml:"factor_weights"`
	SeverityThreshold  *float64                  `yaml:"severity_threshold"`
	MaxRecommendations *int                      `yaml:"max_recommendations"`
	CriticalAt         *float64                  `yaml:"critical_at"`
	HighAt             *float64                  `yaml:"high_at"`
}

// LoadRiskFile reads risk weights from a YAML file on top of base.
func LoadRiskFile(path string, base risk.Config) (risk.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return risk.Config{}, fmt.Errorf("config: read risk weights: %w", err)
	}
	return parseRisk(raw, base)
}

func parseRisk(raw []byte, base risk.Config) (risk.Config, error) {
	var f riskFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return risk.Config{}, fmt.Errorf("config: parse risk weights: %w", err)
	}

	cfg := base
	if len(f.CategoryWeights) > 0 {
		cfg.CategoryWeights = f.CategoryWeights
	}
	if len(f.FactorWeights) > 0 {
		cfg.FactorWeights = f.FactorWeights
	}
	if f.SeverityThreshold != nil {
		cfg.SeverityThreshold = *f.SeverityThreshold
	}
	if f.MaxRecommendations != nil {
		cfg.MaxRecommendations = *f.MaxRecommendations
	}
	if f.CriticalAt != nil {
		cfg.CriticalAt = *f.CriticalAt
	}
	if f.HighAt != nil {
		cfg.HighAt = *f.HighAt
	}
	return cfg, cfg.Validate()
}
