package service

import (
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// WeightAdjuster combines static base weights with quality scores to
// produce normalized, quality-adjusted evidentiary weights.
type WeightAdjuster struct {
	rules  *domain.ScoringRules
	logger *logrus.Logger
}

// NewWeightAdjuster creates a new weight adjuster
func NewWeightAdjuster(rules *domain.ScoringRules, logger *logrus.Logger) *WeightAdjuster {
	return &WeightAdjuster{
		rules:  rules,
		logger: logger,
	}
}

// Adjust multiplies each present modality's base weight by its quality
// score and renormalizes so the result sums to 1.0. A single low-quality
// modality proportionally shrinks its influence instead of being dropped
// or keeping its prior weight. When the product sum is zero the base
// weights are returned unchanged with adjusted=false.
func (a *WeightAdjuster) Adjust(base domain.WeightSet, quality domain.QualityScores) (domain.WeightSet, bool) {
	products := make(domain.WeightSet, len(quality))
	sum := 0.0
	for modality, q := range quality {
		w := base[modality] * q
		products[modality] = w
		sum += w
	}

	if sum <= 0 {
		a.logger.WithField("quality_scores", quality).
			Warn("Quality-weight products sum to zero, falling back to base weights")
		fallback := make(domain.WeightSet, len(base))
		for modality, w := range base {
			fallback[modality] = w
		}
		return fallback, false
	}

	adjusted := make(domain.WeightSet, len(products))
	for modality, w := range products {
		adjusted[modality] = w / sum
	}
	return adjusted, true
}

// PresentBaseWeights returns the base weights restricted to the present
// modalities, renormalized to sum to 1.0.
func (a *WeightAdjuster) PresentBaseWeights(present []domain.Modality) domain.WeightSet {
	weights := make(domain.WeightSet, len(present))
	sum := 0.0
	for _, m := range present {
		weights[m] = a.rules.BaseWeights[m]
		sum += weights[m]
	}
	if sum <= 0 {
		return weights
	}
	for m, w := range weights {
		weights[m] = w / sum
	}
	return weights
}
