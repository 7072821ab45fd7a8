package service

import (
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// ConfidenceCalculator derives a bounded composite confidence score from
// evidence completeness, the quality distribution across modalities, and
// the anomaly signal.
type ConfidenceCalculator struct {
	rules  *domain.ScoringRules
	logger *logrus.Logger
}

// NewConfidenceCalculator creates a new confidence calculator
func NewConfidenceCalculator(rules *domain.ScoringRules, logger *logrus.Logger) *ConfidenceCalculator {
	return &ConfidenceCalculator{
		rules:  rules,
		logger: logger,
	}
}

// Compute combines the fixed prior, the completeness bonus, the clamped
// quality bonus, and the anomaly bonus into a score in [0,1]. Callers must
// not invoke it with zero present modalities; the no-medical-data check
// belongs upstream.
//
// The quality bonus leans on min quality and penalizes variance so one
// weak modality cannot be averaged away by two strong ones.
func (c *ConfidenceCalculator) Compute(weights domain.WeightSet, quality domain.QualityScores, hasAnomalies bool) float64 {
	confidence := c.rules.ConfidenceBase

	completeness := c.rules.CompletenessPerBonus * float64(len(quality))
	if completeness > c.rules.CompletenessBonusCap {
		completeness = c.rules.CompletenessBonusCap
	}
	confidence += completeness

	minQuality := 1.0
	avgQuality := 0.0
	for modality, q := range quality {
		if q < minQuality {
			minQuality = q
		}
		avgQuality += weights[modality] * q
	}

	variance := 0.0
	for modality, q := range quality {
		d := q - avgQuality
		variance += weights[modality] * d * d
	}

	bonus := (minQuality*c.rules.QualityMinWeight+avgQuality*c.rules.QualityAvgWeight-0.5)*c.rules.QualityBonusScale - variance*c.rules.QualityVariancePenalty
	if bonus > c.rules.QualityBonusClamp {
		bonus = c.rules.QualityBonusClamp
	}
	if bonus < -c.rules.QualityBonusClamp {
		bonus = -c.rules.QualityBonusClamp
	}
	confidence += bonus

	if hasAnomalies {
		confidence += c.rules.AnomalyBonus
	}

	return clamp01(confidence)
}

// Level maps a confidence score to its discrete display level. The score
// itself is unchanged by the mapping.
func (c *ConfidenceCalculator) Level(confidence float64) domain.ConfidenceLevel {
	return c.rules.LevelFor(confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
