package domain

// QualityStep maps a lower threshold to the score granted at or above it.
type QualityStep struct {
	Threshold int
	Score     float64
}

// ScoringRules holds every tunable of the evidence scoring pipeline.
// DefaultScoringRules reproduces the production policy; tests may build
// narrower rule sets.
type ScoringRules struct {
	// Anomaly severity cut points on |deviation score|.
	SeverityModerateMin float64
	SeveritySevereMin   float64

	// Quality scoring.
	CTPresentScore     float64
	LabCountSteps      []QualityStep
	TextLengthSteps    []QualityStep
	TextFindingsBonus  float64
	TextFindingsMinHit int
	KeyFindingTerms    []string

	// Base modality weights. Sum to 1.0.
	BaseWeights WeightSet

	// Confidence composition.
	ConfidenceBase         float64
	CompletenessPerBonus   float64
	CompletenessBonusCap   float64
	QualityMinWeight       float64
	QualityAvgWeight       float64
	QualityBonusScale      float64
	QualityVariancePenalty float64
	QualityBonusClamp      float64
	AnomalyBonus           float64

	// Confidence level cut points.
	LevelVeryHighMin float64
	LevelHighMin     float64
	LevelMediumMin   float64
}

// DefaultScoringRules returns the production scoring policy.
func DefaultScoringRules() *ScoringRules {
	return &ScoringRules{
		SeverityModerateMin: 2.0,
		SeveritySevereMin:   3.0,

		CTPresentScore: 1.0,
		LabCountSteps: []QualityStep{
			{Threshold: 15, Score: 1.0},
			{Threshold: 10, Score: 0.9},
			{Threshold: 5, Score: 0.7},
			{Threshold: 1, Score: 0.5},
			{Threshold: 0, Score: 0.3},
		},
		TextLengthSteps: []QualityStep{
			{Threshold: 200, Score: 1.0},
			{Threshold: 100, Score: 0.8},
			{Threshold: 50, Score: 0.6},
			{Threshold: 0, Score: 0.4},
		},
		TextFindingsBonus:  0.1,
		TextFindingsMinHit: 3,
		KeyFindingTerms: []string{
			"诊断", "主诉", "现病史", "既往史", "查体", "体温", "血压",
			"症状", "用药", "过敏",
		},

		BaseWeights: WeightSet{
			ModalityText: 0.3,
			ModalityCT:   0.4,
			ModalityLab:  0.3,
		},

		ConfidenceBase:         0.5,
		CompletenessPerBonus:   0.35 / 3,
		CompletenessBonusCap:   0.35,
		QualityMinWeight:       0.7,
		QualityAvgWeight:       0.3,
		QualityBonusScale:      0.5,
		QualityVariancePenalty: 0.2,
		QualityBonusClamp:      0.25,
		AnomalyBonus:           0.05,

		LevelVeryHighMin: 0.85,
		LevelHighMin:     0.70,
		LevelMediumMin:   0.50,
	}
}

// SeverityFor maps an absolute deviation score to its severity band.
func (r *ScoringRules) SeverityFor(absDeviation float64) Severity {
	switch {
	case absDeviation >= r.SeveritySevereMin:
		return SeveritySevere
	case absDeviation >= r.SeverityModerateMin:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// LevelFor maps a confidence score to its display level.
func (r *ScoringRules) LevelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= r.LevelVeryHighMin:
		return ConfidenceVeryHigh
	case confidence >= r.LevelHighMin:
		return ConfidenceHigh
	case confidence >= r.LevelMediumMin:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// StepScore resolves a stepped score table. Steps must be ordered by
// descending threshold; the first threshold <= n wins.
func StepScore(steps []QualityStep, n int) float64 {
	for _, s := range steps {
		if n >= s.Threshold {
			return s.Score
		}
	}
	if len(steps) > 0 {
		return steps[len(steps)-1].Score
	}
	return 0
}
