package service

import (
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// ScoringPipeline orchestrates the evidence scoring components over one
// patient context. It is stateless with respect to process memory; all
// state lives in the context argument and the static rule tables.
type ScoringPipeline struct {
	anomalies  *AnomalyDetector
	quality    *QualityScorer
	weights    *WeightAdjuster
	confidence *ConfidenceCalculator
	evidence   *EvidenceProfileBuilder
	logger     *logrus.Logger
}

// NewScoringPipeline wires the scoring components against one rule set.
func NewScoringPipeline(rules *domain.ScoringRules, logger *logrus.Logger) *ScoringPipeline {
	return &ScoringPipeline{
		anomalies:  NewAnomalyDetector(rules, logger),
		quality:    NewQualityScorer(rules, logger),
		weights:    NewWeightAdjuster(rules, logger),
		confidence: NewConfidenceCalculator(rules, logger),
		evidence:   NewEvidenceProfileBuilder(logger),
		logger:     logger,
	}
}

// Run executes anomaly detection, quality scoring, weight adjustment,
// confidence calculation, and evidence rendering, in that order.
// The context must carry at least one modality; callers enforce the
// no-medical-data precondition before dispatching any work.
func (p *ScoringPipeline) Run(ctx *domain.PatientContext, refs domain.ReferenceTable) (*domain.ScoringOutcome, error) {
	if !ctx.HasMedicalData() {
		return nil, domain.ErrNoMedicalData
	}

	var anomalies []domain.AnomalyRecord
	if ctx.Lab != nil {
		anomalies = p.anomalies.Detect(ctx.Lab.Indicators, refs)
	}

	quality := p.quality.ScoreAll(ctx)

	base := p.weights.PresentBaseWeights(ctx.PresentModalities())
	adjusted, wasAdjusted := p.weights.Adjust(base, quality)

	confidence := p.confidence.Compute(adjusted, quality, len(anomalies) > 0)
	level := p.confidence.Level(confidence)

	profile := p.evidence.Build(ctx, anomalies, adjusted)

	p.logger.WithFields(logrus.Fields{
		"patient_id":       ctx.Patient.PatientID,
		"modalities":       len(quality),
		"anomalies":        len(anomalies),
		"confidence":       confidence,
		"confidence_level": level,
		"quality_adjusted": wasAdjusted,
	}).Info("Scoring pipeline completed")

	return &domain.ScoringOutcome{
		Anomalies:       anomalies,
		QualityScores:   quality,
		BaseWeights:     base,
		Weights:         adjusted,
		QualityAdjusted: wasAdjusted,
		Confidence:      confidence,
		ConfidenceLevel: level,
		Evidence:        profile,
	}, nil
}
