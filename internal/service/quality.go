package service

import (
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// QualityScorer maps each modality's raw payload to a heuristic quality
// score in [0,1]. Scoring is a pure function of the payload; no history
// lookups or review bonuses feed into it.
type QualityScorer struct {
	rules  *domain.ScoringRules
	logger *logrus.Logger
}

// NewQualityScorer creates a new quality scorer
func NewQualityScorer(rules *domain.ScoringRules, logger *logrus.Logger) *QualityScorer {
	return &QualityScorer{
		rules:  rules,
		logger: logger,
	}
}

// ScoreAll scores every present modality in the context. Absent modalities
// get no entry.
func (s *QualityScorer) ScoreAll(ctx *domain.PatientContext) domain.QualityScores {
	scores := make(domain.QualityScores, 3)
	if ctx.Text != nil {
		scores[domain.ModalityText] = s.ScoreText(ctx.Text.Summary)
	}
	if ctx.CT != nil {
		scores[domain.ModalityCT] = s.ScoreCT()
	}
	if ctx.Lab != nil {
		scores[domain.ModalityLab] = s.ScoreLab(len(ctx.Lab.Indicators))
	}
	return scores
}

// ScoreCT returns the fixed presence score. No image-quality assessment is
// performed.
func (s *QualityScorer) ScoreCT() float64 {
	return s.rules.CTPresentScore
}

// ScoreLab steps the score by indicator count.
func (s *QualityScorer) ScoreLab(indicatorCount int) float64 {
	return domain.StepScore(s.rules.LabCountSteps, indicatorCount)
}

// ScoreText steps the score by summary character length, with a capped
// bonus when the summary carries enough distinct key findings.
func (s *QualityScorer) ScoreText(summary string) float64 {
	length := utf8.RuneCountInString(summary)
	score := domain.StepScore(s.rules.TextLengthSteps, length)

	if s.countKeyFindings(summary) >= s.rules.TextFindingsMinHit {
		score += s.rules.TextFindingsBonus
		if score > 1.0 {
			score = 1.0
		}
	}
	return score
}

// countKeyFindings counts distinct key-finding terms present in the
// summary text.
func (s *QualityScorer) countKeyFindings(summary string) int {
	hits := 0
	for _, term := range s.rules.KeyFindingTerms {
		if strings.Contains(summary, term) {
			hits++
		}
	}
	return hits
}
