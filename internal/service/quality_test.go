package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

func TestQualityScorer_CTPresence(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())
	assert.Equal(t, 1.0, scorer.ScoreCT())
}

func TestQualityScorer_LabSteps(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	cases := []struct {
		count int
		want  float64
	}{
		{0, 0.3},
		{1, 0.5},
		{4, 0.5},
		{5, 0.7},
		{9, 0.7},
		{10, 0.9},
		{14, 0.9},
		{15, 1.0},
		{42, 1.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, scorer.ScoreLab(tc.count), "count=%d", tc.count)
	}
}

func TestQualityScorer_TextShortNoFindings(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	// 30 characters, nothing resembling a key finding.
	summary := strings.Repeat("x", 30)
	assert.Equal(t, 0.4, scorer.ScoreText(summary))
}

func TestQualityScorer_TextLengthSteps(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	cases := []struct {
		length int
		want   float64
	}{
		{49, 0.4},
		{50, 0.6},
		{99, 0.6},
		{100, 0.8},
		{199, 0.8},
		{200, 1.0},
	}
	for _, tc := range cases {
		summary := strings.Repeat("x", tc.length)
		assert.Equal(t, tc.want, scorer.ScoreText(summary), "length=%d", tc.length)
	}
}

func TestQualityScorer_TextLengthCountsRunes(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	// 60 Chinese characters count as 60, not 180 bytes.
	summary := strings.Repeat("咳", 60)
	assert.Equal(t, 0.6, scorer.ScoreText(summary))
}

func TestQualityScorer_TextKeyFindingsBonus(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	padding := strings.Repeat("记", 60)
	withFindings := "主诉发热三天，现病史提示咳嗽，查体未见明显异常。" + padding
	assert.InDelta(t, 0.7, scorer.ScoreText(withFindings), 1e-9)

	// Bonus never pushes past 1.0.
	long := "主诉发热，现病史咳嗽，查体异常。" + strings.Repeat("述", 200)
	assert.Equal(t, 1.0, scorer.ScoreText(long))
}

func TestQualityScorer_Idempotent(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	summary := "主诉腹痛两日，现病史伴呕吐，查体压痛明显，" + strings.Repeat("详", 80)
	first := scorer.ScoreText(summary)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scorer.ScoreText(summary))
	}
}

func TestQualityScorer_ScoreAll(t *testing.T) {
	scorer := NewQualityScorer(domain.DefaultScoringRules(), testLogger())

	ctx := &domain.PatientContext{
		CT: &domain.CTRecord{BodyPart: "胸部", Analysis: "未见明显异常"},
		Lab: &domain.LabRecord{Indicators: map[string]domain.LabValue{
			"WBC": {Value: "7"}, "HGB": {Value: "140"}, "PLT": {Value: "200"},
		}},
	}

	scores := scorer.ScoreAll(ctx)
	assert.Len(t, scores, 2)
	assert.Equal(t, 1.0, scores[domain.ModalityCT])
	assert.Equal(t, 0.5, scores[domain.ModalityLab])
	assert.NotContains(t, scores, domain.ModalityText)
}
