package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

func TestEvidenceProfileBuilder_SummaryOrderAndLabels(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Text: &domain.TextRecord{ID: 1, Summary: "患者主诉咳嗽三天"},
		CT:   &domain.CTRecord{ID: 2, BodyPart: "胸部", Analysis: "双肺纹理增粗"},
		Lab: &domain.LabRecord{ID: 3, Indicators: map[string]domain.LabValue{
			"WBC": {Value: "12.5", Unit: "10^9/L"},
		}},
	}
	weights := domain.WeightSet{
		domain.ModalityText: 0.3,
		domain.ModalityCT:   0.4,
		domain.ModalityLab:  0.3,
	}
	anomalies := []domain.AnomalyRecord{
		{Indicator: "WBC", CurrentValue: "12.5", DeviationScore: 1.7, Severity: domain.SeverityMild},
	}

	profile := builder.Build(ctx, anomalies, weights)
	require.Len(t, profile.Summary, 3)

	assert.Equal(t, "病历文本（权重 30.0%）：患者主诉咳嗽三天", profile.Summary[0])
	assert.Equal(t, "CT影像（权重 40.0%）：胸部：双肺纹理增粗", profile.Summary[1])
	assert.Equal(t, "实验室检验（权重 30.0%）：WBC偏高：检测值 12.510^9/L", profile.Summary[2])
}

func TestEvidenceProfileBuilder_AllNormalSentence(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Lab: &domain.LabRecord{ID: 3, Indicators: map[string]domain.LabValue{
			"WBC": {Value: "7.0"},
			"HGB": {Value: "140"},
		}},
	}
	weights := domain.WeightSet{domain.ModalityLab: 1.0}

	profile := builder.Build(ctx, nil, weights)
	require.Len(t, profile.Summary, 1)
	assert.Equal(t, "实验室检验（权重 100.0%）：所有指标均在正常范围内", profile.Summary[0])
}

func TestEvidenceProfileBuilder_SeverityClause(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Lab: &domain.LabRecord{ID: 3, Indicators: map[string]domain.LabValue{
			"ALT": {Value: "85", Unit: "U/L"},
			"HGB": {Value: "95", Unit: "g/L"},
		}},
	}
	weights := domain.WeightSet{domain.ModalityLab: 1.0}
	anomalies := []domain.AnomalyRecord{
		{Indicator: "ALT", CurrentValue: "85", DeviationScore: 4.5, Severity: domain.SeveritySevere},
		{Indicator: "HGB", CurrentValue: "95", DeviationScore: -2.5, Severity: domain.SeverityModerate},
	}

	profile := builder.Build(ctx, anomalies, weights)
	require.Len(t, profile.Summary, 1)
	assert.Equal(t,
		"实验室检验（权重 100.0%）：ALT偏高：检测值 85U/L，重度异常；HGB偏低：检测值 95g/L，中度异常",
		profile.Summary[0])
}

func TestEvidenceProfileBuilder_DetailStripsIndicatorTable(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Lab: &domain.LabRecord{ID: 3, Status: domain.RecordCompleted, Indicators: map[string]domain.LabValue{
			"WBC": {Value: "12.5"},
			"ALT": {Value: "85"},
		}},
	}
	weights := domain.WeightSet{domain.ModalityLab: 1.0}
	anomalies := []domain.AnomalyRecord{
		{Indicator: "WBC", CurrentValue: "12.5", DeviationScore: 1.7, Severity: domain.SeverityMild},
	}

	profile := builder.Build(ctx, anomalies, weights)

	labDetail, ok := profile.Detail["lab"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2, labDetail["indicator_count"])
	assert.NotContains(t, labDetail, "indicators")

	assert.Equal(t, anomalies, profile.Detail["lab_anomalies"])
}

func TestEvidenceProfileBuilder_AbsentModalitiesOmitted(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Text: &domain.TextRecord{ID: 1, Summary: "病史记录"},
	}
	weights := domain.WeightSet{domain.ModalityText: 1.0}

	profile := builder.Build(ctx, nil, weights)
	require.Len(t, profile.Summary, 1)
	assert.NotContains(t, profile.Detail, "ct")
	assert.NotContains(t, profile.Detail, "lab")
}

func TestEvidenceProfileBuilder_WeightPercentFormat(t *testing.T) {
	builder := NewEvidenceProfileBuilder(testLogger())

	ctx := &domain.PatientContext{
		Text: &domain.TextRecord{ID: 1, Summary: "摘要"},
	}
	weights := domain.WeightSet{domain.ModalityText: 0.23437}

	profile := builder.Build(ctx, nil, weights)
	require.Len(t, profile.Summary, 1)
	assert.Equal(t, "病历文本（权重 23.4%）：摘要", profile.Summary[0])
}
