package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

func TestParseDiagnosisResponse_AllSections(t *testing.T) {
	raw := `【诊断结论】社区获得性肺炎
【核心依据】白细胞升高，CT示右下肺渗出。
【治疗方案】
1. 经验性抗感染治疗
2. 补液支持
【医嘱提醒】
- 三天后复查血常规
- 体温超过39度及时就诊`

	parsed := ParseDiagnosisResponse(raw)

	assert.Equal(t, "社区获得性肺炎", parsed.Diagnosis)
	assert.Equal(t, "白细胞升高，CT示右下肺渗出。", parsed.Analysis)
	assert.Equal(t, []string{"经验性抗感染治疗", "补液支持"}, parsed.TreatmentPlan)
	assert.Equal(t, []string{"三天后复查血常规", "体温超过39度及时就诊"}, parsed.MedicalAdvice)
}

func TestParseDiagnosisResponse_MissingSections(t *testing.T) {
	raw := `【诊断结论】上呼吸道感染
【核心依据】症状轻微，指标正常。`

	parsed := ParseDiagnosisResponse(raw)

	assert.Equal(t, "上呼吸道感染", parsed.Diagnosis)
	assert.Equal(t, "症状轻微，指标正常。", parsed.Analysis)
	assert.Empty(t, parsed.TreatmentPlan)
	assert.Empty(t, parsed.MedicalAdvice)
}

func TestParseDiagnosisResponse_NoMarkers(t *testing.T) {
	raw := "考虑病毒性感冒。\n建议多休息。"

	parsed := ParseDiagnosisResponse(raw)

	assert.Equal(t, "考虑病毒性感冒。", parsed.Diagnosis)
	assert.Equal(t, raw, parsed.Analysis)
}

func TestParseDiagnosisResponse_EmptyLinesFiltered(t *testing.T) {
	raw := "【治疗方案】\n方案一\n\n\n方案二\n"

	parsed := ParseDiagnosisResponse(raw)
	assert.Equal(t, []string{"方案一", "方案二"}, parsed.TreatmentPlan)
}

func TestBuildDiagnosisPrompt(t *testing.T) {
	pipeline := NewScoringPipeline(domain.DefaultScoringRules(), testLogger())

	pc := &domain.PatientContext{
		Patient: domain.Patient{
			PatientID:          1,
			Name:               "张三",
			Age:                52,
			Gender:             "男",
			PastMedicalHistory: "高血压十年",
		},
		Text: &domain.TextRecord{ID: 1, Summary: "主诉胸闷两天"},
		Lab: &domain.LabRecord{ID: 2, Indicators: map[string]domain.LabValue{
			"WBC": {Value: "12.5", Unit: "10^9/L", Reference: "4-10"},
		}},
	}
	refs := domain.ReferenceTable{"WBC": bandRef("WBC", 4, 10)}

	outcome, err := pipeline.Run(pc, refs)
	require.NoError(t, err)

	prompt := BuildDiagnosisPrompt(pc, outcome)

	assert.Contains(t, prompt, "张三")
	assert.Contains(t, prompt, "高血压十年")
	assert.Contains(t, prompt, "主诉胸闷两天")
	assert.Contains(t, prompt, "WBC偏高")
	assert.Contains(t, prompt, sectionConclusion)
	assert.Contains(t, prompt, sectionBasis)
	assert.Contains(t, prompt, sectionTreatment)
	assert.Contains(t, prompt, sectionAdvice)
}

func TestBuildConditionPrompt(t *testing.T) {
	prompt := BuildConditionPrompt("社区获得性肺炎", "白细胞升高")
	assert.Contains(t, prompt, "社区获得性肺炎")
	assert.Contains(t, prompt, "白细胞升高")
	assert.Contains(t, prompt, "50字")
}
