package service

import (
	"fmt"
	"strings"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// Section markers expected in the generated diagnosis text.
const (
	sectionConclusion = "【诊断结论】"
	sectionBasis      = "【核心依据】"
	sectionTreatment  = "【治疗方案】"
	sectionAdvice     = "【医嘱提醒】"
)

// BuildDiagnosisPrompt assembles the comprehensive diagnosis prompt from
// the patient context and the scored evidence. The generated answer is
// expected to follow the four bracketed sections parsed by
// ParseDiagnosisResponse.
func BuildDiagnosisPrompt(ctx *domain.PatientContext, outcome *domain.ScoringOutcome) string {
	var b strings.Builder

	b.WriteString("你是一名资深临床医生，请根据以下患者资料给出综合诊断意见。\n\n")

	fmt.Fprintf(&b, "患者信息：%s，%d岁，%s。\n", ctx.Patient.Name, ctx.Patient.Age, ctx.Patient.Gender)
	if ctx.Patient.PastMedicalHistory != "" {
		fmt.Fprintf(&b, "既往病史：%s\n", ctx.Patient.PastMedicalHistory)
	}
	if ctx.Patient.LatestCondition != "" {
		fmt.Fprintf(&b, "最新病情：%s\n", ctx.Patient.LatestCondition)
	}
	b.WriteString("\n")

	if ctx.Text != nil {
		fmt.Fprintf(&b, "病历摘要：%s\n\n", ctx.Text.Summary)
	}
	if ctx.CT != nil {
		if ctx.CT.BodyPart != "" {
			fmt.Fprintf(&b, "CT影像分析（%s）：%s\n\n", ctx.CT.BodyPart, ctx.CT.Analysis)
		} else {
			fmt.Fprintf(&b, "CT影像分析：%s\n\n", ctx.CT.Analysis)
		}
	}
	if ctx.Lab != nil {
		b.WriteString("实验室检验：\n")
		for _, line := range outcome.Evidence.Summary {
			if strings.HasPrefix(line, domain.ModalityLab.Label()) {
				fmt.Fprintf(&b, "%s\n", line)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "证据综合置信度：%.0f%%（%s）。\n\n",
		outcome.Confidence*100, outcome.ConfidenceLevel.Label())

	b.WriteString("请严格按以下格式输出，每个小节以对应标记开头：\n")
	fmt.Fprintf(&b, "%s 一句话给出最可能的诊断。\n", sectionConclusion)
	fmt.Fprintf(&b, "%s 说明支持该诊断的关键证据。\n", sectionBasis)
	fmt.Fprintf(&b, "%s 每行一条治疗建议。\n", sectionTreatment)
	fmt.Fprintf(&b, "%s 每行一条注意事项。\n", sectionAdvice)

	return b.String()
}

// BuildConditionPrompt assembles the latest-condition summary prompt run
// after a diagnosis completes.
func BuildConditionPrompt(diagnosis, analysis string) string {
	var b strings.Builder
	b.WriteString("请将以下诊断结论和分析压缩为一句不超过50字的病情概述，供病历首页展示：\n")
	fmt.Fprintf(&b, "诊断：%s\n", diagnosis)
	if analysis != "" {
		fmt.Fprintf(&b, "分析：%s\n", analysis)
	}
	return b.String()
}

// DiagnosisResponse is the parsed form of the generated diagnosis text.
type DiagnosisResponse struct {
	Diagnosis     string
	Analysis      string
	TreatmentPlan []string
	MedicalAdvice []string
}

// ParseDiagnosisResponse splits the generated text into its bracketed
// sections. Missing sections degrade gracefully: a response with no
// markers at all becomes the analysis narrative with the first line as
// the conclusion.
func ParseDiagnosisResponse(raw string) *DiagnosisResponse {
	text := strings.TrimSpace(raw)
	resp := &DiagnosisResponse{}

	sections := splitSections(text)
	if len(sections) == 0 {
		lines := splitLines(text)
		if len(lines) > 0 {
			resp.Diagnosis = lines[0]
		}
		resp.Analysis = text
		return resp
	}

	resp.Diagnosis = strings.TrimSpace(sections[sectionConclusion])
	resp.Analysis = strings.TrimSpace(sections[sectionBasis])
	resp.TreatmentPlan = splitLines(sections[sectionTreatment])
	resp.MedicalAdvice = splitLines(sections[sectionAdvice])
	return resp
}

func splitSections(text string) map[string]string {
	markers := []string{sectionConclusion, sectionBasis, sectionTreatment, sectionAdvice}

	type hit struct {
		marker string
		pos    int
	}
	hits := make([]hit, 0, len(markers))
	for _, m := range markers {
		if pos := strings.Index(text, m); pos >= 0 {
			hits = append(hits, hit{marker: m, pos: pos})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	// Markers are emitted in prompt order but the parser tolerates any
	// order the model produces.
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].pos < hits[i].pos {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}

	sections := make(map[string]string, len(hits))
	for i, h := range hits {
		start := h.pos + len(h.marker)
		end := len(text)
		if i+1 < len(hits) {
			end = hits[i+1].pos
		}
		sections[h.marker] = strings.TrimSpace(text[start:end])
	}
	return sections
}

// splitLines breaks newline-joined list text into entries, dropping empty
// lines and leading list bullets.
func splitLines(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•*1234567890.、） ")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
