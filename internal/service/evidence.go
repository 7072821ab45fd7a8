package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// allNormalSentence is rendered for a lab modality with zero anomalous
// indicators instead of an empty list.
const allNormalSentence = "所有指标均在正常范围内"

// EvidenceProfileBuilder renders the human-readable evidence summary and
// the structured evidence detail for one scoring run. Rendering happens
// exactly once here; persisted summaries are never parsed back.
type EvidenceProfileBuilder struct {
	logger *logrus.Logger
}

// NewEvidenceProfileBuilder creates a new evidence profile builder
func NewEvidenceProfileBuilder(logger *logrus.Logger) *EvidenceProfileBuilder {
	return &EvidenceProfileBuilder{
		logger: logger,
	}
}

// Build emits one summary line per present modality in fixed display order
// (text, ct, lab), each prefixed with its weight percentage, plus a detail
// object keyed by modality. The detail strips the full indicator table so
// every persisted diagnosis does not duplicate the raw tabular payload;
// the anomaly list is carried in full.
func (b *EvidenceProfileBuilder) Build(ctx *domain.PatientContext, anomalies []domain.AnomalyRecord, weights domain.WeightSet) domain.EvidenceProfile {
	summary := make([]string, 0, 3)
	detail := make(map[string]interface{}, 4)

	for _, modality := range domain.ModalityDisplayOrder {
		if !ctx.Has(modality) {
			continue
		}
		content := b.renderContent(ctx, modality, anomalies)
		summary = append(summary, fmt.Sprintf("%s（权重 %.1f%%）：%s",
			modality.Label(), weights[modality]*100, content))
	}

	if ctx.Text != nil {
		detail[string(domain.ModalityText)] = map[string]interface{}{
			"record_id": ctx.Text.ID,
			"summary":   ctx.Text.Summary,
			"status":    ctx.Text.Status,
		}
	}
	if ctx.CT != nil {
		detail[string(domain.ModalityCT)] = map[string]interface{}{
			"record_id": ctx.CT.ID,
			"body_part": ctx.CT.BodyPart,
			"analysis":  ctx.CT.Analysis,
			"status":    ctx.CT.Status,
		}
	}
	if ctx.Lab != nil {
		detail[string(domain.ModalityLab)] = map[string]interface{}{
			"record_id":       ctx.Lab.ID,
			"indicator_count": len(ctx.Lab.Indicators),
			"status":          ctx.Lab.Status,
		}
	}
	detail["lab_anomalies"] = anomalies

	return domain.EvidenceProfile{
		Summary: summary,
		Detail:  detail,
	}
}

func (b *EvidenceProfileBuilder) renderContent(ctx *domain.PatientContext, modality domain.Modality, anomalies []domain.AnomalyRecord) string {
	switch modality {
	case domain.ModalityText:
		return ctx.Text.Summary
	case domain.ModalityCT:
		if ctx.CT.BodyPart != "" {
			return fmt.Sprintf("%s：%s", ctx.CT.BodyPart, ctx.CT.Analysis)
		}
		return ctx.CT.Analysis
	case domain.ModalityLab:
		return b.renderLab(ctx.Lab, anomalies)
	}
	return ""
}

// renderLab shows only the anomalous indicators. Evidence summaries are
// for clinician skimming, not full data dumps, so normal readings are
// omitted and an all-normal record collapses to one fixed sentence.
func (b *EvidenceProfileBuilder) renderLab(lab *domain.LabRecord, anomalies []domain.AnomalyRecord) string {
	if len(anomalies) == 0 {
		return allNormalSentence
	}

	parts := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		unit := ""
		if reading, ok := lab.Indicators[a.Indicator]; ok {
			unit = reading.Unit
		}
		parts = append(parts, renderAnomaly(a, unit))
	}
	return strings.Join(parts, "；")
}

// renderAnomaly formats one anomaly. Mild anomalies omit the severity
// clause.
func renderAnomaly(a domain.AnomalyRecord, unit string) string {
	direction := "偏低"
	if a.IsHigh() {
		direction = "偏高"
	}
	s := fmt.Sprintf("%s%s：检测值 %s%s", a.Indicator, direction, a.CurrentValue, unit)
	if a.Severity != domain.SeverityMild {
		s += fmt.Sprintf("，%s异常", a.Severity.Label())
	}
	return s
}
