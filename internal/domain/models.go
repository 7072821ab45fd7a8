package domain

import (
	"encoding/json"
	"time"
)

// Core Enums and Types

// Modality identifies one of the three evidence sources used for diagnosis.
type Modality string

const (
	ModalityText Modality = "text"
	ModalityCT   Modality = "ct"
	ModalityLab  Modality = "lab"
)

// ModalityDisplayOrder is the fixed order modalities appear in evidence
// summaries and weight listings.
var ModalityDisplayOrder = []Modality{ModalityText, ModalityCT, ModalityLab}

// Label returns the Chinese display label used in rendered evidence text.
func (m Modality) Label() string {
	switch m {
	case ModalityText:
		return "病历文本"
	case ModalityCT:
		return "CT影像"
	case ModalityLab:
		return "实验室检验"
	}
	return string(m)
}

// Severity classifies how far an anomalous lab value deviates from its
// reference range.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Label returns the Chinese display label for the severity.
func (s Severity) Label() string {
	switch s {
	case SeverityMild:
		return "轻度"
	case SeverityModerate:
		return "中度"
	case SeveritySevere:
		return "重度"
	}
	return string(s)
}

// ConfidenceLevel is the discrete display band for a composite confidence
// score. The underlying score is unchanged by the mapping.
type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
)

// Label returns the Chinese display label for the confidence level.
func (l ConfidenceLevel) Label() string {
	switch l {
	case ConfidenceVeryHigh:
		return "极高置信度"
	case ConfidenceHigh:
		return "高置信度"
	case ConfidenceMedium:
		return "中等置信度"
	case ConfidenceLow:
		return "低置信度"
	}
	return string(l)
}

// RecordStatus tracks the analysis lifecycle of an uploaded modality record.
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
)

// Patient Models

// Patient represents a patient master record.
type Patient struct {
	PatientID          int64      `json:"patient_id"`
	Name               string     `json:"name"`
	Age                int        `json:"age"`
	Gender             string     `json:"gender"`
	Phone              string     `json:"phone,omitempty"`
	IDCard             string     `json:"id_card,omitempty"`
	FirstVisit         bool       `json:"first_visit"`
	PastMedicalHistory string     `json:"past_medical_history,omitempty"`
	LatestCondition    string     `json:"latest_condition,omitempty"`
	ConditionUpdatedAt *time.Time `json:"condition_updated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Modality Records

// LabValue is a single indicator reading as extracted from a lab report.
// Value stays a string at this boundary; report extraction can produce
// readings like ">1000" that only the anomaly detector decides how to treat.
type LabValue struct {
	Abbreviation string `json:"abbreviation,omitempty"`
	Value        string `json:"value"`
	Unit         string `json:"unit,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// TextRecord is one clinical-summary record produced from a medical record
// image.
type TextRecord struct {
	ID         int64        `json:"id"`
	PatientID  int64        `json:"patient_id"`
	ImageURL   string       `json:"image_url,omitempty"`
	Summary    string       `json:"summary"`
	Status     RecordStatus `json:"status"`
	AnalyzedAt *time.Time   `json:"analyzed_at,omitempty"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CTRecord is one CT image analysis record.
type CTRecord struct {
	ID         int64        `json:"id"`
	PatientID  int64        `json:"patient_id"`
	BodyPart   string       `json:"body_part"`
	ImageURL   string       `json:"image_url,omitempty"`
	Analysis   string       `json:"analysis"`
	Status     RecordStatus `json:"status"`
	AnalyzedAt *time.Time   `json:"analyzed_at,omitempty"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// LabRecord is one lab report record holding the extracted indicator table.
type LabRecord struct {
	ID         int64               `json:"id"`
	PatientID  int64               `json:"patient_id"`
	Indicators map[string]LabValue `json:"indicators"`
	Status     RecordStatus        `json:"status"`
	AnalyzedAt *time.Time          `json:"analyzed_at,omitempty"`
	ReviewedAt *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PatientContext is the per-patient snapshot assembled for one scoring run.
// It is built fresh per invocation from the latest non-failed record per
// modality and never mutated afterwards.
type PatientContext struct {
	Patient Patient
	Text    *TextRecord
	CT      *CTRecord
	Lab     *LabRecord
}

// PresentModalities returns the modalities with data, in display order.
func (c *PatientContext) PresentModalities() []Modality {
	present := make([]Modality, 0, 3)
	if c.Text != nil {
		present = append(present, ModalityText)
	}
	if c.CT != nil {
		present = append(present, ModalityCT)
	}
	if c.Lab != nil {
		present = append(present, ModalityLab)
	}
	return present
}

// HasMedicalData reports whether at least one modality is present.
// Running the scoring pipeline without any is a precondition failure.
func (c *PatientContext) HasMedicalData() bool {
	return c.Text != nil || c.CT != nil || c.Lab != nil
}

// Has reports whether the given modality is present in the context.
func (c *PatientContext) Has(m Modality) bool {
	switch m {
	case ModalityText:
		return c.Text != nil
	case ModalityCT:
		return c.CT != nil
	case ModalityLab:
		return c.Lab != nil
	}
	return false
}

// Reference Ranges

// ReferenceRange is the expected band for one lab indicator, given either
// as mean/SD or as a min-max band.
type ReferenceRange struct {
	Indicator string   `json:"indicator"`
	Mean      *float64 `json:"mean,omitempty"`
	SD        *float64 `json:"sd,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Unit      string   `json:"unit,omitempty"`
}

// Display renders the range the way it appears in anomaly records.
func (r ReferenceRange) Display() string {
	if r.Mean != nil && r.SD != nil {
		return formatFloat(*r.Mean) + "±" + formatFloat(*r.SD)
	}
	if r.Min != nil && r.Max != nil {
		return formatFloat(*r.Min) + "-" + formatFloat(*r.Max)
	}
	return ""
}

// ReferenceTable maps indicator name to its reference range.
type ReferenceTable map[string]ReferenceRange

// Scoring Models

// AnomalyRecord is one lab indicator whose value falls outside its
// reference range. DeviationScore is signed: positive means high.
type AnomalyRecord struct {
	Indicator      string   `json:"indicator"`
	CurrentValue   string   `json:"current_value"`
	ReferenceRange string   `json:"reference_range"`
	DeviationScore float64  `json:"deviation_score"`
	Severity       Severity `json:"severity"`
}

// IsHigh reports the anomaly direction inferred from the deviation sign.
func (a AnomalyRecord) IsHigh() bool {
	return a.DeviationScore > 0
}

// QualityScores maps modality to its heuristic quality score in [0,1].
type QualityScores map[Modality]float64

// WeightSet maps modality to its evidentiary weight. Entries sum to 1.0
// (within floating point epsilon) when at least one modality is present.
type WeightSet map[Modality]float64

// EvidenceProfile is the rendered and structured evidence trail for one
// scoring run.
type EvidenceProfile struct {
	Summary []string               `json:"summary"`
	Detail  map[string]interface{} `json:"detail"`
}

// ScoringOutcome bundles every derived artifact of one pipeline run.
type ScoringOutcome struct {
	Anomalies       []AnomalyRecord
	QualityScores   QualityScores
	BaseWeights     WeightSet
	Weights         WeightSet
	QualityAdjusted bool
	Confidence      float64
	ConfidenceLevel ConfidenceLevel
	Evidence        EvidenceProfile
}

// Diagnosis Models

// DiagnosisRecord is the persisted result of one diagnosis-generation run.
// It is immutable after creation except for the out-of-band doctor review
// annotation.
type DiagnosisRecord struct {
	ID                   int64           `json:"diagnosis_id"`
	PatientID            int64           `json:"patient_id"`
	DiagnosisText        string          `json:"diagnosis"`
	Analysis             string          `json:"analysis"`
	Confidence           float64         `json:"confidence"`
	CalibratedConfidence *float64        `json:"calibrated_confidence,omitempty"`
	RiskScore            float64         `json:"risk_score"`
	ConfidenceLevel      ConfidenceLevel `json:"confidence_level"`

	EvidenceSummary []string               `json:"evidence_summary"`
	EvidenceDetail  map[string]interface{} `json:"evidence_detail"`
	LabAnomalies    []AnomalyRecord        `json:"lab_anomalies"`

	Recommendations []string `json:"recommendations"`
	Warnings        []string `json:"warnings"`

	QualityScores   QualityScores `json:"quality_scores"`
	BaseWeights     WeightSet     `json:"base_weights"`
	Weights         WeightSet     `json:"weights"`
	QualityAdjusted bool          `json:"quality_adjusted"`

	DoctorReview string     `json:"doctor_review,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time  `json:"generated_at"`
}

// Task Models

// TaskStatus tracks the lifecycle of a background analysis task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one background analysis task tracked for client polling.
type Task struct {
	TaskID       int64           `json:"task_id"`
	PatientID    int64           `json:"patient_id"`
	TaskType     string          `json:"task_type"`
	Status       TaskStatus      `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InFlight reports whether the task has not reached a terminal status yet.
func (t *Task) InFlight() bool {
	return t.Status == TaskPending || t.Status == TaskRunning
}

// TaskTypeDiagnosis is the task type recorded for diagnosis generation.
const TaskTypeDiagnosis = "diagnosis"
