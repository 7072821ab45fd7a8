package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// DiagnosisRepository persists diagnosis records. Risk scores live as
// 0-100 at rest and are converted to 0-1 at this boundary. The evidence
// JSON column has lived through several schema versions; every read
// normalizes it to the canonical summary/detail shape before it reaches
// core logic.
type DiagnosisRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewDiagnosisRepository creates a new diagnosis repository
func NewDiagnosisRepository(db *pgxpool.Pool, logger *logrus.Logger) *DiagnosisRepository {
	return &DiagnosisRepository{
		db:  db,
		log: logger,
	}
}

// evidenceEnvelope is the canonical persisted evidence shape.
type evidenceEnvelope struct {
	Summary   []string               `json:"summary"`
	Detail    map[string]interface{} `json:"detail"`
	Weights   domain.WeightSet       `json:"weights"`
	Anomalies []domain.AnomalyRecord `json:"lab_anomalies"`
}

// Save inserts a new diagnosis record and fills in its generated id
func (r *DiagnosisRepository) Save(ctx context.Context, rec *domain.DiagnosisRecord) error {
	evidence, err := json.Marshal(evidenceEnvelope{
		Summary:   rec.EvidenceSummary,
		Detail:    rec.EvidenceDetail,
		Weights:   rec.Weights,
		Anomalies: rec.LabAnomalies,
	})
	if err != nil {
		return fmt.Errorf("encoding evidence profile: %w", err)
	}

	qualityScores, err := json.Marshal(rec.QualityScores)
	if err != nil {
		return fmt.Errorf("encoding quality scores: %w", err)
	}
	baseWeights, err := json.Marshal(rec.BaseWeights)
	if err != nil {
		return fmt.Errorf("encoding base weights: %w", err)
	}

	query := `
		INSERT INTO patient_diagnosis (
			patient_id, diagnosis_text, ai_diagnosis, confidence_score,
			calibrated_confidence, risk_score, evidence_json,
			treatment_plan, medical_advice, quality_scores, base_weights,
			quality_adjusted, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		rec.PatientID,
		rec.DiagnosisText,
		rec.Analysis,
		rec.Confidence,
		rec.CalibratedConfidence,
		rec.RiskScore*100,
		evidence,
		strings.Join(rec.Recommendations, "\n"),
		strings.Join(rec.Warnings, "\n"),
		qualityScores,
		baseWeights,
		rec.QualityAdjusted,
		rec.CreatedAt,
	).Scan(&rec.ID)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": rec.PatientID,
			"error":      err,
		}).Error("Failed to save diagnosis")
		return fmt.Errorf("saving diagnosis: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"diagnosis_id": rec.ID,
		"patient_id":   rec.PatientID,
		"confidence":   rec.Confidence,
	}).Info("Diagnosis saved")

	return nil
}

const diagnosisColumns = `
	id, patient_id, diagnosis_text, ai_diagnosis, confidence_score,
	calibrated_confidence, risk_score, evidence_json, treatment_plan,
	medical_advice, quality_scores, base_weights, quality_adjusted,
	doctor_review, reviewed_at, created_at`

func (r *DiagnosisRepository) scanDiagnosis(row pgx.Row) (*domain.DiagnosisRecord, error) {
	var rec domain.DiagnosisRecord
	var evidence, qualityScores, baseWeights []byte
	var treatmentPlan, medicalAdvice, doctorReview *string

	err := row.Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.DiagnosisText,
		&rec.Analysis,
		&rec.Confidence,
		&rec.CalibratedConfidence,
		&rec.RiskScore,
		&evidence,
		&treatmentPlan,
		&medicalAdvice,
		&qualityScores,
		&baseWeights,
		&rec.QualityAdjusted,
		&doctorReview,
		&rec.ReviewedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.RiskScore /= 100

	env := r.normalizeEvidence(rec.ID, evidence)
	rec.EvidenceSummary = env.Summary
	rec.EvidenceDetail = env.Detail
	rec.Weights = env.Weights
	rec.LabAnomalies = env.Anomalies

	rec.Recommendations = splitList(treatmentPlan)
	rec.Warnings = splitList(medicalAdvice)
	if doctorReview != nil {
		rec.DoctorReview = *doctorReview
	}

	if len(qualityScores) > 0 {
		if err := json.Unmarshal(qualityScores, &rec.QualityScores); err != nil {
			r.log.WithField("diagnosis_id", rec.ID).Warn("Malformed quality scores JSON")
		}
	}
	if len(baseWeights) > 0 {
		if err := json.Unmarshal(baseWeights, &rec.BaseWeights); err != nil {
			r.log.WithField("diagnosis_id", rec.ID).Warn("Malformed base weights JSON")
		}
	}

	rec.ConfidenceLevel = domain.DefaultScoringRules().LevelFor(rec.Confidence)

	return &rec, nil
}

// normalizeEvidence folds every historical evidence_json shape into the
// canonical envelope. Legacy rows hold a bare summary array; newer rows
// hold the full object.
func (r *DiagnosisRepository) normalizeEvidence(diagnosisID int64, raw []byte) evidenceEnvelope {
	env := evidenceEnvelope{
		Summary:   []string{},
		Detail:    map[string]interface{}{},
		Weights:   domain.WeightSet{},
		Anomalies: []domain.AnomalyRecord{},
	}
	if len(raw) == 0 {
		return env
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var summary []string
		if err := json.Unmarshal(raw, &summary); err == nil {
			env.Summary = summary
			return env
		}
	}

	var full evidenceEnvelope
	if err := json.Unmarshal(raw, &full); err != nil {
		r.log.WithFields(logrus.Fields{
			"diagnosis_id": diagnosisID,
		}).Warn("Unrecognized evidence JSON shape, returning empty profile")
		return env
	}

	if full.Summary != nil {
		env.Summary = full.Summary
	}
	if full.Detail != nil {
		env.Detail = full.Detail
	}
	if full.Weights != nil {
		env.Weights = full.Weights
	}
	if full.Anomalies != nil {
		env.Anomalies = full.Anomalies
	}
	return env
}

func splitList(joined *string) []string {
	if joined == nil || strings.TrimSpace(*joined) == "" {
		return []string{}
	}
	raw := strings.Split(*joined, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// GetByID retrieves one diagnosis record
func (r *DiagnosisRepository) GetByID(ctx context.Context, id int64) (*domain.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM patient_diagnosis WHERE id = $1`

	rec, err := r.scanDiagnosis(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("diagnosis %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting diagnosis: %w", err)
	}
	return rec, nil
}

// ListByPatient returns a patient's diagnosis history, latest first
func (r *DiagnosisRepository) ListByPatient(ctx context.Context, patientID int64, limit int) ([]*domain.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + `
		FROM patient_diagnosis
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing diagnoses: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.DiagnosisRecord, 0, limit)
	for rows.Next() {
		rec, err := r.scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning diagnosis row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnosis rows: %w", err)
	}

	return records, nil
}

// LatestByPatient returns the most recent diagnosis for a patient
func (r *DiagnosisRepository) LatestByPatient(ctx context.Context, patientID int64) (*domain.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + `
		FROM patient_diagnosis
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	rec, err := r.scanDiagnosis(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("diagnosis for patient %d: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest diagnosis: %w", err)
	}
	return rec, nil
}

// SetDoctorReview applies the out-of-band review annotation
func (r *DiagnosisRepository) SetDoctorReview(ctx context.Context, id int64, review string) error {
	query := `
		UPDATE patient_diagnosis
		SET doctor_review = $2, reviewed_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, review)
	if err != nil {
		return fmt.Errorf("setting doctor review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diagnosis %d: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("diagnosis_id", id).Info("Doctor review recorded")
	return nil
}

// Delete removes one diagnosis record
func (r *DiagnosisRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patient_diagnosis WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting diagnosis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diagnosis %d: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("diagnosis_id", id).Info("Diagnosis deleted")
	return nil
}
