package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// MedicalDataRepository retrieves per-modality records. All latest-record
// queries exclude failed rows and tie-break on reviewed, then analyzed,
// then created timestamps, descending.
type MedicalDataRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewMedicalDataRepository creates a new medical data repository
func NewMedicalDataRepository(db *pgxpool.Pool, logger *logrus.Logger) *MedicalDataRepository {
	return &MedicalDataRepository{
		db:  db,
		log: logger,
	}
}

const latestOrder = `
	ORDER BY reviewed_at DESC NULLS LAST,
			 analyzed_at DESC NULLS LAST,
			 created_at DESC
	LIMIT 1`

// LatestText returns the most recent non-failed clinical summary record
func (r *MedicalDataRepository) LatestText(ctx context.Context, patientID int64) (*domain.TextRecord, error) {
	query := `
		SELECT id, patient_id, image_url, summary, status, analyzed_at, reviewed_at, created_at
		FROM patient_text_data
		WHERE patient_id = $1 AND status != 'failed'` + latestOrder

	var rec domain.TextRecord
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.ImageURL,
		&rec.Summary,
		&rec.Status,
		&rec.AnalyzedAt,
		&rec.ReviewedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("text record for patient %d: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest text record: %w", err)
	}
	return &rec, nil
}

// LatestCT returns the most recent non-failed CT analysis record
func (r *MedicalDataRepository) LatestCT(ctx context.Context, patientID int64) (*domain.CTRecord, error) {
	query := `
		SELECT id, patient_id, body_part, image_url, analysis, status, analyzed_at, reviewed_at, created_at
		FROM patient_ct_data
		WHERE patient_id = $1 AND status != 'failed'` + latestOrder

	var rec domain.CTRecord
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.BodyPart,
		&rec.ImageURL,
		&rec.Analysis,
		&rec.Status,
		&rec.AnalyzedAt,
		&rec.ReviewedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ct record for patient %d: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest ct record: %w", err)
	}
	return &rec, nil
}

// LatestLab returns the most recent non-failed lab record with its
// extracted indicator table
func (r *MedicalDataRepository) LatestLab(ctx context.Context, patientID int64) (*domain.LabRecord, error) {
	query := `
		SELECT id, patient_id, lab_data, status, analyzed_at, reviewed_at, created_at
		FROM patient_lab_data
		WHERE patient_id = $1 AND status != 'failed'` + latestOrder

	var rec domain.LabRecord
	var labData []byte
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&rec.ID,
		&rec.PatientID,
		&labData,
		&rec.Status,
		&rec.AnalyzedAt,
		&rec.ReviewedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lab record for patient %d: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest lab record: %w", err)
	}

	rec.Indicators = make(map[string]domain.LabValue)
	if len(labData) > 0 {
		if err := json.Unmarshal(labData, &rec.Indicators); err != nil {
			r.log.WithFields(logrus.Fields{
				"patient_id": patientID,
				"record_id":  rec.ID,
				"error":      err,
			}).Warn("Lab record holds malformed indicator JSON, treating as empty")
			rec.Indicators = make(map[string]domain.LabValue)
		}
	}
	return &rec, nil
}

// ReferenceRanges loads the static per-indicator reference table
func (r *MedicalDataRepository) ReferenceRanges(ctx context.Context) (domain.ReferenceTable, error) {
	query := `
		SELECT indicator, mean_value, sd_value, min_value, max_value, unit
		FROM lab_reference_ranges`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading reference ranges: %w", err)
	}
	defer rows.Close()

	table := make(domain.ReferenceTable)
	for rows.Next() {
		var ref domain.ReferenceRange
		if err := rows.Scan(&ref.Indicator, &ref.Mean, &ref.SD, &ref.Min, &ref.Max, &ref.Unit); err != nil {
			return nil, fmt.Errorf("scanning reference range: %w", err)
		}
		table[ref.Indicator] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reference ranges: %w", err)
	}

	return table, nil
}
