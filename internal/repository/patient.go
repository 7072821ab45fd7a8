package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// PatientRepository handles patient master record persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new patient
func (r *PatientRepository) Create(ctx context.Context, p *domain.Patient) error {
	query := `
		INSERT INTO patients (
			name, age, gender, phone, id_card, first_visit, past_medical_history
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING patient_id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.Name,
		p.Age,
		p.Gender,
		p.Phone,
		p.IDCard,
		p.FirstVisit,
		p.PastMedicalHistory,
	).Scan(&p.PatientID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"name":  p.Name,
			"error": err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": p.PatientID,
		"name":       p.Name,
	}).Info("Patient created")

	return nil
}

const patientColumns = `
	patient_id, name, age, gender, phone, id_card, first_visit,
	past_medical_history, latest_condition, condition_updated_at,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*domain.Patient, error) {
	var p domain.Patient
	err := row.Scan(
		&p.PatientID,
		&p.Name,
		&p.Age,
		&p.Gender,
		&p.Phone,
		&p.IDCard,
		&p.FirstVisit,
		&p.PastMedicalHistory,
		&p.LatestCondition,
		&p.ConditionUpdatedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a patient by id
func (r *PatientRepository) GetByID(ctx context.Context, id int64) (*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE patient_id = $1`

	p, err := scanPatient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient %d: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to get patient")
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return p, nil
}

// List returns a page of patients plus the total count
func (r *PatientRepository) List(ctx context.Context, limit, offset int) ([]*domain.Patient, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting patients: %w", err)
	}

	query := `SELECT ` + patientColumns + `
		FROM patients
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	patients := make([]*domain.Patient, 0, limit)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning patient row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating patient rows: %w", err)
	}

	return patients, total, nil
}

// Search finds patients by name, phone, or id card fragment
func (r *PatientRepository) Search(ctx context.Context, query string, limit int) ([]*domain.Patient, error) {
	sql := `SELECT ` + patientColumns + `
		FROM patients
		WHERE name ILIKE $1 OR phone LIKE $1 OR id_card LIKE $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, sql, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	defer rows.Close()

	patients := make([]*domain.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient rows: %w", err)
	}

	return patients, nil
}

// Update rewrites the mutable patient fields
func (r *PatientRepository) Update(ctx context.Context, p *domain.Patient) error {
	query := `
		UPDATE patients
		SET name = $2, age = $3, gender = $4, phone = $5, id_card = $6,
			first_visit = $7, past_medical_history = $8, updated_at = NOW()
		WHERE patient_id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.PatientID,
		p.Name,
		p.Age,
		p.Gender,
		p.Phone,
		p.IDCard,
		p.FirstVisit,
		p.PastMedicalHistory,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": p.PatientID,
			"error":      err,
		}).Error("Failed to update patient")
		return fmt.Errorf("updating patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %d: %w", p.PatientID, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a patient and, via foreign keys, their dependent records
func (r *PatientRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE patient_id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to delete patient")
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %d: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

// UpdateLatestCondition sets the one-line condition summary shown on the
// patient overview
func (r *PatientRepository) UpdateLatestCondition(ctx context.Context, id int64, condition string) error {
	query := `
		UPDATE patients
		SET latest_condition = $2, condition_updated_at = NOW(), updated_at = NOW()
		WHERE patient_id = $1`

	tag, err := r.db.Exec(ctx, query, id, condition)
	if err != nil {
		return fmt.Errorf("updating latest condition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
