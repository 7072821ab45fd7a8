package domain

import (
	"context"
)

// PatientStore manages patient master records.
type PatientStore interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, query string, limit int) ([]*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
	UpdateLatestCondition(ctx context.Context, id int64, condition string) error
}

// MedicalDataStore retrieves per-modality records for a patient.
type MedicalDataStore interface {
	LatestText(ctx context.Context, patientID int64) (*TextRecord, error)
	LatestCT(ctx context.Context, patientID int64) (*CTRecord, error)
	LatestLab(ctx context.Context, patientID int64) (*LabRecord, error)
	ReferenceRanges(ctx context.Context) (ReferenceTable, error)
}

// DiagnosisStore persists and retrieves diagnosis records.
type DiagnosisStore interface {
	Save(ctx context.Context, rec *DiagnosisRecord) error
	GetByID(ctx context.Context, id int64) (*DiagnosisRecord, error)
	ListByPatient(ctx context.Context, patientID int64, limit int) ([]*DiagnosisRecord, error)
	LatestByPatient(ctx context.Context, patientID int64) (*DiagnosisRecord, error)
	SetDoctorReview(ctx context.Context, id int64, review string) error
	Delete(ctx context.Context, id int64) error
}

// TaskTracker records background analysis task lifecycle for polling.
type TaskTracker interface {
	Create(ctx context.Context, patientID int64, taskType string) (*Task, error)
	MarkRunning(ctx context.Context, taskID int64) error
	MarkCompleted(ctx context.Context, taskID int64, result interface{}) error
	MarkFailed(ctx context.Context, taskID int64, errCode, errMsg string) error
	GetByID(ctx context.Context, taskID int64) (*Task, error)
	LatestByPatient(ctx context.Context, patientID int64, taskType string) (*Task, error)
}

// TextGenerator is the text-generation capability used for diagnosis and
// condition summaries. Implementations own timeouts, retries, and breaker
// behavior behind this boundary.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	AnalyzeImage(ctx context.Context, prompt, imageURL string) (string, error)
}

// ResponseCache caches serialized API payloads keyed by string.
type ResponseCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}
