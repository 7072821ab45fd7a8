package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// TaskStore tracks background analysis tasks over database/sql. It is
// deliberately separate from the pgx repositories so the polling path can
// point at a dedicated database when task volume grows.
type TaskStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewTaskStore creates a task store over an existing connection
func NewTaskStore(db *sql.DB, logger *logrus.Logger) *TaskStore {
	return &TaskStore{
		db:  db,
		log: logger,
	}
}

// OpenTaskStore opens a postgres connection for task tracking
func OpenTaskStore(databaseURL string, cfg domain.TaskDBConfig, logger *logrus.Logger) (*TaskStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging task database: %w", err)
	}
	return NewTaskStore(db, logger), nil
}

// Close releases the underlying connection pool
func (s *TaskStore) Close() error {
	return s.db.Close()
}

// Create inserts a pending task
func (s *TaskStore) Create(ctx context.Context, patientID int64, taskType string) (*domain.Task, error) {
	query := `
		INSERT INTO analysis_tasks (patient_id, task_type, status)
		VALUES ($1, $2, 'pending')
		RETURNING task_id, created_at`

	task := &domain.Task{
		PatientID: patientID,
		TaskType:  taskType,
		Status:    domain.TaskPending,
	}
	err := s.db.QueryRowContext(ctx, query, patientID, taskType).Scan(&task.TaskID, &task.CreatedAt)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"task_type":  taskType,
			"error":      err,
		}).Error("Failed to create task")
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"task_id":    task.TaskID,
		"patient_id": patientID,
		"task_type":  taskType,
	}).Info("Task created")

	return task, nil
}

// MarkRunning transitions a task to running
func (s *TaskStore) MarkRunning(ctx context.Context, taskID int64) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'running', started_at = NOW()
		WHERE task_id = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("marking task running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking task transition: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d not pending: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

// MarkCompleted stores the result payload and transitions to completed
func (s *TaskStore) MarkCompleted(ctx context.Context, taskID int64, result interface{}) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding task result: %w", err)
	}

	query := `
		UPDATE analysis_tasks
		SET status = 'completed', result = $2, completed_at = NOW()
		WHERE task_id = $1`

	if _, err := s.db.ExecContext(ctx, query, taskID, payload); err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}

	s.log.WithField("task_id", taskID).Info("Task completed")
	return nil
}

// MarkFailed stores the error code and message and transitions to failed
func (s *TaskStore) MarkFailed(ctx context.Context, taskID int64, errCode, errMsg string) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'failed', error_code = $2, error_message = $3, completed_at = NOW()
		WHERE task_id = $1`

	if _, err := s.db.ExecContext(ctx, query, taskID, errCode, errMsg); err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"task_id":    taskID,
		"error_code": errCode,
		"reason":     errMsg,
	}).Warn("Task failed")
	return nil
}

const taskColumns = `
	task_id, patient_id, task_type, status, result, error_code, error_message,
	started_at, completed_at, created_at`

func scanTask(row *sql.Row) (*domain.Task, error) {
	var task domain.Task
	var result []byte
	var errCode, errMsg sql.NullString

	err := row.Scan(
		&task.TaskID,
		&task.PatientID,
		&task.TaskType,
		&task.Status,
		&result,
		&errCode,
		&errMsg,
		&task.StartedAt,
		&task.CompletedAt,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Result = result
	if errCode.Valid {
		task.ErrorCode = errCode.String
	}
	if errMsg.Valid {
		task.ErrorMessage = errMsg.String
	}
	return &task, nil
}

// GetByID returns one task for polling
func (s *TaskStore) GetByID(ctx context.Context, taskID int64) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE task_id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return task, nil
}

// LatestByPatient returns the most recent task of a type for a patient
func (s *TaskStore) LatestByPatient(ctx context.Context, patientID int64, taskType string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE patient_id = $1 AND task_type = $2
		ORDER BY created_at DESC
		LIMIT 1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, patientID, taskType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task for patient %d: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest task: %w", err)
	}
	return task, nil
}
