package repository

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMockTaskStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTaskStore(db, testLogger()), mock
}

func TestTaskStore_Create(t *testing.T) {
	store, mock := newMockTaskStore(t)

	created := time.Now()
	mock.ExpectQuery(`INSERT INTO analysis_tasks`).
		WithArgs(int64(7), domain.TaskTypeDiagnosis).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "created_at"}).AddRow(int64(42), created))

	task, err := store.Create(context.Background(), 7, domain.TaskTypeDiagnosis)
	require.NoError(t, err)
	assert.Equal(t, int64(42), task.TaskID)
	assert.Equal(t, int64(7), task.PatientID)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_MarkRunning(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectExec(`UPDATE analysis_tasks`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkRunning(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_MarkRunningNotPending(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectExec(`UPDATE analysis_tasks`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkRunning(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskStore_MarkCompleted(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectExec(`UPDATE analysis_tasks`).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := map[string]interface{}{"diagnosis_id": 3}
	require.NoError(t, store.MarkCompleted(context.Background(), 42, result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_MarkFailed(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectExec(`UPDATE analysis_tasks`).
		WithArgs(int64(42), domain.ErrCodeGenerationTimeout, "generation timed out").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkFailed(context.Background(), 42, domain.ErrCodeGenerationTimeout, "generation timed out"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_GetByID(t *testing.T) {
	store, mock := newMockTaskStore(t)

	created := time.Now()
	rows := sqlmock.NewRows([]string{
		"task_id", "patient_id", "task_type", "status", "result",
		"error_code", "error_message", "started_at", "completed_at", "created_at",
	}).AddRow(int64(42), int64(7), domain.TaskTypeDiagnosis, "completed",
		[]byte(`{"diagnosis_id":3}`), nil, nil, created, created, created)

	mock.ExpectQuery(`SELECT(.|\n)+FROM analysis_tasks`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	task, err := store.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.JSONEq(t, `{"diagnosis_id":3}`, string(task.Result))
}

func TestTaskStore_GetByIDFailedTask(t *testing.T) {
	store, mock := newMockTaskStore(t)

	created := time.Now()
	rows := sqlmock.NewRows([]string{
		"task_id", "patient_id", "task_type", "status", "result",
		"error_code", "error_message", "started_at", "completed_at", "created_at",
	}).AddRow(int64(42), int64(7), domain.TaskTypeDiagnosis, "failed",
		nil, domain.ErrCodeGenerationError, "model unavailable", created, created, created)

	mock.ExpectQuery(`SELECT(.|\n)+FROM analysis_tasks`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	task, err := store.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.Status)
	assert.Equal(t, domain.ErrCodeGenerationError, task.ErrorCode)
	assert.Equal(t, "model unavailable", task.ErrorMessage)
}

func TestTaskStore_GetByIDNotFound(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectQuery(`SELECT(.|\n)+FROM analysis_tasks`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "patient_id", "task_type", "status", "result",
			"error_code", "error_message", "started_at", "completed_at", "created_at",
		}))

	_, err := store.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskStore_LatestByPatient(t *testing.T) {
	store, mock := newMockTaskStore(t)

	created := time.Now()
	rows := sqlmock.NewRows([]string{
		"task_id", "patient_id", "task_type", "status", "result",
		"error_code", "error_message", "started_at", "completed_at", "created_at",
	}).AddRow(int64(42), int64(7), domain.TaskTypeDiagnosis, "running",
		nil, nil, nil, created, nil, created)

	mock.ExpectQuery(`SELECT(.|\n)+FROM analysis_tasks`).
		WithArgs(int64(7), domain.TaskTypeDiagnosis).
		WillReturnRows(rows)

	task, err := store.LatestByPatient(context.Background(), 7, domain.TaskTypeDiagnosis)
	require.NoError(t, err)
	assert.Equal(t, int64(42), task.TaskID)
	assert.True(t, task.InFlight())
}
