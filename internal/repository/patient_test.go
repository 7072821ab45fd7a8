package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// getTestPool returns a pgx pool for integration tests.
// Skip test if TEST_DATABASE_URL is not set.
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS patients (
			patient_id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			age INT NOT NULL DEFAULT 0,
			gender TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			id_card TEXT NOT NULL DEFAULT '',
			first_visit BOOLEAN NOT NULL DEFAULT TRUE,
			past_medical_history TEXT NOT NULL DEFAULT '',
			latest_condition TEXT NOT NULL DEFAULT '',
			condition_updated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(context.Background(), `DELETE FROM patients`)
	require.NoError(t, err)

	return pool
}

func TestPatientRepository_CreateAndGet(t *testing.T) {
	repo := NewPatientRepository(getTestPool(t), testLogger())
	ctx := context.Background()

	p := &domain.Patient{
		Name:               "张三",
		Age:                52,
		Gender:             "男",
		Phone:              "13800000000",
		FirstVisit:         true,
		PastMedicalHistory: "高血压十年",
	}
	require.NoError(t, repo.Create(ctx, p))
	require.NotZero(t, p.PatientID)

	got, err := repo.GetByID(ctx, p.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "张三", got.Name)
	assert.Equal(t, "高血压十年", got.PastMedicalHistory)
	assert.True(t, got.FirstVisit)
}

func TestPatientRepository_GetNotFound(t *testing.T) {
	repo := NewPatientRepository(getTestPool(t), testLogger())

	_, err := repo.GetByID(context.Background(), 999999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPatientRepository_UpdateLatestCondition(t *testing.T) {
	repo := NewPatientRepository(getTestPool(t), testLogger())
	ctx := context.Background()

	p := &domain.Patient{Name: "李四", Age: 40, Gender: "女"}
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.UpdateLatestCondition(ctx, p.PatientID, "肺炎，抗感染治疗中"))

	got, err := repo.GetByID(ctx, p.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "肺炎，抗感染治疗中", got.LatestCondition)
	assert.NotNil(t, got.ConditionUpdatedAt)
}

func TestPatientRepository_ListAndSearch(t *testing.T) {
	repo := NewPatientRepository(getTestPool(t), testLogger())
	ctx := context.Background()

	for _, name := range []string{"王五", "王小五", "赵六"} {
		require.NoError(t, repo.Create(ctx, &domain.Patient{Name: name, Age: 30, Gender: "男"}))
	}

	patients, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, patients, 3)

	found, err := repo.Search(ctx, "王", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestPatientRepository_Delete(t *testing.T) {
	repo := NewPatientRepository(getTestPool(t), testLogger())
	ctx := context.Background()

	p := &domain.Patient{Name: "待删除", Age: 1, Gender: "男"}
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.Delete(ctx, p.PatientID))

	_, err := repo.GetByID(ctx, p.PatientID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, p.PatientID), domain.ErrNotFound)
}
