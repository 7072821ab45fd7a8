package database

import (
	"context"
	"io"
	"net/url"
	"os"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// configFromTestURL converts TEST_DATABASE_URL into a DatabaseConfig.
// Skip test if it is not set.
func configFromTestURL(t *testing.T) domain.DatabaseConfig {
	t.Helper()
	raw := os.Getenv("TEST_DATABASE_URL")
	if raw == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	u, err := url.Parse(raw)
	require.NoError(t, err)

	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}
	password, _ := u.User.Password()

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return domain.DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		Database: u.Path[1:],
		Username: u.User.Username(),
		Password: password,
		SSLMode:  sslMode,
	}
}

func TestDatabaseConnection(t *testing.T) {
	cfg := configFromTestURL(t)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx := context.Background()
	db, err := NewConnection(ctx, cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Health(ctx))
	assert.NotZero(t, db.Stats().TotalConns())
}
