package database

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// The schemaVersion constant must track the bundled migration files, and
// every up migration needs a matching down.
func TestSchemaVersionMatchesMigrationFiles(t *testing.T) {
	entries, err := os.ReadDir("../../migrations")
	require.NoError(t, err)

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[version] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[version] = true
		}
	}

	assert.Len(t, ups, schemaVersion)
	for version := range ups {
		assert.True(t, downs[version], "missing down migration for version %s", version)
	}
	for version := range downs {
		assert.True(t, ups[version], "orphan down migration for version %s", version)
	}
}

func TestNewMigratorRejectsUnknownDriver(t *testing.T) {
	_, err := NewMigrator("bogus://nowhere", "../../migrations", migrationLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing migrator")
}
