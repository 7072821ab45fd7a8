package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// schemaVersion is the migration version a fully provisioned diagnosis
// database reports: patients, the three modality tables, patient_diagnosis,
// analysis_tasks, and the lab reference-range seed.
const schemaVersion = 5

// Migrator applies the diagnosis schema migrations at startup.
type Migrator struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrator creates a migrator from a file source and the database URL
func NewMigrator(databaseURL, migrationsPath string, logger *logrus.Logger) (*Migrator, error) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("initializing migrator: %w", err)
	}
	return &Migrator{migrate: m, log: logger}, nil
}

// Up applies all pending migrations and verifies the resulting version.
// An already-current schema is not an error; a dirty schema is, since the
// server must not serve requests over a half-applied migration.
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, err := m.migrate.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, manual repair required", version)
	}
	if version != schemaVersion {
		m.log.WithFields(logrus.Fields{
			"version":  version,
			"expected": schemaVersion,
		}).Warn("Schema version does not match the bundled migrations")
	}

	m.log.WithField("version", version).Info("Diagnosis schema ready")
	return nil
}

// Close releases the source and database handles
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("closing migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
