package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/api"
	"github.com/smart-medical/diagnosis-server/internal/cache"
	"github.com/smart-medical/diagnosis-server/internal/config"
	"github.com/smart-medical/diagnosis-server/internal/database"
	"github.com/smart-medical/diagnosis-server/internal/domain"
	"github.com/smart-medical/diagnosis-server/internal/repository"
	"github.com/smart-medical/diagnosis-server/internal/service"
	"github.com/smart-medical/diagnosis-server/pkg/aiclient"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Primary database
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	migrationsPath := cfg.Database.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}
	migrator, err := database.NewMigrator(configManager.GetDatabaseURL(), migrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migrator")
	}
	if err := migrator.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to apply migrations")
	}
	migrator.Close()

	// Repositories
	patients := repository.NewPatientRepository(db.Pool, logger)
	medical := repository.NewMedicalDataRepository(db.Pool, logger)
	diagnoses := repository.NewDiagnosisRepository(db.Pool, logger)

	tasks, err := repository.OpenTaskStore(configManager.GetTaskDatabaseURL(), cfg.TaskDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open task store")
	}
	defer tasks.Close()

	// Text generation client
	generator, err := aiclient.NewClient(cfg.AI, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create AI client")
	}

	// Response cache; the server runs without one when disabled
	var responseCache domain.ResponseCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisCache.Close()
		responseCache = redisCache
	} else {
		logger.Info("Response cache disabled")
	}

	diagnosisService := service.NewDiagnosisService(
		logger, patients, medical, diagnoses, tasks, generator, responseCache,
		domain.DefaultScoringRules(), cfg.Diagnosis,
	)

	server := api.NewServer(cfg, logger, diagnosisService, patients)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Output {
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		logger.SetOutput(os.Stdout)
	}

	return logger
}
