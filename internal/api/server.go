package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
	"github.com/smart-medical/diagnosis-server/internal/middleware"
	"github.com/smart-medical/diagnosis-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	cfg       *domain.Config
	logger    *logrus.Logger
	router    *gin.Engine
	server    *http.Server
	diagnosis *service.DiagnosisService
	patients  domain.PatientStore
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, logger *logrus.Logger, diagnosis *service.DiagnosisService, patients domain.PatientStore) *Server {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	server := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		diagnosis: diagnosis,
		patients:  patients,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		patients := v1.Group("/patients")
		{
			patients.POST("", s.handleCreatePatient)
			patients.GET("", s.handleListPatients)
			patients.GET("/search", s.handleSearchPatients)
			patients.GET("/:id", s.handleGetPatient)
			patients.PUT("/:id", s.handleUpdatePatient)
			patients.DELETE("/:id", s.handleDeletePatient)
			patients.GET("/:id/record", s.handlePatientRecord)
			patients.GET("/:id/anomalies", s.handlePatientAnomalies)
			patients.GET("/:id/evidence", s.handleEvidencePreview)
		}

		diagnosis := v1.Group("/diagnosis")
		{
			diagnosis.POST("/generate", s.handleGenerateDiagnosis)
			diagnosis.GET("/:patient_id", s.handleDiagnosisHistory)
			diagnosis.GET("/:patient_id/latest", s.handleLatestDiagnosis)
			diagnosis.POST("/:id/review", s.handleReviewDiagnosis)
			diagnosis.DELETE("/:id", s.handleDeleteDiagnosis)
		}

		v1.GET("/tasks/:id", s.handleTaskStatus)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
