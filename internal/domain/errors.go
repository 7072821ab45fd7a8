package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeNoMedicalData     = "NO_MEDICAL_DATA"
	ErrCodeGenerationError   = "GENERATION_ERROR"
	ErrCodeGenerationTimeout = "GENERATION_TIMEOUT"
	ErrCodeTaskInProgress    = "TASK_IN_PROGRESS"
	ErrCodeDatabaseError     = "DATABASE_ERROR"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
)

// Sentinel errors used across repositories and services.
var (
	ErrNotFound          = errors.New("record not found")
	ErrNoMedicalData     = errors.New("patient has no medical data")
	ErrGenerationTimeout = errors.New("text generation timed out")
	ErrTaskInProgress    = errors.New("a diagnosis task is already running for this patient")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
