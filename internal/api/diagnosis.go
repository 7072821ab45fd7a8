package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

type generateRequest struct {
	PatientID int64 `json:"patient_id" binding:"required,gt=0"`
}

type reviewRequest struct {
	DoctorReview string `json:"doctor_review" binding:"required"`
}

// handleGenerateDiagnosis validates the request, creates a background task,
// and returns 202 with the task id for polling.
func (s *Server) handleGenerateDiagnosis(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	task, err := s.diagnosis.GenerateDiagnosis(c.Request.Context(), req.PatientID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    task.TaskID,
		"patient_id": task.PatientID,
		"status":     task.Status,
	})
}

// handleDiagnosisHistory lists a patient's diagnoses, latest first
func (s *Server) handleDiagnosisHistory(c *gin.Context) {
	patientID, verr := pathID(c, "patient_id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	records, err := s.diagnosis.DiagnosisHistory(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_id": patientID,
		"diagnoses":  records,
		"count":      len(records),
	})
}

// handleLatestDiagnosis returns the most recent diagnosis, cache permitting
func (s *Server) handleLatestDiagnosis(c *gin.Context) {
	patientID, verr := pathID(c, "patient_id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	record, err := s.diagnosis.LatestDiagnosis(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleReviewDiagnosis attaches the doctor's review annotation
func (s *Server) handleReviewDiagnosis(c *gin.Context) {
	diagnosisID, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	if err := s.diagnosis.ReviewDiagnosis(c.Request.Context(), diagnosisID, req.DoctorReview); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"diagnosis_id": diagnosisID, "reviewed": true})
}

// handleDeleteDiagnosis removes one diagnosis record
func (s *Server) handleDeleteDiagnosis(c *gin.Context) {
	diagnosisID, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	if err := s.diagnosis.DeleteDiagnosis(c.Request.Context(), diagnosisID); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"diagnosis_id": diagnosisID, "deleted": true})
}

// handleTaskStatus returns one background task for polling
func (s *Server) handleTaskStatus(c *gin.Context) {
	taskID, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	task, err := s.diagnosis.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}
