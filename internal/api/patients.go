package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

type patientRequest struct {
	Name               string `json:"name" binding:"required"`
	Age                int    `json:"age" binding:"gte=0,lte=150"`
	Gender             string `json:"gender" binding:"required"`
	Phone              string `json:"phone"`
	IDCard             string `json:"id_card"`
	FirstVisit         bool   `json:"first_visit"`
	PastMedicalHistory string `json:"past_medical_history"`
}

func pathID(c *gin.Context, name string) (int64, *domain.ValidationError) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer", raw)
	}
	return id, nil
}

// handleCreatePatient handles patient creation requests
func (s *Server) handleCreatePatient(c *gin.Context) {
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	patient := &domain.Patient{
		Name:               req.Name,
		Age:                req.Age,
		Gender:             req.Gender,
		Phone:              req.Phone,
		IDCard:             req.IDCard,
		FirstVisit:         req.FirstVisit,
		PastMedicalHistory: req.PastMedicalHistory,
	}
	if err := s.patients.Create(c.Request.Context(), patient); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, patient)
}

// handleListPatients handles paginated patient listing
func (s *Server) handleListPatients(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	patients, total, err := s.patients.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patients": patients,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleSearchPatients handles patient search by name, phone, or ID card
func (s *Server) handleSearchPatients(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		s.respondInvalid(c, domain.NewValidationError("q", "query parameter is required", ""))
		return
	}

	patients, err := s.patients.Search(c.Request.Context(), query, 50)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

// handleGetPatient handles patient detail requests
func (s *Server) handleGetPatient(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	patient, err := s.patients.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, patient)
}

// handleUpdatePatient handles patient update requests
func (s *Server) handleUpdatePatient(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	patient := &domain.Patient{
		PatientID:          id,
		Name:               req.Name,
		Age:                req.Age,
		Gender:             req.Gender,
		Phone:              req.Phone,
		IDCard:             req.IDCard,
		FirstVisit:         req.FirstVisit,
		PastMedicalHistory: req.PastMedicalHistory,
	}
	if err := s.patients.Update(c.Request.Context(), patient); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, patient)
}

// handleDeletePatient handles patient deletion requests
func (s *Server) handleDeletePatient(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	if err := s.patients.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true, "patient_id": id})
}

// handlePatientRecord returns the patient together with the latest record
// of each modality.
func (s *Server) handlePatientRecord(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	pc, err := s.diagnosis.BuildContext(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient":     pc.Patient,
		"text_record": pc.Text,
		"ct_record":   pc.CT,
		"lab_record":  pc.Lab,
	})
}

// handlePatientAnomalies runs lab anomaly detection synchronously
func (s *Server) handlePatientAnomalies(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	anomalies, err := s.diagnosis.DetectAnomalies(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_id": id,
		"anomalies":  anomalies,
	})
}

// handleEvidencePreview runs the scoring pipeline synchronously without
// calling the text generator.
func (s *Server) handleEvidencePreview(c *gin.Context) {
	id, verr := pathID(c, "id")
	if verr != nil {
		s.respondInvalid(c, verr)
		return
	}

	outcome, err := s.diagnosis.PreviewEvidence(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_id":       id,
		"confidence":       outcome.Confidence,
		"confidence_level": outcome.ConfidenceLevel,
		"quality_scores":   outcome.QualityScores,
		"base_weights":     outcome.BaseWeights,
		"weights":          outcome.Weights,
		"quality_adjusted": outcome.QualityAdjusted,
		"lab_anomalies":    outcome.Anomalies,
		"evidence":         outcome.Evidence,
	})
}
