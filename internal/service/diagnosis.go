package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// DiagnosisService orchestrates the diagnosis generation workflow: context
// assembly, evidence scoring, text generation, persistence, and the task
// lifecycle clients poll against.
type DiagnosisService struct {
	logger    *logrus.Logger
	patients  domain.PatientStore
	medical   domain.MedicalDataStore
	diagnoses domain.DiagnosisStore
	tasks     domain.TaskTracker
	generator domain.TextGenerator
	cache     domain.ResponseCache
	pipeline  *ScoringPipeline
	cfg       domain.DiagnosisConfig

	// One in-flight generation per patient. A second request while one
	// is running is rejected, not queued.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewDiagnosisService creates a new diagnosis service
func NewDiagnosisService(
	logger *logrus.Logger,
	patients domain.PatientStore,
	medical domain.MedicalDataStore,
	diagnoses domain.DiagnosisStore,
	tasks domain.TaskTracker,
	generator domain.TextGenerator,
	cache domain.ResponseCache,
	rules *domain.ScoringRules,
	cfg domain.DiagnosisConfig,
) *DiagnosisService {
	return &DiagnosisService{
		logger:    logger,
		patients:  patients,
		medical:   medical,
		diagnoses: diagnoses,
		tasks:     tasks,
		generator: generator,
		cache:     cache,
		pipeline:  NewScoringPipeline(rules, logger),
		cfg:       cfg,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// BuildContext assembles the scoring snapshot for a patient from the
// latest non-failed record per modality. Missing modalities are left nil.
func (s *DiagnosisService) BuildContext(ctx context.Context, patientID int64) (*domain.PatientContext, error) {
	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	pc := &domain.PatientContext{Patient: *patient}

	if pc.Text, err = s.medical.LatestText(ctx, patientID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fetching latest text record: %w", err)
	}
	if pc.CT, err = s.medical.LatestCT(ctx, patientID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fetching latest ct record: %w", err)
	}
	if pc.Lab, err = s.medical.LatestLab(ctx, patientID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fetching latest lab record: %w", err)
	}

	return pc, nil
}

// PreviewEvidence runs the scoring pipeline synchronously without any
// text-generation call, for clinician review before requesting a report.
func (s *DiagnosisService) PreviewEvidence(ctx context.Context, patientID int64) (*domain.ScoringOutcome, error) {
	pc, err := s.BuildContext(ctx, patientID)
	if err != nil {
		return nil, err
	}

	refs, err := s.medical.ReferenceRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading reference ranges: %w", err)
	}

	return s.pipeline.Run(pc, refs)
}

// DetectAnomalies runs anomaly detection over the patient's latest lab
// record. A patient without lab data gets an empty list, not an error.
func (s *DiagnosisService) DetectAnomalies(ctx context.Context, patientID int64) ([]domain.AnomalyRecord, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}

	lab, err := s.medical.LatestLab(ctx, patientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []domain.AnomalyRecord{}, nil
		}
		return nil, fmt.Errorf("fetching latest lab record: %w", err)
	}

	refs, err := s.medical.ReferenceRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading reference ranges: %w", err)
	}

	return s.pipeline.anomalies.Detect(lab.Indicators, refs), nil
}

// GenerateDiagnosis validates the request synchronously, creates a task,
// and dispatches generation in the background. Precondition failures
// (unknown patient, no medical data, a generation already in flight)
// surface before any task exists.
func (s *DiagnosisService) GenerateDiagnosis(ctx context.Context, patientID int64) (*domain.Task, error) {
	pc, err := s.BuildContext(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !pc.HasMedicalData() {
		return nil, domain.ErrNoMedicalData
	}

	lock := s.patientLock(patientID)
	if !lock.TryLock() {
		return nil, domain.ErrTaskInProgress
	}

	// The in-memory lock only covers this process. The stored latest task
	// catches a generation started by another instance or left behind by a
	// restart; anything older than the task timeout is treated as dead.
	if latest, err := s.tasks.LatestByPatient(ctx, patientID, domain.TaskTypeDiagnosis); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			lock.Unlock()
			return nil, fmt.Errorf("checking latest diagnosis task: %w", err)
		}
	} else if latest.InFlight() && time.Since(latest.CreatedAt) < s.cfg.TaskTimeout {
		lock.Unlock()
		return nil, domain.ErrTaskInProgress
	}

	task, err := s.tasks.Create(ctx, patientID, domain.TaskTypeDiagnosis)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("creating diagnosis task: %w", err)
	}

	go func() {
		defer lock.Unlock()

		bg, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
		defer cancel()
		s.runGeneration(bg, task, pc)
	}()

	return task, nil
}

func (s *DiagnosisService) patientLock(patientID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[patientID] = lock
	}
	return lock
}

// errPersist marks a diagnosis that was generated but could not be saved.
var errPersist = errors.New("persisting diagnosis")

// runGeneration executes one diagnosis run end to end. Every failure path
// marks the task failed with a classified error code and the raw message;
// a computed diagnosis that cannot be persisted is a failure too, never
// silently dropped. The task must never stay pending or running once this
// returns, or pollers would wait forever.
func (s *DiagnosisService) runGeneration(ctx context.Context, task *domain.Task, pc *domain.PatientContext) {
	log := s.logger.WithFields(logrus.Fields{
		"task_id":    task.TaskID,
		"patient_id": task.PatientID,
	})

	if err := s.tasks.MarkRunning(ctx, task.TaskID); err != nil {
		log.WithError(err).Error("Failed to mark task running")
		if markErr := s.tasks.MarkFailed(ctx, task.TaskID, domain.ErrCodeDatabaseError, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to mark task failed")
		}
		return
	}

	record, err := s.generate(ctx, pc)
	if err != nil {
		log.WithError(err).Error("Diagnosis generation failed")
		if markErr := s.tasks.MarkFailed(ctx, task.TaskID, classifyFailure(err), err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to mark task failed")
		}
		return
	}

	if err := s.tasks.MarkCompleted(ctx, task.TaskID, record); err != nil {
		log.WithError(err).Error("Failed to mark task completed")
		return
	}
	log.WithField("diagnosis_id", record.ID).Info("Diagnosis task completed")
}

// classifyFailure maps a generation error onto the error code stored on
// the failed task, so pollers can distinguish a timeout from a persistence
// problem without parsing the message.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrGenerationTimeout):
		return domain.ErrCodeGenerationTimeout
	case errors.Is(err, errPersist):
		return domain.ErrCodeDatabaseError
	default:
		return domain.ErrCodeGenerationError
	}
}

func (s *DiagnosisService) generate(ctx context.Context, pc *domain.PatientContext) (*domain.DiagnosisRecord, error) {
	refs, err := s.medical.ReferenceRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading reference ranges: %w", err)
	}

	outcome, err := s.pipeline.Run(pc, refs)
	if err != nil {
		return nil, err
	}

	prompt := BuildDiagnosisPrompt(pc, outcome)
	raw, err := s.generator.GenerateText(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("diagnosis generation: %w", domain.ErrGenerationTimeout)
		}
		return nil, fmt.Errorf("diagnosis generation: %w", err)
	}

	parsed := ParseDiagnosisResponse(raw)
	record := s.assembleRecord(pc, outcome, parsed)

	if err := s.diagnoses.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", errPersist, err)
	}

	s.invalidateLatest(ctx, pc.Patient.PatientID)
	s.updateLatestCondition(ctx, pc.Patient.PatientID, parsed)

	return record, nil
}

// assembleRecord packages the scoring outcome and the parsed narrative
// into the persisted record shape.
func (s *DiagnosisService) assembleRecord(pc *domain.PatientContext, outcome *domain.ScoringOutcome, parsed *DiagnosisResponse) *domain.DiagnosisRecord {
	return &domain.DiagnosisRecord{
		PatientID:       pc.Patient.PatientID,
		DiagnosisText:   parsed.Diagnosis,
		Analysis:        parsed.Analysis,
		Confidence:      outcome.Confidence,
		RiskScore:       outcome.Confidence,
		ConfidenceLevel: outcome.ConfidenceLevel,
		EvidenceSummary: outcome.Evidence.Summary,
		EvidenceDetail:  outcome.Evidence.Detail,
		LabAnomalies:    outcome.Anomalies,
		Recommendations: parsed.TreatmentPlan,
		Warnings:        parsed.MedicalAdvice,
		QualityScores:   outcome.QualityScores,
		BaseWeights:     outcome.BaseWeights,
		Weights:         outcome.Weights,
		QualityAdjusted: outcome.QualityAdjusted,
		CreatedAt:       time.Now().UTC(),
	}
}

// updateLatestCondition refreshes the patient's one-line condition summary
// after a successful diagnosis. Best effort: failures are logged and never
// fail the task.
func (s *DiagnosisService) updateLatestCondition(ctx context.Context, patientID int64, parsed *DiagnosisResponse) {
	if !s.cfg.UpdateCondition || parsed.Diagnosis == "" {
		return
	}

	summary, err := s.generator.GenerateText(ctx, BuildConditionPrompt(parsed.Diagnosis, parsed.Analysis))
	if err != nil {
		s.logger.WithError(err).WithField("patient_id", patientID).
			Warn("Latest-condition summary generation failed")
		return
	}

	summary = strings.TrimSpace(summary)
	if s.cfg.MaxSummaryLength > 0 {
		runes := []rune(summary)
		if len(runes) > s.cfg.MaxSummaryLength {
			summary = string(runes[:s.cfg.MaxSummaryLength])
		}
	}

	if err := s.patients.UpdateLatestCondition(ctx, patientID, summary); err != nil {
		s.logger.WithError(err).WithField("patient_id", patientID).
			Warn("Latest-condition update failed")
	}
}

// LatestDiagnosis returns the most recent diagnosis for a patient,
// reading through the response cache when one is configured.
func (s *DiagnosisService) LatestDiagnosis(ctx context.Context, patientID int64) (*domain.DiagnosisRecord, error) {
	key := latestCacheKey(patientID)

	if s.cache != nil {
		var cached domain.DiagnosisRecord
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.WithError(err).Warn("Diagnosis cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	record, err := s.diagnoses.LatestByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, record); err != nil {
			s.logger.WithError(err).Warn("Diagnosis cache write failed")
		}
	}
	return record, nil
}

// DiagnosisHistory lists a patient's diagnoses, latest first.
func (s *DiagnosisService) DiagnosisHistory(ctx context.Context, patientID int64) ([]*domain.DiagnosisRecord, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	limit := s.cfg.HistoryPageSize
	if limit <= 0 {
		limit = 20
	}
	return s.diagnoses.ListByPatient(ctx, patientID, limit)
}

// ReviewDiagnosis applies the out-of-band doctor annotation. The record
// stays immutable otherwise.
func (s *DiagnosisService) ReviewDiagnosis(ctx context.Context, diagnosisID int64, review string) error {
	record, err := s.diagnoses.GetByID(ctx, diagnosisID)
	if err != nil {
		return err
	}
	if err := s.diagnoses.SetDoctorReview(ctx, diagnosisID, review); err != nil {
		return err
	}
	s.invalidateLatest(ctx, record.PatientID)
	return nil
}

// DeleteDiagnosis removes one diagnosis record.
func (s *DiagnosisService) DeleteDiagnosis(ctx context.Context, diagnosisID int64) error {
	record, err := s.diagnoses.GetByID(ctx, diagnosisID)
	if err != nil {
		return err
	}
	if err := s.diagnoses.Delete(ctx, diagnosisID); err != nil {
		return err
	}
	s.invalidateLatest(ctx, record.PatientID)
	return nil
}

// TaskStatus returns one task for polling.
func (s *DiagnosisService) TaskStatus(ctx context.Context, taskID int64) (*domain.Task, error) {
	return s.tasks.GetByID(ctx, taskID)
}

func (s *DiagnosisService) invalidateLatest(ctx context.Context, patientID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, latestCacheKey(patientID)); err != nil {
		s.logger.WithError(err).WithField("patient_id", patientID).
			Warn("Diagnosis cache invalidation failed")
	}
}

func latestCacheKey(patientID int64) string {
	return fmt.Sprintf("diagnosis:latest:%d", patientID)
}
