package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/repos"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

// RetryPolicy decides whether a failed analysis is retried and how long to
// wait before the retry. The recording's RetryCount is the single
// authoritative budget; queue-level lease expiry is re-delivery only and
// never consumes it.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Delay returns the backoff before retry number retryCount:
// BaseDelay * 2^retryCount, so successive retries wait strictly longer.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return p.BaseDelay * time.Duration(int64(1)<<uint(retryCount))
}

// AnalysisScheduler is the slice of the job scheduler the analysis service
// needs: future scheduling for retries, cancellation of pending retries, and
// queue stats for the inbound contract.
type AnalysisScheduler interface {
	EnqueueAt(ctx context.Context, kind string, entityID *uuid.UUID, payload any, priority int, at time.Time) (*types.Job, error)
	CancelPending(ctx context.Context, kind string, entityID uuid.UUID) (int64, error)
	Stats(ctx context.Context) (*types.JobStats, error)
}

type AnalysisService interface {
	// ScheduleAnalysis enqueues an analyze-audio job for the recording,
	// immediately or after delay. Triggers on recordings already processing
	// or completed are no-ops; triggers on exhausted failed recordings are
	// rejected with ErrRetriesExhausted.
	ScheduleAnalysis(ctx context.Context, recordingID uuid.UUID, delay time.Duration) (*types.Job, error)

	// CancelAnalysis removes pending scheduled retries for the recording and
	// returns how many were cancelled. Best-effort: a job already claimed
	// runs to completion or lease expiry.
	CancelAnalysis(ctx context.Context, recordingID uuid.UUID) (int64, error)

	GetRecording(ctx context.Context, recordingID uuid.UUID) (*types.AudioRecording, error)
	JobStats(ctx context.Context) (*types.JobStats, error)

	// Analyze runs one analyze-audio job: load state, call the prediction
	// service, apply the status transition, and on transient failure either
	// schedule a backed-off retry or mark the recording permanently failed.
	// Business state is always persisted before an error is returned for the
	// scheduler's own bookkeeping.
	Analyze(ctx context.Context, recordingID uuid.UUID) error

	// SweepExhausted moves failed recordings whose retry budget is spent and
	// whose grace window has passed into cancelled.
	SweepExhausted(ctx context.Context) (int64, error)
}

type analysisService struct {
	db         *gorm.DB
	log        *logger.Logger
	recordings repos.RecordingRepo
	babies     repos.BabyRepo
	files      FileStore
	predictor  *PredictionClient
	scheduler  AnalysisScheduler
	policy     RetryPolicy
	grace      time.Duration
}

func NewAnalysisService(
	db *gorm.DB,
	baseLog *logger.Logger,
	recordings repos.RecordingRepo,
	babies repos.BabyRepo,
	files FileStore,
	predictor *PredictionClient,
	scheduler AnalysisScheduler,
	policy RetryPolicy,
	grace time.Duration,
) AnalysisService {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 30 * time.Second
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &analysisService{
		db:         db,
		log:        baseLog.With("service", "AnalysisService"),
		recordings: recordings,
		babies:     babies,
		files:      files,
		predictor:  predictor,
		scheduler:  scheduler,
		policy:     policy,
		grace:      grace,
	}
}

func (s *analysisService) ScheduleAnalysis(ctx context.Context, recordingID uuid.UUID, delay time.Duration) (*types.Job, error) {
	rec, err := s.recordings.GetByID(ctx, nil, recordingID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: recording %s not found", ErrPrecondition, recordingID)
	}
	switch rec.Status {
	case types.AnalysisStatusProcessing, types.AnalysisStatusCompleted:
		s.log.Debug("ScheduleAnalysis: no-op, recording already in-flight or done", "recording_id", recordingID, "status", rec.Status)
		return nil, nil
	case types.AnalysisStatusCancelled:
		return nil, fmt.Errorf("%w: recording %s is cancelled", ErrRetriesExhausted, recordingID)
	case types.AnalysisStatusFailed:
		if rec.RetryCount >= s.policy.MaxRetries {
			return nil, fmt.Errorf("%w: recording %s", ErrRetriesExhausted, recordingID)
		}
		// Manual re-trigger of a retryable failure goes back to pending.
		if err := s.recordings.UpdateFields(ctx, nil, recordingID, map[string]interface{}{
			"status": types.AnalysisStatusPending,
		}); err != nil {
			return nil, err
		}
	}
	if delay < 0 {
		delay = 0
	}
	entityID := rec.ID
	job, err := s.scheduler.EnqueueAt(ctx, types.JobKindAnalyzeAudio, &entityID, nil, 0, time.Now().Add(delay))
	if err != nil {
		return nil, err
	}
	s.log.Info("Scheduled analysis", "recording_id", recordingID, "job_id", job.ID, "delay", delay)
	return job, nil
}

func (s *analysisService) CancelAnalysis(ctx context.Context, recordingID uuid.UUID) (int64, error) {
	return s.scheduler.CancelPending(ctx, types.JobKindAnalyzeAudio, recordingID)
}

func (s *analysisService) GetRecording(ctx context.Context, recordingID uuid.UUID) (*types.AudioRecording, error) {
	return s.recordings.GetByID(ctx, nil, recordingID)
}

func (s *analysisService) JobStats(ctx context.Context) (*types.JobStats, error) {
	return s.scheduler.Stats(ctx)
}

func (s *analysisService) Analyze(ctx context.Context, recordingID uuid.UUID) error {
	rec, err := s.recordings.GetByID(ctx, nil, recordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: recording %s not found", ErrPrecondition, recordingID)
	}

	// Re-delivered or stale jobs: a recording that is already in-flight,
	// done, or cancelled must not be touched again.
	switch rec.Status {
	case types.AnalysisStatusProcessing, types.AnalysisStatusCompleted, types.AnalysisStatusCancelled:
		s.log.Debug("Analyze: no-op", "recording_id", recordingID, "status", rec.Status)
		return nil
	case types.AnalysisStatusFailed:
		if rec.RetryCount >= s.policy.MaxRetries {
			s.log.Debug("Analyze: retries exhausted, leaving failed for sweep", "recording_id", recordingID)
			return nil
		}
	}

	baby, err := s.babies.GetByID(ctx, nil, rec.BabyID)
	if err != nil {
		return err
	}
	if baby == nil {
		return s.failPermanently(ctx, rec, fmt.Errorf("%w: baby %s not found", ErrPrecondition, rec.BabyID))
	}
	if baby.BirthDate == nil {
		return s.failPermanently(ctx, rec, fmt.Errorf("%w: baby %s has no birth date", ErrPrecondition, rec.BabyID))
	}

	// Guarded transition: if a duplicate job got here first, back off.
	claimed, err := s.recordings.ClaimForProcessing(ctx, nil, rec.ID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Debug("Analyze: recording claimed by another worker", "recording_id", rec.ID)
		return nil
	}

	audio, err := s.files.Open(ctx, rec.StorageKey)
	if err != nil {
		if os.IsNotExist(err) {
			return s.failPermanently(ctx, rec, fmt.Errorf("%w: audio file missing for key %s", ErrPrecondition, rec.StorageKey))
		}
		return s.handleTransientFailure(ctx, rec, err)
	}
	defer audio.Close()

	history, err := s.buildHistory(ctx, rec)
	if err != nil {
		return s.handleTransientFailure(ctx, rec, err)
	}

	pred, err := s.predictor.Predict(ctx, audio, PredictRequest{
		BabyID:      rec.BabyID,
		DateOfBirth: *baby.BirthDate,
		History:     history,
	})
	if err != nil {
		return s.handleTransientFailure(ctx, rec, err)
	}

	now := time.Now()
	var allPredictions datatypes.JSON
	if pred.AllPredictions != nil {
		if b, mErr := json.Marshal(pred.AllPredictions); mErr == nil {
			allPredictions = datatypes.JSON(b)
		}
	}
	if err := s.recordings.UpdateFields(ctx, nil, rec.ID, map[string]interface{}{
		"status":          types.AnalysisStatusCompleted,
		"prediction":      pred.Prediction,
		"confidence":      pred.Confidence,
		"all_predictions": allPredictions,
		"model_version":   pred.ModelVersion,
		"processing_time": pred.ProcessingTime,
		"analyzed_at":     now,
		"last_error":      "",
	}); err != nil {
		return err
	}
	s.log.Info("Analysis completed", "recording_id", rec.ID, "prediction", pred.Prediction, "confidence", pred.Confidence)
	return nil
}

// buildHistory collects the bounded window of this baby's most recent
// completed predictions, newest first, excluding the recording under
// analysis.
func (s *analysisService) buildHistory(ctx context.Context, rec *types.AudioRecording) ([]PredictionHistoryItem, error) {
	prior, err := s.recordings.RecentCompletedForBaby(ctx, nil, rec.BabyID, rec.ID, MaxHistoryItems)
	if err != nil {
		return nil, err
	}
	items := make([]PredictionHistoryItem, 0, len(prior))
	for _, p := range prior {
		ts := p.RecordedAt
		if p.AnalyzedAt != nil {
			ts = *p.AnalyzedAt
		}
		items = append(items, PredictionHistoryItem{
			Prediction: p.Prediction,
			Confidence: p.Confidence,
			Timestamp:  ts,
			Context:    p.StorageKey,
		})
	}
	return items, nil
}

// failPermanently records a precondition failure: the recording goes to
// failed without consuming a retry and without scheduling anything.
func (s *analysisService) failPermanently(ctx context.Context, rec *types.AudioRecording, cause error) error {
	if uErr := s.recordings.UpdateFields(ctx, nil, rec.ID, map[string]interface{}{
		"status":     types.AnalysisStatusFailed,
		"last_error": cause.Error(),
	}); uErr != nil {
		s.log.Error("Failed to persist precondition failure", "recording_id", rec.ID, "error", uErr)
	}
	s.log.Warn("Analysis failed permanently", "recording_id", rec.ID, "error", cause)
	return cause
}

// handleTransientFailure applies the retry policy: consume one retry, then
// either re-enqueue with exponential backoff and go back to pending, or mark
// the recording permanently failed once the budget is spent. State is
// persisted before the error is returned.
func (s *analysisService) handleTransientFailure(ctx context.Context, rec *types.AudioRecording, cause error) error {
	retryCount := rec.RetryCount + 1
	now := time.Now()
	msg := cause.Error()

	if retryCount < s.policy.MaxRetries {
		delay := s.policy.Delay(retryCount)
		if uErr := s.recordings.UpdateFields(ctx, nil, rec.ID, map[string]interface{}{
			"status":        types.AnalysisStatusPending,
			"retry_count":   retryCount,
			"last_retry_at": now,
			"last_error":    msg,
		}); uErr != nil {
			s.log.Error("Failed to persist retry state", "recording_id", rec.ID, "error", uErr)
		}
		entityID := rec.ID
		if _, sErr := s.scheduler.EnqueueAt(ctx, types.JobKindAnalyzeAudio, &entityID, nil, 0, now.Add(delay)); sErr != nil {
			s.log.Error("Failed to schedule retry", "recording_id", rec.ID, "error", sErr)
		} else {
			s.log.Info("Analysis will retry", "recording_id", rec.ID, "retry_count", retryCount, "delay", delay, "error", msg)
		}
		return cause
	}

	if uErr := s.recordings.UpdateFields(ctx, nil, rec.ID, map[string]interface{}{
		"status":        types.AnalysisStatusFailed,
		"retry_count":   retryCount,
		"last_retry_at": now,
		"last_error":    msg,
	}); uErr != nil {
		s.log.Error("Failed to persist terminal failure", "recording_id", rec.ID, "error", uErr)
	}
	s.log.Warn("Analysis failed, retry budget exhausted", "recording_id", rec.ID, "retry_count", retryCount, "error", msg)
	return cause
}

func (s *analysisService) SweepExhausted(ctx context.Context) (int64, error) {
	before := time.Now().Add(-s.grace)
	note := fmt.Sprintf("analysis cancelled: retry budget exhausted and no retry within %s", s.grace)
	return s.recordings.MarkCancelledExhausted(ctx, nil, s.policy.MaxRetries, before, note)
}
