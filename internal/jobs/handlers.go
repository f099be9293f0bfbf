package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/services"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

// AnalyzeAudioHandler runs the analysis pipeline for the recording named by
// the job's entity id.
type AnalyzeAudioHandler struct {
	analysis services.AnalysisService
	log      *logger.Logger
}

func NewAnalyzeAudioHandler(analysis services.AnalysisService, baseLog *logger.Logger) *AnalyzeAudioHandler {
	return &AnalyzeAudioHandler{analysis: analysis, log: baseLog.With("handler", types.JobKindAnalyzeAudio)}
}

func (h *AnalyzeAudioHandler) Kind() string { return types.JobKindAnalyzeAudio }

func (h *AnalyzeAudioHandler) Run(ctx context.Context, job *types.Job) error {
	if job.EntityID == nil {
		return fmt.Errorf("analyze-audio job %s has no recording id", job.ID)
	}
	err := h.analysis.Analyze(ctx, *job.EntityID)
	if err == nil {
		return nil
	}
	// Retry scheduling already happened inside the service; the job itself
	// failing is bookkeeping, not a trigger for re-delivery.
	if errors.Is(err, services.ErrServiceUnavailable) {
		h.log.Warn("Analysis deferred, prediction service unavailable", "recording_id", *job.EntityID)
	}
	return err
}

// CleanupFailedHandler sweeps exhausted failed recordings into cancelled.
type CleanupFailedHandler struct {
	analysis services.AnalysisService
	log      *logger.Logger
}

func NewCleanupFailedHandler(analysis services.AnalysisService, baseLog *logger.Logger) *CleanupFailedHandler {
	return &CleanupFailedHandler{analysis: analysis, log: baseLog.With("handler", types.JobKindCleanupFailed)}
}

func (h *CleanupFailedHandler) Kind() string { return types.JobKindCleanupFailed }

func (h *CleanupFailedHandler) Run(ctx context.Context, _ *types.Job) error {
	n, err := h.analysis.SweepExhausted(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep exhausted recordings: %w", err)
	}
	if n > 0 {
		h.log.Info("Cancelled exhausted recordings", "count", n)
	}
	return nil
}

// CleanupTempFilesHandler removes temp uploads older than the ttl.
type CleanupTempFilesHandler struct {
	files services.FileStore
	ttl   time.Duration
	log   *logger.Logger
}

func NewCleanupTempFilesHandler(files services.FileStore, ttl time.Duration, baseLog *logger.Logger) *CleanupTempFilesHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CleanupTempFilesHandler{files: files, ttl: ttl, log: baseLog.With("handler", types.JobKindCleanupTempFiles)}
}

func (h *CleanupTempFilesHandler) Kind() string { return types.JobKindCleanupTempFiles }

func (h *CleanupTempFilesHandler) Run(ctx context.Context, _ *types.Job) error {
	n, err := h.files.CleanupExpiredTemp(ctx, h.ttl)
	if err != nil {
		return fmt.Errorf("failed to clean temp files: %w", err)
	}
	if n > 0 {
		h.log.Info("Removed expired temp files", "count", n, "ttl", h.ttl)
	}
	return nil
}

// HealthCheckHandler probes the prediction service and logs the outcome.
// The probe result is informational; availability decisions belong to the
// circuit breaker on the call path.
type HealthCheckHandler struct {
	prediction *services.PredictionClient
	log        *logger.Logger
}

func NewHealthCheckHandler(prediction *services.PredictionClient, baseLog *logger.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{prediction: prediction, log: baseLog.With("handler", types.JobKindHealthCheck)}
}

func (h *HealthCheckHandler) Kind() string { return types.JobKindHealthCheck }

func (h *HealthCheckHandler) Run(ctx context.Context, _ *types.Job) error {
	available := h.prediction.IsAvailable(ctx)
	if !available {
		h.log.Warn("Prediction service unavailable", "breaker_state", h.prediction.BreakerState())
		return nil
	}
	h.log.Info("Prediction service healthy", "breaker_state", h.prediction.BreakerState())
	return nil
}
