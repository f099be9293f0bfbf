package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/cradlesense-backend/internal/services"
)

type AnalysisHandler struct {
	analysis services.AnalysisService
}

func NewAnalysisHandler(analysis services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysis: analysis}
}

type scheduleAnalysisRequest struct {
	DelayMs int64 `json:"delay_ms"`
}

// POST /api/recordings/:id/analyze
func (h *AnalysisHandler) ScheduleAnalysis(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_recording_id", err)
		return
	}
	var req scheduleAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if req.DelayMs < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_delay", errors.New("delay_ms must not be negative"))
		return
	}

	job, err := h.analysis.ScheduleAnalysis(c.Request.Context(), recordingID, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPrecondition):
			RespondError(c, http.StatusNotFound, "recording_not_found", err)
		case errors.Is(err, services.ErrRetriesExhausted):
			RespondError(c, http.StatusConflict, "retries_exhausted", err)
		default:
			RespondError(c, http.StatusInternalServerError, "schedule_failed", err)
		}
		return
	}
	if job == nil {
		// Already processing or completed; nothing new was enqueued.
		RespondOK(c, gin.H{"scheduled": false})
		return
	}
	RespondOK(c, gin.H{"scheduled": true, "job": job})
}

// DELETE /api/recordings/:id/analysis
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_recording_id", err)
		return
	}
	cancelled, err := h.analysis.CancelAnalysis(c.Request.Context(), recordingID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	RespondOK(c, gin.H{"cancelled": cancelled})
}

// GET /api/recordings/:id/analysis
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_recording_id", err)
		return
	}
	rec, err := h.analysis.GetRecording(c.Request.Context(), recordingID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if rec == nil {
		RespondError(c, http.StatusNotFound, "recording_not_found", errors.New("recording not found"))
		return
	}
	RespondOK(c, gin.H{"recording": rec})
}

// GET /api/jobs/stats
func (h *AnalysisHandler) GetJobStats(c *gin.Context) {
	stats, err := h.analysis.JobStats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	RespondOK(c, gin.H{"stats": stats})
}
