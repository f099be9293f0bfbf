package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/cradlesense-backend/internal/services"
)

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// PredictionStatusHandler surfaces the downstream model service's health
// and the guarding breaker's state.
type PredictionStatusHandler struct {
	prediction *services.PredictionClient
}

func NewPredictionStatusHandler(prediction *services.PredictionClient) *PredictionStatusHandler {
	return &PredictionStatusHandler{prediction: prediction}
}

// GET /api/prediction/status
func (h *PredictionStatusHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	RespondOK(c, gin.H{
		"available":     h.prediction.IsAvailable(ctx),
		"breaker_state": h.prediction.BreakerState(),
	})
}

// GET /api/prediction/classes
func (h *PredictionStatusHandler) GetClasses(c *gin.Context) {
	classes, err := h.prediction.ListClasses(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusBadGateway, "prediction_unavailable", err)
		return
	}
	RespondOK(c, gin.H{"classes": classes})
}
