package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/cradlesense-backend/internal/handlers"
)

type RouterConfig struct {
	AnalysisHandler         *handlers.AnalysisHandler
	PredictionStatusHandler *handlers.PredictionStatusHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Analysis
		api.POST("/recordings/:id/analyze", cfg.AnalysisHandler.ScheduleAnalysis)
		api.GET("/recordings/:id/analysis", cfg.AnalysisHandler.GetAnalysis)
		api.DELETE("/recordings/:id/analysis", cfg.AnalysisHandler.CancelAnalysis)
		// Jobs
		api.GET("/jobs/stats", cfg.AnalysisHandler.GetJobStats)
		// Prediction service
		api.GET("/prediction/status", cfg.PredictionStatusHandler.GetStatus)
		api.GET("/prediction/classes", cfg.PredictionStatusHandler.GetClasses)
	}

	return router
}
