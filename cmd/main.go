package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/cradlesense-backend/internal/breaker"
	"github.com/yungbote/cradlesense-backend/internal/config"
	"github.com/yungbote/cradlesense-backend/internal/db"
	"github.com/yungbote/cradlesense-backend/internal/handlers"
	"github.com/yungbote/cradlesense-backend/internal/jobs"
	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/repos"
	"github.com/yungbote/cradlesense-backend/internal/server"
	"github.com/yungbote/cradlesense-backend/internal/services"
	"github.com/yungbote/cradlesense-backend/internal/types"
	"github.com/yungbote/cradlesense-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Error("Database auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := dbService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	babyRepo := repos.NewBabyRepo(theDB, log)
	recordingRepo := repos.NewRecordingRepo(theDB, log)
	jobRepo := repos.NewJobRepo(theDB, log)

	// Scheduler
	scheduler := jobs.NewScheduler(theDB, log, jobRepo, jobs.SchedulerOptions{
		LeaseDuration:        cfg.Scheduler.LeaseDuration.Duration,
		MaxConcurrent:        cfg.Scheduler.MaxConcurrent,
		MaxConcurrentPerKind: cfg.Scheduler.MaxConcurrentPerKind,
	})

	// Services
	log.Info("Setting up Services from main...")
	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Duration,
	})
	predictionClient, err := services.NewPredictionClient(services.PredictionClientOptions{
		BaseURL:        cfg.Prediction.BaseURL,
		APIKey:         cfg.Prediction.APIKey,
		ProbeTimeout:   cfg.Prediction.ProbeTimeout.Duration,
		PredictTimeout: cfg.Prediction.PredictTimeout.Duration,
	}, cb)
	if err != nil {
		log.Error("Could not init PredictionClient", "error", err)
		os.Exit(1)
	}
	audioRoot := utils.GetEnv("AUDIO_STORAGE_PATH", "./data/audio", log)
	fileStore, err := services.NewLocalFileStore(audioRoot, log)
	if err != nil {
		log.Error("Could not init file store", "error", err)
		os.Exit(1)
	}
	analysisService := services.NewAnalysisService(
		theDB,
		log,
		recordingRepo,
		babyRepo,
		fileStore,
		predictionClient,
		scheduler,
		services.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Duration,
		},
		cfg.Retry.CancelGrace.Duration,
	)

	// Job handlers
	log.Info("Setting up job handlers from main...")
	registry := jobs.NewRegistry()
	for _, h := range []jobs.Handler{
		jobs.NewAnalyzeAudioHandler(analysisService, log),
		jobs.NewCleanupFailedHandler(analysisService, log),
		jobs.NewCleanupTempFilesHandler(fileStore, 24*time.Hour, log),
		jobs.NewHealthCheckHandler(predictionClient, log),
	} {
		if err := registry.Register(h); err != nil {
			log.Error("Failed to register job handler", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recurring maintenance jobs
	for kind, every := range map[string]time.Duration{
		types.JobKindCleanupFailed:    24 * time.Hour,
		types.JobKindCleanupTempFiles: 24 * time.Hour,
		types.JobKindHealthCheck:      5 * time.Minute,
	} {
		if _, err := scheduler.ScheduleRecurring(ctx, kind, every); err != nil {
			log.Warn("Failed to schedule recurring job", "kind", kind, "error", err)
		}
	}

	// Workers
	worker := jobs.NewWorker(scheduler, registry, log, jobs.WorkerOptions{
		PollInterval: cfg.Scheduler.PollInterval.Duration,
		Concurrency:  cfg.Scheduler.Workers,
	})
	worker.Start(ctx)

	// HTTP handlers + router
	log.Info("Setting up handlers from main...")
	analysisHandler := handlers.NewAnalysisHandler(analysisService)
	predictionStatusHandler := handlers.NewPredictionStatusHandler(predictionClient)
	router := server.NewRouter(server.RouterConfig{
		AnalysisHandler:         analysisHandler,
		PredictionStatusHandler: predictionStatusHandler,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server failed", "error", err)
	}
	worker.Stop()
	log.Info("Shutdown complete")
}
