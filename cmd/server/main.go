package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"model-orchestrator/api/rest/routes"
	"model-orchestrator/api/ws"
	"model-orchestrator/config"
	"model-orchestrator/core/drift"
	"model-orchestrator/core/events"
	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/repository"
	"model-orchestrator/core/scheduler"
	"model-orchestrator/storage"

	"github.com/gorilla/mux"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}
	logger.Info("database connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories
	jobRepo := repository.NewJobRepository(db)
	modelRepo := repository.NewModelRepository(db)
	driftRepo := repository.NewDriftRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Artifact storage
	artifactStore, err := storage.NewArtifactStore(cfg.Artifacts, logger)
	if err != nil {
		logger.Fatal("failed to connect to artifact storage", zap.Error(err))
	}
	if err := artifactStore.EnsureBucket(ctx); err != nil {
		logger.Fatal("failed to ensure artifact bucket", zap.Error(err))
	}

	// Resource monitor
	monitor := monitoring.NewResourceMonitor(cfg.Monitor.Interval, cfg.Scheduler.GPUSlots, logger)
	go monitor.Start(ctx)

	// Event publisher
	publisher := events.NewPublisher(64, logger)
	defer publisher.Close()

	// Executors
	trainExecutor := executor.NewTrainExecutor(
		jobRepo, modelRepo, driftRepo, artifactStore, publisher,
		cfg.Scheduler.StageTimeout, cfg.Drift.SampleLimit, logger,
	)
	predictExecutor := executor.NewPredictExecutor(
		jobRepo, modelRepo, driftRepo, artifactStore, publisher,
		cfg.Scheduler.StageTimeout, cfg.Scheduler.ProgressEvery, logger,
	)
	executors := map[models.JobType]scheduler.Executor{
		models.JobTypeTrain:   trainExecutor,
		models.JobTypeRetrain: trainExecutor,
		models.JobTypePredict: predictExecutor,
	}

	// Scheduler
	sched := scheduler.NewScheduler(jobRepo, alertRepo, monitor, executors, publisher, cfg.Scheduler, logger)
	go sched.Start(ctx)
	defer sched.Stop()

	// Daily drift runner
	detector := drift.NewDetector(drift.Thresholds{
		PSIWarn:  cfg.Drift.PSIWarn,
		PSIDrift: cfg.Drift.PSIDrift,
		JSWarn:   cfg.Drift.JSWarn,
		JSDrift:  cfg.Drift.JSDrift,
	}, cfg.Drift.MinSampleSize, logger)
	driftRunner := drift.NewRunner(
		detector, modelRepo, driftRepo, artifactStore, driftRepo, alertRepo, sched,
		cfg.Drift.CheckTime, cfg.Drift.SampleLimit, logger,
	)
	go driftRunner.Start(ctx)

	// HTTP API
	r := mux.NewRouter()
	routes.SetupRoutes(r, db, sched, monitor)
	r.Handle("/ws/events", ws.NewHandler(publisher, logger)).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
