package routes

import (
	"model-orchestrator/api/rest/handlers"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/repository"
	"model-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, db *repository.DB, sched *scheduler.Scheduler, monitor *monitoring.ResourceMonitor) {
	jobRepo := repository.NewJobRepository(db)
	modelRepo := repository.NewModelRepository(db)
	driftRepo := repository.NewDriftRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	jobHandler := handlers.NewJobHandler(jobRepo, sched)
	dashboardHandler := handlers.NewDashboardHandler(modelRepo, driftRepo, alertRepo, sched, monitor)

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs/train", jobHandler.SubmitTrain).Methods("POST")
	api.HandleFunc("/jobs/predict", jobHandler.SubmitPredict).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")

	// Model registry and drift endpoints
	api.HandleFunc("/models", dashboardHandler.ListModels).Methods("GET")
	api.HandleFunc("/models/{key}", dashboardHandler.GetActiveModel).Methods("GET")
	api.HandleFunc("/models/{key}/versions/{version}", dashboardHandler.GetModelVersion).Methods("GET")
	api.HandleFunc("/models/{key}/drift", dashboardHandler.GetDriftHistory).Methods("GET")

	// Alert endpoints
	api.HandleFunc("/alerts", dashboardHandler.ListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/dismiss", dashboardHandler.DismissAlert).Methods("POST")

	// Platform status
	api.HandleFunc("/status", dashboardHandler.GetStatus).Methods("GET")
}
