package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/repository"
	"model-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
)

// DashboardHandler serves the model registry, drift history, alerts
// and platform status views
type DashboardHandler struct {
	modelRepo *repository.ModelRepository
	driftRepo *repository.DriftRepository
	alertRepo *repository.AlertRepository
	scheduler *scheduler.Scheduler
	monitor   *monitoring.ResourceMonitor
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	modelRepo *repository.ModelRepository,
	driftRepo *repository.DriftRepository,
	alertRepo *repository.AlertRepository,
	sched *scheduler.Scheduler,
	monitor *monitoring.ResourceMonitor,
) *DashboardHandler {
	return &DashboardHandler{
		modelRepo: modelRepo,
		driftRepo: driftRepo,
		alertRepo: alertRepo,
		scheduler: sched,
		monitor:   monitor,
	}
}

// ListModels handles GET /v1/models
func (h *DashboardHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := h.modelRepo.ListModels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": versions,
	})
}

// GetActiveModel handles GET /v1/models/{key}
func (h *DashboardHandler) GetActiveModel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mv, err := h.modelRepo.GetActiveVersion(vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

// GetModelVersion handles GET /v1/models/{key}/versions/{version}
func (h *DashboardHandler) GetModelVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, &models.ValidationError{Field: "version", Reason: "must be an integer"})
		return
	}
	mv, err := h.modelRepo.GetModelVersion(vars["key"], version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

// GetDriftHistory handles GET /v1/models/{key}/drift
func (h *DashboardHandler) GetDriftHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		fmt.Sscanf(limitParam, "%d", &limit)
	}

	checks, err := h.driftRepo.ListDriftChecks(vars["key"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": checks,
	})
}

// ListAlerts handles GET /v1/alerts
func (h *DashboardHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	includeDismissed := r.URL.Query().Get("include_dismissed") == "true"
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		fmt.Sscanf(limitParam, "%d", &limit)
	}

	alerts, err := h.alertRepo.ListAlerts(includeDismissed, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": alerts,
	})
}

// DismissAlert handles POST /v1/alerts/{id}/dismiss
func (h *DashboardHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, &models.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	if err := h.alertRepo.DismissAlert(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"dismissed": true,
	})
}

// GetStatus handles GET /v1/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": h.scheduler.Stats(),
		"resources": map[string]interface{}{
			"cpu_percent": snap.CPUPercent,
			"mem_percent": snap.MemPercent,
			"gpu_slots":   snap.GPUSlots,
			"sampled_at":  snap.SampledAt,
		},
	})
}
