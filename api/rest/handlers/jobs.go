package handlers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"model-orchestrator/core/models"
	"model-orchestrator/core/repository"
	"model-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobRepo   *repository.JobRepository
	scheduler *scheduler.Scheduler
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobRepo *repository.JobRepository, sched *scheduler.Scheduler) *JobHandler {
	return &JobHandler{
		jobRepo:   jobRepo,
		scheduler: sched,
	}
}

// SubmitTrain handles POST /v1/jobs/train
func (h *JobHandler) SubmitTrain(w http.ResponseWriter, r *http.Request) {
	var req models.TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	req.Source = models.SourceAPI
	req.ClientIP = clientIP(r)
	req.UserAgent = r.UserAgent()

	jobID, err := h.scheduler.SubmitTrain(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     jobID,
		"status": models.JobStatusQueued,
	})
}

// SubmitPredict handles POST /v1/jobs/predict
func (h *JobHandler) SubmitPredict(w http.ResponseWriter, r *http.Request) {
	var req models.PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	req.Source = models.SourceAPI
	req.ClientIP = clientIP(r)
	req.UserAgent = r.UserAgent()

	jobID, err := h.scheduler.SubmitPredict(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     jobID,
		"status": models.JobStatusQueued,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, err := h.jobRepo.GetJob(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filters := scheduler.ListFilters{
		ModelKey: r.URL.Query().Get("model_key"),
		Status:   models.JobStatus(r.URL.Query().Get("status")),
		Type:     models.JobType(r.URL.Query().Get("type")),
		Limit:    50,
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		fmt.Sscanf(limitParam, "%d", &filters.Limit)
	}

	jobs, err := h.jobRepo.ListJobs(filters)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": jobs,
	})
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	if !h.scheduler.Cancel(jobID) {
		job, err := h.jobRepo.GetJob(jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeError(w, &models.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("job is %s and cannot be cancelled", job.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        jobID,
		"cancelled": true,
	})
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	if _, err := h.jobRepo.GetJob(jobID); err != nil {
		writeError(w, err)
		return
	}

	events, err := h.jobRepo.GetJobEvents(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
