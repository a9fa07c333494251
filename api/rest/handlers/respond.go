package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"model-orchestrator/core/models"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the domain error types onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var validation *models.ValidationError
	var schema *models.SchemaError
	var notFound *models.NotFoundError
	var exhausted *models.ResourceExhaustedError
	var insufficient *models.InsufficientDataError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation), errors.As(err, &schema):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &exhausted):
		status = http.StatusTooManyRequests
	case errors.As(err, &insufficient):
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}
