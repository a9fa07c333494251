package repository

import (
	"strconv"
	"time"

	"model-orchestrator/core/models"
)

// AlertRepository handles database operations for dashboard alerts
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// SaveAlert inserts an alert
func (r *AlertRepository) SaveAlert(alert *models.Alert) error {
	query := `
		INSERT INTO alerts (severity, kind, model_key, job_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	return r.db.QueryRow(query,
		alert.Severity,
		alert.Kind,
		nullString(alert.ModelKey),
		nullString(alert.JobID),
		alert.Message,
		alert.CreatedAt,
	).Scan(&alert.ID)
}

// ListAlerts returns alerts newest first, optionally only undismissed
func (r *AlertRepository) ListAlerts(includeDismissed bool, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, severity, kind, COALESCE(model_key, ''), COALESCE(job_id::text, ''),
			message, dismissed, created_at
		FROM alerts
	`
	if !includeDismissed {
		query += ` WHERE dismissed = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var a models.Alert
		err := rows.Scan(&a.ID, &a.Severity, &a.Kind, &a.ModelKey, &a.JobID,
			&a.Message, &a.Dismissed, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// DismissAlert marks an alert as handled
func (r *AlertRepository) DismissAlert(id int64) error {
	query := `UPDATE alerts SET dismissed = TRUE WHERE id = $1`
	res, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: "alert", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}
