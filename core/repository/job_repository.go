package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"model-orchestrator/core/models"
	"model-orchestrator/core/scheduler"

	"github.com/google/uuid"
)

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job and its initial queued event
func (r *JobRepository) CreateJob(job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, job_type, status, stage, model_key, version, priority, source,
			client_ip, user_agent, created_at, progress_current, progress_total
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	jobID := uuid.New()
	if job.ID != "" {
		var err error
		jobID, err = uuid.Parse(job.ID)
		if err != nil {
			return err
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(query,
		jobID,
		job.Type,
		job.Status,
		nullString(string(job.Stage)),
		job.ModelKey,
		job.Version,
		job.Priority,
		job.Source,
		nullString(job.ClientIP),
		nullString(job.UserAgent),
		job.CreatedAt,
		job.Progress.Current,
		job.Progress.Total,
	)
	if err != nil {
		return err
	}

	if err := createJobEventTx(tx, jobID.String(), nil, job.Status, "job_created"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	job.ID = jobID.String()
	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(id string) (*models.Job, error) {
	query := `
		SELECT id, job_type, status, stage, model_key, version, priority, source,
			client_ip, user_agent, created_at, started_at, completed_at,
			error_message, progress_current, progress_total, result_json
		FROM jobs
		WHERE id = $1
	`

	job, err := scanJob(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "job", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs lists jobs newest first with optional filters
func (r *JobRepository) ListJobs(filters scheduler.ListFilters) ([]*models.Job, error) {
	query := `
		SELECT id, job_type, status, stage, model_key, version, priority, source,
			client_ip, user_agent, created_at, started_at, completed_at,
			error_message, progress_current, progress_total, result_json
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if filters.ModelKey != "" {
		query += fmt.Sprintf(" AND model_key = $%d", argIndex)
		args = append(args, filters.ModelKey)
		argIndex++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filters.Status)
		argIndex++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIndex)
		args = append(args, filters.Type)
		argIndex++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a job between statuses atomically with event
// logging. The from status guards against racing transitions: if the
// row no longer holds it, nothing is updated and an error is returned.
func (r *JobRepository) UpdateJobStatus(jobID string, from, to models.JobStatus, reason string) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updateQuery := `UPDATE jobs SET status = $1 WHERE id = $2 AND status = $3`
	if to == models.JobStatusRunning {
		updateQuery = `UPDATE jobs SET status = $1, started_at = NOW() WHERE id = $2 AND status = $3`
	}
	res, err := tx.Exec(updateQuery, to, jobID, from)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s is not in status %s", jobID, from)
	}

	if err := createJobEventTx(tx, jobID, &from, to, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishJob records a terminal status with completion time and the
// error message when the job failed
func (r *JobRepository) FinishJob(jobID string, status models.JobStatus, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var from models.JobStatus
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.NotFoundError{Kind: "job", ID: jobID}
	}
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3
	`
	if _, err := tx.Exec(query, status, nullString(errorMessage), jobID); err != nil {
		return err
	}

	reason := "job_finished"
	if status == models.JobStatusFailed {
		reason = errorMessage
	}
	if err := createJobEventTx(tx, jobID, &from, status, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStage updates the stage of a running job
func (r *JobRepository) SetStage(jobID string, stage models.Stage) error {
	query := `UPDATE jobs SET stage = $1 WHERE id = $2`
	_, err := r.db.Exec(query, stage, jobID)
	return err
}

// SetProgress updates the progress counters of a job
func (r *JobRepository) SetProgress(jobID string, p models.Progress) error {
	query := `UPDATE jobs SET progress_current = $1, progress_total = $2 WHERE id = $3`
	_, err := r.db.Exec(query, p.Current, p.Total, jobID)
	return err
}

// SetResult stores the final result payload of a job
func (r *JobRepository) SetResult(jobID string, result json.RawMessage) error {
	query := `UPDATE jobs SET result_json = $1 WHERE id = $2`
	_, err := r.db.Exec(query, []byte(result), jobID)
	return err
}

// GetJobEvents returns the status transition history of a job, oldest first
func (r *JobRepository) GetJobEvents(jobID string) ([]*models.JobEvent, error) {
	query := `
		SELECT id, job_id, from_status, to_status, reason, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		var fromStatus sql.NullString
		var reason sql.NullString
		err := rows.Scan(&ev.ID, &ev.JobID, &fromStatus, &ev.ToStatus, &reason, &ev.CreatedAt)
		if err != nil {
			return nil, err
		}
		if fromStatus.Valid {
			s := models.JobStatus(fromStatus.String)
			ev.FromStatus = &s
		}
		ev.Reason = reason.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func createJobEventTx(tx *sql.Tx, jobID string, from *models.JobStatus, to models.JobStatus, reason string) error {
	query := `
		INSERT INTO job_events (job_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`

	var fromStr *string
	if from != nil {
		s := string(*from)
		fromStr = &s
	}
	_, err := tx.Exec(query, jobID, fromStr, to, nullString(reason))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var stage sql.NullString
	var clientIP sql.NullString
	var userAgent sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var errorMessage sql.NullString
	var resultJSON []byte

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&stage,
		&job.ModelKey,
		&job.Version,
		&job.Priority,
		&job.Source,
		&clientIP,
		&userAgent,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&job.Progress.Current,
		&job.Progress.Total,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}

	if stage.Valid {
		job.Stage = models.Stage(stage.String)
	}
	job.ClientIP = clientIP.String
	job.UserAgent = userAgent.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	job.ErrorMessage = errorMessage.String
	if len(resultJSON) > 0 {
		job.Result = json.RawMessage(resultJSON)
	}
	job.Progress = models.NewProgress(job.Progress.Current, job.Progress.Total)

	return &job, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
