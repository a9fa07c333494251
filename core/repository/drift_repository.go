package repository

import (
	"context"
	"encoding/json"

	"model-orchestrator/core/models"

	"github.com/lib/pq"
)

// DriftRepository handles drift check history and production samples
type DriftRepository struct {
	db *DB
}

// NewDriftRepository creates a new drift repository
func NewDriftRepository(db *DB) *DriftRepository {
	return &DriftRepository{db: db}
}

// SaveDriftCheck appends one drift check outcome
func (r *DriftRepository) SaveDriftCheck(check *models.DriftCheck) error {
	query := `
		INSERT INTO drift_checks (model_key, version, scores_json, verdict, sample_size, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	scores, err := json.Marshal(check.Scores)
	if err != nil {
		return err
	}
	return r.db.QueryRow(query,
		check.ModelKey,
		check.Version,
		scores,
		check.Verdict,
		check.SampleSize,
		check.CheckedAt,
	).Scan(&check.ID)
}

// ListDriftChecks returns the drift history of a model, newest first
func (r *DriftRepository) ListDriftChecks(modelKey string, limit int) ([]*models.DriftCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, model_key, version, scores_json, verdict, sample_size, checked_at
		FROM drift_checks
		WHERE model_key = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(query, modelKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*models.DriftCheck
	for rows.Next() {
		var check models.DriftCheck
		var scores []byte
		err := rows.Scan(&check.ID, &check.ModelKey, &check.Version, &scores,
			&check.Verdict, &check.SampleSize, &check.CheckedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scores, &check.Scores); err != nil {
			return nil, err
		}
		checks = append(checks, &check)
	}
	return checks, rows.Err()
}

// RecordProductionRows stores inference inputs for later drift checks.
// Rows are written in one batch insert.
func (r *DriftRepository) RecordProductionRows(ctx context.Context, modelKey string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("production_rows", "model_key", "row_json"))
	if err != nil {
		return err
	}

	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, modelKey, string(payload)); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadRecentProductionSample returns the most recent production rows
// for a model, up to limit
func (r *DriftRepository) LoadRecentProductionSample(ctx context.Context, modelKey string, limit int) ([]models.Row, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT row_json
		FROM production_rows
		WHERE model_key = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, modelKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sample []models.Row
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var row models.Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, err
		}
		sample = append(sample, row)
	}
	return sample, rows.Err()
}
