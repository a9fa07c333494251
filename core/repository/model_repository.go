package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"model-orchestrator/core/models"
)

// ModelRepository handles database operations for model versions
type ModelRepository struct {
	db *DB
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// SaveModelVersion inserts a model version row
func (r *ModelRepository) SaveModelVersion(mv *models.ModelVersion) error {
	query := `
		INSERT INTO model_versions (
			model_key, version, task_type, target_field, feature_fields,
			status, accuracy, metrics_json, artifact_uri, created_at, last_trained
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	fields, err := json.Marshal(mv.FeatureFields)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(mv.Metrics)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(query,
		mv.ModelKey,
		mv.Version,
		mv.TaskType,
		mv.TargetField,
		fields,
		mv.Status,
		mv.Accuracy,
		metrics,
		nullString(mv.ArtifactURI),
		mv.CreatedAt,
		mv.LastTrained,
	)
	return err
}

// UpdateModelVersionStatus sets the status of one model version
func (r *ModelRepository) UpdateModelVersionStatus(modelKey string, version int, status models.ModelStatus) error {
	query := `UPDATE model_versions SET status = $1 WHERE model_key = $2 AND version = $3`
	res, err := r.db.Exec(query, status, modelKey, version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: "model_version", ID: versionID(modelKey, version)}
	}
	return nil
}

// ActivateVersion supersedes the current active version and activates
// the given one in a single transaction
func (r *ModelRepository) ActivateVersion(modelKey string, version int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	supersede := `
		UPDATE model_versions SET status = $1
		WHERE model_key = $2 AND status = $3 AND version <> $4
	`
	if _, err := tx.Exec(supersede, models.ModelStatusSuperseded, modelKey, models.ModelStatusActive, version); err != nil {
		return err
	}

	activate := `
		UPDATE model_versions SET status = $1, last_trained = NOW()
		WHERE model_key = $2 AND version = $3
	`
	res, err := tx.Exec(activate, models.ModelStatusActive, modelKey, version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: "model_version", ID: versionID(modelKey, version)}
	}
	return tx.Commit()
}

// GetModelVersion retrieves one model version
func (r *ModelRepository) GetModelVersion(modelKey string, version int) (*models.ModelVersion, error) {
	query := selectModelVersion + ` WHERE model_key = $1 AND version = $2`
	mv, err := scanModelVersion(r.db.QueryRow(query, modelKey, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "model_version", ID: versionID(modelKey, version)}
	}
	return mv, err
}

// GetActiveVersion retrieves the active version of a model
func (r *ModelRepository) GetActiveVersion(modelKey string) (*models.ModelVersion, error) {
	query := selectModelVersion + ` WHERE model_key = $1 AND status = $2`
	mv, err := scanModelVersion(r.db.QueryRow(query, modelKey, models.ModelStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "active_model", ID: modelKey}
	}
	return mv, err
}

// ListActiveVersions returns the active version of every model
func (r *ModelRepository) ListActiveVersions() ([]*models.ModelVersion, error) {
	query := selectModelVersion + ` WHERE status = $1 ORDER BY model_key ASC`
	return r.queryVersions(query, models.ModelStatusActive)
}

// ListModels returns all versions of all models, newest first per model
func (r *ModelRepository) ListModels() ([]*models.ModelVersion, error) {
	query := selectModelVersion + ` ORDER BY model_key ASC, version DESC`
	return r.queryVersions(query)
}

// NextVersion returns the next unused version number for a model
func (r *ModelRepository) NextVersion(modelKey string) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE model_key = $1`
	var next int
	if err := r.db.QueryRow(query, modelKey).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (r *ModelRepository) queryVersions(query string, args ...interface{}) ([]*models.ModelVersion, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, mv)
	}
	return versions, rows.Err()
}

const selectModelVersion = `
	SELECT model_key, version, task_type, target_field, feature_fields,
		status, accuracy, metrics_json, artifact_uri, created_at, last_trained
	FROM model_versions
`

func scanModelVersion(row rowScanner) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	var fields []byte
	var metrics []byte
	var artifactURI sql.NullString

	err := row.Scan(
		&mv.ModelKey,
		&mv.Version,
		&mv.TaskType,
		&mv.TargetField,
		&fields,
		&mv.Status,
		&mv.Accuracy,
		&metrics,
		&artifactURI,
		&mv.CreatedAt,
		&mv.LastTrained,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &mv.FeatureFields); err != nil {
		return nil, err
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &mv.Metrics); err != nil {
			return nil, err
		}
	}
	mv.ArtifactURI = artifactURI.String

	return &mv, nil
}

func versionID(modelKey string, version int) string {
	return fmt.Sprintf("%s/v%d", modelKey, version)
}
