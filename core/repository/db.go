package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps the sql connection pool shared by the repositories
type DB struct {
	*sql.DB
}

// NewDB opens a postgres connection and verifies it
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

// InitSchema creates the tables if they do not exist
func (db *DB) InitSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT,
			model_key TEXT NOT NULL,
			version INT NOT NULL DEFAULT 0,
			priority INT NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			client_ip TEXT,
			user_agent TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error_message TEXT,
			progress_current INT NOT NULL DEFAULT 0,
			progress_total INT NOT NULL DEFAULT 0,
			result_json JSONB
		);

		CREATE TABLE IF NOT EXISTS job_events (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES jobs(id),
			from_status TEXT,
			to_status TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS model_versions (
			model_key TEXT NOT NULL,
			version INT NOT NULL,
			task_type TEXT NOT NULL,
			target_field TEXT NOT NULL,
			feature_fields JSONB NOT NULL,
			status TEXT NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
			metrics_json JSONB,
			artifact_uri TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_trained TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (model_key, version)
		);

		CREATE TABLE IF NOT EXISTS drift_checks (
			id BIGSERIAL PRIMARY KEY,
			model_key TEXT NOT NULL,
			version INT NOT NULL,
			scores_json JSONB NOT NULL,
			verdict TEXT NOT NULL,
			sample_size INT NOT NULL,
			checked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS production_rows (
			id BIGSERIAL PRIMARY KEY,
			model_key TEXT NOT NULL,
			row_json JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_production_rows_model_recorded
			ON production_rows (model_key, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			severity TEXT NOT NULL,
			kind TEXT NOT NULL,
			model_key TEXT,
			job_id UUID,
			message TEXT NOT NULL,
			dismissed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := db.Exec(schema)
	return err
}
