package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/events"
	"model-orchestrator/core/models"
	"model-orchestrator/storage"
)

// JobStore is the slice of the persistence collaborator executors
// need: stage, progress and result updates on the running job.
type JobStore interface {
	SetStage(jobID string, stage models.Stage) error
	SetProgress(jobID string, p models.Progress) error
	SetResult(jobID string, result json.RawMessage) error
}

// ModelStore persists model versions and performs atomic activation.
// ActivateVersion supersedes the previous active version and activates
// the new one in a single repository call.
type ModelStore interface {
	SaveModelVersion(mv *models.ModelVersion) error
	UpdateModelVersionStatus(modelKey string, version int, status models.ModelStatus) error
	ActivateVersion(modelKey string, version int) error
	GetModelVersion(modelKey string, version int) (*models.ModelVersion, error)
	GetActiveVersion(modelKey string) (*models.ModelVersion, error)
	NextVersion(modelKey string) (int, error)
}

// SampleStore reads and records production feature rows.
type SampleStore interface {
	LoadRecentProductionSample(ctx context.Context, modelKey string, limit int) ([]models.Row, error)
	RecordProductionRows(ctx context.Context, modelKey string, rows []models.Row) error
}

// ArtifactStore persists and loads trained model artifacts.
type ArtifactStore interface {
	SaveModel(ctx context.Context, artifact *storage.ModelArtifact) (string, error)
	LoadModel(ctx context.Context, modelKey string, version int) (*storage.ModelArtifact, error)
}

// stageRunner carries the pieces both executors share.
type stageRunner struct {
	jobs      JobStore
	publisher *events.Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

// setStage records a stage transition and publishes it. Stages outside
// the job type's closed set are a programming error and rejected.
func (r *stageRunner) setStage(job *models.Job, stage models.Stage) error {
	if !models.ValidStage(job.Type, stage) {
		return errors.New("stage " + string(stage) + " not valid for job type " + string(job.Type))
	}
	if err := r.jobs.SetStage(job.ID, stage); err != nil {
		return err
	}
	job.Stage = stage

	r.publisher.Publish(events.Event{
		JobID: job.ID,
		Type:  events.TypeStatus,
		Payload: map[string]interface{}{
			"status": models.JobStatusRunning,
			"stage":  stage,
		},
	})
	return nil
}

// reportProgress persists and publishes a progress update.
func (r *stageRunner) reportProgress(job *models.Job, current, total int) {
	p := models.NewProgress(current, total)
	job.Progress = p
	if err := r.jobs.SetProgress(job.ID, p); err != nil {
		r.logger.Warn("failed to persist progress", zap.String("job_id", job.ID), zap.Error(err))
	}
	r.publisher.Publish(events.Event{
		JobID: job.ID,
		Type:  events.TypeProgress,
		Payload: map[string]interface{}{
			"current": p.Current,
			"total":   p.Total,
			"percent": p.Percent,
		},
	})
}

// withTimeout runs fn under the stage time budget, translating a
// deadline hit into a TimeoutError for that stage.
func (r *stageRunner) withTimeout(ctx context.Context, stage models.Stage, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := fn(tctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || tctx.Err() == context.DeadlineExceeded) {
		return &models.TimeoutError{Stage: stage, Limit: r.timeout}
	}
	return err
}
