package executor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/events"
	"model-orchestrator/core/models"
	"model-orchestrator/storage"
)

// PredictExecutor runs batch prediction jobs. Schema-invalid rows are
// routed to invalid_items instead of failing the batch; the job only
// fails when no row at all is usable.
type PredictExecutor struct {
	stageRunner
	modelStore    ModelStore
	samples       SampleStore
	artifacts     ArtifactStore
	progressEvery int
}

// NewPredictExecutor creates the executor for predict jobs.
func NewPredictExecutor(
	jobs JobStore,
	modelStore ModelStore,
	samples SampleStore,
	artifacts ArtifactStore,
	publisher *events.Publisher,
	stageTimeout time.Duration,
	progressEvery int,
	logger *zap.Logger,
) *PredictExecutor {
	if progressEvery <= 0 {
		progressEvery = 100
	}
	return &PredictExecutor{
		stageRunner: stageRunner{
			jobs:      jobs,
			publisher: publisher,
			timeout:   stageTimeout,
			logger:    logger.Named("predict"),
		},
		modelStore:    modelStore,
		samples:       samples,
		artifacts:     artifacts,
		progressEvery: progressEvery,
	}
}

// Run executes one predict job. A chunk of progressEvery rows is the
// atomic unit of work: cancellation is observed between chunks, never
// mid-row.
func (e *PredictExecutor) Run(ctx context.Context, task *models.Task) error {
	job, req := task.Job, task.Predict

	if err := e.setStage(job, models.StageRunning); err != nil {
		return err
	}

	mv, err := e.resolveVersion(req)
	if err != nil {
		return err
	}

	var artifact *storage.ModelArtifact
	err = e.withTimeout(ctx, models.StageRunning, func(tctx context.Context) error {
		var loadErr error
		artifact, loadErr = e.artifacts.LoadModel(tctx, mv.ModelKey, mv.Version)
		return loadErr
	})
	if err != nil {
		return err
	}

	total := len(req.Rows)
	results := make([]map[string]interface{}, 0, total)
	invalid := make([]models.InvalidItem, 0)
	valid := make([]models.Row, 0, total)

	for i, row := range req.Rows {
		vec, rowErr := artifact.Snapshot.TransformRow(row)
		if rowErr != nil {
			invalid = append(invalid, models.InvalidItem{Index: i, Reason: rowErr.Error()})
		} else {
			results = append(results, e.predictRow(artifact, i, vec))
			valid = append(valid, row)
		}

		done := i + 1
		if done%e.progressEvery == 0 || done == total {
			e.reportProgress(job, done, total)
			if done < total && task.Cancel.Cancelled() {
				return models.ErrCancelled
			}
		}
	}

	if len(results) == 0 {
		return &models.SchemaError{Field: "rows", Reason: "no valid rows in input batch"}
	}

	// Valid inputs are production traffic; record them so the daily
	// drift check has a sample to compare against.
	if err := e.samples.RecordProductionRows(ctx, mv.ModelKey, valid); err != nil {
		e.logger.Warn("failed to record production sample",
			zap.String("model_key", mv.ModelKey), zap.Error(err))
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"model_key":     mv.ModelKey,
		"version":       mv.Version,
		"results":       results,
		"invalid_items": invalid,
	})
	if err := e.jobs.SetResult(job.ID, payload); err != nil {
		e.logger.Warn("failed to store result", zap.String("job_id", job.ID), zap.Error(err))
	}
	return nil
}

func (e *PredictExecutor) resolveVersion(req *models.PredictRequest) (*models.ModelVersion, error) {
	if req.Version > 0 {
		return e.modelStore.GetModelVersion(req.ModelKey, req.Version)
	}
	return e.modelStore.GetActiveVersion(req.ModelKey)
}

func (e *PredictExecutor) predictRow(artifact *storage.ModelArtifact, index int, vec []float64) map[string]interface{} {
	if artifact.TaskType == models.TaskRegression {
		return map[string]interface{}{
			"index":      index,
			"prediction": artifact.Network.Predict(vec)[0],
		}
	}
	classIdx, confidence := artifact.Network.PredictClass(vec)
	label := ""
	if classIdx < len(artifact.Labels) {
		label = artifact.Labels[classIdx]
	}
	return map[string]interface{}{
		"index":      index,
		"prediction": label,
		"confidence": confidence,
	}
}
