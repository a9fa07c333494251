package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"model-orchestrator/core/events"
	"model-orchestrator/core/features"
	"model-orchestrator/core/models"
	"model-orchestrator/core/training"
	"model-orchestrator/storage"
)

// TrainExecutor drives the train/retrain stage machine:
// loading_data -> preparing_features -> training -> validating.
// Each stage is a checkpoint; failure terminates the job without
// re-attempting earlier stages.
type TrainExecutor struct {
	stageRunner
	modelStore  ModelStore
	samples     SampleStore
	artifacts   ArtifactStore
	sampleLimit int
}

// NewTrainExecutor creates the executor for train and retrain jobs.
func NewTrainExecutor(
	jobs JobStore,
	modelStore ModelStore,
	samples SampleStore,
	artifacts ArtifactStore,
	publisher *events.Publisher,
	stageTimeout time.Duration,
	sampleLimit int,
	logger *zap.Logger,
) *TrainExecutor {
	if sampleLimit <= 0 {
		sampleLimit = 1000
	}
	return &TrainExecutor{
		stageRunner: stageRunner{
			jobs:      jobs,
			publisher: publisher,
			timeout:   stageTimeout,
			logger:    logger.Named("train"),
		},
		modelStore:  modelStore,
		samples:     samples,
		artifacts:   artifacts,
		sampleLimit: sampleLimit,
	}
}

// Run executes one train or retrain job. Cancellation is observed at
// stage boundaries only.
func (e *TrainExecutor) Run(ctx context.Context, task *models.Task) error {
	job, req := task.Job, task.Train

	// loading_data
	if err := e.setStage(job, models.StageLoadingData); err != nil {
		return err
	}
	rows, err := e.loadData(ctx, job, req)
	if err != nil {
		return err
	}
	if task.Cancel.Cancelled() {
		return models.ErrCancelled
	}

	// preparing_features
	if err := e.setStage(job, models.StagePreparingFeatures); err != nil {
		return err
	}
	fields := req.FeatureFields
	if len(fields) == 0 {
		fields = inferFeatureFields(rows[0], req.TargetField)
	}
	opts := features.FitOptions{}
	if job.Type == models.JobTypeRetrain {
		// Warm-start the vocabulary from the prior snapshot so stable
		// categories keep their encoding across versions. The snapshot
		// itself is always fitted fresh.
		if prior, err := e.artifacts.LoadModel(ctx, req.ModelKey, req.Version); err == nil && prior.Snapshot != nil {
			opts.SeedVocab = make(map[string][]string, len(prior.Snapshot.Categorical))
			for field, cs := range prior.Snapshot.Categorical {
				opts.SeedVocab[field] = cs.Vocab
			}
		} else if err != nil {
			e.logger.Warn("prior snapshot unavailable, fitting cold",
				zap.String("model_key", req.ModelKey), zap.Int("version", req.Version), zap.Error(err))
		}
	}
	snap, err := features.Fit(rows, fields, opts)
	if err != nil {
		return err
	}
	x, err := snap.Transform(rows)
	if err != nil {
		return err
	}
	if task.Cancel.Cancelled() {
		return models.ErrCancelled
	}

	// training
	if err := e.setStage(job, models.StageTraining); err != nil {
		return err
	}
	trainIdx, holdIdx := splitIndices(len(rows), req.Hyper.ValidationSplit, req.Hyper.Seed)
	net, labels, err := e.train(x, rows, req, trainIdx, job)
	if err != nil {
		return err
	}
	if task.Cancel.Cancelled() {
		return models.ErrCancelled
	}

	// validating
	if err := e.setStage(job, models.StageValidating); err != nil {
		return err
	}
	metrics := evaluate(net, x, rows, req, labels, holdIdx)

	version := req.Version
	if version == 0 || job.Type == models.JobTypeRetrain {
		version, err = e.modelStore.NextVersion(req.ModelKey)
		if err != nil {
			return fmt.Errorf("assign version: %w", err)
		}
	}

	now := time.Now()
	mv := &models.ModelVersion{
		ModelKey:      req.ModelKey,
		Version:       version,
		TaskType:      req.TaskType,
		TargetField:   req.TargetField,
		FeatureFields: fields,
		Status:        models.ModelStatusTraining,
		Accuracy:      metrics["accuracy"],
		Metrics:       metrics,
		CreatedAt:     now,
		LastTrained:   now,
	}

	artifact := &storage.ModelArtifact{
		ModelKey:    req.ModelKey,
		Version:     version,
		TaskType:    req.TaskType,
		TargetField: req.TargetField,
		Labels:      labels,
		Snapshot:    snap,
		Network:     net,
	}
	err = e.withTimeout(ctx, models.StageValidating, func(tctx context.Context) error {
		uri, saveErr := e.artifacts.SaveModel(tctx, artifact)
		mv.ArtifactURI = uri
		return saveErr
	})
	if err != nil {
		return err
	}

	if err := e.modelStore.SaveModelVersion(mv); err != nil {
		return fmt.Errorf("save model version: %w", err)
	}
	if err := e.modelStore.ActivateVersion(req.ModelKey, version); err != nil {
		e.markFailed(req.ModelKey, version)
		return fmt.Errorf("activate version: %w", err)
	}

	result, _ := json.Marshal(map[string]interface{}{
		"model_key": req.ModelKey,
		"version":   version,
		"metrics":   metrics,
	})
	if err := e.jobs.SetResult(job.ID, result); err != nil {
		e.logger.Warn("failed to store result", zap.String("job_id", job.ID), zap.Error(err))
	}

	e.logger.Info("model version trained",
		zap.String("model_key", req.ModelKey),
		zap.Int("version", version),
		zap.String("job_id", job.ID))
	return nil
}

func (e *TrainExecutor) loadData(ctx context.Context, job *models.Job, req *models.TrainRequest) ([]models.Row, error) {
	rows := req.Dataset
	if len(rows) == 0 && job.Type == models.JobTypeRetrain {
		err := e.withTimeout(ctx, models.StageLoadingData, func(tctx context.Context) error {
			var loadErr error
			rows, loadErr = e.samples.LoadRecentProductionSample(tctx, req.ModelKey, e.sampleLimit)
			return loadErr
		})
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, &models.ValidationError{Field: "dataset", Reason: "no training data available"}
	}
	return rows, nil
}

func (e *TrainExecutor) train(x *mat.Dense, rows []models.Row, req *models.TrainRequest, trainIdx []int, job *models.Job) (*training.Network, []string, error) {
	cfg := training.Config{
		HiddenUnits:  req.Hyper.HiddenUnits,
		Epochs:       req.Hyper.Epochs,
		LearningRate: req.Hyper.LearningRate,
		BatchSize:    req.Hyper.BatchSize,
		Seed:         req.Hyper.Seed,
	}
	xTrain := subsetRows(x, trainIdx)

	onEpoch := func(epoch, total int, loss float64) {
		e.reportProgress(job, epoch, total)
	}

	if req.TaskType == models.TaskRegression {
		y := make([]float64, len(trainIdx))
		for i, idx := range trainIdx {
			v, ok := numericTarget(rows[idx], req.TargetField)
			if !ok {
				return nil, nil, &models.SchemaError{Field: req.TargetField, Reason: fmt.Sprintf("non-numeric target in row %d", idx)}
			}
			y[i] = v
		}
		net, err := training.TrainRegressor(xTrain, y, cfg, onEpoch)
		return net, nil, err
	}

	labels := labelVocabulary(rows, req.TargetField)
	if len(labels) < 2 {
		return nil, nil, &models.ValidationError{Field: req.TargetField, Reason: "need at least 2 distinct classes"}
	}
	labelIdx := make(map[string]int, len(labels))
	for i, l := range labels {
		labelIdx[l] = i
	}
	y := make([]int, len(trainIdx))
	for i, idx := range trainIdx {
		y[i] = labelIdx[stringTarget(rows[idx], req.TargetField)]
	}
	net, err := training.TrainClassifier(xTrain, y, len(labels), cfg, onEpoch)
	return net, labels, err
}

// evaluate computes the held-out metric. With no holdout rows the
// training set is scored instead, which overstates quality but keeps
// tiny datasets usable.
func evaluate(net *training.Network, x *mat.Dense, rows []models.Row, req *models.TrainRequest, labels []string, holdIdx []int) map[string]float64 {
	idx := holdIdx
	if len(idx) == 0 {
		idx = make([]int, len(rows))
		for i := range idx {
			idx[i] = i
		}
	}

	if req.TaskType == models.TaskRegression {
		sse, sae := 0.0, 0.0
		n := 0
		for _, i := range idx {
			target, ok := numericTarget(rows[i], req.TargetField)
			if !ok {
				continue
			}
			pred := net.Predict(x.RawRowView(i))[0]
			diff := pred - target
			sse += diff * diff
			sae += math.Abs(diff)
			n++
		}
		if n == 0 {
			return map[string]float64{}
		}
		return map[string]float64{
			"rmse": math.Sqrt(sse / float64(n)),
			"mae":  sae / float64(n),
		}
	}

	labelIdx := make(map[string]int, len(labels))
	for i, l := range labels {
		labelIdx[l] = i
	}
	correct := 0
	for _, i := range idx {
		want := labelIdx[stringTarget(rows[i], req.TargetField)]
		got, _ := net.PredictClass(x.RawRowView(i))
		if got == want {
			correct++
		}
	}
	return map[string]float64{"accuracy": float64(correct) / float64(len(idx))}
}

func (e *TrainExecutor) markFailed(modelKey string, version int) {
	if err := e.modelStore.UpdateModelVersionStatus(modelKey, version, models.ModelStatusFailed); err != nil {
		e.logger.Warn("failed to mark version failed",
			zap.String("model_key", modelKey), zap.Int("version", version), zap.Error(err))
	}
}

func inferFeatureFields(row models.Row, targetField string) []string {
	fields := make([]string, 0, len(row))
	for k := range row {
		if k != targetField {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

// splitIndices deterministically partitions row indices into training
// and held-out sets.
func splitIndices(n int, validationSplit float64, seed int64) (trainIdx, holdIdx []int) {
	if validationSplit <= 0 || validationSplit >= 1 {
		validationSplit = 0.2
	}
	if seed == 0 {
		seed = 1
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	holdout := int(float64(n) * validationSplit)
	if n-holdout < 2 {
		holdout = 0
	}
	return perm[holdout:], perm[:holdout]
}

func subsetRows(x *mat.Dense, idx []int) *mat.Dense {
	_, cols := x.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, src := range idx {
		out.SetRow(i, x.RawRowView(src))
	}
	return out
}

func labelVocabulary(rows []models.Row, targetField string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, row := range rows {
		l := stringTarget(row, targetField)
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)
	return labels
}

func stringTarget(row models.Row, field string) string {
	return fmt.Sprintf("%v", row[field])
}

func numericTarget(row models.Row, field string) (float64, bool) {
	switch v := row[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
