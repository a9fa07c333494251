package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"model-orchestrator/core/events"
	"model-orchestrator/core/models"
)

func classificationDataset(n int) []models.Row {
	// Two well-separated clusters so a small network converges fast.
	rng := rand.New(rand.NewSource(7))
	rows := make([]models.Row, n)
	for i := range rows {
		if i%2 == 0 {
			rows[i] = models.Row{
				"x1":     rng.Float64() * 0.3,
				"x2":     rng.Float64() * 0.3,
				"region": "north",
				"label":  "low",
			}
		} else {
			rows[i] = models.Row{
				"x1":     2.0 + rng.Float64()*0.3,
				"x2":     2.0 + rng.Float64()*0.3,
				"region": "south",
				"label":  "high",
			}
		}
	}
	return rows
}

func newTrainHarness(t *testing.T) (*TrainExecutor, *fakeJobStore, *fakeModelStore, *fakeSampleStore, *fakeArtifactStore) {
	t.Helper()
	jobs := newFakeJobStore()
	modelStore := newFakeModelStore()
	samples := newFakeSampleStore()
	artifacts := newFakeArtifactStore()
	publisher := events.NewPublisher(256, zaptest.NewLogger(t))
	t.Cleanup(publisher.Close)

	exec := NewTrainExecutor(jobs, modelStore, samples, artifacts, publisher,
		5*time.Second, 100, zaptest.NewLogger(t))
	return exec, jobs, modelStore, samples, artifacts
}

func trainTask(jobType models.JobType, req *models.TrainRequest) *models.Task {
	return &models.Task{
		Job: &models.Job{
			ID:     "job-1",
			Type:   jobType,
			Status: models.JobStatusRunning,
		},
		Train:  req,
		Cancel: &models.CancelToken{},
	}
}

func TestTrainRunCompletes(t *testing.T) {
	exec, jobs, modelStore, _, artifacts := newTrainHarness(t)

	req := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(60),
		Hyper:       models.Hyperparameters{Epochs: 30, Seed: 1},
	}
	task := trainTask(models.JobTypeTrain, req)

	require.NoError(t, exec.Run(context.Background(), task))

	// Stages in order.
	assert.Equal(t, []models.Stage{
		models.StageLoadingData,
		models.StagePreparingFeatures,
		models.StageTraining,
		models.StageValidating,
	}, jobs.stageHistory())

	// Version 1 saved and activated.
	assert.Equal(t, 1, modelStore.activeVersion("churn"))
	mv, err := modelStore.GetActiveVersion("churn")
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusActive, mv.Status)
	assert.NotEmpty(t, mv.ArtifactURI)
	assert.Greater(t, mv.Accuracy, 0.8)
	assert.False(t, mv.CreatedAt.IsZero())
	assert.False(t, mv.LastTrained.IsZero())

	// Artifact persisted and loadable.
	artifact, err := artifacts.LoadModel(context.Background(), "churn", 1)
	require.NoError(t, err)
	assert.NotNil(t, artifact.Network)
	assert.NotNil(t, artifact.Snapshot)
	assert.Equal(t, []string{"high", "low"}, artifact.Labels)

	// Result payload carries key, version and metrics.
	result := jobs.result("job-1")
	require.NotNil(t, result)
	assert.Equal(t, "churn", result["model_key"])
	assert.Equal(t, float64(1), result["version"])
}

func TestTrainRegression(t *testing.T) {
	exec, jobs, modelStore, _, _ := newTrainHarness(t)

	rows := make([]models.Row, 50)
	for i := range rows {
		x := float64(i) / 10.0
		rows[i] = models.Row{"x": x, "y": 3*x + 1}
	}
	req := &models.TrainRequest{
		ModelKey:    "pricing",
		TaskType:    models.TaskRegression,
		TargetField: "y",
		Dataset:     rows,
		Hyper:       models.Hyperparameters{Epochs: 60, Seed: 1},
	}
	require.NoError(t, exec.Run(context.Background(), trainTask(models.JobTypeTrain, req)))

	mv, err := modelStore.GetActiveVersion("pricing")
	require.NoError(t, err)
	assert.Contains(t, mv.Metrics, "rmse")
	assert.Contains(t, mv.Metrics, "mae")

	result := jobs.result("job-1")
	require.NotNil(t, result)
	assert.Equal(t, "pricing", result["model_key"])
}

func TestTrainSingleClassFails(t *testing.T) {
	exec, _, _, _, _ := newTrainHarness(t)

	rows := make([]models.Row, 20)
	for i := range rows {
		rows[i] = models.Row{"x": float64(i), "label": "only"}
	}
	req := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     rows,
	}
	err := exec.Run(context.Background(), trainTask(models.JobTypeTrain, req))

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "label", validation.Field)
}

func TestTrainCancelledBetweenStages(t *testing.T) {
	exec, jobs, modelStore, _, _ := newTrainHarness(t)

	req := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(40),
	}
	task := trainTask(models.JobTypeTrain, req)
	task.Cancel.Cancel()

	err := exec.Run(context.Background(), task)
	require.ErrorIs(t, err, models.ErrCancelled)

	// Cancelled during loading_data, before any model work.
	assert.Equal(t, []models.Stage{models.StageLoadingData}, jobs.stageHistory())
	assert.Equal(t, 0, modelStore.activeVersion("churn"))
}

func TestRetrainLoadsProductionSample(t *testing.T) {
	exec, _, modelStore, samples, artifacts := newTrainHarness(t)

	// Train v1 the normal way.
	base := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(60),
		Hyper:       models.Hyperparameters{Epochs: 25, Seed: 1},
	}
	require.NoError(t, exec.Run(context.Background(), trainTask(models.JobTypeTrain, base)))
	require.Equal(t, 1, modelStore.activeVersion("churn"))

	// Retrain with an empty dataset pulls the production sample.
	samples.samples["churn"] = classificationDataset(80)
	retrain := &models.TrainRequest{
		ModelKey:    "churn",
		Version:     1,
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Hyper:       models.Hyperparameters{Epochs: 25, Seed: 1},
	}
	task := trainTask(models.JobTypeRetrain, retrain)
	task.Job.ID = "job-2"
	require.NoError(t, exec.Run(context.Background(), task))

	// New version is assigned and supersedes v1.
	assert.Equal(t, 2, modelStore.activeVersion("churn"))
	old, err := modelStore.GetModelVersion("churn", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusSuperseded, old.Status)

	// Warm-started vocabulary keeps the prior category encoding.
	prior, err := artifacts.LoadModel(context.Background(), "churn", 1)
	require.NoError(t, err)
	fresh, err := artifacts.LoadModel(context.Background(), "churn", 2)
	require.NoError(t, err)
	assert.Equal(t, prior.Snapshot.Categorical["region"].Vocab, fresh.Snapshot.Categorical["region"].Vocab)
}

func TestConcurrentRetrainsLeaveOneActive(t *testing.T) {
	exec, _, modelStore, samples, _ := newTrainHarness(t)

	base := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(60),
		Hyper:       models.Hyperparameters{Epochs: 20, Seed: 1},
	}
	require.NoError(t, exec.Run(context.Background(), trainTask(models.JobTypeTrain, base)))
	samples.samples["churn"] = classificationDataset(80)

	// Two retrains for the same model racing through activation.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			retrain := &models.TrainRequest{
				ModelKey:    "churn",
				Version:     1,
				TaskType:    models.TaskClassification,
				TargetField: "label",
				Hyper:       models.Hyperparameters{Epochs: 15, Seed: int64(i + 1)},
			}
			task := trainTask(models.JobTypeRetrain, retrain)
			task.Job.ID = fmt.Sprintf("job-%d", i+2)
			errs[i] = exec.Run(context.Background(), task)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Whichever retrain activated last wins; everything else is
	// superseded. Never two actives.
	assert.Equal(t, 1, modelStore.countByStatus("churn", models.ModelStatusActive))
	assert.Equal(t, 2, modelStore.countByStatus("churn", models.ModelStatusSuperseded))
	assert.Contains(t, []int{2, 3}, modelStore.activeVersion("churn"))
}

func TestRetrainNoSampleFails(t *testing.T) {
	exec, _, _, _, _ := newTrainHarness(t)

	retrain := &models.TrainRequest{
		ModelKey:    "churn",
		Version:     1,
		TaskType:    models.TaskClassification,
		TargetField: "label",
	}
	err := exec.Run(context.Background(), trainTask(models.JobTypeRetrain, retrain))

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "dataset", validation.Field)
}

func TestTrainProgressMonotonic(t *testing.T) {
	exec, jobs, _, _, _ := newTrainHarness(t)

	// Fewer rows than epochs: every progress event must stay in epoch
	// units, or current would jump back down after training.
	req := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(10),
		Hyper:       models.Hyperparameters{Epochs: 50, Seed: 1},
	}
	require.NoError(t, exec.Run(context.Background(), trainTask(models.JobTypeTrain, req)))

	jobs.mu.Lock()
	progress := append([]models.Progress(nil), jobs.progress...)
	jobs.mu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Current, progress[i-1].Current,
			"progress went backwards at event %d", i)
		assert.Equal(t, progress[i-1].Total, progress[i].Total)
	}
	last := progress[len(progress)-1]
	assert.Equal(t, 50, last.Total)
	assert.Equal(t, last.Total, last.Current)
}
