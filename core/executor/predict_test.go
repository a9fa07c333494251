package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"model-orchestrator/core/events"
	"model-orchestrator/core/models"
)

func newPredictHarness(t *testing.T, progressEvery int) (*PredictExecutor, *TrainExecutor, *fakeJobStore, *fakeModelStore, *fakeSampleStore) {
	t.Helper()
	jobs := newFakeJobStore()
	modelStore := newFakeModelStore()
	samples := newFakeSampleStore()
	artifacts := newFakeArtifactStore()
	publisher := events.NewPublisher(256, zaptest.NewLogger(t))
	t.Cleanup(publisher.Close)

	trainExec := NewTrainExecutor(jobs, modelStore, samples, artifacts, publisher,
		5*time.Second, 100, zaptest.NewLogger(t))
	predictExec := NewPredictExecutor(jobs, modelStore, samples, artifacts, publisher,
		5*time.Second, progressEvery, zaptest.NewLogger(t))
	return predictExec, trainExec, jobs, modelStore, samples
}

func trainActiveModel(t *testing.T, trainExec *TrainExecutor) {
	t.Helper()
	req := &models.TrainRequest{
		ModelKey:    "churn",
		TaskType:    models.TaskClassification,
		TargetField: "label",
		Dataset:     classificationDataset(60),
		Hyper:       models.Hyperparameters{Epochs: 30, Seed: 1},
	}
	require.NoError(t, trainExec.Run(context.Background(), trainTask(models.JobTypeTrain, req)))
}

func predictTask(id string, req *models.PredictRequest) *models.Task {
	return &models.Task{
		Job: &models.Job{
			ID:     id,
			Type:   models.JobTypePredict,
			Status: models.JobStatusRunning,
		},
		Predict: req,
		Cancel:  &models.CancelToken{},
	}
}

func TestPredictMixedValidInvalid(t *testing.T) {
	predictExec, trainExec, jobs, _, samples := newPredictHarness(t, 100)
	trainActiveModel(t, trainExec)

	rows := []models.Row{
		{"x1": 0.1, "x2": 0.1, "region": "north"},
		{"x1": 2.1, "x2": 2.2, "region": "south"},
		{"x1": "not-a-number", "x2": 0.2, "region": "north"}, // invalid
		{"x1": 0.2, "x2": 0.1, "region": "north"},
		{"x1": 2.3, "x2": 2.0, "region": "south"},
		{"x1": "bad", "x2": "worse", "region": "south"}, // invalid
		{"x1": 0.05, "x2": 0.2, "region": "north"},
		{"x1": 2.2, "x2": 2.1, "region": "south"},
		{"x1": 0.15, "x2": 0.25, "region": "north"},
		{"x1": 2.0, "x2": 2.4, "region": "south"},
	}
	task := predictTask("predict-1", &models.PredictRequest{ModelKey: "churn", Rows: rows})
	require.NoError(t, predictExec.Run(context.Background(), task))

	assert.Equal(t, []models.Stage{
		models.StageLoadingData,
		models.StagePreparingFeatures,
		models.StageTraining,
		models.StageValidating,
		models.StageRunning,
	}, jobs.stageHistory())

	result := jobs.result("predict-1")
	require.NotNil(t, result)
	results := result["results"].([]interface{})
	invalid := result["invalid_items"].([]interface{})
	assert.Len(t, results, 8)
	assert.Len(t, invalid, 2)

	first := invalid[0].(map[string]interface{})
	assert.Equal(t, float64(2), first["index"])
	assert.NotEmpty(t, first["reason"])

	// Every valid result carries a known label and a confidence.
	for _, r := range results {
		entry := r.(map[string]interface{})
		assert.Contains(t, []interface{}{"low", "high"}, entry["prediction"])
		assert.Greater(t, entry["confidence"].(float64), 0.0)
	}

	// Valid rows recorded as production sample for later drift checks.
	assert.Equal(t, 8, samples.recordedCount("churn"))
}

func TestPredictAllInvalidFails(t *testing.T) {
	predictExec, trainExec, _, _, samples := newPredictHarness(t, 100)
	trainActiveModel(t, trainExec)

	rows := []models.Row{
		{"x1": "a", "x2": 0.1, "region": "north"},
		{"x1": "b", "x2": 0.2, "region": "south"},
	}
	task := predictTask("predict-1", &models.PredictRequest{ModelKey: "churn", Rows: rows})
	err := predictExec.Run(context.Background(), task)

	var schema *models.SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Equal(t, 0, samples.recordedCount("churn"))
}

func TestPredictUnknownModelFails(t *testing.T) {
	predictExec, _, _, _, _ := newPredictHarness(t, 100)

	task := predictTask("predict-1", &models.PredictRequest{
		ModelKey: "ghost",
		Rows:     []models.Row{{"x1": 1.0}},
	})
	err := predictExec.Run(context.Background(), task)

	var notFound *models.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPredictExplicitVersion(t *testing.T) {
	predictExec, trainExec, jobs, _, _ := newPredictHarness(t, 100)
	trainActiveModel(t, trainExec)

	task := predictTask("predict-1", &models.PredictRequest{
		ModelKey: "churn",
		Version:  1,
		Rows:     []models.Row{{"x1": 0.1, "x2": 0.1, "region": "north"}},
	})
	require.NoError(t, predictExec.Run(context.Background(), task))

	result := jobs.result("predict-1")
	require.NotNil(t, result)
	assert.Equal(t, float64(1), result["version"])
}

func TestPredictCancelledBetweenChunks(t *testing.T) {
	predictExec, trainExec, _, _, _ := newPredictHarness(t, 5)
	trainActiveModel(t, trainExec)

	rows := make([]models.Row, 20)
	for i := range rows {
		rows[i] = models.Row{"x1": 0.1, "x2": 0.1, "region": "north"}
	}
	task := predictTask("predict-1", &models.PredictRequest{ModelKey: "churn", Rows: rows})
	task.Cancel.Cancel()

	err := predictExec.Run(context.Background(), task)
	require.ErrorIs(t, err, models.ErrCancelled)
}

func TestPredictProgressPerChunk(t *testing.T) {
	predictExec, trainExec, jobs, _, _ := newPredictHarness(t, 5)
	trainActiveModel(t, trainExec)

	rows := make([]models.Row, 12)
	for i := range rows {
		rows[i] = models.Row{"x1": 0.1, "x2": 0.1, "region": "north"}
	}
	task := predictTask("predict-1", &models.PredictRequest{ModelKey: "churn", Rows: rows})
	require.NoError(t, predictExec.Run(context.Background(), task))

	jobs.mu.Lock()
	var predictUpdates []models.Progress
	for _, p := range jobs.progress {
		if p.Total == 12 {
			predictUpdates = append(predictUpdates, p)
		}
	}
	jobs.mu.Unlock()

	// Chunks of 5: updates at 5, 10 and the final 12.
	require.Len(t, predictUpdates, 3)
	assert.Equal(t, 5, predictUpdates[0].Current)
	assert.Equal(t, 10, predictUpdates[1].Current)
	assert.Equal(t, 12, predictUpdates[2].Current)
}
