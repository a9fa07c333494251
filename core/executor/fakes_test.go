package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"model-orchestrator/core/models"
	"model-orchestrator/storage"
)

type fakeJobStore struct {
	mu       sync.Mutex
	stages   []models.Stage
	progress []models.Progress
	results  map[string]json.RawMessage
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{results: make(map[string]json.RawMessage)}
}

func (f *fakeJobStore) SetStage(jobID string, stage models.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeJobStore) SetProgress(jobID string, p models.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
	return nil
}

func (f *fakeJobStore) SetResult(jobID string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[jobID] = result
	return nil
}

func (f *fakeJobStore) stageHistory() []models.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Stage, len(f.stages))
	copy(out, f.stages)
	return out
}

func (f *fakeJobStore) result(jobID string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.results[jobID]
	if !ok {
		return nil
	}
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	return out
}

type fakeModelStore struct {
	mu       sync.Mutex
	versions map[string]*models.ModelVersion
	active   map[string]int
	next     map[string]int
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{
		versions: make(map[string]*models.ModelVersion),
		active:   make(map[string]int),
		next:     make(map[string]int),
	}
}

func versionKey(modelKey string, version int) string {
	return fmt.Sprintf("%s/%d", modelKey, version)
}

func (f *fakeModelStore) SaveModelVersion(mv *models.ModelVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *mv
	f.versions[versionKey(mv.ModelKey, mv.Version)] = &clone
	return nil
}

func (f *fakeModelStore) UpdateModelVersionStatus(modelKey string, version int, status models.ModelStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mv, ok := f.versions[versionKey(modelKey, version)]
	if !ok {
		return &models.NotFoundError{Kind: "model_version", ID: versionKey(modelKey, version)}
	}
	mv.Status = status
	return nil
}

func (f *fakeModelStore) ActivateVersion(modelKey string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mv, ok := f.versions[versionKey(modelKey, version)]
	if !ok {
		return &models.NotFoundError{Kind: "model_version", ID: versionKey(modelKey, version)}
	}
	if prev, ok := f.active[modelKey]; ok && prev != version {
		if old, ok := f.versions[versionKey(modelKey, prev)]; ok {
			old.Status = models.ModelStatusSuperseded
		}
	}
	mv.Status = models.ModelStatusActive
	f.active[modelKey] = version
	return nil
}

func (f *fakeModelStore) GetModelVersion(modelKey string, version int) (*models.ModelVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mv, ok := f.versions[versionKey(modelKey, version)]
	if !ok {
		return nil, &models.NotFoundError{Kind: "model_version", ID: versionKey(modelKey, version)}
	}
	clone := *mv
	return &clone, nil
}

func (f *fakeModelStore) GetActiveVersion(modelKey string) (*models.ModelVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.active[modelKey]
	if !ok {
		return nil, &models.NotFoundError{Kind: "active_model", ID: modelKey}
	}
	clone := *f.versions[versionKey(modelKey, version)]
	return &clone, nil
}

func (f *fakeModelStore) NextVersion(modelKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next[modelKey]++
	return f.next[modelKey], nil
}

func (f *fakeModelStore) activeVersion(modelKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[modelKey]
}

func (f *fakeModelStore) countByStatus(modelKey string, status models.ModelStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, mv := range f.versions {
		if mv.ModelKey == modelKey && mv.Status == status {
			n++
		}
	}
	return n
}

type fakeSampleStore struct {
	mu       sync.Mutex
	samples  map[string][]models.Row
	recorded map[string][]models.Row
}

func newFakeSampleStore() *fakeSampleStore {
	return &fakeSampleStore{
		samples:  make(map[string][]models.Row),
		recorded: make(map[string][]models.Row),
	}
}

func (f *fakeSampleStore) LoadRecentProductionSample(ctx context.Context, modelKey string, limit int) ([]models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.samples[modelKey]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeSampleStore) RecordProductionRows(ctx context.Context, modelKey string, rows []models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[modelKey] = append(f.recorded[modelKey], rows...)
	return nil
}

func (f *fakeSampleStore) recordedCount(modelKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded[modelKey])
}

type fakeArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]*storage.ModelArtifact
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{artifacts: make(map[string]*storage.ModelArtifact)}
}

func (f *fakeArtifactStore) SaveModel(ctx context.Context, artifact *storage.ModelArtifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[versionKey(artifact.ModelKey, artifact.Version)] = artifact
	return fmt.Sprintf("mem://%s/v%d", artifact.ModelKey, artifact.Version), nil
}

func (f *fakeArtifactStore) LoadModel(ctx context.Context, modelKey string, version int) (*storage.ModelArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	artifact, ok := f.artifacts[versionKey(modelKey, version)]
	if !ok {
		return nil, &models.NotFoundError{Kind: "artifact", ID: versionKey(modelKey, version)}
	}
	return artifact, nil
}
