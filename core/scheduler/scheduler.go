package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/config"
	"model-orchestrator/core/events"
	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
)

// Default priorities per job type. Interactive predictions outrank
// batch training; drift-triggered retrains run at the back of the
// line and rely on aging for eventual admission.
const (
	defaultPredictPriority = 10
	defaultTrainPriority   = 5
	defaultRetrainPriority = 1
)

// JobStore is the persistence collaborator the scheduler depends on.
type JobStore interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	ListJobs(filters ListFilters) ([]*models.Job, error)
	UpdateJobStatus(id string, from, to models.JobStatus, reason string) error
	FinishJob(id string, status models.JobStatus, errorMessage string) error
}

// ListFilters narrows ListJobs results. Zero values match everything.
type ListFilters struct {
	ModelKey string
	Status   models.JobStatus
	Type     models.JobType
	Limit    int
}

// AlertStore records alerts derived from job failures.
type AlertStore interface {
	SaveAlert(alert *models.Alert) error
}

// CapacityReader exposes the resource monitor's latest snapshot.
type CapacityReader interface {
	Snapshot() monitoring.Snapshot
}

// Executor runs an admitted task to completion. A nil return means
// the job completed; models.ErrCancelled means the cooperative cancel
// flag was observed; any other error fails the job.
type Executor interface {
	Run(ctx context.Context, task *models.Task) error
}

// Scheduler accepts job submissions, orders them, admits them against
// the slot budget and resource pressure, and drives execution.
type Scheduler struct {
	jobs      JobStore
	alerts    AlertStore
	queue     *Queue
	slots     *SlotTable
	monitor   CapacityReader
	executors map[models.JobType]Executor
	publisher *events.Publisher
	cfg       config.SchedulerConfig
	logger    *zap.Logger

	tokenMu sync.Mutex
	tokens  map[string]*models.CancelToken

	wake     chan struct{}
	stopChan chan struct{}
}

// NewScheduler creates a scheduler. Executors are registered per job
// type; train and retrain usually share one.
func NewScheduler(
	jobs JobStore,
	alerts AlertStore,
	monitor CapacityReader,
	executors map[models.JobType]Executor,
	publisher *events.Publisher,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:      jobs,
		alerts:    alerts,
		queue:     NewQueue(cfg.AgingRate),
		slots:     NewSlotTable(cfg.CPUSlots, cfg.GPUSlots),
		monitor:   monitor,
		executors: executors,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
		tokens:    make(map[string]*models.CancelToken),
		wake:      make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Start runs the admission loop. Admission re-evaluates on a fixed
// interval and whenever a slot frees up.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AdmissionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.admit(ctx)
		case <-s.wake:
			s.admit(ctx)
		}
	}
}

// Stop stops the admission loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// SubmitTrain validates and enqueues a training job. Returns the job
// id immediately; execution happens asynchronously.
func (s *Scheduler) SubmitTrain(req *models.TrainRequest) (string, error) {
	if err := validateTrain(req); err != nil {
		return "", err
	}
	job := s.newJob(models.JobTypeTrain, req.ModelKey, req.Version, req.Priority, defaultTrainPriority, req.Source, req.ClientIP, req.UserAgent)
	return s.enqueue(&models.Task{Job: job, Train: req})
}

// SubmitPredict validates and enqueues a prediction job.
func (s *Scheduler) SubmitPredict(req *models.PredictRequest) (string, error) {
	if req.ModelKey == "" {
		return "", &models.ValidationError{Field: "model_key", Reason: "required"}
	}
	if len(req.Rows) == 0 {
		return "", &models.ValidationError{Field: "rows", Reason: "must not be empty"}
	}
	job := s.newJob(models.JobTypePredict, req.ModelKey, req.Version, req.Priority, defaultPredictPriority, req.Source, req.ClientIP, req.UserAgent)
	return s.enqueue(&models.Task{Job: job, Predict: req})
}

// SubmitRetrain enqueues a system-triggered retraining job based on
// the given active version. The dataset is loaded from the recent
// production sample during the loading_data stage.
func (s *Scheduler) SubmitRetrain(base *models.ModelVersion) (string, error) {
	if base == nil || base.ModelKey == "" {
		return "", &models.ValidationError{Field: "model_key", Reason: "required"}
	}
	req := &models.TrainRequest{
		ModelKey:      base.ModelKey,
		Version:       base.Version,
		TaskType:      base.TaskType,
		TargetField:   base.TargetField,
		FeatureFields: base.FeatureFields,
		Source:        models.SourceSystem,
	}
	job := s.newJob(models.JobTypeRetrain, base.ModelKey, base.Version, 0, defaultRetrainPriority, models.SourceSystem, "", "")
	return s.enqueue(&models.Task{Job: job, Train: req})
}

func validateTrain(req *models.TrainRequest) error {
	if req.ModelKey == "" {
		return &models.ValidationError{Field: "model_key", Reason: "required"}
	}
	if req.TaskType != models.TaskClassification && req.TaskType != models.TaskRegression {
		return &models.ValidationError{Field: "task_type", Reason: fmt.Sprintf("unknown task type %q", req.TaskType)}
	}
	if req.TargetField == "" {
		return &models.ValidationError{Field: "target_field", Reason: "required"}
	}
	if len(req.Dataset) == 0 {
		return &models.ValidationError{Field: "dataset", Reason: "must not be empty"}
	}
	if _, ok := req.Dataset[0][req.TargetField]; !ok {
		return &models.ValidationError{Field: "target_field", Reason: fmt.Sprintf("field %q missing from dataset rows", req.TargetField)}
	}
	return nil
}

func (s *Scheduler) newJob(jobType models.JobType, modelKey string, version, priority, defaultPriority int, source models.JobSource, clientIP, userAgent string) *models.Job {
	if priority == 0 {
		priority = defaultPriority
	}
	if source == "" {
		source = models.SourceAPI
	}
	return &models.Job{
		Type:      jobType,
		Status:    models.JobStatusQueued,
		ModelKey:  modelKey,
		Version:   version,
		Priority:  priority,
		Source:    source,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
}

func (s *Scheduler) enqueue(task *models.Task) (string, error) {
	if s.cfg.MaxQueueDepth > 0 && s.queue.Depth() >= s.cfg.MaxQueueDepth {
		return "", &models.ResourceExhaustedError{Depth: s.cfg.MaxQueueDepth}
	}

	if err := s.jobs.CreateJob(task.Job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	task.Cancel = &models.CancelToken{}
	s.tokenMu.Lock()
	s.tokens[task.Job.ID] = task.Cancel
	s.tokenMu.Unlock()
	s.queue.Push(task, s.classFor(task.Job.Type))

	s.publisher.Publish(events.Event{
		JobID: task.Job.ID,
		Type:  events.TypeStatus,
		Payload: map[string]interface{}{
			"status":   models.JobStatusQueued,
			"job_type": task.Job.Type,
		},
	})
	s.kick()

	s.logger.Info("job queued",
		zap.String("job_id", task.Job.ID),
		zap.String("job_type", string(task.Job.Type)),
		zap.String("model_key", task.Job.ModelKey))
	return task.Job.ID, nil
}

// Cancel requests cancellation of a job. Queued jobs transition
// immediately; running jobs are flagged and observed at the next
// stage boundary. Returns false for unknown or already-terminal jobs.
func (s *Scheduler) Cancel(jobID string) bool {
	job, err := s.jobs.GetJob(jobID)
	if err != nil {
		return false
	}

	switch job.Status {
	case models.JobStatusQueued:
		if err := s.jobs.UpdateJobStatus(jobID, models.JobStatusQueued, models.JobStatusCancelled, "user_cancelled"); err != nil {
			s.logger.Warn("cancel failed", zap.String("job_id", jobID), zap.Error(err))
			return false
		}
		// Flag the token so the heap entry stops counting toward queue
		// depth; the entry itself is skipped lazily at admission time.
		s.tokenMu.Lock()
		if token := s.tokens[jobID]; token != nil {
			token.Cancel()
			delete(s.tokens, jobID)
		}
		s.tokenMu.Unlock()
		s.publisher.Publish(events.Event{
			JobID:   jobID,
			Type:    events.TypeFinal,
			Payload: map[string]interface{}{"status": models.JobStatusCancelled},
		})
		return true
	case models.JobStatusRunning:
		s.tokenMu.Lock()
		token := s.tokens[jobID]
		s.tokenMu.Unlock()
		if token == nil {
			return false
		}
		token.Cancel()
		return true
	default:
		return false
	}
}

// Get returns a job by id.
func (s *Scheduler) Get(jobID string) (*models.Job, error) {
	return s.jobs.GetJob(jobID)
}

// List returns jobs matching the filters, newest first.
func (s *Scheduler) List(filters ListFilters) ([]*models.Job, error) {
	return s.jobs.ListJobs(filters)
}

// Stats reports queue and slot occupancy for the dashboard.
type Stats struct {
	QueuedCPU   int `json:"queued_cpu"`
	QueuedGPU   int `json:"queued_gpu"`
	CPUInUse    int `json:"cpu_slots_in_use"`
	CPUCapacity int `json:"cpu_slots_capacity"`
	GPUInUse    int `json:"gpu_slots_in_use"`
	GPUCapacity int `json:"gpu_slots_capacity"`
}

// Stats returns a point-in-time view of the queue and slots.
func (s *Scheduler) Stats() Stats {
	return Stats{
		QueuedCPU:   s.queue.Len(ClassCPU),
		QueuedGPU:   s.queue.Len(ClassGPU),
		CPUInUse:    s.slots.InUse(ClassCPU),
		CPUCapacity: s.slots.Capacity(ClassCPU),
		GPUInUse:    s.slots.InUse(ClassGPU),
		GPUCapacity: s.slots.Capacity(ClassGPU),
	}
}

func (s *Scheduler) classFor(jobType models.JobType) ResourceClass {
	if s.cfg.GPUSlots > 0 && (jobType == models.JobTypeTrain || jobType == models.JobTypeRetrain) {
		return ClassGPU
	}
	return ClassCPU
}

func (s *Scheduler) dropToken(jobID string) {
	s.tokenMu.Lock()
	delete(s.tokens, jobID)
	s.tokenMu.Unlock()
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// admit moves queued jobs into free slots. It runs only on the
// Start goroutine, which keeps the pop-slot decision atomic. When
// resource pressure is at or above the ceiling, admission is deferred
// to the next tick rather than busy-spinning.
func (s *Scheduler) admit(ctx context.Context) {
	snap := s.monitor.Snapshot()
	if snap.CPUPercent >= s.cfg.PressureCeiling || snap.MemPercent >= s.cfg.PressureCeiling {
		s.logger.Debug("admission deferred, resource pressure high",
			zap.Float64("cpu_percent", snap.CPUPercent),
			zap.Float64("mem_percent", snap.MemPercent))
		return
	}

	for _, class := range []ResourceClass{ClassGPU, ClassCPU} {
		for {
			if !s.slots.Acquire(class) {
				break
			}
			entry := s.queue.Pop(class)
			if entry == nil {
				s.slots.Release(class)
				break
			}

			// Re-fetch to skip jobs cancelled while queued.
			fresh, err := s.jobs.GetJob(entry.Task.Job.ID)
			if err != nil || fresh.Status != models.JobStatusQueued {
				s.slots.Release(class)
				s.dropToken(entry.Task.Job.ID)
				continue
			}
			entry.Task.Job = fresh

			go s.run(ctx, entry.Task, class)
		}
	}
}

// run executes one admitted job on its own worker goroutine.
func (s *Scheduler) run(ctx context.Context, task *models.Task, class ResourceClass) {
	defer func() {
		s.slots.Release(class)
		s.kick()
	}()

	job := task.Job
	defer s.dropToken(job.ID)

	if err := s.jobs.UpdateJobStatus(job.ID, models.JobStatusQueued, models.JobStatusRunning, "admitted"); err != nil {
		s.logger.Error("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now

	s.publisher.Publish(events.Event{
		JobID:   job.ID,
		Type:    events.TypeStatus,
		Payload: map[string]interface{}{"status": models.JobStatusRunning},
	})

	executor, ok := s.executors[job.Type]
	if !ok {
		s.finish(job, models.JobStatusFailed, fmt.Sprintf("no executor for job type %s", job.Type))
		return
	}

	err := executor.Run(ctx, task)
	switch {
	case err == nil:
		s.finish(job, models.JobStatusCompleted, "")
	case errors.Is(err, models.ErrCancelled):
		s.finish(job, models.JobStatusCancelled, "")
	default:
		s.finish(job, models.JobStatusFailed, err.Error())
	}
}

// finish records the terminal state and emits the final event. Every
// job reaching a terminal state produces at least this one event.
func (s *Scheduler) finish(job *models.Job, status models.JobStatus, errorMessage string) {
	if err := s.jobs.FinishJob(job.ID, status, errorMessage); err != nil {
		s.logger.Error("failed to persist terminal state",
			zap.String("job_id", job.ID), zap.String("status", string(status)), zap.Error(err))
	}

	payload := map[string]interface{}{"status": status}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}
	s.publisher.Publish(events.Event{JobID: job.ID, Type: events.TypeFinal, Payload: payload})

	if status == models.JobStatusFailed && s.alerts != nil {
		alert := &models.Alert{
			Severity: models.SeverityWarning,
			Kind:     "job_failed",
			ModelKey: job.ModelKey,
			JobID:    job.ID,
			Message:  fmt.Sprintf("%s job for model %s failed: %s", job.Type, job.ModelKey, errorMessage),
		}
		if err := s.alerts.SaveAlert(alert); err != nil {
			s.logger.Warn("failed to save alert", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	s.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.String("error", errorMessage))
}
