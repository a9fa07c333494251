package models

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Job represents a training or prediction job submitted to the platform
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"job_type"`
	Status       JobStatus       `json:"status"`
	Stage        Stage           `json:"stage,omitempty"`
	ModelKey     string          `json:"model_key"`
	Version      int             `json:"version,omitempty"`
	Priority     int             `json:"priority"`
	Source       JobSource       `json:"source"`
	ClientIP     string          `json:"client_ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Progress     Progress        `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// JobType represents the type of job
type JobType string

const (
	JobTypeTrain   JobType = "train"
	JobTypePredict JobType = "predict"
	JobTypeRetrain JobType = "retrain"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransition reports whether a status transition is allowed.
// Transitions are monotonic: queued -> running -> terminal, with
// queued -> cancelled as the only shortcut.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// JobSource identifies where a submission came from
type JobSource string

const (
	SourceAPI    JobSource = "api"
	SourceGUI    JobSource = "gui"
	SourceSystem JobSource = "system"
)

// Stage is a substate of a running job. Each job type has its own
// closed set of stages; ValidStage rejects combinations outside it.
type Stage string

const (
	StageLoadingData       Stage = "loading_data"
	StagePreparingFeatures Stage = "preparing_features"
	StageTraining          Stage = "training"
	StageValidating        Stage = "validating"
	StageRunning           Stage = "running"
)

var stagesByType = map[JobType][]Stage{
	JobTypeTrain:   {StageLoadingData, StagePreparingFeatures, StageTraining, StageValidating},
	JobTypeRetrain: {StageLoadingData, StagePreparingFeatures, StageTraining, StageValidating},
	JobTypePredict: {StageRunning},
}

// ValidStage reports whether stage belongs to the job type's stage set.
func ValidStage(jobType JobType, stage Stage) bool {
	for _, s := range stagesByType[jobType] {
		if s == stage {
			return true
		}
	}
	return false
}

// Stages returns the ordered stage set for a job type.
func Stages(jobType JobType) []Stage {
	return stagesByType[jobType]
}

// Progress tracks completion of the current work unit
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// NewProgress builds a Progress, clamping current to total.
func NewProgress(current, total int) Progress {
	if total > 0 && current > total {
		current = total
	}
	p := Progress{Current: current, Total: total}
	if total > 0 {
		p.Percent = float64(current) / float64(total) * 100
	}
	return p
}

// Row is a single data record keyed by field name.
type Row map[string]interface{}

// Hyperparameters control the training stage. Zero values fall back
// to defaults inside the trainer.
type Hyperparameters struct {
	HiddenUnits     int     `json:"hidden_units,omitempty"`
	Epochs          int     `json:"epochs,omitempty"`
	LearningRate    float64 `json:"learning_rate,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	ValidationSplit float64 `json:"validation_split,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}

// TrainRequest is the payload for a train or retrain submission.
// Retrain submissions from the daily drift check carry no inline
// dataset; the executor loads the recent production sample instead.
type TrainRequest struct {
	ModelKey      string          `json:"model_key"`
	Version       int             `json:"version,omitempty"`
	TaskType      TaskType        `json:"task_type"`
	TargetField   string          `json:"target_field"`
	FeatureFields []string        `json:"feature_fields,omitempty"`
	Dataset       []Row           `json:"dataset"`
	Hyper         Hyperparameters `json:"hyperparameters,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	Source        JobSource       `json:"-"`
	ClientIP      string          `json:"-"`
	UserAgent     string          `json:"-"`
}

// PredictRequest is the payload for a predict submission.
type PredictRequest struct {
	ModelKey  string    `json:"model_key"`
	Version   int       `json:"version,omitempty"`
	Rows      []Row     `json:"rows"`
	Priority  int       `json:"priority,omitempty"`
	Source    JobSource `json:"-"`
	ClientIP  string    `json:"-"`
	UserAgent string    `json:"-"`
}

// InvalidItem records a predict input row rejected for schema reasons.
type InvalidItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// CancelToken is the cooperative cancellation flag threaded through a
// job's stage machine. Workers check it at stage boundaries only.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel requests cancellation.
func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (t *CancelToken) Cancelled() bool { return t.cancelled.Load() }

// Task is a job admitted for execution: the job record plus the
// submission payload and the cancellation token.
type Task struct {
	Job     *Job
	Train   *TrainRequest
	Predict *PredictRequest
	Cancel  *CancelToken
}
