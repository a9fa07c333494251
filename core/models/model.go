package models

import "time"

// TaskType distinguishes what a model predicts
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskRegression     TaskType = "regression"
)

// ModelStatus represents the lifecycle state of a model version
type ModelStatus string

const (
	ModelStatusTraining   ModelStatus = "training"
	ModelStatusActive     ModelStatus = "active"
	ModelStatusSuperseded ModelStatus = "superseded"
	ModelStatusFailed     ModelStatus = "failed"
)

// ModelVersion is one trained version of a model. At most one version
// per model key is active; activation supersedes the previous one.
type ModelVersion struct {
	ModelKey      string             `json:"model_key"`
	Version       int                `json:"version"`
	TaskType      TaskType           `json:"task_type"`
	TargetField   string             `json:"target_field"`
	FeatureFields []string           `json:"feature_fields"`
	Status        ModelStatus        `json:"status"`
	Accuracy      float64            `json:"accuracy,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	ArtifactURI   string             `json:"artifact_uri,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	LastTrained   time.Time          `json:"last_trained"`
}

// DriftVerdict classifies how far a distribution has shifted
type DriftVerdict string

const (
	VerdictStable  DriftVerdict = "stable"
	VerdictWarning DriftVerdict = "warning"
	VerdictDrift   DriftVerdict = "drift"
)

// Worse returns the more severe of two verdicts.
func (v DriftVerdict) Worse(other DriftVerdict) DriftVerdict {
	rank := map[DriftVerdict]int{VerdictStable: 0, VerdictWarning: 1, VerdictDrift: 2}
	if rank[other] > rank[v] {
		return other
	}
	return v
}

// FeatureScore is the drift score for a single feature
type FeatureScore struct {
	Feature string       `json:"feature"`
	Metric  string       `json:"metric"` // "psi" or "js"
	Score   float64      `json:"score"`
	Verdict DriftVerdict `json:"verdict"`
}

// DriftCheck is one comparison of a model's reference distribution
// against a recent production sample. Append-only history.
type DriftCheck struct {
	ID         int64          `json:"id,omitempty"`
	ModelKey   string         `json:"model_key"`
	Version    int            `json:"version"`
	Scores     []FeatureScore `json:"scores"`
	Verdict    DriftVerdict   `json:"verdict"`
	SampleSize int            `json:"sample_size"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// AlertSeverity grades alerts for the dashboard
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is derived from a drift verdict or a job failure. Dismissal is
// a UI concern; the core only records the flag.
type Alert struct {
	ID        int64         `json:"id"`
	Severity  AlertSeverity `json:"severity"`
	Kind      string        `json:"kind"` // "drift", "job_failed"
	ModelKey  string        `json:"model_key,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
	Message   string        `json:"message"`
	Dismissed bool          `json:"dismissed"`
	CreatedAt time.Time     `json:"created_at"`
}
