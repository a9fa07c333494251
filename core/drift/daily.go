package drift

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/features"
	"model-orchestrator/core/models"
)

// ModelLister enumerates the active model versions to check.
type ModelLister interface {
	ListActiveVersions() ([]*models.ModelVersion, error)
}

// SampleSource loads recent production rows for a model.
type SampleSource interface {
	LoadRecentProductionSample(ctx context.Context, modelKey string, limit int) ([]models.Row, error)
}

// SnapshotSource loads the fitted feature snapshot of a model version.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, modelKey string, version int) (*features.Snapshot, error)
}

// CheckStore persists drift check outcomes.
type CheckStore interface {
	SaveDriftCheck(check *models.DriftCheck) error
}

// AlertStore records drift alerts for the dashboard.
type AlertStore interface {
	SaveAlert(alert *models.Alert) error
}

// RetrainSubmitter enqueues a retrain job for a drifted model.
type RetrainSubmitter interface {
	SubmitRetrain(base *models.ModelVersion) (string, error)
}

// Runner fires a drift check across all active models once per day at
// a configured local wall-clock time. A restart before the firing time
// simply waits for the next one; missed firings are not backfilled.
type Runner struct {
	detector    *Detector
	modelStore  ModelLister
	samples     SampleSource
	snapshots   SnapshotSource
	checks      CheckStore
	alerts      AlertStore
	scheduler   RetrainSubmitter
	checkTime   string // "HH:MM" local
	sampleLimit int
	running     atomic.Bool
	logger      *zap.Logger
}

// NewRunner creates the daily drift runner.
func NewRunner(
	detector *Detector,
	modelStore ModelLister,
	samples SampleSource,
	snapshots SnapshotSource,
	checks CheckStore,
	alerts AlertStore,
	scheduler RetrainSubmitter,
	checkTime string,
	sampleLimit int,
	logger *zap.Logger,
) *Runner {
	if sampleLimit <= 0 {
		sampleLimit = 1000
	}
	return &Runner{
		detector:    detector,
		modelStore:  modelStore,
		samples:     samples,
		snapshots:   snapshots,
		checks:      checks,
		alerts:      alerts,
		scheduler:   scheduler,
		checkTime:   checkTime,
		sampleLimit: sampleLimit,
		logger:      logger.Named("drift_runner"),
	}
}

// Start blocks until ctx is cancelled, firing RunAll at the configured
// time each day.
func (r *Runner) Start(ctx context.Context) {
	for {
		next, err := nextFiring(time.Now(), r.checkTime)
		if err != nil {
			r.logger.Error("invalid check time, daily drift checks disabled",
				zap.String("check_time", r.checkTime), zap.Error(err))
			return
		}
		r.logger.Info("next drift check scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.RunAll(ctx)
		}
	}
}

// RunAll checks every active model version once. Overlapping runs are
// skipped rather than queued, and a failure on one model never stops
// the sweep.
func (r *Runner) RunAll(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("previous drift sweep still running, skipping")
		return
	}
	defer r.running.Store(false)

	versions, err := r.modelStore.ListActiveVersions()
	if err != nil {
		r.logger.Error("failed to list active models", zap.Error(err))
		return
	}
	r.logger.Info("starting drift sweep", zap.Int("models", len(versions)))

	for _, mv := range versions {
		if ctx.Err() != nil {
			return
		}
		if err := r.checkModel(ctx, mv); err != nil {
			r.logger.Error("drift check failed",
				zap.String("model_key", mv.ModelKey),
				zap.Int("version", mv.Version),
				zap.Error(err))
		}
	}
}

func (r *Runner) checkModel(ctx context.Context, mv *models.ModelVersion) error {
	sample, err := r.samples.LoadRecentProductionSample(ctx, mv.ModelKey, r.sampleLimit)
	if err != nil {
		return fmt.Errorf("load production sample: %w", err)
	}

	snap, err := r.snapshots.LoadSnapshot(ctx, mv.ModelKey, mv.Version)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	check, err := r.detector.Check(mv.ModelKey, mv.Version, snap, sample)
	if err != nil {
		var insufficient *models.InsufficientDataError
		if errors.As(err, &insufficient) {
			r.logger.Info("not enough production data, skipping drift check",
				zap.String("model_key", mv.ModelKey),
				zap.Int("got", insufficient.Got),
				zap.Int("need", insufficient.Need))
			return nil
		}
		return err
	}

	if err := r.checks.SaveDriftCheck(check); err != nil {
		return fmt.Errorf("save drift check: %w", err)
	}

	r.logger.Info("drift check complete",
		zap.String("model_key", mv.ModelKey),
		zap.Int("version", mv.Version),
		zap.String("verdict", string(check.Verdict)),
		zap.Int("sample_size", check.SampleSize))

	switch check.Verdict {
	case models.VerdictWarning:
		r.alert(mv, check, models.SeverityWarning)
	case models.VerdictDrift:
		r.alert(mv, check, models.SeverityCritical)
		jobID, err := r.scheduler.SubmitRetrain(mv)
		if err != nil {
			r.logger.Error("failed to submit retrain for drifted model",
				zap.String("model_key", mv.ModelKey), zap.Error(err))
			return nil
		}
		r.logger.Info("retrain submitted for drifted model",
			zap.String("model_key", mv.ModelKey), zap.String("job_id", jobID))
	}
	return nil
}

func (r *Runner) alert(mv *models.ModelVersion, check *models.DriftCheck, severity models.AlertSeverity) {
	worst := worstFeature(check.Scores)
	msg := fmt.Sprintf("model %s v%d drift verdict %s", mv.ModelKey, mv.Version, check.Verdict)
	if worst != nil {
		msg = fmt.Sprintf("%s (worst feature %s, %s=%.4f)", msg, worst.Feature, worst.Metric, worst.Score)
	}
	if err := r.alerts.SaveAlert(&models.Alert{
		Severity:  severity,
		Kind:      "drift",
		ModelKey:  mv.ModelKey,
		Message:   msg,
		CreatedAt: time.Now(),
	}); err != nil {
		r.logger.Warn("failed to save drift alert",
			zap.String("model_key", mv.ModelKey), zap.Error(err))
	}
}

func worstFeature(scores []models.FeatureScore) *models.FeatureScore {
	var worst *models.FeatureScore
	for i := range scores {
		s := &scores[i]
		if worst == nil || s.Verdict.Worse(worst.Verdict) != worst.Verdict || (s.Verdict == worst.Verdict && s.Score > worst.Score) {
			worst = s
		}
	}
	return worst
}

// nextFiring returns the next occurrence of the "HH:MM" wall-clock
// time strictly after now, in now's location.
func nextFiring(now time.Time, checkTime string) (time.Time, error) {
	t, err := time.Parse("15:04", checkTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse check time %q: %w", checkTime, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
