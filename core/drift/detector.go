package drift

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/features"
	"model-orchestrator/core/models"
)

// epsilon floors bin proportions so PSI never divides by or takes the
// log of zero.
const epsilon = 1e-6

// Thresholds classify per-feature scores into verdicts.
type Thresholds struct {
	PSIWarn  float64
	PSIDrift float64
	JSWarn   float64
	JSDrift  float64
}

// DefaultThresholds are the conventional PSI/JS cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{PSIWarn: 0.1, PSIDrift: 0.25, JSWarn: 0.1, JSDrift: 0.2}
}

// Detector compares a snapshot's reference distribution against a
// production sample, feature by feature.
type Detector struct {
	thresholds    Thresholds
	minSampleSize int
	logger        *zap.Logger
}

// NewDetector creates a drift detector.
func NewDetector(thresholds Thresholds, minSampleSize int, logger *zap.Logger) *Detector {
	if minSampleSize <= 0 {
		minSampleSize = 30
	}
	return &Detector{
		thresholds:    thresholds,
		minSampleSize: minSampleSize,
		logger:        logger.Named("drift"),
	}
}

// Check computes PSI for numeric features and normalized
// Jensen-Shannon divergence for categorical features. The overall
// verdict is the worst per-feature verdict. Samples below the minimum
// size fail with InsufficientDataError instead of producing a
// misleading verdict.
func (d *Detector) Check(modelKey string, version int, snap *features.Snapshot, sample []models.Row) (*models.DriftCheck, error) {
	if len(sample) < d.minSampleSize {
		return nil, &models.InsufficientDataError{Got: len(sample), Need: d.minSampleSize}
	}

	check := &models.DriftCheck{
		ModelKey:   modelKey,
		Version:    version,
		Verdict:    models.VerdictStable,
		SampleSize: len(sample),
		CheckedAt:  time.Now(),
	}

	for _, field := range snap.FeatureFields {
		if ns, ok := snap.Numeric[field]; ok {
			values := numericColumn(sample, field)
			if len(values) == 0 {
				d.logger.Warn("feature absent from production sample, skipping",
					zap.String("model_key", modelKey), zap.String("feature", field))
				continue
			}
			score := PSI(ns.RefProps, ns.Proportions(values))
			verdict := d.verdictFor(score, d.thresholds.PSIWarn, d.thresholds.PSIDrift)
			check.Scores = append(check.Scores, models.FeatureScore{
				Feature: field, Metric: "psi", Score: score, Verdict: verdict,
			})
			check.Verdict = check.Verdict.Worse(verdict)
			continue
		}

		cs := snap.Categorical[field]
		freq := categoricalColumn(sample, field)
		if len(freq) == 0 {
			d.logger.Warn("feature absent from production sample, skipping",
				zap.String("model_key", modelKey), zap.String("feature", field))
			continue
		}
		score := JensenShannon(cs.RefFreq, freq)
		verdict := d.verdictFor(score, d.thresholds.JSWarn, d.thresholds.JSDrift)
		check.Scores = append(check.Scores, models.FeatureScore{
			Feature: field, Metric: "js", Score: score, Verdict: verdict,
		})
		check.Verdict = check.Verdict.Worse(verdict)
	}

	return check, nil
}

func (d *Detector) verdictFor(score, warn, drift float64) models.DriftVerdict {
	switch {
	case score > drift:
		return models.VerdictDrift
	case score >= warn:
		return models.VerdictWarning
	default:
		return models.VerdictStable
	}
}

// PSI computes the Population Stability Index between two bin
// proportion vectors of equal length:
//
//	PSI = sum_i (p_i - q_i) * ln(p_i / q_i)
//
// Proportions are floored at epsilon, which keeps the formula finite
// on empty bins and makes PSI(p, q) == PSI(q, p).
func PSI(ref, sample []float64) float64 {
	psi := 0.0
	for i := range ref {
		p := math.Max(ref[i], epsilon)
		q := math.Max(sample[i], epsilon)
		psi += (p - q) * math.Log(p/q)
	}
	return psi
}

// JensenShannon computes the Jensen-Shannon divergence between two
// category frequency maps, normalized into [0, 1] by ln 2. Disjoint
// supports yield 1.
func JensenShannon(ref, sample map[string]float64) float64 {
	keys := make(map[string]bool, len(ref)+len(sample))
	for k := range ref {
		keys[k] = true
	}
	for k := range sample {
		keys[k] = true
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	js := 0.0
	for _, k := range ordered {
		p := ref[k]
		q := sample[k]
		m := (p + q) / 2
		if p > 0 {
			js += 0.5 * p * math.Log(p/m)
		}
		if q > 0 {
			js += 0.5 * q * math.Log(q/m)
		}
	}

	js /= math.Ln2
	if js < 0 {
		js = 0
	}
	if js > 1 {
		js = 1
	}
	return js
}

func numericColumn(rows []models.Row, field string) []float64 {
	var out []float64
	for _, row := range rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case float32:
			out = append(out, float64(n))
		case int:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		}
	}
	return out
}

func categoricalColumn(rows []models.Row, field string) map[string]float64 {
	freq := make(map[string]float64)
	total := 0.0
	for _, row := range rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		freq[stringify(v)]++
		total++
	}
	if total == 0 {
		return nil
	}
	for k := range freq {
		freq[k] /= total
	}
	return freq
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
