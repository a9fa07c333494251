package features

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"model-orchestrator/core/models"
)

// UnknownToken is the reserved category used for values never seen at
// fit time and for missing categorical fields.
const UnknownToken = "__unknown__"

// DefaultBins is the number of histogram bins captured for the
// reference distribution of a numeric feature.
const DefaultBins = 10

// NumericStats holds the fitted scaler and reference histogram for a
// numeric feature. Bin edges are fixed at fit time and reused when
// bucketing production samples.
type NumericStats struct {
	Mean     float64   `json:"mean"`
	Std      float64   `json:"std"`
	BinEdges []float64 `json:"bin_edges"` // len = bins+1
	RefProps []float64 `json:"ref_props"` // len = bins, sums to 1
}

// CategoricalStats holds the fitted vocabulary and reference category
// frequencies for a categorical feature.
type CategoricalStats struct {
	Vocab   []string           `json:"vocab"`
	RefFreq map[string]float64 `json:"ref_freq"`
}

// Snapshot is the encoder/scaler state for one model version plus the
// reference distribution captured from its training set. Immutable
// once fitted; a retrain always produces a new snapshot.
type Snapshot struct {
	FeatureFields []string                     `json:"feature_fields"`
	Numeric       map[string]*NumericStats     `json:"numeric"`
	Categorical   map[string]*CategoricalStats `json:"categorical"`
	Width         int                          `json:"width"`
	FittedAt      time.Time                    `json:"fitted_at"`

	idxOnce sync.Once
	idx     map[string]map[string]int
}

// FitOptions tunes Fit. SeedVocab carries the prior snapshot's
// categorical vocabularies into a retrain so encodings stay stable
// for categories that persist across versions.
type FitOptions struct {
	Bins      int
	SeedVocab map[string][]string
}

// Fit builds a snapshot from training rows: it classifies each feature
// field as numeric or categorical, fits scalers and vocabularies, and
// records the reference distribution used later for drift checks.
func Fit(rows []models.Row, fields []string, opts FitOptions) (*Snapshot, error) {
	if len(rows) == 0 {
		return nil, &models.ValidationError{Field: "dataset", Reason: "no rows to fit"}
	}
	if len(fields) == 0 {
		return nil, &models.ValidationError{Field: "feature_fields", Reason: "no feature fields"}
	}
	bins := opts.Bins
	if bins <= 0 {
		bins = DefaultBins
	}

	snap := &Snapshot{
		FeatureFields: append([]string(nil), fields...),
		Numeric:       make(map[string]*NumericStats),
		Categorical:   make(map[string]*CategoricalStats),
		FittedAt:      time.Now(),
	}

	for _, field := range fields {
		var nums []float64
		var cats []string
		numeric := true
		for _, row := range rows {
			v, ok := row[field]
			if !ok || v == nil {
				continue
			}
			if f, isNum := coerceFloat(v); isNum && numeric {
				nums = append(nums, f)
			} else {
				numeric = false
			}
			cats = append(cats, fmt.Sprintf("%v", v))
		}

		if numeric && len(nums) > 0 {
			snap.Numeric[field] = fitNumeric(nums, bins)
			snap.Width++
			continue
		}
		snap.Categorical[field] = fitCategorical(cats, opts.SeedVocab[field])
		snap.Width += len(snap.Categorical[field].Vocab) + 1
	}

	return snap, nil
}

func fitNumeric(values []float64, bins int) *NumericStats {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) || std == 0 {
		std = 1
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	edges := make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[bins] = hi

	ns := &NumericStats{Mean: mean, Std: std, BinEdges: edges}
	ns.RefProps = ns.Proportions(values)
	return ns
}

func fitCategorical(values []string, seed []string) *CategoricalStats {
	freq := make(map[string]float64, len(values))
	for _, v := range values {
		freq[v]++
	}
	for k := range freq {
		freq[k] /= float64(len(values))
	}

	seen := make(map[string]bool, len(freq)+len(seed))
	var vocab []string
	for _, v := range seed {
		if v != UnknownToken && !seen[v] {
			seen[v] = true
			vocab = append(vocab, v)
		}
	}
	for v := range freq {
		if !seen[v] {
			seen[v] = true
			vocab = append(vocab, v)
		}
	}
	sort.Strings(vocab)

	return &CategoricalStats{Vocab: vocab, RefFreq: freq}
}

// Proportions buckets values into the fixed bin edges and returns the
// per-bin proportions. Out-of-range values are clamped into the
// first/last bin so production tails still land somewhere.
func (ns *NumericStats) Proportions(values []float64) []float64 {
	bins := len(ns.BinEdges) - 1
	props := make([]float64, bins)
	if len(values) == 0 {
		return props
	}
	for _, v := range values {
		props[ns.bucket(v)]++
	}
	for i := range props {
		props[i] /= float64(len(values))
	}
	return props
}

func (ns *NumericStats) bucket(v float64) int {
	bins := len(ns.BinEdges) - 1
	if v <= ns.BinEdges[0] {
		return 0
	}
	if v >= ns.BinEdges[bins] {
		return bins - 1
	}
	i := sort.SearchFloat64s(ns.BinEdges, v)
	// SearchFloat64s returns the first edge >= v; v falls in the bin
	// ending at that edge.
	return i - 1
}

// TransformRow encodes one row into the snapshot's numeric vector.
// Missing numeric fields default to 0, missing categorical fields to
// the unknown token; a non-numeric value in a numeric field is a
// SchemaError. Row-level accept/reject decisions belong to the caller.
func (s *Snapshot) TransformRow(row models.Row) ([]float64, error) {
	s.ensureIndex()
	vec := make([]float64, 0, s.Width)
	for _, field := range s.FeatureFields {
		if ns, ok := s.Numeric[field]; ok {
			raw := 0.0
			if v, present := row[field]; present && v != nil {
				f, isNum := coerceFloat(v)
				if !isNum {
					return nil, &models.SchemaError{Field: field, Reason: fmt.Sprintf("expected numeric value, got %T", v)}
				}
				raw = f
			}
			vec = append(vec, (raw-ns.Mean)/ns.Std)
			continue
		}

		cs := s.Categorical[field]
		cat := UnknownToken
		if v, present := row[field]; present && v != nil {
			cat = fmt.Sprintf("%v", v)
		}
		oneHot := make([]float64, len(cs.Vocab)+1)
		if i, known := s.idx[field][cat]; known {
			oneHot[i] = 1
		} else {
			oneHot[len(cs.Vocab)] = 1 // unknown slot
		}
		vec = append(vec, oneHot...)
	}
	return vec, nil
}

// Transform encodes rows into a dense matrix, failing on the first
// unusable row.
func (s *Snapshot) Transform(rows []models.Row) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, &models.ValidationError{Field: "rows", Reason: "no rows to transform"}
	}
	out := mat.NewDense(len(rows), s.Width, nil)
	for i, row := range rows {
		vec, err := s.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out.SetRow(i, vec)
	}
	return out, nil
}

func (s *Snapshot) ensureIndex() {
	s.idxOnce.Do(func() {
		s.idx = make(map[string]map[string]int, len(s.Categorical))
		for field, cs := range s.Categorical {
			m := make(map[string]int, len(cs.Vocab))
			for i, v := range cs.Vocab {
				m[v] = i
			}
			s.idx[field] = m
		}
	})
}

func coerceFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
