package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-orchestrator/core/models"
)

func fitRows() []models.Row {
	return []models.Row{
		{"age": 20.0, "plan": "basic"},
		{"age": 30.0, "plan": "basic"},
		{"age": 40.0, "plan": "pro"},
		{"age": 50.0, "plan": "pro"},
		{"age": 60.0, "plan": "enterprise"},
	}
}

func TestFitClassifiesFeatures(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	require.Contains(t, snap.Numeric, "age")
	require.Contains(t, snap.Categorical, "plan")

	ns := snap.Numeric["age"]
	assert.InDelta(t, 40.0, ns.Mean, 1e-9)
	assert.Greater(t, ns.Std, 0.0)
	assert.Len(t, ns.BinEdges, DefaultBins+1)
	assert.Len(t, ns.RefProps, DefaultBins)

	sum := 0.0
	for _, p := range ns.RefProps {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	cs := snap.Categorical["plan"]
	assert.Equal(t, []string{"basic", "enterprise", "pro"}, cs.Vocab)
	assert.InDelta(t, 0.4, cs.RefFreq["basic"], 1e-9)

	// Width: 1 numeric + vocab + unknown slot.
	assert.Equal(t, 1+3+1, snap.Width)
}

func TestFitMixedValuesBecomeCategorical(t *testing.T) {
	rows := []models.Row{
		{"code": 1.0},
		{"code": "A"},
		{"code": 2.0},
	}
	snap, err := Fit(rows, []string{"code"}, FitOptions{})
	require.NoError(t, err)
	assert.NotContains(t, snap.Numeric, "code")
	assert.Contains(t, snap.Categorical, "code")
}

func TestFitEmptyInput(t *testing.T) {
	var validation *models.ValidationError

	_, err := Fit(nil, []string{"a"}, FitOptions{})
	require.ErrorAs(t, err, &validation)

	_, err = Fit(fitRows(), nil, FitOptions{})
	require.ErrorAs(t, err, &validation)
}

func TestFitSeedVocabKeepsEncoding(t *testing.T) {
	// The seed carries a category absent from the new data; it stays in
	// the vocabulary so prior encodings remain addressable.
	rows := []models.Row{
		{"plan": "basic"},
		{"plan": "pro"},
	}
	snap, err := Fit(rows, []string{"plan"}, FitOptions{
		SeedVocab: map[string][]string{"plan": {"basic", "legacy", "pro"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"basic", "legacy", "pro"}, snap.Categorical["plan"].Vocab)
}

func TestTransformRowStandardizesAndEncodes(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	vec, err := snap.TransformRow(models.Row{"age": 40.0, "plan": "pro"})
	require.NoError(t, err)
	require.Len(t, vec, snap.Width)

	// age 40 is the mean, standardizes to 0.
	assert.InDelta(t, 0.0, vec[0], 1e-9)
	// One-hot: vocab is [basic enterprise pro] + unknown slot.
	assert.Equal(t, []float64{0, 0, 1, 0}, vec[1:])
}

func TestTransformRowUnknownCategory(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	vec, err := snap.TransformRow(models.Row{"age": 40.0, "plan": "never-seen"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1}, vec[1:])

	// A missing categorical field routes to the unknown slot too.
	vec, err = snap.TransformRow(models.Row{"age": 40.0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1}, vec[1:])
}

func TestTransformRowMissingNumericDefaultsToZero(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	vec, err := snap.TransformRow(models.Row{"plan": "basic"})
	require.NoError(t, err)
	// Raw 0 standardized: (0 - mean) / std.
	assert.InDelta(t, (0-40.0)/snap.Numeric["age"].Std, vec[0], 1e-9)
}

func TestTransformRowNonNumericValueFails(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	_, err = snap.TransformRow(models.Row{"age": "forty", "plan": "basic"})
	var schema *models.SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Equal(t, "age", schema.Field)
}

func TestTransformMatrixDims(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age", "plan"}, FitOptions{})
	require.NoError(t, err)

	x, err := snap.Transform(fitRows())
	require.NoError(t, err)
	r, c := x.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, snap.Width, c)
}

func TestProportionsClampToEdgeBins(t *testing.T) {
	snap, err := Fit(fitRows(), []string{"age"}, FitOptions{})
	require.NoError(t, err)
	ns := snap.Numeric["age"]

	props := ns.Proportions([]float64{-1000, 1000})
	assert.InDelta(t, 0.5, props[0], 1e-9)
	assert.InDelta(t, 0.5, props[len(props)-1], 1e-9)

	sum := 0.0
	for _, p := range props {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFitConstantNumericFeature(t *testing.T) {
	rows := []models.Row{
		{"flat": 7.0},
		{"flat": 7.0},
		{"flat": 7.0},
	}
	snap, err := Fit(rows, []string{"flat"}, FitOptions{})
	require.NoError(t, err)

	ns := snap.Numeric["flat"]
	assert.Equal(t, 1.0, ns.Std)
	assert.False(t, math.IsNaN(ns.BinEdges[0]))
	assert.Less(t, ns.BinEdges[0], 7.0)
	assert.Greater(t, ns.BinEdges[len(ns.BinEdges)-1], 7.0)

	vec, err := snap.TransformRow(rows[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.0, vec[0], 1e-9)
}
