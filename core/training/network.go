package training

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config holds trainer hyperparameters. Zero values take defaults.
type Config struct {
	HiddenUnits  int
	Epochs       int
	LearningRate float64
	BatchSize    int
	Seed         int64
}

func (c Config) withDefaults() Config {
	if c.HiddenUnits <= 0 {
		c.HiddenUnits = 16
	}
	if c.Epochs <= 0 {
		c.Epochs = 50
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Network is a single-hidden-layer feed-forward model. Weights are
// stored row-major so the struct round-trips through JSON for
// artifact persistence.
type Network struct {
	InputDim   int       `json:"input_dim"`
	HiddenDim  int       `json:"hidden_dim"`
	OutputDim  int       `json:"output_dim"`
	Regression bool      `json:"regression"`
	W1         []float64 `json:"w1"` // HiddenDim x InputDim
	B1         []float64 `json:"b1"`
	W2         []float64 `json:"w2"` // OutputDim x HiddenDim
	B2         []float64 `json:"b2"`
}

// EpochFunc observes training progress after each epoch.
type EpochFunc func(epoch, total int, loss float64)

// TrainClassifier fits a softmax classifier on x with integer class
// labels in [0, numClasses).
func TrainClassifier(x *mat.Dense, labels []int, numClasses int, cfg Config, onEpoch EpochFunc) (*Network, error) {
	rows, cols := x.Dims()
	if rows != len(labels) {
		return nil, fmt.Errorf("labels length %d does not match %d rows", len(labels), rows)
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	targets := make([][]float64, rows)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d out of range at row %d", label, i)
		}
		t := make([]float64, numClasses)
		t[label] = 1
		targets[i] = t
	}
	net := newNetwork(cols, numClasses, false, cfg)
	net.fit(x, targets, cfg, onEpoch)
	return net, nil
}

// TrainRegressor fits a single-output regressor on x.
func TrainRegressor(x *mat.Dense, y []float64, cfg Config, onEpoch EpochFunc) (*Network, error) {
	rows, cols := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("targets length %d does not match %d rows", len(y), rows)
	}
	targets := make([][]float64, rows)
	for i, v := range y {
		targets[i] = []float64{v}
	}
	net := newNetwork(cols, 1, true, cfg)
	net.fit(x, targets, cfg, onEpoch)
	return net, nil
}

func newNetwork(inputDim, outputDim int, regression bool, cfg Config) *Network {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	net := &Network{
		InputDim:   inputDim,
		HiddenDim:  cfg.HiddenUnits,
		OutputDim:  outputDim,
		Regression: regression,
		W1:         make([]float64, cfg.HiddenUnits*inputDim),
		B1:         make([]float64, cfg.HiddenUnits),
		W2:         make([]float64, outputDim*cfg.HiddenUnits),
		B2:         make([]float64, outputDim),
	}
	// He initialization keeps ReLU activations in a workable range.
	scale1 := math.Sqrt(2.0 / float64(inputDim))
	for i := range net.W1 {
		net.W1[i] = rng.NormFloat64() * scale1
	}
	scale2 := math.Sqrt(2.0 / float64(cfg.HiddenUnits))
	for i := range net.W2 {
		net.W2[i] = rng.NormFloat64() * scale2
	}
	return net
}

func (n *Network) fit(x *mat.Dense, targets [][]float64, cfg Config, onEpoch EpochFunc) {
	cfg = cfg.withDefaults()
	rows, _ := x.Dims()
	rng := rand.New(rand.NewSource(cfg.Seed + 7))
	order := rng.Perm(rows)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(rows, func(i, j int) { order[i], order[j] = order[j], order[i] })
		epochLoss := 0.0

		for start := 0; start < rows; start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > rows {
				end = rows
			}
			epochLoss += n.sgdStep(x, targets, order[start:end], cfg.LearningRate)
		}

		if onEpoch != nil {
			onEpoch(epoch, cfg.Epochs, epochLoss/float64(rows))
		}
	}
}

// sgdStep accumulates gradients over one mini-batch and applies a
// single update. Returns the summed loss over the batch.
func (n *Network) sgdStep(x *mat.Dense, targets [][]float64, batch []int, lr float64) float64 {
	gW1 := make([]float64, len(n.W1))
	gB1 := make([]float64, len(n.B1))
	gW2 := make([]float64, len(n.W2))
	gB2 := make([]float64, len(n.B2))
	loss := 0.0

	for _, idx := range batch {
		in := x.RawRowView(idx)
		hidden, out := n.forward(in)
		target := targets[idx]

		// Output delta: softmax cross-entropy and half-MSE share the
		// same (out - target) gradient form.
		delta := make([]float64, n.OutputDim)
		for k := 0; k < n.OutputDim; k++ {
			delta[k] = out[k] - target[k]
			if n.Regression {
				loss += 0.5 * delta[k] * delta[k]
			} else if target[k] > 0 {
				loss += -math.Log(math.Max(out[k], 1e-12))
			}
		}

		for k := 0; k < n.OutputDim; k++ {
			for j := 0; j < n.HiddenDim; j++ {
				gW2[k*n.HiddenDim+j] += delta[k] * hidden[j]
			}
			gB2[k] += delta[k]
		}

		for j := 0; j < n.HiddenDim; j++ {
			if hidden[j] <= 0 {
				continue // ReLU gradient is zero
			}
			dh := 0.0
			for k := 0; k < n.OutputDim; k++ {
				dh += delta[k] * n.W2[k*n.HiddenDim+j]
			}
			for i := 0; i < n.InputDim; i++ {
				gW1[j*n.InputDim+i] += dh * in[i]
			}
			gB1[j] += dh
		}
	}

	step := lr / float64(len(batch))
	floats.AddScaled(n.W1, -step, gW1)
	floats.AddScaled(n.B1, -step, gB1)
	floats.AddScaled(n.W2, -step, gW2)
	floats.AddScaled(n.B2, -step, gB2)
	return loss
}

func (n *Network) forward(in []float64) (hidden, out []float64) {
	hidden = make([]float64, n.HiddenDim)
	for j := 0; j < n.HiddenDim; j++ {
		sum := n.B1[j]
		row := n.W1[j*n.InputDim : (j+1)*n.InputDim]
		for i, w := range row {
			sum += w * in[i]
		}
		if sum > 0 {
			hidden[j] = sum
		}
	}

	out = make([]float64, n.OutputDim)
	for k := 0; k < n.OutputDim; k++ {
		sum := n.B2[k]
		row := n.W2[k*n.HiddenDim : (k+1)*n.HiddenDim]
		for j, w := range row {
			sum += w * hidden[j]
		}
		out[k] = sum
	}

	if !n.Regression {
		softmax(out)
	}
	return hidden, out
}

// Predict returns class probabilities for a classifier or a
// single-element prediction for a regressor.
func (n *Network) Predict(in []float64) []float64 {
	_, out := n.forward(in)
	return out
}

// PredictClass returns the argmax class index and its probability.
func (n *Network) PredictClass(in []float64) (int, float64) {
	out := n.Predict(in)
	i := floats.MaxIdx(out)
	return i, out[i]
}

func softmax(z []float64) {
	max := floats.Max(z)
	sum := 0.0
	for i := range z {
		z[i] = math.Exp(z[i] - max)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}
