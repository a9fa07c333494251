package training

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func separableData(n int) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(3))
	x := mat.NewDense(n, 2, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			x.SetRow(i, []float64{rng.Float64() * 0.5, rng.Float64() * 0.5})
			labels[i] = 0
		} else {
			x.SetRow(i, []float64{2 + rng.Float64()*0.5, 2 + rng.Float64()*0.5})
			labels[i] = 1
		}
	}
	return x, labels
}

func TestTrainClassifierLearnsSeparableData(t *testing.T) {
	x, labels := separableData(100)

	net, err := TrainClassifier(x, labels, 2, Config{Epochs: 60, Seed: 1}, nil)
	require.NoError(t, err)

	correct := 0
	for i := 0; i < 100; i++ {
		class, confidence := net.PredictClass(x.RawRowView(i))
		if class == labels[i] {
			correct++
		}
		assert.GreaterOrEqual(t, confidence, 0.5)
		assert.LessOrEqual(t, confidence, 1.0)
	}
	assert.GreaterOrEqual(t, correct, 95)
}

func TestTrainClassifierValidation(t *testing.T) {
	x, labels := separableData(10)

	_, err := TrainClassifier(x, labels[:5], 2, Config{}, nil)
	require.Error(t, err)

	_, err = TrainClassifier(x, labels, 1, Config{}, nil)
	require.Error(t, err)

	bad := append([]int(nil), labels...)
	bad[3] = 7
	_, err = TrainClassifier(x, bad, 2, Config{}, nil)
	require.Error(t, err)
}

func TestTrainRegressorFitsLinearTarget(t *testing.T) {
	n := 80
	x := mat.NewDense(n, 1, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		v := float64(i) / float64(n)
		x.Set(i, 0, v)
		y[i] = 2*v + 0.5
	}

	net, err := TrainRegressor(x, y, Config{Epochs: 200, LearningRate: 0.1, Seed: 1}, nil)
	require.NoError(t, err)

	sse := 0.0
	for i := 0; i < n; i++ {
		diff := net.Predict(x.RawRowView(i))[0] - y[i]
		sse += diff * diff
	}
	rmse := math.Sqrt(sse / float64(n))
	assert.Less(t, rmse, 0.2)
}

func TestTrainingDeterministicForSeed(t *testing.T) {
	x, labels := separableData(40)

	a, err := TrainClassifier(x, labels, 2, Config{Epochs: 10, Seed: 42}, nil)
	require.NoError(t, err)
	b, err := TrainClassifier(x, labels, 2, Config{Epochs: 10, Seed: 42}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.W1, b.W1)
	assert.Equal(t, a.W2, b.W2)

	c, err := TrainClassifier(x, labels, 2, Config{Epochs: 10, Seed: 43}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.W1, c.W1)
}

func TestEpochCallback(t *testing.T) {
	x, labels := separableData(40)

	var epochs []int
	var losses []float64
	_, err := TrainClassifier(x, labels, 2, Config{Epochs: 20, Seed: 1},
		func(epoch, total int, loss float64) {
			epochs = append(epochs, epoch)
			losses = append(losses, loss)
			assert.Equal(t, 20, total)
		})
	require.NoError(t, err)

	require.Len(t, epochs, 20)
	assert.Equal(t, 1, epochs[0])
	assert.Equal(t, 20, epochs[19])

	// Loss trends down over training.
	assert.Less(t, losses[19], losses[0])
}

func TestNetworkJSONRoundTrip(t *testing.T) {
	x, labels := separableData(40)
	net, err := TrainClassifier(x, labels, 2, Config{Epochs: 20, Seed: 1}, nil)
	require.NoError(t, err)

	data, err := json.Marshal(net)
	require.NoError(t, err)

	var restored Network
	require.NoError(t, json.Unmarshal(data, &restored))

	in := x.RawRowView(0)
	assert.Equal(t, net.Predict(in), restored.Predict(in))
}

func TestSoftmaxOutputsSumToOne(t *testing.T) {
	x, labels := separableData(40)
	net, err := TrainClassifier(x, labels, 2, Config{Epochs: 5, Seed: 1}, nil)
	require.NoError(t, err)

	probs := net.Predict([]float64{0.2, 0.3})
	sum := 0.0
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
