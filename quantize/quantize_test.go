package quantize

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/pkg/log"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

func trainedNetwork(t *testing.T) (*neural_network.MLPClassifier, *mat.Dense, []int) {
	t.Helper()
	centers := [][2]float64{{-2, -2}, {2, -2}, {0, 2}}
	r := rand.New(rand.NewPCG(1, 1))
	X := mat.NewDense(150, 2, nil)
	y := make([]int, 150)
	for i := 0; i < 150; i++ {
		c := i % 3
		X.Set(i, 0, centers[c][0]+r.NormFloat64()*0.4)
		X.Set(i, 1, centers[c][1]+r.NormFloat64()*0.4)
		y[i] = c
	}

	logger, _ := log.NewTestLogger(log.LevelError)
	clf := neural_network.NewMLPClassifier(
		neural_network.WithHiddenLayers(16, 8),
		neural_network.WithEpochs(40),
		neural_network.WithLearningRate(0.01),
		neural_network.WithLogger(logger),
	)
	require.NoError(t, clf.Fit(X, y))
	return clf, X, y
}

func TestParams(t *testing.T) {
	p := paramsForRange(-1, 3)
	assert.InDelta(t, 4.0/255.0, p.Scale, 1e-12)
	assert.Equal(t, int8(p.ZeroPoint), p.Quantize(0))
	assert.InDelta(t, 3.0, p.Dequantize(p.Quantize(3)), p.Scale)
	assert.Equal(t, int8(127), p.Quantize(100))
	assert.Equal(t, int8(-128), p.Quantize(-100))

	relu := paramsForRange(0.5, 2)
	assert.Equal(t, int32(-128), relu.ZeroPoint, "range is widened to include zero")

	assert.Equal(t, int8(-128), OutputParams.Quantize(0))
	assert.Equal(t, int8(127), OutputParams.Quantize(1))
	assert.InDelta(t, 0.5, OutputParams.Dequantize(0), 1e-12)
}

func TestQuantizedModelAgreesWithFloat(t *testing.T) {
	clf, X, _ := trainedNetwork(t)
	w, err := clf.ExportWeights()
	require.NoError(t, err)

	q, err := Quantize(w, X.Slice(0, 100, 0, 2))
	require.NoError(t, err)
	require.Len(t, q.Layers, 3)
	assert.True(t, q.Layers[0].ReLU)
	assert.False(t, q.Layers[2].ReLU)

	floatPred, err := clf.Predict(X)
	require.NoError(t, err)

	agree := 0
	rows, _ := X.Dims()
	for i := 0; i < rows; i++ {
		cls, err := q.PredictClass(mat.Row(nil, i, X))
		require.NoError(t, err)
		if cls == floatPred[i] {
			agree++
		}
	}
	assert.GreaterOrEqual(t, float64(agree)/float64(rows), 0.95)

	probs, err := q.Predict(mat.Row(nil, 0, X))
	require.NoError(t, err)
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 0.05)

	_, err = q.PredictInt8([]int8{1})
	assert.Error(t, err)
}

func TestQuantizeErrors(t *testing.T) {
	clf, X, _ := trainedNetwork(t)
	w, err := clf.ExportWeights()
	require.NoError(t, err)

	_, err = Quantize(w, mat.NewDense(1, 3, nil))
	assert.Error(t, err)

	w.IsFitted = false
	w.Layers = nil
	_, err = Quantize(w, X)
	assert.Error(t, err)
}

func TestBinaryRoundTrip(t *testing.T) {
	clf, X, _ := trainedNetwork(t)
	w, err := clf.ExportWeights()
	require.NoError(t, err)
	q, err := Quantize(w, X)
	require.NoError(t, err)

	data, err := q.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte("SOQ8"), data[:4])

	var back Model
	require.NoError(t, back.UnmarshalBinary(data))
	assert.Equal(t, q.Layers, back.Layers)

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", append([]byte("XXXX"), data[4:]...)},
		{"truncated", data[:len(data)-3]},
		{"trailing", append(append([]byte(nil), data...), 0)},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Model
			assert.Error(t, m.UnmarshalBinary(tt.data))
		})
	}
}
