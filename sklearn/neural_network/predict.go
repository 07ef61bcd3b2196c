package neural_network

import (
	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/core/parallel"
	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
)

// PredictProba は各クラスの確率 (n_samples × n_classes) を返す
// 行数が閾値を超える場合は行ごとに並列計算する
func (m *MLPClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.state.RequireFitted("PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := m.state.RequireFeatures("MLPClassifier.PredictProba", cols); err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, errors.NewModelError("MLPClassifier.PredictProba", "empty data", errors.ErrEmptyData)
	}

	out := mat.NewDense(rows, m.nClasses, nil)
	parallel.ParallelizeWithThreshold(rows, m.parallelThreshold, func(start, end int) {
		chunk := mat.NewDense(end-start, cols, nil)
		for i := start; i < end; i++ {
			for j := 0; j < cols; j++ {
				chunk.Set(i-start, j, X.At(i, j))
			}
		}
		proba := predict(m.layers, chunk)
		for i := start; i < end; i++ {
			out.SetRow(i, proba.RawRowView(i-start))
		}
	})
	return out, nil
}

// PredictProbaVector は1サンプル分の確率を返す
func (m *MLPClassifier) PredictProbaVector(x []float64) ([]float64, error) {
	proba, err := m.PredictProba(mat.NewDense(1, len(x), append([]float64(nil), x...)))
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, proba), nil
}

// Predict は確率最大のクラス番号を返す
func (m *MLPClassifier) Predict(X mat.Matrix) ([]int, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return metrics.ArgMax(proba), nil
}

// Score は正解率を返す
func (m *MLPClassifier) Score(X mat.Matrix, y []int) (float64, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(y, pred)
}

// NClasses は出力クラス数を返す
func (m *MLPClassifier) NClasses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nClasses
}

// NFeatures は入力特徴量数を返す
func (m *MLPClassifier) NFeatures() int {
	n, _ := m.state.GetDimensions()
	return n
}

// IsFitted は学習済みかどうかを返す
func (m *MLPClassifier) IsFitted() bool {
	return m.state.IsFitted()
}

// History は直近の学習曲線を返す
func (m *MLPClassifier) History() History {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history
}

// GetParams はハイパーパラメータを返す
func (m *MLPClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"hidden_layers":           append([]int(nil), m.hiddenLayers...),
		"epochs":                  m.epochs,
		"batch_size":              m.batchSize,
		"learning_rate":           m.learningRate,
		"random_state":            m.randomState,
		"early_stopping_patience": m.patience,
	}
}

// ExportWeights は学習済みの重みをスナップショットとして返す
func (m *MLPClassifier) ExportWeights() (*model.ModelWeights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.state.RequireFitted("ExportWeights"); err != nil {
		return nil, err
	}

	w := &model.ModelWeights{
		ModelType:       ModelType,
		Version:         model.WeightsVersion,
		IsFitted:        true,
		Hyperparameters: m.GetParams(),
		Metadata: map[string]interface{}{
			"n_features": m.NFeatures(),
			"n_classes":  m.nClasses,
			"epochs_run": m.history.Epochs(),
			"best_epoch": m.history.BestEpoch,
		},
	}
	for _, l := range m.layers {
		in, out := l.dims()
		w.Layers = append(w.Layers, model.LayerWeights{
			Inputs:     in,
			Outputs:    out,
			W:          append([]float64(nil), l.weights()...),
			B:          append([]float64(nil), l.b...),
			Activation: l.act,
		})
	}
	return w, nil
}

// ImportWeights はスナップショットから学習済み状態を復元する
func (m *MLPClassifier) ImportWeights(w *model.ModelWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ModelType != ModelType {
		return errors.NewValidationError("model_type", "expected "+ModelType, w.ModelType)
	}
	if !w.IsFitted {
		return errors.NewNotFittedError(ModelType, "ImportWeights")
	}

	layers := make([]*denseLayer, len(w.Layers))
	for i, lw := range w.Layers {
		want := activationReLU
		if i == len(w.Layers)-1 {
			want = activationSoftmax
		}
		if lw.Activation != want {
			return errors.NewValidationError("activation", "expected "+want, lw.Activation)
		}
		layers[i] = newDenseLayerFrom(lw.Inputs, lw.Outputs,
			append([]float64(nil), lw.W...),
			append([]float64(nil), lw.B...),
			lw.Activation)
	}

	hidden := make([]int, 0, len(layers)-1)
	for _, l := range layers[:len(layers)-1] {
		_, out := l.dims()
		hidden = append(hidden, out)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = layers
	m.hiddenLayers = hidden
	m.nClasses = w.Layers[len(w.Layers)-1].Outputs
	m.history = History{}
	m.state.SetDimensions(w.Layers[0].Inputs, 0)
	m.state.SetFitted()
	return nil
}

var (
	_ model.Classifier      = (*MLPClassifier)(nil)
	_ model.Persistable     = (*MLPClassifier)(nil)
	_ model.ParameterGetter = (*MLPClassifier)(nil)
)
