// Package neural_network は多層パーセプトロンによる多クラス分類器を提供する
package neural_network

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/core/parallel"
	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
)

// ModelType はスナップショットに記録されるモデル名
const ModelType = "MLPClassifier"

// History はエポックごとの学習曲線
type History struct {
	Loss        []float64 `json:"loss"`
	Accuracy    []float64 `json:"accuracy"`
	ValLoss     []float64 `json:"val_loss,omitempty"`
	ValAccuracy []float64 `json:"val_accuracy,omitempty"`

	// BestEpoch は復元された重みのエポック（早期終了なしなら最終エポック）
	BestEpoch    int  `json:"best_epoch"`
	StoppedEarly bool `json:"stopped_early"`
}

// Epochs は実行されたエポック数を返す
func (h History) Epochs() int { return len(h.Loss) }

// MLPClassifier は ReLU 隠れ層と softmax 出力を持つ全結合ネットワーク
// 損失は sparse categorical cross-entropy、最適化は mini-batch Adam
type MLPClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	hiddenLayers      []int   // 隠れ層のユニット数
	epochs            int     // 最大エポック数
	batchSize         int     // ミニバッチサイズ
	learningRate      float64 // Adam の学習率
	randomState       int64   // 乱数シード（初期化とシャッフル）
	patience          int     // 早期終了の猶予エポック数（0で無効）
	parallelThreshold int     // 推論を並列化する最小行数

	// 学習パラメータ
	layers   []*denseLayer
	nClasses int
	history  History

	mu     sync.RWMutex
	logger log.Logger
}

// Option はMLPClassifierの設定オプション
type Option func(*MLPClassifier)

// NewMLPClassifier は新しいMLPClassifierを作成
//
// デフォルト: 隠れ層 [32, 16]、100エポック、バッチサイズ16、学習率0.001、シード42
func NewMLPClassifier(options ...Option) *MLPClassifier {
	m := &MLPClassifier{
		state:             model.NewStateManager(ModelType),
		hiddenLayers:      []int{32, 16},
		epochs:            100,
		batchSize:         16,
		learningRate:      0.001,
		randomState:       42,
		parallelThreshold: parallel.DefaultThreshold,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.GetLoggerWithName("neural_network")
	}
	return m
}

// WithHiddenLayers は隠れ層のユニット数を設定
func WithHiddenLayers(sizes ...int) Option {
	return func(m *MLPClassifier) {
		m.hiddenLayers = append([]int(nil), sizes...)
	}
}

// WithEpochs は最大エポック数を設定
func WithEpochs(epochs int) Option {
	return func(m *MLPClassifier) {
		m.epochs = epochs
	}
}

// WithBatchSize はミニバッチサイズを設定
func WithBatchSize(batchSize int) Option {
	return func(m *MLPClassifier) {
		m.batchSize = batchSize
	}
}

// WithLearningRate は学習率を設定
func WithLearningRate(lr float64) Option {
	return func(m *MLPClassifier) {
		m.learningRate = lr
	}
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed int64) Option {
	return func(m *MLPClassifier) {
		m.randomState = seed
	}
}

// WithEarlyStopping は検証損失による早期終了を有効にする
// patience エポック改善がなければ停止し、最良エポックの重みを復元する
func WithEarlyStopping(patience int) Option {
	return func(m *MLPClassifier) {
		m.patience = patience
	}
}

// WithParallelThreshold は推論を並列化する最小行数を設定
func WithParallelThreshold(rows int) Option {
	return func(m *MLPClassifier) {
		m.parallelThreshold = rows
	}
}

// WithLogger はロガーを設定
func WithLogger(logger log.Logger) Option {
	return func(m *MLPClassifier) {
		m.logger = logger
	}
}

func (m *MLPClassifier) validateParams() error {
	if len(m.hiddenLayers) == 0 {
		return errors.NewValidationError("hidden_layers", "at least one hidden layer is required", m.hiddenLayers)
	}
	for _, h := range m.hiddenLayers {
		if h < 1 {
			return errors.NewValidationError("hidden_layers", "layer sizes must be positive", m.hiddenLayers)
		}
	}
	if m.epochs < 1 {
		return errors.NewValidationError("epochs", "must be positive", m.epochs)
	}
	if m.batchSize < 1 {
		return errors.NewValidationError("batch_size", "must be positive", m.batchSize)
	}
	if m.learningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", m.learningRate)
	}
	if m.patience < 0 {
		return errors.NewValidationError("early_stopping_patience", "must be non-negative", m.patience)
	}
	return nil
}

// Fit は訓練データのみで学習する
func (m *MLPClassifier) Fit(X mat.Matrix, y []int) error {
	return m.FitContext(context.Background(), X, y, nil, nil)
}

// FitWithValidation は検証データの損失・正解率を毎エポック記録しながら学習する
func (m *MLPClassifier) FitWithValidation(X mat.Matrix, y []int, Xval mat.Matrix, yval []int) error {
	return m.FitContext(context.Background(), X, y, Xval, yval)
}

// FitContext は学習本体。ctx はエポックの境界で確認される。
// y は 0..k-1 のクラス番号で、クラス数は max(y)+1 になる。
func (m *MLPClassifier) FitContext(ctx context.Context, X mat.Matrix, y []int, Xval mat.Matrix, yval []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateParams(); err != nil {
		return err
	}

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("MLPClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != rows {
		return errors.NewDimensionError("MLPClassifier.Fit", rows, len(y), 0)
	}
	nClasses := 0
	for _, label := range y {
		if label < 0 {
			return errors.NewValueError("MLPClassifier.Fit", "class labels must be non-negative")
		}
		nClasses = max(nClasses, label+1)
	}
	if nClasses < 2 {
		return errors.NewValueError("MLPClassifier.Fit", "at least two classes are required")
	}

	var xval *mat.Dense
	if Xval != nil {
		vr, vc := Xval.Dims()
		if vc != cols {
			return errors.NewDimensionError("MLPClassifier.Fit", cols, vc, 1)
		}
		if len(yval) != vr {
			return errors.NewDimensionError("MLPClassifier.Fit", vr, len(yval), 0)
		}
		for _, label := range yval {
			if label < 0 || label >= nClasses {
				return errors.NewValueError("MLPClassifier.Fit", "validation label not present in training labels")
			}
		}
		xval = mat.DenseCopyOf(Xval)
	}

	logger := m.logger.With(log.ModelNameKey, ModelType, log.OperationKey, log.OperationFit)
	logger.Info("Training started",
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.ClassesKey, nClasses,
		log.HiddenLayersKey, m.hiddenLayers,
		log.BatchSizeKey, m.batchSize,
		log.LearningRateKey, m.learningRate,
		log.RandomSeedKey, m.randomState,
	)
	start := time.Now()

	r := rand.New(rand.NewPCG(uint64(m.randomState), uint64(m.randomState)))
	sizes := append(append([]int{cols}, m.hiddenLayers...), nClasses)
	layers := make([]*denseLayer, len(sizes)-1)
	for i := range layers {
		act := activationReLU
		if i == len(layers)-1 {
			act = activationSoftmax
		}
		layers[i] = newDenseLayer(sizes[i], sizes[i+1], act, r)
	}

	xd := mat.DenseCopyOf(X)
	opt := newAdam(m.learningRate)
	es := NewEarlyStopping(0, "val_loss")
	if xval != nil {
		es = NewEarlyStopping(m.patience, "val_loss")
	}
	var best []*denseLayer
	history := History{BestEpoch: -1}

	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}

	for epoch := 0; epoch < m.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "training cancelled")
		}

		r.Shuffle(rows, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		var lossSum float64
		correct := 0
		for s := 0; s < rows; s += m.batchSize {
			e := min(s+m.batchSize, rows)
			bx, by := gatherBatch(xd, y, perm[s:e])
			batchLoss, batchCorrect := trainStep(layers, opt, bx, by)
			lossSum += batchLoss * float64(e-s)
			correct += batchCorrect
		}

		loss := lossSum / float64(rows)
		if err := errors.CheckScalar("MLPClassifier.Fit", loss, epoch); err != nil {
			logger.Error("Training diverged", log.EpochKey, epoch+1, log.ErrAttrKey, err)
			return err
		}
		history.Loss = append(history.Loss, loss)
		history.Accuracy = append(history.Accuracy, float64(correct)/float64(rows))

		fields := []any{log.EpochKey, epoch + 1, log.LossKey, loss, log.AccuracyKey, history.Accuracy[epoch]}
		if xval != nil {
			proba := predict(layers, xval)
			valLoss, err := metrics.LogLoss(yval, proba)
			if err != nil {
				return err
			}
			valAcc, _ := metrics.Accuracy(yval, metrics.ArgMax(proba))
			history.ValLoss = append(history.ValLoss, valLoss)
			history.ValAccuracy = append(history.ValAccuracy, valAcc)
			fields = append(fields, log.ValLossKey, valLoss, log.ValAccuracyKey, valAcc)

			if es.Update(epoch, valLoss) {
				best = cloneLayers(layers)
			}
		}
		logger.Debug("Epoch finished", fields...)

		if es.ShouldStop() {
			history.StoppedEarly = true
			logger.Info("Early stopping", log.EpochKey, epoch+1, "best_epoch", es.BestEpoch+1)
			break
		}
	}

	history.BestEpoch = len(history.Loss) - 1
	if es.Enabled && best != nil {
		layers = best
		history.BestEpoch = es.BestEpoch
	}

	if n := len(history.Loss); n > 1 && history.Loss[n-1] > history.Loss[0] {
		errors.Warn(errors.NewConvergenceWarning(ModelType, n, "training loss increased; consider a lower learning rate"))
	}

	m.layers = layers
	m.nClasses = nClasses
	m.history = history
	m.state.SetDimensions(cols, rows)
	m.state.SetFitted()

	logger.Info("Training completed",
		log.EpochKey, history.Epochs(),
		log.LossKey, history.Loss[history.Epochs()-1],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func gatherBatch(X *mat.Dense, y []int, idx []int) (*mat.Dense, []int) {
	_, cols := X.Dims()
	bx := mat.NewDense(len(idx), cols, nil)
	by := make([]int, len(idx))
	for i, k := range idx {
		bx.SetRow(i, X.RawRowView(k))
		by[i] = y[k]
	}
	return bx, by
}

// trainStep は1ミニバッチの順伝播・逆伝播・Adam 更新を行い、
// バッチの平均損失と正解数を返す
func trainStep(layers []*denseLayer, opt *adam, X *mat.Dense, y []int) (loss float64, correct int) {
	n := len(y)
	acts := make([]mat.Matrix, len(layers)+1)
	zs := make([]*mat.Dense, len(layers))
	acts[0] = X
	for i, l := range layers {
		z, a := l.forward(acts[i])
		zs[i] = z
		acts[i+1] = a
	}

	proba := acts[len(layers)].(*mat.Dense)
	for i, label := range y {
		loss -= errors.StabilizeLog(proba.At(i, label))
	}
	loss /= float64(n)
	pred := metrics.ArgMax(proba)
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}

	// softmax + cross-entropy の勾配: (P - onehot(y)) / n
	delta := mat.DenseCopyOf(proba)
	for i, label := range y {
		delta.Set(i, label, delta.At(i, label)-1)
	}
	delta.Scale(1/float64(n), delta)

	gradW := make([]*mat.Dense, len(layers))
	gradB := make([][]float64, len(layers))
	for li := len(layers) - 1; li >= 0; li-- {
		gw := new(mat.Dense)
		gw.Mul(acts[li].T(), delta)
		gradW[li] = gw

		_, out := layers[li].dims()
		gb := make([]float64, out)
		for i := 0; i < n; i++ {
			for j, v := range delta.RawRowView(i) {
				gb[j] += v
			}
		}
		gradB[li] = gb

		if li > 0 {
			next := new(mat.Dense)
			next.Mul(delta, layers[li].W.T())
			prevZ := zs[li-1]
			next.Apply(func(i, j int, v float64) float64 {
				if prevZ.At(i, j) > 0 {
					return v
				}
				return 0
			}, next)
			delta = next
		}
	}

	lrT := opt.step()
	for li, l := range layers {
		opt.update(lrT, l.weights(), gradW[li].RawMatrix().Data, l.mW, l.vW)
		opt.update(lrT, l.b, gradB[li], l.mb, l.vb)
	}
	return loss, correct
}

// predict は全層の順伝播を行い確率行列を返す
func predict(layers []*denseLayer, X mat.Matrix) *mat.Dense {
	var a mat.Matrix = X
	var out *mat.Dense
	for _, l := range layers {
		_, out = l.forward(a)
		a = out
	}
	return out
}

func cloneLayers(layers []*denseLayer) []*denseLayer {
	out := make([]*denseLayer, len(layers))
	for i, l := range layers {
		out[i] = l.clone()
	}
	return out
}
