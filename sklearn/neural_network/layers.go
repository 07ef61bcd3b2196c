package neural_network

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

const (
	activationReLU    = "relu"
	activationSoftmax = "softmax"
)

// denseLayer は全結合層 out = act(in·W + b)
type denseLayer struct {
	W   *mat.Dense // inputs × outputs
	b   []float64
	act string

	// Adam のモーメント
	mW, vW []float64
	mb, vb []float64
}

// newDenseLayer は Glorot uniform で重みを初期化し、バイアスは0にする
func newDenseLayer(in, out int, act string, r *rand.Rand) *denseLayer {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (2*r.Float64() - 1) * limit
	}
	return newDenseLayerFrom(in, out, data, make([]float64, out), act)
}

func newDenseLayerFrom(in, out int, w, b []float64, act string) *denseLayer {
	return &denseLayer{
		W:   mat.NewDense(in, out, w),
		b:   b,
		act: act,
		mW:  make([]float64, in*out),
		vW:  make([]float64, in*out),
		mb:  make([]float64, out),
		vb:  make([]float64, out),
	}
}

func (l *denseLayer) dims() (in, out int) { return l.W.Dims() }

// weights は行優先の重み配列（W は NewDense で作るので stride == outputs）
func (l *denseLayer) weights() []float64 { return l.W.RawMatrix().Data }

// forward は線形変換 z と活性化後の出力 a を返す
func (l *denseLayer) forward(A mat.Matrix) (z, a *mat.Dense) {
	z = new(mat.Dense)
	z.Mul(A, l.W)
	rows, _ := z.Dims()
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		for j := range row {
			row[j] += l.b[j]
		}
	}

	a = mat.DenseCopyOf(z)
	switch l.act {
	case activationReLU:
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, a)
	case activationSoftmax:
		for i := 0; i < rows; i++ {
			softmaxInPlace(a.RawRowView(i))
		}
	}
	return z, a
}

func softmaxInPlace(row []float64) {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for j, v := range row {
		row[j] = math.Exp(v - maxVal)
		sum += row[j]
	}
	for j := range row {
		row[j] /= sum
	}
}

// clone はモーメントを除いた層のコピーを返す
func (l *denseLayer) clone() *denseLayer {
	in, out := l.dims()
	return newDenseLayerFrom(in, out,
		append([]float64(nil), l.weights()...),
		append([]float64(nil), l.b...),
		l.act)
}

// adam は Adam オプティマイザ（Keras と同じ epsilon-hat 形式）
type adam struct {
	lr, beta1, beta2, epsilon float64
	t                         int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, epsilon: 1e-7}
}

// step はステップ数を進め、そのステップのバイアス補正済み学習率を返す
func (o *adam) step() float64 {
	o.t++
	t := float64(o.t)
	return o.lr * math.Sqrt(1-math.Pow(o.beta2, t)) / (1 - math.Pow(o.beta1, t))
}

func (o *adam) update(lrT float64, param, grad, m, v []float64) {
	for i, g := range grad {
		m[i] = o.beta1*m[i] + (1-o.beta1)*g
		v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
		param[i] -= lrT * m[i] / (math.Sqrt(v[i]) + o.epsilon)
	}
}
