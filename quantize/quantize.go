// Package quantize converts a trained float network into an int8 network
// for the microcontroller, and runs integer inference for parity checks.
//
// Activations use per-tensor asymmetric int8 (scale, zero point) calibrated
// on sample inputs; weights use per-tensor symmetric int8; biases are int32
// with scale input_scale*weight_scale. The softmax output is int8 with scale
// 1/256 and zero point -128.
package quantize

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/pkg/errors"
)

// OutputParams is the fixed quantization of the softmax output.
var OutputParams = Params{Scale: 1.0 / 256.0, ZeroPoint: -128}

// Params maps int8 q to the real value Scale*(q-ZeroPoint).
type Params struct {
	Scale     float64
	ZeroPoint int32
}

// Quantize maps a real value to int8.
func (p Params) Quantize(v float64) int8 {
	return clampInt8(math.Round(v/p.Scale) + float64(p.ZeroPoint))
}

// Dequantize maps an int8 back to a real value.
func (p Params) Dequantize(q int8) float64 {
	return p.Scale * float64(int32(q)-p.ZeroPoint)
}

// paramsForRange chooses asymmetric params covering [lo, hi]. The range is
// widened to include zero so that zero is exactly representable.
func paramsForRange(lo, hi float64) Params {
	lo = math.Min(lo, 0)
	hi = math.Max(hi, 0)
	if hi-lo < 1e-12 {
		return Params{Scale: 1.0 / 255.0, ZeroPoint: -128}
	}
	scale := (hi - lo) / 255.0
	zp := math.Round(-128 - lo/scale)
	return Params{Scale: scale, ZeroPoint: int32(math.Max(-128, math.Min(127, zp)))}
}

func clampInt8(v float64) int8 {
	if v < -128 {
		return -128
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}

// Layer is one quantized dense layer.
type Layer struct {
	Inputs      int
	Outputs     int
	Weights     []int8 // Inputs x Outputs, row-major
	WeightScale float64
	Bias        []int32
	Input       Params
	Output      Params // for the last layer: the logits
	ReLU        bool
}

// Model is a quantized network.
type Model struct {
	Layers []Layer
}

// Quantize calibrates activation ranges by running the float network on the
// rows of calibration, then converts every layer.
func Quantize(w *model.ModelWeights, calibration mat.Matrix) (*Model, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !w.IsFitted {
		return nil, errors.NewNotFittedError(w.ModelType, "Quantize")
	}
	rows, cols := calibration.Dims()
	if rows == 0 {
		return nil, errors.NewModelError("Quantize", "empty calibration data", errors.ErrEmptyData)
	}
	if cols != w.Layers[0].Inputs {
		return nil, errors.NewDimensionError("Quantize", w.Layers[0].Inputs, cols, 1)
	}

	// ranges[0] is the input, ranges[i+1] the output of layer i
	lo := make([]float64, len(w.Layers)+1)
	hi := make([]float64, len(w.Layers)+1)
	for i := range lo {
		lo[i], hi[i] = math.Inf(1), math.Inf(-1)
	}
	observe := func(k int, v []float64) {
		for _, x := range v {
			lo[k] = math.Min(lo[k], x)
			hi[k] = math.Max(hi[k], x)
		}
	}

	x := make([]float64, cols)
	for r := 0; r < rows; r++ {
		mat.Row(x, r, calibration)
		if err := errors.CheckNumericalStability("Quantize", x, r); err != nil {
			return nil, err
		}
		observe(0, x)
		a := x
		for i, l := range w.Layers {
			a = denseFloat(l, a, l.Activation == "relu")
			observe(i+1, a)
		}
	}

	q := &Model{Layers: make([]Layer, len(w.Layers))}
	in := paramsForRange(lo[0], hi[0])
	for i, l := range w.Layers {
		out := paramsForRange(lo[i+1], hi[i+1])

		maxAbs := 0.0
		for _, v := range l.W {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
		ws := maxAbs / 127.0
		if ws == 0 {
			ws = 1.0 / 127.0
		}

		ql := Layer{
			Inputs:      l.Inputs,
			Outputs:     l.Outputs,
			Weights:     make([]int8, len(l.W)),
			WeightScale: ws,
			Bias:        make([]int32, len(l.B)),
			Input:       in,
			Output:      out,
			ReLU:        l.Activation == "relu",
		}
		for k, v := range l.W {
			ql.Weights[k] = int8(math.Max(-127, math.Min(127, math.Round(v/ws))))
		}
		bs := in.Scale * ws
		for k, v := range l.B {
			ql.Bias[k] = int32(math.Round(v / bs))
		}
		q.Layers[i] = ql
		in = out
	}
	return q, nil
}

// denseFloat applies one float layer, without softmax on the last layer.
func denseFloat(l model.LayerWeights, x []float64, relu bool) []float64 {
	out := make([]float64, l.Outputs)
	copy(out, l.B)
	for i, xi := range x {
		row := l.W[i*l.Outputs : (i+1)*l.Outputs]
		for j, w := range row {
			out[j] += xi * w
		}
	}
	if relu {
		for j := range out {
			out[j] = math.Max(0, out[j])
		}
	}
	return out
}

// InputParams returns the quantization of the (already scaled) input vector.
func (m *Model) InputParams() Params { return m.Layers[0].Input }

// QuantizeInput converts a scaled feature vector to int8.
func (m *Model) QuantizeInput(x []float64) []int8 {
	p := m.InputParams()
	out := make([]int8, len(x))
	for i, v := range x {
		out[i] = p.Quantize(v)
	}
	return out
}

// PredictInt8 runs integer inference and returns the int8 softmax output.
func (m *Model) PredictInt8(x []int8) ([]int8, error) {
	if len(m.Layers) == 0 {
		return nil, errors.NewNotFittedError("QuantizedModel", "PredictInt8")
	}
	if len(x) != m.Layers[0].Inputs {
		return nil, errors.NewDimensionError("QuantizedModel.PredictInt8", m.Layers[0].Inputs, len(x), 1)
	}

	a := x
	for _, l := range m.Layers {
		a = l.forward(a)
	}

	last := m.Layers[len(m.Layers)-1]
	logits := make([]float64, len(a))
	for j, q := range a {
		logits[j] = last.Output.Dequantize(q)
	}
	probs := softmax(logits)
	out := make([]int8, len(probs))
	for j, p := range probs {
		out[j] = OutputParams.Quantize(p)
	}
	return out, nil
}

// forward computes acc = sum((q_in - zp_in) * q_w) + q_b in int32, then
// requantizes to the output params.
func (l Layer) forward(x []int8) []int8 {
	multiplier := l.Input.Scale * l.WeightScale / l.Output.Scale
	out := make([]int8, l.Outputs)
	for j := 0; j < l.Outputs; j++ {
		acc := l.Bias[j]
		for i := 0; i < l.Inputs; i++ {
			acc += (int32(x[i]) - l.Input.ZeroPoint) * int32(l.Weights[i*l.Outputs+j])
		}
		q := clampInt8(math.Round(float64(acc)*multiplier) + float64(l.Output.ZeroPoint))
		if l.ReLU && int32(q) < l.Output.ZeroPoint {
			q = int8(l.Output.ZeroPoint)
		}
		out[j] = q
	}
	return out
}

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	maxVal := math.Inf(-1)
	for _, v := range logits {
		maxVal = math.Max(maxVal, v)
	}
	var sum float64
	for j, v := range logits {
		out[j] = math.Exp(v - maxVal)
		sum += out[j]
	}
	for j := range out {
		out[j] /= sum
	}
	return out
}

// Predict quantizes x, runs integer inference and returns dequantized
// class probabilities.
func (m *Model) Predict(x []float64) ([]float64, error) {
	q, err := m.PredictInt8(m.QuantizeInput(x))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(q))
	for j, v := range q {
		out[j] = OutputParams.Dequantize(v)
	}
	return out, nil
}

// PredictClass returns the arg-max class of Predict.
func (m *Model) PredictClass(x []float64) (int, error) {
	p, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	best := 0
	for j := range p {
		if p[j] > p[best] {
			best = j
		}
	}
	return best, nil
}
