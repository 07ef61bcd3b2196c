package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/pkg/errors"
)

// zeroScaleTolerance 未満の標準偏差は定数列とみなし、スケールを1にする
const zeroScaleTolerance = 1e-8

// StandardScaler は標準化スケーラー
// 各特徴量を (x - mean) / scale に変換する。scale は母標準偏差。
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（定数列では1）
	Scale []float64
}

// ScalerParams はスケーラーの学習済みパラメータ（成果物に保存される）
type ScalerParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{state: model.NewStateManager("StandardScaler")}
}

// NewStandardScalerFromParams は保存済みパラメータから学習済みスケーラーを復元する
func NewStandardScalerFromParams(p ScalerParams) (*StandardScaler, error) {
	if len(p.Mean) == 0 {
		return nil, errors.NewModelError("StandardScaler.Load", "empty parameters", errors.ErrEmptyData)
	}
	if len(p.Mean) != len(p.Scale) {
		return nil, errors.NewDimensionError("StandardScaler.Load", len(p.Mean), len(p.Scale), 1)
	}
	for j, sc := range p.Scale {
		if sc == 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return nil, errors.NewValidationError("scale", "must be finite and non-zero", p.Scale[j])
		}
	}

	s := NewStandardScaler()
	s.Mean = append([]float64(nil), p.Mean...)
	s.Scale = append([]float64(nil), p.Scale...)
	s.state.SetDimensions(len(p.Mean), 0)
	s.state.SetFitted()
	return s, nil
}

// Fit は訓練データから統計情報（平均、母標準偏差）を計算する
//
// パラメータ:
//   - X: 訓練データ (n_samples × n_features の行列)
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		if err := errors.CheckNumericalStability("StandardScaler.Fit", col, j); err != nil {
			return err
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if math.Abs(std) < zeroScaleTolerance {
			std = 1.0
		}
		s.Scale[j] = std
	}

	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("Transform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// TransformVector は1レコード分の特徴量ベクトルを標準化する
func (s *StandardScaler) TransformVector(x []float64) ([]float64, error) {
	if err := s.state.RequireFitted("TransformVector"); err != nil {
		return nil, err
	}
	if err := s.state.RequireFeatures("StandardScaler.TransformVector", len(x)); err != nil {
		return nil, err
	}

	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("InverseTransform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

// IsFitted は学習済みかどうかを返す
func (s *StandardScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// NFeatures は学習時の特徴量数を返す
func (s *StandardScaler) NFeatures() int {
	n, _ := s.state.GetDimensions()
	return n
}

// Params は学習済みパラメータのコピーを返す
func (s *StandardScaler) Params() (ScalerParams, error) {
	if err := s.state.RequireFitted("Params"); err != nil {
		return ScalerParams{}, err
	}
	return ScalerParams{
		Mean:  append([]float64(nil), s.Mean...),
		Scale: append([]float64(nil), s.Scale...),
	}, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": true,
		"with_std":  true,
	}
}

var (
	_ model.Transformer       = (*StandardScaler)(nil)
	_ model.VectorTransformer = (*StandardScaler)(nil)
	_ model.ParameterGetter   = (*StandardScaler)(nil)
)
