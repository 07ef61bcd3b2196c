package model

import (
	scerrors "github.com/clinix/sourceorder/pkg/errors"
)

// WeightsVersion は重みスナップショットの形式バージョン
const WeightsVersion = "1"

// LayerWeights は全結合層1つ分の重み
type LayerWeights struct {
	// Inputs, Outputs は層の入出力次元
	Inputs  int `json:"inputs"`
	Outputs int `json:"outputs"`

	// W は Inputs x Outputs の行優先配列
	W []float64 `json:"weights"`

	// B はバイアス（長さ Outputs）
	B []float64 `json:"biases"`

	// Activation は "relu" または "softmax"
	Activation string `json:"activation"`
}

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
type ModelWeights struct {
	// ModelType はモデルの種類（MLPClassifier等）
	ModelType string `json:"model_type"`

	// Version はモデルのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Layers は入力側から順に並んだ層
	Layers []LayerWeights `json:"layers"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return scerrors.NewValidationError("model_type", "is required", mw.ModelType)
	}
	if mw.Version != WeightsVersion {
		return scerrors.NewValidationError("version", "unsupported weights version", mw.Version)
	}
	if !mw.IsFitted && len(mw.Layers) > 0 {
		return scerrors.NewValueError("ModelWeights.Validate", "unfitted model should not have layers")
	}
	if mw.IsFitted && len(mw.Layers) == 0 {
		return scerrors.NewValueError("ModelWeights.Validate", "fitted model must have layers")
	}

	for i, l := range mw.Layers {
		if len(l.W) != l.Inputs*l.Outputs {
			return scerrors.NewDimensionError("ModelWeights.Validate", l.Inputs*l.Outputs, len(l.W), 0)
		}
		if len(l.B) != l.Outputs {
			return scerrors.NewDimensionError("ModelWeights.Validate", l.Outputs, len(l.B), 0)
		}
		if i > 0 && mw.Layers[i-1].Outputs != l.Inputs {
			return scerrors.NewDimensionError("ModelWeights.Validate", mw.Layers[i-1].Outputs, l.Inputs, 1)
		}
	}
	return nil
}

// Clone はModelWeightsのディープコピーを作成
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := &ModelWeights{
		ModelType:       mw.ModelType,
		Version:         mw.Version,
		IsFitted:        mw.IsFitted,
		Layers:          make([]LayerWeights, len(mw.Layers)),
		Hyperparameters: make(map[string]interface{}, len(mw.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(mw.Metadata)),
	}

	for i, l := range mw.Layers {
		clone.Layers[i] = LayerWeights{
			Inputs:     l.Inputs,
			Outputs:    l.Outputs,
			W:          append([]float64(nil), l.W...),
			B:          append([]float64(nil), l.B...),
			Activation: l.Activation,
		}
	}

	for k, v := range mw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}

	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}

	return clone
}
