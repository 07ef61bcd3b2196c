package model

import (
	"gonum.org/v1/gonum/mat"
)

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// VectorTransformer transforms a single feature vector with fitted parameters.
type VectorTransformer interface {
	TransformVector(x []float64) ([]float64, error)
}

// Classifier is implemented by models that map feature rows to class indices.
// Class indices are the target encoder codes, in [0, NClasses()).
type Classifier interface {
	// Fit trains on X (n_samples x n_features) and integer class labels y.
	Fit(X mat.Matrix, y []int) error

	// Predict returns the arg-max class index per row.
	Predict(X mat.Matrix) ([]int, error)

	// PredictProba returns an n_samples x n_classes matrix of probabilities.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Score returns the accuracy on X, y.
	Score(X mat.Matrix, y []int) (float64, error)

	// NClasses returns the number of output classes seen during fitting.
	NClasses() int
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// Persistable is implemented by fitted components that export their state as
// a JSON-serializable snapshot.
type Persistable interface {
	// ExportWeights returns a snapshot of the fitted state.
	ExportWeights() (*ModelWeights, error)

	// ImportWeights restores the fitted state from a snapshot.
	ImportWeights(w *ModelWeights) error
}
