// Package metrics は分類モデルの評価指標を提供する
package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/pkg/errors"
)

// ClassScores は1クラス分の適合率・再現率・F1
type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report は評価結果一式（マニフェストと学習履歴DBに保存される）
type Report struct {
	Accuracy       float64       `json:"accuracy"`
	LogLoss        float64       `json:"log_loss"`
	MacroPrecision float64       `json:"macro_precision"`
	MacroRecall    float64       `json:"macro_recall"`
	MacroF1        float64       `json:"macro_f1"`
	PerClass       []ClassScores `json:"per_class"`
	Confusion      [][]int       `json:"confusion_matrix"`
}

func checkLabels(op string, yTrue, yPred []int) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty labels")
	}
	if len(yPred) != len(yTrue) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkLabels("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}

	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// ConfusionMatrix は混同行列を計算する
// 行が正解クラス、列が予測クラス (nClasses × nClasses)
func ConfusionMatrix(yTrue, yPred []int, nClasses int) (*mat.Dense, error) {
	if err := checkLabels("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, err
	}
	if nClasses < 1 {
		return nil, errors.NewValidationError("nClasses", "must be positive", nClasses)
	}

	cm := mat.NewDense(nClasses, nClasses, nil)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= nClasses || p < 0 || p >= nClasses {
			return nil, errors.NewValueError("ConfusionMatrix", "label out of range")
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// PrecisionRecallF1 はクラスごとの指標とマクロ平均を計算する
//
// 分母が0になる指標は0とし、UndefinedMetricWarningを発行する。
func PrecisionRecallF1(yTrue, yPred []int, nClasses int) (perClass []ClassScores, macro ClassScores, err error) {
	cm, err := ConfusionMatrix(yTrue, yPred, nClasses)
	if err != nil {
		return nil, ClassScores{}, err
	}

	perClass = make([]ClassScores, nClasses)
	for c := 0; c < nClasses; c++ {
		tp := cm.At(c, c)
		predicted := mat.Sum(cm.ColView(c))
		actual := mat.Sum(cm.RowView(c))

		s := ClassScores{Support: int(actual)}
		if predicted == 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples for a class", 0))
		} else {
			s.Precision = tp / predicted
		}
		if actual == 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples for a class", 0))
		} else {
			s.Recall = tp / actual
		}
		s.F1 = errors.SafeDivide(2*s.Precision*s.Recall, s.Precision+s.Recall)
		perClass[c] = s

		macro.Precision += s.Precision
		macro.Recall += s.Recall
		macro.F1 += s.F1
		macro.Support += s.Support
	}

	n := float64(nClasses)
	macro.Precision /= n
	macro.Recall /= n
	macro.F1 /= n
	return perClass, macro, nil
}

// LogLoss は多クラス交差エントロピーを計算する
// proba は n_samples × n_classes の確率行列。確率は1e-7で下限クリップされる。
func LogLoss(yTrue []int, proba mat.Matrix) (float64, error) {
	rows, cols := proba.Dims()
	if len(yTrue) == 0 {
		return 0, errors.NewValueError("LogLoss", "empty labels")
	}
	if rows != len(yTrue) {
		return 0, errors.NewDimensionError("LogLoss", len(yTrue), rows, 0)
	}

	var sum float64
	for i, y := range yTrue {
		if y < 0 || y >= cols {
			return 0, errors.NewValueError("LogLoss", "label out of range")
		}
		sum -= errors.StabilizeLog(proba.At(i, y))
	}
	loss := sum / float64(len(yTrue))
	if err := errors.CheckScalar("LogLoss", loss, 0); err != nil {
		return 0, err
	}
	return loss, nil
}

// ArgMax は各行の最大値の列番号を返す（同値の場合は小さい番号）
func ArgMax(proba mat.Matrix) []int {
	rows, cols := proba.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best := 0
		for j := 1; j < cols; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// Evaluate は確率行列から評価レポートを作成する
func Evaluate(yTrue []int, proba mat.Matrix) (Report, error) {
	_, nClasses := proba.Dims()
	yPred := ArgMax(proba)

	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return Report{}, err
	}
	loss, err := LogLoss(yTrue, proba)
	if err != nil {
		return Report{}, err
	}
	perClass, macro, err := PrecisionRecallF1(yTrue, yPred, nClasses)
	if err != nil {
		return Report{}, err
	}
	cm, _ := ConfusionMatrix(yTrue, yPred, nClasses)

	confusion := make([][]int, nClasses)
	for i := range confusion {
		confusion[i] = make([]int, nClasses)
		for j := range confusion[i] {
			confusion[i][j] = int(cm.At(i, j))
		}
	}

	return Report{
		Accuracy:       acc,
		LogLoss:        loss,
		MacroPrecision: macro.Precision,
		MacroRecall:    macro.Recall,
		MacroF1:        macro.F1,
		PerClass:       perClass,
		Confusion:      confusion,
	}, nil
}
