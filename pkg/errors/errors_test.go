package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "sourceorder: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "sourceorder: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.Contains(t, formatted, "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("StandardScaler.Transform", 9, 8, 1)

	want := "sourceorder: StandardScaler.Transform: dimension mismatch on axis 1 (features). Expected 9, got 8"
	assert.Equal(t, want, err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 9, dimErr.Expected)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("MLPClassifier", "Predict")

	want := "sourceorder: MLPClassifier: this model is not fitted yet. Call Fit() before using Predict()"
	assert.Equal(t, want, err.Error())

	var notFittedErr *NotFittedError
	assert.True(t, As(err, &notFittedErr))
}

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"schema", NewSchemaError("Load", "GridStatus", "column missing"), ErrSchema},
		{"unknown category", NewUnknownCategoryError("GridStatus", "Outage"), ErrUnknownCategory},
		{"artifact", NewArtifactError("scaler.json", "run id mismatch", nil), ErrArtifact},
		{"stratification", NewStratificationError("Grid>Battery", 1, "needs at least 2 members"), ErrStratification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))

			wrapped := Wrap(tt.err, "stage aborted")
			assert.True(t, Is(wrapped, tt.sentinel), "sentinel must survive wrapping")

			for _, other := range []error{ErrSchema, ErrUnknownCategory, ErrArtifact, ErrStratification} {
				if other == tt.sentinel {
					continue
				}
				assert.False(t, Is(tt.err, other))
			}
		})
	}
}

func TestUnknownCategoryError(t *testing.T) {
	err := NewUnknownCategoryError("WeatherCondition", "Snowy")
	assert.Equal(t, `sourceorder: unknown category "Snowy" for column 'WeatherCondition'`, err.Error())

	var unk *UnknownCategoryError
	require.True(t, As(Wrap(err, "predict"), &unk))
	assert.Equal(t, "WeatherCondition", unk.Column)
	assert.Equal(t, "Snowy", unk.Value)
}

func TestArtifactErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("no such file")
	err := NewArtifactError("/tmp/a/model.json", "cannot open", cause)

	assert.True(t, Is(err, cause))
	assert.True(t, strings.HasSuffix(err.Error(), "no such file"))
}

func TestWarnRoutesToZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewConvergenceWarning("MLPClassifier", 100, "validation loss still decreasing"))

	require.Len(t, got, 1)
	assert.Equal(t, "MLPClassifier failed to converge after 100 iterations: validation loss still decreasing", got[0].Error())
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples", 0))
	require.Len(t, got, 1)
}

func TestMarshalZerologObject(t *testing.T) {
	var sb strings.Builder
	logger := zerolog.New(&sb)

	logger.Error().EmbedObject(&SchemaError{Op: "Validate", Column: "Voltage", Reason: "column missing"}).Msg("schema")

	out := sb.String()
	assert.Contains(t, out, `"column":"Voltage"`)
	assert.Contains(t, out, `"type":"SchemaError"`)
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Fit", 10, 0)

	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.Contains(t, wrapped.Error(), "in Fit: expected 10, got 0")
}

func TestNumericalHelpers(t *testing.T) {
	assert.NoError(t, CheckScalar("loss", 0.5, 1))
	assert.Error(t, CheckScalar("loss", nan(), 3))
	assert.Error(t, CheckNumericalStability("weights", []float64{1, inf()}, 2))

	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 127.0, ClipValue(300, -128, 127))
	assert.InDelta(t, 2.0+0.6931471805599453, LogSumExp([]float64{2, 2}), 1e-12)
}
