package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scerrors "github.com/clinix/sourceorder/pkg/errors"
)

func sampleWeights() *ModelWeights {
	return &ModelWeights{
		ModelType: "MLPClassifier",
		Version:   WeightsVersion,
		IsFitted:  true,
		Layers: []LayerWeights{
			{Inputs: 2, Outputs: 3, W: []float64{1, 2, 3, 4, 5, 6}, B: []float64{0, 0, 0}, Activation: "relu"},
			{Inputs: 3, Outputs: 2, W: []float64{1, 0, 0, 1, 1, 1}, B: []float64{0.5, -0.5}, Activation: "softmax"},
		},
		Hyperparameters: map[string]interface{}{"epochs": 100},
	}
}

func TestModelWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *ModelWeights)
		wantErr bool
	}{
		{"valid", func(w *ModelWeights) {}, false},
		{"missing type", func(w *ModelWeights) { w.ModelType = "" }, true},
		{"wrong version", func(w *ModelWeights) { w.Version = "0" }, true},
		{"fitted without layers", func(w *ModelWeights) { w.Layers = nil }, true},
		{"bad weight length", func(w *ModelWeights) { w.Layers[0].W = w.Layers[0].W[:5] }, true},
		{"bad bias length", func(w *ModelWeights) { w.Layers[1].B = []float64{1} }, true},
		{"layer chain mismatch", func(w *ModelWeights) {
			w.Layers[1].Inputs = 2
			w.Layers[1].W = w.Layers[1].W[:4]
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := sampleWeights()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModelWeightsCloneIsDeep(t *testing.T) {
	w := sampleWeights()
	c := w.Clone()
	c.Layers[0].W[0] = 99
	c.Hyperparameters["epochs"] = 1

	assert.Equal(t, 1.0, w.Layers[0].W[0])
	assert.Equal(t, 100, w.Hyperparameters["epochs"])
}

func TestSaveLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, SaveJSON(path, sampleWeights()))

	var got ModelWeights
	require.NoError(t, LoadJSON(path, &got))
	require.NoError(t, got.Validate())
	assert.Equal(t, []float64{0.5, -0.5}, got.Layers[1].B)
}

func TestLoadJSONMissingFile(t *testing.T) {
	var got ModelWeights
	err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"), &got)
	require.Error(t, err)
	assert.True(t, scerrors.Is(err, scerrors.ErrArtifact))
}

func TestStateManagerRequireFitted(t *testing.T) {
	s := NewStateManager("StandardScaler")
	err := s.RequireFitted("Transform")
	require.Error(t, err)

	var nf *scerrors.NotFittedError
	require.True(t, scerrors.As(err, &nf))
	assert.Equal(t, "StandardScaler", nf.ModelName)

	s.SetDimensions(9, 1500)
	s.SetFitted()
	assert.NoError(t, s.RequireFitted("Transform"))
	assert.NoError(t, s.RequireFeatures("Transform", 9))
	assert.Error(t, s.RequireFeatures("Transform", 8))

	s.Reset()
	assert.False(t, s.IsFitted())
}
