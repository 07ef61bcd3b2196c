package report

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

func TestPlotHistoryWritesPNG(t *testing.T) {
	tests := []struct {
		name string
		h    neural_network.History
	}{
		{
			name: "with validation",
			h: neural_network.History{
				Loss:        []float64{1.2, 0.8, 0.5},
				Accuracy:    []float64{0.4, 0.6, 0.8},
				ValLoss:     []float64{1.3, 0.9, 0.6},
				ValAccuracy: []float64{0.35, 0.55, 0.75},
			},
		},
		{
			name: "train only",
			h: neural_network.History{
				Loss:     []float64{0.7},
				Accuracy: []float64{0.5},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history.png")
			require.NoError(t, PlotHistory(tt.h, path))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			img, err := png.Decode(f)
			require.NoError(t, err)
			assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy())
		})
	}
}

func TestPlotHistoryEmpty(t *testing.T) {
	err := PlotHistory(neural_network.History{}, filepath.Join(t.TempDir(), "h.png"))
	assert.Error(t, err)
}

func TestWriteSummary(t *testing.T) {
	r := metrics.Report{
		Accuracy: 0.75,
		LogLoss:  0.5,
		PerClass: []metrics.ClassScores{
			{Precision: 1, Recall: 0.5, F1: 0.6667, Support: 2},
			{Precision: 0.6667, Recall: 1, F1: 0.8, Support: 2},
		},
		MacroPrecision: 0.8333,
		MacroRecall:    0.75,
		MacroF1:        0.7333,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r, []string{"Grid", "Solar"}))

	out := buf.String()
	assert.Contains(t, out, "Grid")
	assert.Contains(t, out, "Solar")
	assert.Contains(t, out, "macro avg")
	assert.Contains(t, out, "accuracy 0.7500")
}
