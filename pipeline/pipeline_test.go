package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinix/sourceorder/artifact"
	"github.com/clinix/sourceorder/config"
	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/export"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
	"github.com/clinix/sourceorder/registry"
)

var header = []string{
	"DailyPatients", "Criticality", "WeatherCondition", "BatteryLevel", "GridStatus",
	"TimeOfDay", "Temperature", "Voltage", "Current", "SourceOrder",
}

// sourceFor is the rule the synthetic clinic follows.
func sourceFor(grid string, battery float64) string {
	switch {
	case grid == "Available":
		return "Grid"
	case battery > 50:
		return "Battery"
	default:
		return "Generator"
	}
}

// writeClinicCSV writes n rows. Battery levels avoid the 40..60 band so the
// classes are separable.
func writeClinicCSV(t *testing.T, n int) string {
	t.Helper()
	r := rand.New(rand.NewPCG(7, 7))
	pick := func(vs ...string) string { return vs[r.IntN(len(vs))] }

	var b strings.Builder
	b.WriteString(strings.Join(header, ",") + "\n")
	for i := 0; i < n; i++ {
		grid := "Available"
		if i%2 == 1 {
			grid = "Unavailable"
		}
		battery := 5 + r.Float64()*35
		if r.IntN(2) == 0 {
			battery = 60 + r.Float64()*35
		}
		fmt.Fprintf(&b, "%s,%s,%s,%.1f,%s,%s,%.1f,%.1f,%.2f,%s\n",
			pick("Low", "Medium", "High"),
			pick("Normal", "Critical"),
			pick("Sunny", "Cloudy", "Rainy"),
			battery,
			grid,
			pick("Morning", "Afternoon", "Night"),
			20+r.Float64()*15,
			210+r.Float64()*30,
			1+r.Float64()*9,
			sourceFor(grid, battery),
		)
	}
	path := filepath.Join(t.TempDir(), "clinic.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T, dataPath string) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Dataset.Path = dataPath
	cfg.Dataset.ExpectedColumns = dataset.CanonicalFeatureNames()
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Export.Dir = filepath.Join(dir, "include")
	cfg.Registry.Path = ""
	cfg.Split.TestSize = 0.25
	cfg.Model.HiddenLayers = []int{16, 8}
	cfg.Model.Epochs = 60
	cfg.Model.BatchSize = 8
	cfg.Model.LearningRate = 0.01
	cfg.Quantize.CalibrationSamples = 50
	require.NoError(t, cfg.Validate())
	return cfg
}

func quiet() Option {
	l, _ := log.NewTestLogger(log.LevelError)
	return WithLogger(l)
}

func record(grid string, battery float64) dataset.Record {
	return dataset.Record{
		"DailyPatients":    "Medium",
		"Criticality":      "Normal",
		"WeatherCondition": "Sunny",
		"BatteryLevel":     strconv.FormatFloat(battery, 'f', 1, 64),
		"GridStatus":       grid,
		"TimeOfDay":        "Morning",
		"Temperature":      "28.5",
		"Voltage":          "225",
		"Current":          "4.2",
	}
}

var lookupRe = regexp.MustCompile(`if \(strcmp\(s, "([^"]*)"\) == 0\) return (\d+);`)

// lookups extracts the string->code table of one encode_<column> function.
func lookups(t *testing.T, src, column string) map[string]int {
	t.Helper()
	start := strings.Index(src, "int encode_"+column+"(")
	require.GreaterOrEqual(t, start, 0, "no lookup for %s", column)
	body := src[start:]
	body = body[:strings.Index(body, "return -1; // unknown")]

	out := make(map[string]int)
	for _, m := range lookupRe.FindAllStringSubmatch(body, -1) {
		code, err := strconv.Atoi(m[2])
		require.NoError(t, err)
		out[m[1]] = code
	}
	return out
}

func TestTrainPredictExport(t *testing.T) {
	cfg := testConfig(t, writeClinicCSV(t, 160))
	cfg.Registry.Path = filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	res, err := Train(ctx, cfg, quiet())
	require.NoError(t, err)
	assert.Equal(t, 120, res.TrainRows)
	assert.Equal(t, 40, res.TestRows)
	require.Len(t, res.Classes, 3)
	assert.Equal(t, "Grid", res.Classes[0])
	assert.ElementsMatch(t, []string{"Grid", "Battery", "Generator"}, res.Classes)
	assert.GreaterOrEqual(t, res.Evaluation.Accuracy, 0.85)
	assert.True(t, res.Quantized)
	assert.GreaterOrEqual(t, res.QuantizedAccuracy, 0.75)
	assert.Equal(t, 60, res.History.Epochs())

	for _, f := range []string{artifact.ManifestFile, artifact.QuantizedModelFile, export.ModelDataFile, artifact.HistoryPlotFile} {
		assert.FileExists(t, filepath.Join(cfg.Artifacts.Dir, f))
	}

	// registry
	store, err := registry.Open(cfg.Registry.Path)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 160, run.Rows)
	assert.Equal(t, 3, run.Classes)
	assert.True(t, run.Quantized)

	// predict
	p, err := LoadPredictor(cfg.Artifacts.Dir, quiet())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, p.RunID())

	tests := []struct {
		grid    string
		battery float64
	}{
		{"Available", 80},
		{"Unavailable", 85},
		{"Unavailable", 15},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.grid, tt.battery), func(t *testing.T) {
			pred, err := p.Predict(record(tt.grid, tt.battery))
			require.NoError(t, err)
			assert.Equal(t, sourceFor(tt.grid, tt.battery), pred.Label)
			assert.Equal(t, p.Classes()[pred.ClassIndex], pred.Label)
			assert.Len(t, pred.Probabilities, 3)

			sum := 0.0
			for _, v := range pred.Probabilities {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		})
	}

	require.True(t, p.HasQuantized())
	qpred, err := p.PredictQuantized(record("Available", 80))
	require.NoError(t, err)
	assert.Len(t, qpred.Probabilities, 3)
	assert.Equal(t, p.Classes()[qpred.ClassIndex], qpred.Label)

	_, err = p.Predict(record("Outage", 50))
	assert.True(t, errors.Is(err, errors.ErrUnknownCategory))
	var uce *errors.UnknownCategoryError
	require.True(t, errors.As(err, &uce))
	assert.Equal(t, "GridStatus", uce.Column)

	missing := record("Available", 50)
	delete(missing, "Voltage")
	_, err = p.Predict(missing)
	assert.True(t, errors.Is(err, errors.ErrSchema))

	// export
	paths, err := Export(cfg.Artifacts.Dir, cfg.Export.Dir, quiet())
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	src, err := os.ReadFile(filepath.Join(cfg.Export.Dir, export.EncodersFile))
	require.NoError(t, err)
	grid := lookups(t, string(src), "GridStatus")
	assert.Equal(t, map[string]int{"Available": 0, "Unavailable": 1}, grid)
	_, known := grid["Outage"]
	assert.False(t, known)

	labels, err := os.ReadFile(filepath.Join(cfg.Export.Dir, export.LabelsFile))
	require.NoError(t, err)
	assert.Contains(t, string(labels), fmt.Sprintf("y_labels[%d]", len(p.Classes())))
	for i := 1; i < len(p.Classes()); i++ {
		assert.Less(t,
			strings.Index(string(labels), `"`+p.Classes()[i-1]+`"`),
			strings.Index(string(labels), `"`+p.Classes()[i]+`"`))
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	data := writeClinicCSV(t, 80)
	cfgA := testConfig(t, data)
	cfgB := testConfig(t, data)
	cfgA.Model.Epochs, cfgB.Model.Epochs = 10, 10

	a, err := Train(context.Background(), cfgA, quiet())
	require.NoError(t, err)
	b, err := Train(context.Background(), cfgB, quiet())
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.History.Loss, b.History.Loss)
	assert.Equal(t, a.Evaluation, b.Evaluation)

	ba, err := artifact.Load(cfgA.Artifacts.Dir)
	require.NoError(t, err)
	bb, err := artifact.Load(cfgB.Artifacts.Dir)
	require.NoError(t, err)
	assert.Equal(t, ba.Model.Layers, bb.Model.Layers)
	assert.Equal(t, ba.Quantized, bb.Quantized)
}

func TestRetrainWithoutQuantizationDropsModelHeader(t *testing.T) {
	cfg := testConfig(t, writeClinicCSV(t, 80))
	cfg.Model.Epochs = 5
	ctx := context.Background()

	first, err := Train(ctx, cfg, quiet())
	require.NoError(t, err)
	require.True(t, first.Quantized)
	assert.FileExists(t, filepath.Join(cfg.Artifacts.Dir, export.ModelDataFile))

	cfg.Quantize.Enabled = false
	second, err := Train(ctx, cfg, quiet())
	require.NoError(t, err)
	assert.False(t, second.Quantized)
	assert.NoFileExists(t, filepath.Join(cfg.Artifacts.Dir, export.ModelDataFile))
	assert.NoFileExists(t, filepath.Join(cfg.Artifacts.Dir, artifact.QuantizedModelFile))
	assert.NotContains(t, second.Files, filepath.Join(cfg.Artifacts.Dir, export.ModelDataFile))

	b, err := artifact.Load(cfg.Artifacts.Dir)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, b.Manifest.RunID)
	assert.Empty(t, b.Quantized)
}

func TestNewPredictorChecksQuantizedModel(t *testing.T) {
	cfg := testConfig(t, writeClinicCSV(t, 80))
	cfg.Model.Epochs = 5
	_, err := Train(context.Background(), cfg, quiet())
	require.NoError(t, err)

	b, err := artifact.Load(cfg.Artifacts.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, b.Quantized)
	_, err = NewPredictor(b, quiet())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(b *artifact.Bundle)
	}{
		{"corrupt bytes", func(b *artifact.Bundle) { b.Quantized = []byte("not a model") }},
		{"truncated", func(b *artifact.Bundle) { b.Quantized = b.Quantized[:len(b.Quantized)/2] }},
		{"shape mismatch", func(b *artifact.Bundle) {
			b.Model.Layers[0].Inputs++
			b.Model.Layers[0].W = append(b.Model.Layers[0].W, make([]float64, b.Model.Layers[0].Outputs)...)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := artifact.Load(cfg.Artifacts.Dir)
			require.NoError(t, err)
			tt.mutate(b)
			_, err = NewPredictor(b, quiet())
			require.Error(t, err)
		})
	}
}

func TestPredictorConcurrentUse(t *testing.T) {
	cfg := testConfig(t, writeClinicCSV(t, 80))
	cfg.Model.Epochs = 5
	cfg.Quantize.Enabled = false
	_, err := Train(context.Background(), cfg, quiet())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(cfg.Artifacts.Dir, artifact.QuantizedModelFile))

	p, err := LoadPredictor(cfg.Artifacts.Dir, quiet())
	require.NoError(t, err)
	assert.False(t, p.HasQuantized())
	_, err = p.PredictQuantized(record("Unavailable", 70))
	assert.True(t, errors.Is(err, errors.ErrArtifact))
	want, err := p.Predict(record("Unavailable", 70))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Prediction, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Predict(record("Unavailable", 70))
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestTrainErrors(t *testing.T) {
	t.Run("schema mismatch", func(t *testing.T) {
		cfg := testConfig(t, writeClinicCSV(t, 40))
		cfg.Dataset.ExpectedColumns = []string{"GridStatus", "BatteryLevel"}
		_, err := Train(context.Background(), cfg, quiet())
		assert.True(t, errors.Is(err, errors.ErrSchema), "%v", err)
	})

	t.Run("singleton class", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiny.csv")
		content := "GridStatus,BatteryLevel,SourceOrder\n" +
			"Available,80,Grid\nAvailable,70,Grid\nAvailable,60,Grid\n" +
			"Unavailable,90,Battery\nUnavailable,85,Battery\nUnavailable,75,Battery\n" +
			"Unavailable,10,Generator\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		cfg := testConfig(t, path)
		cfg.Dataset.ExpectedColumns = nil
		_, err := Train(context.Background(), cfg, quiet())
		assert.True(t, errors.Is(err, errors.ErrStratification), "%v", err)
	})

	t.Run("missing dataset", func(t *testing.T) {
		cfg := testConfig(t, filepath.Join(t.TempDir(), "none.csv"))
		_, err := Train(context.Background(), cfg, quiet())
		assert.Error(t, err)
	})
}

func TestExportDoesNotNeedModel(t *testing.T) {
	cfg := testConfig(t, writeClinicCSV(t, 40))
	cfg.Model.Epochs = 2
	_, err := Train(context.Background(), cfg, quiet())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(cfg.Artifacts.Dir, artifact.ModelFile)))

	_, err = LoadPredictor(cfg.Artifacts.Dir, quiet())
	assert.True(t, errors.Is(err, errors.ErrArtifact))

	paths, err := Export(cfg.Artifacts.Dir, cfg.Export.Dir, quiet())
	require.NoError(t, err)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}
