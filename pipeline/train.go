package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/artifact"
	"github.com/clinix/sourceorder/config"
	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/export"
	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
	"github.com/clinix/sourceorder/preprocessing"
	"github.com/clinix/sourceorder/quantize"
	"github.com/clinix/sourceorder/registry"
	"github.com/clinix/sourceorder/report"
	"github.com/clinix/sourceorder/sklearn/model_selection"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

// TrainResult summarises a finished training run.
type TrainResult struct {
	RunID       string
	ArtifactDir string
	Schema      dataset.Schema
	Classes     []string
	Evaluation  metrics.Report
	History     neural_network.History
	TrainRows   int
	TestRows    int

	// Quantized is set when an int8 model was produced; QuantizedAccuracy
	// is its accuracy on the hold-out rows.
	Quantized         bool
	QuantizedAccuracy float64

	// Files lists every file written, relative paths included as given.
	Files []string
}

// encoded is the preprocessed training table.
type encoded struct {
	schema   dataset.Schema
	encoders *preprocessing.ColumnEncoders
	target   *preprocessing.LabelEncoder
	scaler   *preprocessing.StandardScaler
	X        mat.Matrix // scaled
	y        []int
}

// Train runs the training stage described by cfg and saves its artifacts.
func Train(ctx context.Context, cfg *config.Config, opts ...Option) (res *TrainResult, err error) {
	defer errors.Recover(&err, "pipeline.Train")

	o := buildOptions(opts)
	start := time.Now()
	runID := artifact.NewRunID()
	logger := o.logger.With(log.RunIDKey, runID)

	table, err := dataset.Load(cfg.Dataset.Path, cfg.Dataset.Sheet)
	if err != nil {
		return nil, err
	}
	logger.Info("Dataset loaded",
		log.PathKey, cfg.Dataset.Path,
		log.SamplesKey, table.NumRows(),
		log.FeaturesKey, len(table.FeatureNames()),
	)

	enc, err := encode(table, cfg.Dataset.ExpectedColumns, cfg.CategoryOrder())
	if err != nil {
		return nil, err
	}
	logger.Debug("Preprocessing fitted",
		log.PhaseKey, log.PhasePreprocessing,
		"categorical", enc.encoders.Columns(),
		log.ClassesKey, enc.target.Len(),
	)

	n := len(enc.y)
	split, err := model_selection.TrainTestSplit(n, enc.y, cfg.Split.TrainSize, cfg.Split.TestSize, cfg.Split.Seed)
	if err != nil {
		return nil, err
	}
	Xtr, ytr := selectRows(enc.X, enc.y, split.Train)
	Xte, yte := selectRows(enc.X, enc.y, split.Test)

	clfOpts := []neural_network.Option{
		neural_network.WithHiddenLayers(cfg.Model.HiddenLayers...),
		neural_network.WithEpochs(cfg.Model.Epochs),
		neural_network.WithBatchSize(cfg.Model.BatchSize),
		neural_network.WithLearningRate(cfg.Model.LearningRate),
		neural_network.WithRandomState(cfg.Model.Seed),
		neural_network.WithLogger(logger.With(log.ModelNameKey, neural_network.ModelType)),
	}
	if cfg.Model.EarlyStoppingPatience > 0 {
		clfOpts = append(clfOpts, neural_network.WithEarlyStopping(cfg.Model.EarlyStoppingPatience))
	}
	clf := neural_network.NewMLPClassifier(clfOpts...)
	if err := clf.FitContext(ctx, Xtr, ytr, Xte, yte); err != nil {
		return nil, err
	}

	proba, err := clf.PredictProba(Xte)
	if err != nil {
		return nil, err
	}
	eval, err := metrics.Evaluate(yte, proba)
	if err != nil {
		return nil, err
	}
	logger.Info("Model evaluated",
		log.PhaseKey, log.PhaseValidation,
		log.AccuracyKey, eval.Accuracy,
		log.LossKey, eval.LogLoss,
		"macro_f1", eval.MacroF1,
	)

	weights, err := clf.ExportWeights()
	if err != nil {
		return nil, err
	}

	res = &TrainResult{
		RunID:       runID,
		ArtifactDir: cfg.Artifacts.Dir,
		Schema:      enc.schema,
		Classes:     enc.target.Classes(),
		Evaluation:  eval,
		History:     clf.History(),
		TrainRows:   len(ytr),
		TestRows:    len(yte),
	}

	var qdata []byte
	if cfg.Quantize.Enabled {
		qm, err := quantizeModel(weights, Xtr, cfg.Quantize.CalibrationSamples)
		if err != nil {
			return nil, err
		}
		if qdata, err = qm.MarshalBinary(); err != nil {
			return nil, err
		}
		res.Quantized = true
		res.QuantizedAccuracy, err = quantizedAccuracy(qm, Xte, yte)
		if err != nil {
			return nil, err
		}
		logger.Info("Model quantized",
			log.OperationKey, log.OperationQuantize,
			log.AccuracyKey, res.QuantizedAccuracy,
			"bytes", len(qdata),
		)
	}

	bundle := &artifact.Bundle{
		Manifest: artifact.Manifest{
			RunID:         runID,
			Dataset:       cfg.Dataset.Path,
			Rows:          n,
			Schema:        enc.schema,
			CategoryOrder: enc.encoders.Order(),
			Evaluation:    eval,
			History:       res.History,
		},
		Model:     weights,
		Quantized: qdata,
	}
	if bundle.Encoders, err = enc.encoders.Params(); err != nil {
		return nil, err
	}
	if bundle.TargetEncoder, err = enc.target.Params(); err != nil {
		return nil, err
	}
	if bundle.Scaler, err = enc.scaler.Params(); err != nil {
		return nil, err
	}
	dir := cfg.Artifacts.Dir
	if err := bundle.Save(dir); err != nil {
		return nil, err
	}
	res.Files = append(res.Files,
		filepath.Join(dir, artifact.ManifestFile),
		filepath.Join(dir, artifact.EncodersFile),
		filepath.Join(dir, artifact.TargetEncoderFile),
		filepath.Join(dir, artifact.ScalerFile),
		filepath.Join(dir, artifact.ModelFile),
	)

	if res.Quantized {
		var buf bytes.Buffer
		if err := export.ModelDataHeader(&buf, cfg.Quantize.Symbol, qdata); err != nil {
			return nil, err
		}
		hpath := filepath.Join(dir, export.ModelDataFile)
		if err := writeFile(hpath, buf.Bytes()); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, filepath.Join(dir, artifact.QuantizedModelFile), hpath)
	} else {
		// 前回の量子化モデルのヘッダーを残さない
		hpath := filepath.Join(dir, export.ModelDataFile)
		if err := os.Remove(hpath); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewArtifactError(hpath, "remove stale file", err)
		}
	}

	plotPath := filepath.Join(dir, artifact.HistoryPlotFile)
	if err := report.PlotHistory(res.History, plotPath); err != nil {
		// 学習結果自体は保存済み
		logger.Warn("Training plot not written", log.ErrAttrKey, err)
	} else {
		res.Files = append(res.Files, plotPath)
	}

	if cfg.Registry.Path != "" {
		if err := recordRun(ctx, cfg, res, n); err != nil {
			return nil, err
		}
	}

	logger.Info("Training run saved",
		log.OperationKey, log.OperationFit,
		log.PathKey, dir,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// encode fits the categorical encoders, the target encoder and the scaler
// on the whole table.
func encode(table *dataset.Table, expected []string, order preprocessing.CategoryOrder) (*encoded, error) {
	if err := table.Validate(expected); err != nil {
		return nil, err
	}
	schema := table.InferSchema()
	if err := schema.Check(expected); err != nil {
		return nil, err
	}

	encoders := preprocessing.NewColumnEncoders(order)
	for _, c := range schema.CategoricalColumns() {
		values, err := table.Column(c)
		if err != nil {
			return nil, err
		}
		if err := encoders.Fit(c, values); err != nil {
			return nil, err
		}
	}

	features := schema.FeatureNames()
	rows := table.FeatureRows()
	raw := mat.NewDense(len(rows), len(features), nil)
	for i, row := range rows {
		x, err := encoders.EncodeRow(features, row)
		if err != nil {
			return nil, err
		}
		raw.SetRow(i, x)
	}

	target := preprocessing.NewLabelEncoder(schema.Target, order)
	y, err := target.FitTransform(table.Targets())
	if err != nil {
		return nil, err
	}
	if target.Len() < 2 {
		return nil, errors.NewSchemaError("Train", schema.Target, "target needs at least two classes")
	}

	scaler := preprocessing.NewStandardScaler()
	X, err := scaler.FitTransform(raw)
	if err != nil {
		return nil, err
	}
	return &encoded{schema: schema, encoders: encoders, target: target, scaler: scaler, X: X, y: y}, nil
}

func selectRows(X mat.Matrix, y []int, idx []int) (*mat.Dense, []int) {
	_, c := X.Dims()
	out := mat.NewDense(len(idx), c, nil)
	labels := make([]int, len(idx))
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(r, j))
		}
		labels[i] = y[r]
	}
	return out, labels
}

// quantizeModel calibrates on the first rows of the training partition.
func quantizeModel(w *model.ModelWeights, Xtr *mat.Dense, samples int) (*quantize.Model, error) {
	r, c := Xtr.Dims()
	samples = min(samples, r)
	return quantize.Quantize(w, Xtr.Slice(0, samples, 0, c))
}

func quantizedAccuracy(qm *quantize.Model, X *mat.Dense, y []int) (float64, error) {
	pred := make([]int, len(y))
	for i := range y {
		k, err := qm.PredictClass(X.RawRowView(i))
		if err != nil {
			return 0, err
		}
		pred[i] = k
	}
	return metrics.Accuracy(y, pred)
}

func recordRun(ctx context.Context, cfg *config.Config, res *TrainResult, rows int) error {
	store, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, registry.Run{
		RunID:       res.RunID,
		Dataset:     cfg.Dataset.Path,
		Rows:        rows,
		Classes:     len(res.Classes),
		Accuracy:    res.Evaluation.Accuracy,
		Loss:        res.Evaluation.LogLoss,
		ArtifactDir: res.ArtifactDir,
		Quantized:   res.Quantized,
	})
}

// writeFile replaces path through a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArtifactError(path, "create directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.NewArtifactError(path, "create temp file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.NewArtifactError(path, "write file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewArtifactError(path, "close file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewArtifactError(path, "rename file", err)
	}
	return nil
}
