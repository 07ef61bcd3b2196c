package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/clinix/sourceorder/artifact"
	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
	"github.com/clinix/sourceorder/preprocessing"
	"github.com/clinix/sourceorder/quantize"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

// Prediction is the decoded result for one record.
type Prediction struct {
	Label         string    `json:"label"`
	ClassIndex    int       `json:"class_index"`
	Probabilities []float64 `json:"probabilities"`
}

// Predictor serves predictions from one loaded artifact bundle. It is
// read-only after LoadPredictor and safe for concurrent use.
type Predictor struct {
	manifest artifact.Manifest
	features []string
	encoders *preprocessing.ColumnEncoders
	target   *preprocessing.LabelEncoder
	scaler   *preprocessing.StandardScaler
	clf      *neural_network.MLPClassifier
	logger   log.Logger

	// quantized is nil when the run produced no int8 model.
	quantized *quantize.Model
}

// LoadPredictor loads the bundle in dir.
func LoadPredictor(dir string, opts ...Option) (*Predictor, error) {
	b, err := artifact.Load(dir)
	if err != nil {
		return nil, err
	}
	return NewPredictor(b, opts...)
}

// NewPredictor builds a Predictor from an already loaded bundle.
func NewPredictor(b *artifact.Bundle, opts ...Option) (*Predictor, error) {
	o := buildOptions(opts)
	if b.Model == nil {
		return nil, errors.NewArtifactError(artifact.ModelFile, "bundle loaded without model", nil)
	}

	encoders, err := preprocessing.NewColumnEncodersFromParams(b.Encoders)
	if err != nil {
		return nil, err
	}
	target, err := preprocessing.NewLabelEncoderFromParams(b.TargetEncoder)
	if err != nil {
		return nil, err
	}
	scaler, err := preprocessing.NewStandardScalerFromParams(b.Scaler)
	if err != nil {
		return nil, err
	}
	clf := neural_network.NewMLPClassifier(neural_network.WithLogger(o.logger))
	if err := clf.ImportWeights(b.Model); err != nil {
		return nil, err
	}
	if clf.NClasses() != target.Len() {
		return nil, errors.NewDimensionError("NewPredictor", target.Len(), clf.NClasses(), 1)
	}

	var qm *quantize.Model
	if len(b.Quantized) > 0 {
		if qm, err = decodeQuantized(b); err != nil {
			return nil, err
		}
	}

	return &Predictor{
		manifest:  b.Manifest,
		features:  b.Manifest.Schema.FeatureNames(),
		encoders:  encoders,
		target:    target,
		scaler:    scaler,
		clf:       clf,
		logger:    o.logger.With(log.RunIDKey, b.Manifest.RunID),
		quantized: qm,
	}, nil
}

// decodeQuantized parses the int8 model and checks that it has the layer
// shapes of the float model it was calibrated from.
func decodeQuantized(b *artifact.Bundle) (*quantize.Model, error) {
	qm := &quantize.Model{}
	if err := qm.UnmarshalBinary(b.Quantized); err != nil {
		return nil, errors.NewArtifactError(artifact.QuantizedModelFile, "decode", err)
	}
	if len(qm.Layers) != len(b.Model.Layers) {
		return nil, errors.NewArtifactError(artifact.QuantizedModelFile, "layer count does not match model", nil)
	}
	for i, l := range b.Model.Layers {
		if qm.Layers[i].Inputs != l.Inputs || qm.Layers[i].Outputs != l.Outputs {
			return nil, errors.NewArtifactError(artifact.QuantizedModelFile, "layer shape does not match model", nil)
		}
	}
	return qm, nil
}

// RunID identifies the training run the predictor was loaded from.
func (p *Predictor) RunID() string { return p.manifest.RunID }

// Manifest returns the loaded manifest.
func (p *Predictor) Manifest() artifact.Manifest { return p.manifest }

// Schema returns the feature layout a record must follow.
func (p *Predictor) Schema() dataset.Schema { return p.manifest.Schema }

// Classes returns the target labels by class index.
func (p *Predictor) Classes() []string { return p.target.Classes() }

// HasQuantized reports whether the bundle carried an int8 model.
func (p *Predictor) HasQuantized() bool { return p.quantized != nil }

// prepare turns a record into the scaled model input.
func (p *Predictor) prepare(r dataset.Record) ([]float64, error) {
	row, err := p.manifest.Schema.Row(r)
	if err != nil {
		return nil, err
	}
	x, err := p.encoders.EncodeRow(p.features, row)
	if err != nil {
		return nil, err
	}
	return p.scaler.TransformVector(x)
}

// Predict encodes, scales and classifies one record. A category never seen
// in training is an UnknownCategoryError; a missing or extra field is a
// SchemaError.
func (p *Predictor) Predict(r dataset.Record) (Prediction, error) {
	xs, err := p.prepare(r)
	if err != nil {
		return Prediction{}, err
	}
	proba, err := p.clf.PredictProbaVector(xs)
	if err != nil {
		return Prediction{}, err
	}
	return p.decode(proba, log.PhaseInference)
}

// PredictQuantized classifies r with the int8 model, as the firmware would.
func (p *Predictor) PredictQuantized(r dataset.Record) (Prediction, error) {
	if p.quantized == nil {
		return Prediction{}, errors.NewArtifactError(artifact.QuantizedModelFile, "run has no quantized model", nil)
	}
	xs, err := p.prepare(r)
	if err != nil {
		return Prediction{}, err
	}
	proba, err := p.quantized.Predict(xs)
	if err != nil {
		return Prediction{}, err
	}
	return p.decode(proba, log.PhaseQuantizedInference)
}

func (p *Predictor) decode(proba []float64, phase string) (Prediction, error) {
	k := metrics.ArgMax(mat.NewDense(1, len(proba), proba))[0]
	label, err := p.target.InverseTransform(k)
	if err != nil {
		return Prediction{}, err
	}
	p.logger.Debug("Prediction",
		log.PhaseKey, phase,
		log.LabelKey, label,
		log.ConfidenceKey, proba[k],
	)
	return Prediction{Label: label, ClassIndex: k, Probabilities: proba}, nil
}
