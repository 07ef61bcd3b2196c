// Package artifact saves and loads the files shared by the train, predict
// and export stages.
//
// Every component file is stamped with the run id and format version of the
// manifest. Loading fails if any file is missing, has another version, or
// belongs to another training run, so a partially overwritten directory is
// never used.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/preprocessing"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

// FormatVersion is the artifact layout version written by Save.
const FormatVersion = 1

// File names inside an artifact directory.
const (
	ManifestFile       = "manifest.json"
	EncodersFile       = "encoders.json"
	TargetEncoderFile  = "y_encoder.json"
	ScalerFile         = "scaler.json"
	ModelFile          = "model.json"
	QuantizedModelFile = "model_int8.bin"
	HistoryPlotFile    = "history.png"
)

// Manifest describes one training run.
type Manifest struct {
	FormatVersion int                         `json:"format_version"`
	RunID         string                      `json:"run_id"`
	CreatedAt     time.Time                   `json:"created_at"`
	Dataset       string                      `json:"dataset"`
	Rows          int                         `json:"rows"`
	Schema        dataset.Schema              `json:"schema"`
	CategoryOrder preprocessing.CategoryOrder `json:"category_order"`
	Evaluation    metrics.Report              `json:"evaluation"`
	History       neural_network.History      `json:"history"`

	// QuantizedSHA256 is empty when no quantized model was produced.
	QuantizedSHA256 string `json:"quantized_sha256,omitempty"`
}

// Bundle is everything a training run produces.
type Bundle struct {
	Manifest      Manifest
	Encoders      []preprocessing.LabelEncoderParams
	TargetEncoder preprocessing.LabelEncoderParams
	Scaler        preprocessing.ScalerParams
	Model         *model.ModelWeights
	Quantized     []byte
}

type component[T any] struct {
	FormatVersion int    `json:"format_version"`
	RunID         string `json:"run_id"`
	Data          T      `json:"data"`
}

// NewRunID returns a fresh identifier for a training run.
func NewRunID() string {
	return uuid.NewString()
}

// Save writes the bundle to dir, replacing any previous run. The manifest is
// written last.
func (b *Bundle) Save(dir string) error {
	if b.Manifest.RunID == "" {
		b.Manifest.RunID = NewRunID()
	}
	if _, err := uuid.Parse(b.Manifest.RunID); err != nil {
		return errors.NewArtifactError(dir, "run id is not a UUID", err)
	}
	if b.Model == nil {
		return errors.NewArtifactError(dir, "bundle has no model", nil)
	}
	b.Manifest.FormatVersion = FormatVersion
	if b.Manifest.CreatedAt.IsZero() {
		b.Manifest.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewArtifactError(dir, "create directory", err)
	}

	// an old manifest must not vouch for half-written components
	if err := os.Remove(filepath.Join(dir, ManifestFile)); err != nil && !os.IsNotExist(err) {
		return errors.NewArtifactError(dir, "remove old manifest", err)
	}

	id := b.Manifest.RunID
	if err := saveComponent(dir, EncodersFile, id, b.Encoders); err != nil {
		return err
	}
	if err := saveComponent(dir, TargetEncoderFile, id, b.TargetEncoder); err != nil {
		return err
	}
	if err := saveComponent(dir, ScalerFile, id, b.Scaler); err != nil {
		return err
	}
	if err := saveComponent(dir, ModelFile, id, b.Model); err != nil {
		return err
	}

	qpath := filepath.Join(dir, QuantizedModelFile)
	if len(b.Quantized) > 0 {
		if err := os.WriteFile(qpath, b.Quantized, 0o644); err != nil {
			return errors.NewArtifactError(qpath, "write file", err)
		}
		b.Manifest.QuantizedSHA256 = digest(b.Quantized)
	} else {
		b.Manifest.QuantizedSHA256 = ""
		if err := os.Remove(qpath); err != nil && !os.IsNotExist(err) {
			return errors.NewArtifactError(qpath, "remove stale file", err)
		}
	}

	return model.SaveJSON(filepath.Join(dir, ManifestFile), b.Manifest)
}

func saveComponent[T any](dir, name, runID string, data T) error {
	return model.SaveJSON(filepath.Join(dir, name), component[T]{
		FormatVersion: FormatVersion,
		RunID:         runID,
		Data:          data,
	})
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadOption adjusts Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	skipModel bool
}

// WithoutModel skips the model weights and the quantized model, for the
// header export stage.
func WithoutModel() LoadOption {
	return func(o *loadOptions) { o.skipModel = true }
}

// ReadManifest loads and version-checks the manifest only.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	var m Manifest
	if err := model.LoadJSON(path, &m); err != nil {
		return Manifest{}, err
	}
	if m.FormatVersion != FormatVersion {
		return Manifest{}, errors.NewArtifactError(path, "unsupported format version", nil)
	}
	if _, err := uuid.Parse(m.RunID); err != nil {
		return Manifest{}, errors.NewArtifactError(path, "invalid run id", err)
	}
	return m, nil
}

// Load reads and cross-checks a bundle.
func Load(dir string, opts ...LoadOption) (*Bundle, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Manifest: m}

	if b.Encoders, err = loadComponent[[]preprocessing.LabelEncoderParams](dir, EncodersFile, m.RunID); err != nil {
		return nil, err
	}
	if b.TargetEncoder, err = loadComponent[preprocessing.LabelEncoderParams](dir, TargetEncoderFile, m.RunID); err != nil {
		return nil, err
	}
	if b.Scaler, err = loadComponent[preprocessing.ScalerParams](dir, ScalerFile, m.RunID); err != nil {
		return nil, err
	}

	if !o.skipModel {
		if b.Model, err = loadComponent[*model.ModelWeights](dir, ModelFile, m.RunID); err != nil {
			return nil, err
		}
		if m.QuantizedSHA256 != "" {
			qpath := filepath.Join(dir, QuantizedModelFile)
			data, err := os.ReadFile(qpath)
			if err != nil {
				return nil, errors.NewArtifactError(qpath, "missing", err)
			}
			if digest(data) != m.QuantizedSHA256 {
				return nil, errors.NewArtifactError(qpath, "checksum does not match manifest", nil)
			}
			b.Quantized = data
		}
	}

	if err := b.check(dir); err != nil {
		return nil, err
	}
	return b, nil
}

func loadComponent[T any](dir, name, runID string) (T, error) {
	path := filepath.Join(dir, name)
	var c component[T]
	if err := model.LoadJSON(path, &c); err != nil {
		return c.Data, err
	}
	if c.FormatVersion != FormatVersion {
		return c.Data, errors.NewArtifactError(path, "unsupported format version", nil)
	}
	if c.RunID != runID {
		return c.Data, errors.NewArtifactError(path, "produced by training run "+c.RunID+", manifest is "+runID, nil)
	}
	return c.Data, nil
}

// check verifies that the components agree with the manifest schema.
func (b *Bundle) check(dir string) error {
	s := b.Manifest.Schema
	n := s.NumFeatures()
	if n == 0 {
		return errors.NewArtifactError(filepath.Join(dir, ManifestFile), "schema has no features", nil)
	}
	if len(b.Scaler.Mean) != n || len(b.Scaler.Scale) != n {
		return errors.NewArtifactError(filepath.Join(dir, ScalerFile), "scaler width does not match schema", nil)
	}

	cats := s.CategoricalColumns()
	if len(cats) != len(b.Encoders) {
		return errors.NewArtifactError(filepath.Join(dir, EncodersFile), "encoder count does not match schema", nil)
	}
	for i, c := range cats {
		if b.Encoders[i].Column != c {
			return errors.NewArtifactError(filepath.Join(dir, EncodersFile), "encoder for "+c+" missing or out of order", nil)
		}
	}
	if len(b.TargetEncoder.Classes) == 0 {
		return errors.NewArtifactError(filepath.Join(dir, TargetEncoderFile), "no target classes", nil)
	}

	if b.Model != nil {
		if err := b.Model.Validate(); err != nil {
			return errors.NewArtifactError(filepath.Join(dir, ModelFile), "invalid weights", err)
		}
		if !b.Model.IsFitted {
			return errors.NewArtifactError(filepath.Join(dir, ModelFile), "model is not fitted", nil)
		}
		layers := b.Model.Layers
		if layers[0].Inputs != n || layers[len(layers)-1].Outputs != len(b.TargetEncoder.Classes) {
			return errors.NewArtifactError(filepath.Join(dir, ModelFile), "model shape does not match schema", nil)
		}
	}
	return nil
}
