package pipeline

import (
	"bytes"
	"io"
	"path/filepath"

	"github.com/clinix/sourceorder/artifact"
	"github.com/clinix/sourceorder/export"
	"github.com/clinix/sourceorder/pkg/log"
)

// Export writes scaler.h, labels.h and encoders.h for the bundle in
// artifactDir into outDir and returns the written paths. Model weights are
// not read. Nothing is written unless every header renders.
func Export(artifactDir, outDir string, opts ...Option) ([]string, error) {
	o := buildOptions(opts)

	b, err := artifact.Load(artifactDir, artifact.WithoutModel())
	if err != nil {
		return nil, err
	}

	features := b.Manifest.Schema.FeatureNames()
	headers := []struct {
		name   string
		render func(io.Writer) error
	}{
		{export.ScalerFile, func(w io.Writer) error { return export.ScalerHeader(w, features, b.Scaler) }},
		{export.LabelsFile, func(w io.Writer) error { return export.LabelsHeader(w, b.TargetEncoder.Classes) }},
		{export.EncodersFile, func(w io.Writer) error { return export.EncodersHeader(w, b.Encoders) }},
	}

	rendered := make([][]byte, len(headers))
	for i, h := range headers {
		var buf bytes.Buffer
		if err := h.render(&buf); err != nil {
			return nil, err
		}
		rendered[i] = buf.Bytes()
	}

	paths := make([]string, 0, len(headers))
	for i, h := range headers {
		path := filepath.Join(outDir, h.name)
		if err := writeFile(path, rendered[i]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	o.logger.Info("Headers exported",
		log.OperationKey, log.OperationExport,
		log.RunIDKey, b.Manifest.RunID,
		log.PathKey, outDir,
		log.ClassesKey, len(b.TargetEncoder.Classes),
	)
	return paths, nil
}
