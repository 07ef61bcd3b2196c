// Package pipeline wires the stages of a sourceorder deployment:
//
//   - Train reads a labelled table, fits encoders, scaler and classifier,
//     evaluates on a stratified hold-out set and saves an artifact bundle,
//     optionally with an int8 model and its C header.
//   - Predictor replays the saved preprocessing on one record and decodes
//     the predicted class back to its label.
//   - Export turns the saved preprocessing into C headers for the
//     microcontroller firmware.
package pipeline

import (
	"github.com/clinix/sourceorder/pkg/log"
)

// Option configures a pipeline stage.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger sets the logger used by the stage and the model it trains.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("pipeline")
	}
	return o
}
