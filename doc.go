// Package sourceorder trains and deploys the clinic power source classifier.
//
// A small dense network maps patient load, criticality, weather, battery
// level, grid status, time of day, temperature, voltage and current to the
// order in which the clinic should draw on its power sources. The trained
// preprocessing is exported as C headers so the microcontroller firmware
// encodes and scales readings exactly as training did, and the model itself
// can be shipped as an int8 byte array.
//
// # Quick Start
//
//	sourceorder train   -config sourceorder.yaml
//	sourceorder predict GridStatus=Available BatteryLevel=80 ...
//	sourceorder export  -out firmware/include
//	sourceorder serve   -addr :8080
//
// From Go:
//
//	cfg, err := config.Load("sourceorder.yaml")
//	if err != nil {
//	    return err
//	}
//	res, err := pipeline.Train(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	p, err := pipeline.LoadPredictor(res.ArtifactDir)
//	if err != nil {
//	    return err
//	}
//	pred, err := p.Predict(dataset.Record{"GridStatus": "Available", ...})
//
// # Packages
//
//   - dataset: spreadsheet and CSV loading, schema inference
//   - preprocessing: label encoders and the standard scaler
//   - sklearn/model_selection: stratified train/test split
//   - sklearn/neural_network: MLPClassifier (ReLU, softmax, Adam)
//   - metrics: accuracy, confusion matrix, precision/recall/F1, log loss
//   - quantize: post-training int8 quantization and its binary format
//   - export: C header generation
//   - artifact: run-stamped artifact bundle
//   - pipeline: train, predict and export stages
//   - registry: SQLite history of training runs
//   - report: training curves and classification summary
//   - server: HTTP prediction service
//   - config: YAML and environment configuration
//   - core/model, core/parallel: shared model state, weights and parallel helpers
//   - pkg/errors, pkg/log: structured errors and logging
//
// # Errors
//
// Every failure is a typed error from pkg/errors and can be matched with
// errors.Is against ErrSchema, ErrUnknownCategory, ErrArtifact,
// ErrStratification or ErrEmptyData.
package sourceorder
