// Package log defines standard attribute keys for machine learning operations.
//
// Keys follow a hierarchical naming convention ("model.name",
// "data.samples") so that the logs of the training, inference and export
// stages can be filtered the same way.
package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of estimator.
	// Examples: "MLPClassifier", "StandardScaler", "LabelEncoder"
	ModelNameKey = "model.name"

	// RunIDKey identifies the training run that produced an artifact bundle.
	RunIDKey = "run.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "export", "quantize"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ClassesKey indicates the number of target classes.
	ClassesKey = "data.classes"

	// ColumnKey names a single dataset column.
	ColumnKey = "data.column"

	// PathKey is a file or directory the operation reads or writes.
	PathKey = "data.path"

	// BatchSizeKey indicates the size of mini-batches.
	BatchSizeKey = "data.batch_size"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records classification accuracy in [0, 1].
	AccuracyKey = "metrics.accuracy"

	// LossKey records the training loss.
	LossKey = "metrics.loss"

	// ValAccuracyKey records accuracy on the held-out partition.
	ValAccuracyKey = "metrics.val_accuracy"

	// ValLossKey records loss on the held-out partition.
	ValLossKey = "metrics.val_loss"

	// EpochKey records the current epoch number during training.
	EpochKey = "training.epoch"
)

// Prediction and Output Context
const (
	// LabelKey records a predicted class label.
	LabelKey = "preds.label"

	// ConfidenceKey records the probability of the predicted class.
	ConfidenceKey = "preds.confidence"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// LearningRateKey records the optimizer learning rate.
	LearningRateKey = "hyperparams.learning_rate"

	// HiddenLayersKey records the hidden layer widths.
	HiddenLayersKey = "hyperparams.hidden_layers"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// ConfigVersionKey tracks the artifact format version.
	ConfigVersionKey = "config.version"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationExport    = "export"
	OperationQuantize  = "quantize"

	PhaseTraining           = "training"
	PhaseValidation         = "validation"
	PhaseInference          = "inference"
	PhaseQuantizedInference = "quantized_inference"
	PhasePreprocessing      = "preprocessing"
	PhaseExport             = "export"

	ErrorNotFitted       = "NOT_FITTED"
	ErrorSchema          = "SCHEMA_MISMATCH"
	ErrorUnknownCategory = "UNKNOWN_CATEGORY"
	ErrorArtifact        = "ARTIFACT_MISMATCH"
	ErrorStratification  = "STRATIFICATION_FAILED"
)
