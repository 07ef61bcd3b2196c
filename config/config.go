// Package config loads the settings shared by the sourceorder stages.
//
// Values come from a YAML file, then SOURCEORDER_* environment variables
// (optionally from a .env file), then defaults. Load never exits the
// process; invalid settings are reported as a ValidationError.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/preprocessing"
	"github.com/clinix/sourceorder/sklearn/model_selection"
)

const (
	// DefaultPath is read when no path is given and SOURCEORDER_CONFIG is unset.
	DefaultPath = "sourceorder.yaml"
	// PathEnv names the environment variable that overrides DefaultPath.
	PathEnv = "SOURCEORDER_CONFIG"

	envPrefix = "SOURCEORDER_"

	// DefaultTestSize applies when neither split size is configured.
	DefaultTestSize = model_selection.DefaultTestSize
)

type DatasetConfig struct {
	Path            string   `yaml:"path"`
	Sheet           string   `yaml:"sheet"`
	ExpectedColumns []string `yaml:"expected_columns"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

type EncodingConfig struct {
	CategoryOrder string `yaml:"category_order"`
}

// SplitConfig sizes are counts when >= 1 and fractions when < 1.
type SplitConfig struct {
	TrainSize float64 `yaml:"train_size"`
	TestSize  float64 `yaml:"test_size"`
	Seed      int64   `yaml:"seed"`
}

type ModelConfig struct {
	HiddenLayers          []int   `yaml:"hidden_layers"`
	Epochs                int     `yaml:"epochs"`
	BatchSize             int     `yaml:"batch_size"`
	LearningRate          float64 `yaml:"learning_rate"`
	EarlyStoppingPatience int     `yaml:"early_stopping_patience"`
	Seed                  int64   `yaml:"seed"`
}

type QuantizeConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CalibrationSamples int    `yaml:"calibration_samples"`
	Symbol             string `yaml:"symbol"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full set of settings.
type Config struct {
	Dataset   DatasetConfig   `yaml:"dataset"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Encoding  EncodingConfig  `yaml:"encoding"`
	Split     SplitConfig     `yaml:"split"`
	Model     ModelConfig     `yaml:"model"`
	Quantize  QuantizeConfig  `yaml:"quantize"`
	Export    ExportConfig    `yaml:"export"`
	Registry  RegistryConfig  `yaml:"registry"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Dataset:   DatasetConfig{Path: "clinic_power_data.xlsx"},
		Artifacts: ArtifactsConfig{Dir: "artifacts"},
		Encoding:  EncodingConfig{CategoryOrder: string(preprocessing.OrderFirstSeen)},
		Split:     SplitConfig{Seed: 42},
		Model: ModelConfig{
			HiddenLayers: []int{32, 16},
			Epochs:       100,
			BatchSize:    16,
			LearningRate: 0.001,
			Seed:         42,
		},
		Quantize: QuantizeConfig{Enabled: true, CalibrationSamples: 100, Symbol: "model_data"},
		Export:   ExportConfig{Dir: "include"},
		Registry: RegistryConfig{Path: "sourceorder.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the configuration. An empty path means SOURCEORDER_CONFIG or
// DefaultPath; only an explicitly named file is required to exist.
func Load(path string) (*Config, error) {
	// .env は任意
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "config: load .env")
	}

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(PathEnv); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultPath
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if c.Split.TrainSize == 0 && c.Split.TestSize == 0 {
		c.Split.TestSize = DefaultTestSize
	}
	return c.Validate()
}

// Env vars override YAML values
func (c *Config) applyEnv() error {
	e := envReader{}
	e.str(&c.Dataset.Path, "DATASET_PATH")
	e.str(&c.Dataset.Sheet, "DATASET_SHEET")
	e.list(&c.Dataset.ExpectedColumns, "DATASET_EXPECTED_COLUMNS")
	e.str(&c.Artifacts.Dir, "ARTIFACTS_DIR")
	e.str(&c.Encoding.CategoryOrder, "CATEGORY_ORDER")
	e.float(&c.Split.TrainSize, "SPLIT_TRAIN_SIZE")
	e.float(&c.Split.TestSize, "SPLIT_TEST_SIZE")
	e.int64(&c.Split.Seed, "SPLIT_SEED")
	e.ints(&c.Model.HiddenLayers, "MODEL_HIDDEN_LAYERS")
	e.int(&c.Model.Epochs, "MODEL_EPOCHS")
	e.int(&c.Model.BatchSize, "MODEL_BATCH_SIZE")
	e.float(&c.Model.LearningRate, "MODEL_LEARNING_RATE")
	e.int(&c.Model.EarlyStoppingPatience, "MODEL_EARLY_STOPPING_PATIENCE")
	e.int64(&c.Model.Seed, "MODEL_SEED")
	e.bool(&c.Quantize.Enabled, "QUANTIZE_ENABLED")
	e.int(&c.Quantize.CalibrationSamples, "QUANTIZE_CALIBRATION_SAMPLES")
	e.str(&c.Quantize.Symbol, "QUANTIZE_SYMBOL")
	e.str(&c.Export.Dir, "EXPORT_DIR")
	e.str(&c.Registry.Path, "REGISTRY_PATH")
	e.str(&c.Server.Addr, "SERVER_ADDR")
	e.str(&c.Log.Level, "LOG_LEVEL")
	e.str(&c.Log.Format, "LOG_FORMAT")
	return e.err
}

// envReader records the first malformed variable and ignores the rest.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, string, bool) {
	name := envPrefix + key
	val := os.Getenv(name)
	return name, val, val != "" && e.err == nil
}

func (e *envReader) fail(name, val string, err error) {
	e.err = errors.Wrapf(errors.NewValidationError(name, err.Error(), val), "config: environment")
}

func (e *envReader) str(field *string, key string) {
	if _, val, ok := e.lookup(key); ok {
		*field = val
	}
}

func (e *envReader) list(field *[]string, key string) {
	if _, val, ok := e.lookup(key); ok {
		*field = nil
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				*field = append(*field, s)
			}
		}
	}
}

func (e *envReader) int(field *int, key string) {
	if name, val, ok := e.lookup(key); ok {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) int64(field *int64, key string) {
	if name, val, ok := e.lookup(key); ok {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) float(field *float64, key string) {
	if name, val, ok := e.lookup(key); ok {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) bool(field *bool, key string) {
	if name, val, ok := e.lookup(key); ok {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) ints(field *[]int, key string) {
	if name, val, ok := e.lookup(key); ok {
		var out []int
		for _, s := range strings.Split(val, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				e.fail(name, val, err)
				return
			}
			out = append(out, n)
		}
		*field = out
	}
}

// CategoryOrder returns the parsed encoding.category_order.
func (c *Config) CategoryOrder() preprocessing.CategoryOrder {
	order, err := preprocessing.ParseCategoryOrder(c.Encoding.CategoryOrder)
	if err != nil {
		return preprocessing.OrderFirstSeen
	}
	return order
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Dataset.Path == "" {
		return errors.NewValidationError("dataset.path", "must be set", c.Dataset.Path)
	}
	if c.Artifacts.Dir == "" {
		return errors.NewValidationError("artifacts.dir", "must be set", c.Artifacts.Dir)
	}
	if _, err := preprocessing.ParseCategoryOrder(c.Encoding.CategoryOrder); err != nil {
		return errors.NewValidationError("encoding.category_order", "must be first_seen or lexical", c.Encoding.CategoryOrder)
	}
	if c.Split.TrainSize < 0 || c.Split.TestSize < 0 {
		return errors.NewValidationError("split", "sizes must be non-negative", [2]float64{c.Split.TrainSize, c.Split.TestSize})
	}
	if c.Split.TrainSize < 1 && c.Split.TestSize < 1 && c.Split.TrainSize+c.Split.TestSize > 1 {
		return errors.NewValidationError("split", "fractions must not sum to more than 1", [2]float64{c.Split.TrainSize, c.Split.TestSize})
	}
	if len(c.Model.HiddenLayers) == 0 {
		return errors.NewValidationError("model.hidden_layers", "must have at least one layer", c.Model.HiddenLayers)
	}
	for _, h := range c.Model.HiddenLayers {
		if h < 1 {
			return errors.NewValidationError("model.hidden_layers", "sizes must be >= 1", c.Model.HiddenLayers)
		}
	}
	if c.Model.Epochs < 1 {
		return errors.NewValidationError("model.epochs", "must be >= 1", c.Model.Epochs)
	}
	if c.Model.BatchSize < 1 {
		return errors.NewValidationError("model.batch_size", "must be >= 1", c.Model.BatchSize)
	}
	if c.Model.LearningRate <= 0 {
		return errors.NewValidationError("model.learning_rate", "must be positive", c.Model.LearningRate)
	}
	if c.Model.EarlyStoppingPatience < 0 {
		return errors.NewValidationError("model.early_stopping_patience", "must be >= 0", c.Model.EarlyStoppingPatience)
	}
	if c.Quantize.Enabled {
		if c.Quantize.CalibrationSamples < 1 {
			return errors.NewValidationError("quantize.calibration_samples", "must be >= 1", c.Quantize.CalibrationSamples)
		}
		if c.Quantize.Symbol == "" {
			return errors.NewValidationError("quantize.symbol", "must be set", c.Quantize.Symbol)
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.NewValidationError("log.format", "must be json or console", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError("log.level", "must be one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
