package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/banshee-data/facemesh/internal/vision/calculators"
	"github.com/banshee-data/facemesh/internal/vision/facemesh"
	"github.com/banshee-data/facemesh/internal/vision/inference"
	"github.com/banshee-data/facemesh/internal/vision/preprocess"
)

// DefaultConfigPath is the detector configuration looked up when no path
// is given on the command line.
const DefaultConfigPath = "config/detector.defaults.json"

// maxConfigSize bounds the configuration file read by LoadDetectorConfig.
const maxConfigSize = 1 << 20

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid detector config")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New(validator.WithRequiredStructEnabled())

// RefinementConfig lists, per region, the mesh indices the attention
// model's regional landmarks replace. Omitted regions leave the mesh as is.
type RefinementConfig struct {
	Lips     []int `json:"lips,omitempty" validate:"omitempty,dive,gte=0,lt=468"`
	LeftEye  []int `json:"left_eye,omitempty" validate:"omitempty,dive,gte=0,lt=468"`
	RightEye []int `json:"right_eye,omitempty" validate:"omitempty,dive,gte=0,lt=468"`
}

// DetectorConfig is the on-disk detector configuration. Every field is
// optional; unset fields fall back to the defaults reported by the Get*
// accessors.
type DetectorConfig struct {
	MinDetectionConfidence *float32 `json:"min_detection_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Backend                *string  `json:"backend,omitempty" validate:"omitempty,oneof=cpu gpu"`
	NumThreads             *int     `json:"num_threads,omitempty" validate:"omitempty,gte=0,lte=256"`
	BatchParallelism       *int     `json:"batch_parallelism,omitempty" validate:"omitempty,gte=0,lte=64"`

	// ModelMetadata and ReplayTensors are YAML files resolved relative to
	// the configuration file's directory.
	ModelMetadata *string `json:"model_metadata,omitempty" validate:"omitempty,min=1"`
	ReplayTensors *string `json:"replay_tensors,omitempty" validate:"omitempty,min=1"`

	InputRangeMin *float32 `json:"input_range_min,omitempty"`
	InputRangeMax *float32 `json:"input_range_max,omitempty"`

	// DetectTimeout bounds one CLI invocation, e.g. "2s". Empty disables it.
	DetectTimeout *string `json:"detect_timeout,omitempty"`

	LogFile  *string `json:"log_file,omitempty"`
	LogLevel *string `json:"log_level,omitempty" validate:"omitempty,oneof=error warn info debug trace"`

	Refinement *RefinementConfig `json:"refinement,omitempty"`

	// dir is the directory the config was loaded from.
	dir string
}

// EmptyDetectorConfig returns a config with all fields unset.
func EmptyDetectorConfig() *DetectorConfig {
	return &DetectorConfig{}
}

// LoadDetectorConfig reads, decodes and validates a JSON config file.
func LoadDetectorConfig(path string) (*DetectorConfig, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDetectorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *DetectorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDetectorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks field ranges and cross-field constraints.
func (c *DetectorConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.InputRangeMin != nil || c.InputRangeMax != nil {
		lo, hi := c.GetInputRange()
		if lo >= hi {
			return fmt.Errorf("%w: input range [%g, %g] is empty", ErrInvalidConfig, lo, hi)
		}
	}
	if c.DetectTimeout != nil && *c.DetectTimeout != "" {
		d, err := time.ParseDuration(*c.DetectTimeout)
		if err != nil {
			return fmt.Errorf("%w: invalid detect_timeout %q: %w", ErrInvalidConfig, *c.DetectTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("%w: detect_timeout must be non-negative, got %s", ErrInvalidConfig, d)
		}
	}
	return nil
}

// GetMinDetectionConfidence returns the presence threshold. Default 0.5.
func (c *DetectorConfig) GetMinDetectionConfidence() float32 {
	if c.MinDetectionConfidence == nil {
		return facemesh.DefaultOptions().MinDetectionConfidence
	}
	return *c.MinDetectionConfidence
}

// GetBackend returns the acceleration backend name. Default "cpu".
func (c *DetectorConfig) GetBackend() string {
	if c.Backend == nil {
		return "cpu"
	}
	return *c.Backend
}

// GetNumThreads returns the engine thread hint. Zero lets the engine pick.
func (c *DetectorConfig) GetNumThreads() int {
	if c.NumThreads == nil {
		return 0
	}
	return *c.NumThreads
}

// GetBatchParallelism returns the batch fan-out bound. Default 1.
func (c *DetectorConfig) GetBatchParallelism() int {
	if c.BatchParallelism == nil {
		return 1
	}
	return *c.BatchParallelism
}

// GetInputRange returns the model input value range. Default [0, 1].
func (c *DetectorConfig) GetInputRange() (float32, float32) {
	lo, hi := float32(0), float32(1)
	if c.InputRangeMin != nil {
		lo = *c.InputRangeMin
	}
	if c.InputRangeMax != nil {
		hi = *c.InputRangeMax
	}
	return lo, hi
}

// GetDetectTimeout returns the per-invocation timeout. Zero means none.
func (c *DetectorConfig) GetDetectTimeout() time.Duration {
	if c.DetectTimeout == nil || *c.DetectTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.DetectTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetLogFile returns the log file path. Empty logs to stderr.
func (c *DetectorConfig) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}

// GetLogLevel returns the logrus level name. Default "info".
func (c *DetectorConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return "info"
	}
	return *c.LogLevel
}

// ModelMetadataPath returns the metadata path resolved against the config
// directory, or "" when unset.
func (c *DetectorConfig) ModelMetadataPath() string {
	return c.resolve(c.ModelMetadata)
}

// ReplayTensorsPath returns the replay recording path resolved against the
// config directory, or "" when unset.
func (c *DetectorConfig) ReplayTensorsPath() string {
	return c.resolve(c.ReplayTensors)
}

func (c *DetectorConfig) resolve(p *string) string {
	if p == nil || *p == "" {
		return ""
	}
	if filepath.IsAbs(*p) || c.dir == "" {
		return *p
	}
	return filepath.Join(c.dir, *p)
}

// DetectorOptions maps the config onto detector options.
func (c *DetectorConfig) DetectorOptions() (facemesh.Options, error) {
	backend, err := inference.ParseBackend(c.GetBackend())
	if err != nil {
		return facemesh.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	opts := facemesh.DefaultOptions()
	opts.MinDetectionConfidence = c.GetMinDetectionConfidence()
	opts.Acceleration = inference.Acceleration{Backend: backend, NumThreads: c.GetNumThreads()}
	opts.BatchParallelism = c.GetBatchParallelism()
	if r := c.Refinement; r != nil {
		opts.Refinement = calculators.Refinement{Lips: r.Lips, LeftEye: r.LeftEye, RightEye: r.RightEye}
	}
	return opts, nil
}

// PreprocessOptions maps the config onto preprocessor options for a model
// input of the given geometry.
func (c *DetectorConfig) PreprocessOptions(spec inference.ImageTensorSpec) preprocess.Options {
	lo, hi := c.GetInputRange()
	return preprocess.Options{
		Width:    spec.Width,
		Height:   spec.Height,
		RangeMin: lo,
		RangeMax: hi,
		UseGPU:   c.GetBackend() == "gpu",
	}
}
