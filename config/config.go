// Package config loads benchmark settings from flags, environment, an optional file and
// defaults, in that order of precedence.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/inference/onnx"
	"github.com/nvr-ai/stream-bench/logger"
	"github.com/nvr-ai/stream-bench/models"
	"github.com/nvr-ai/stream-bench/runner"
)

// EnvPrefix prefixes every environment variable, e.g. STREAM_BENCH_MODE.
const EnvPrefix = "STREAM_BENCH"

// ErrConfiguration marks every validation failure.
var ErrConfiguration = errors.New("invalid configuration")

// Keys of every setting.
const (
	KeyMode           = "mode"
	KeyStreams        = "streams"
	KeyDuration       = "duration"
	KeyMaxFrames      = "max_frames"
	KeySynthetic      = "synthetic"
	KeyModel          = "model"
	KeyModelPath      = "model_path"
	KeyPrecision      = "precision"
	KeyDevice         = "device"
	KeyEngine         = "engine"
	KeyProvider       = "provider"
	KeyLibraryPath    = "library_path"
	KeyInput          = "input"
	KeyOutputDir      = "output_dir"
	KeyLogLevel       = "log_level"
	KeyStatsdAddr     = "statsd_addr"
	KeyReportInterval = "report_interval"
	KeySeed           = "seed"
)

// Config holds the raw settings.
type Config struct {
	Mode           string        `mapstructure:"mode"`
	Streams        int           `mapstructure:"streams"`
	Duration       time.Duration `mapstructure:"duration"`
	MaxFrames      int64         `mapstructure:"max_frames"`
	Synthetic      bool          `mapstructure:"synthetic"`
	Model          string        `mapstructure:"model"`
	ModelPath      string        `mapstructure:"model_path"`
	Precision      string        `mapstructure:"precision"`
	Device         string        `mapstructure:"device"`
	Engine         string        `mapstructure:"engine"`
	Provider       string        `mapstructure:"provider"`
	LibraryPath    string        `mapstructure:"library_path"`
	Input          string        `mapstructure:"input"`
	OutputDir      string        `mapstructure:"output_dir"`
	LogLevel       string        `mapstructure:"log_level"`
	StatsdAddr     string        `mapstructure:"statsd_addr"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	Seed           uint64        `mapstructure:"seed"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMode, runner.ModeSync.String())
	v.SetDefault(KeyStreams, runtime.NumCPU())
	v.SetDefault(KeyDuration, 60*time.Second)
	v.SetDefault(KeyMaxFrames, 0)
	v.SetDefault(KeySynthetic, false)
	v.SetDefault(KeyModel, string(models.ModelNameResNet50))
	v.SetDefault(KeyModelPath, "")
	v.SetDefault(KeyPrecision, string(inference.PrecisionINT8))
	v.SetDefault(KeyDevice, "CPU")
	v.SetDefault(KeyEngine, string(inference.BackendONNX))
	v.SetDefault(KeyProvider, string(onnx.ProviderOpenVINO))
	v.SetDefault(KeyLibraryPath, "")
	v.SetDefault(KeyInput, "")
	v.SetDefault(KeyOutputDir, "./benchmark_results")
	v.SetDefault(KeyLogLevel, "INFO")
	v.SetDefault(KeyStatsdAddr, "")
	v.SetDefault(KeyReportInterval, time.Second)
	v.SetDefault(KeySeed, 0)
}

// Load reads the configuration into v and decodes it.
//
// Arguments:
//   - v: The viper instance. Flags bound to it beforehand take precedence.
//   - file: Optional YAML, JSON or TOML file. Empty skips the file.
//
// Returns:
//   - *Config: The decoded configuration. It is not validated.
//   - error: An error if the file cannot be read or a value cannot be decoded.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read config file %s", file), ErrConfiguration)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode configuration"), ErrConfiguration)
	}
	return &cfg, nil
}

// Settings is a validated configuration with every enumerated value parsed.
type Settings struct {
	*Config
	RunMode       runner.Mode
	Backend       inference.Backend
	Execution     onnx.Provider
	PrecisionType inference.Precision
	ModelInfo     models.Model
}

// Validate checks ranges and parses the enumerated values.
//
// Returns:
//   - *Settings: The parsed settings.
//   - error: The first problem found with the rest attached, marked ErrConfiguration.
func (c *Config) Validate() (*Settings, error) {
	s, errs := c.validateWorkload()

	var err error
	if s.Backend, err = inference.ParseBackend(c.Engine); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if s.Execution, err = onnx.ParseProvider(c.Provider); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if s.Backend == inference.BackendONNX && c.ModelPath == "" {
		errs = errors.CombineErrors(errs, errors.New("model_path is required for the onnx engine"))
	}
	if !c.Synthetic && c.Input == "" {
		errs = errors.CombineErrors(errs, errors.New("input is required unless synthetic is set"))
	}

	if errs != nil {
		return nil, errors.Mark(errs, ErrConfiguration)
	}
	return s, nil
}

// ValidateWorkload checks only the settings that describe the workload: mode, streams,
// duration, frame cap, model and precision. Engine, provider and input are left unparsed.
func (c *Config) ValidateWorkload() (*Settings, error) {
	s, errs := c.validateWorkload()
	if errs != nil {
		return nil, errors.Mark(errs, ErrConfiguration)
	}
	return s, nil
}

func (c *Config) validateWorkload() (*Settings, error) {
	s := &Settings{Config: c}
	var errs error
	fail := func(err error) {
		errs = errors.CombineErrors(errs, err)
	}

	if c.Streams < 1 {
		fail(errors.Newf("streams must be at least 1, got %d", c.Streams))
	}
	if c.Duration <= 0 {
		fail(errors.Newf("duration must be positive, got %s", c.Duration))
	}
	if c.MaxFrames < 0 {
		fail(errors.Newf("max_frames must not be negative, got %d", c.MaxFrames))
	}
	if c.ReportInterval < 0 {
		fail(errors.Newf("report_interval must not be negative, got %s", c.ReportInterval))
	}

	var err error
	if s.RunMode, err = runner.ParseMode(c.Mode); err != nil {
		fail(err)
	}
	if s.PrecisionType, err = inference.ParsePrecision(c.Precision); err != nil {
		fail(err)
	}
	if s.ModelInfo, err = models.Lookup(c.Model); err != nil {
		fail(err)
	}
	if _, err = logger.ParseLevel(c.LogLevel); err != nil {
		fail(err)
	}
	return s, errs
}
