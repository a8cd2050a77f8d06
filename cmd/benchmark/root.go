package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nvr-ai/stream-bench/config"
	"github.com/nvr-ai/stream-bench/logger"
)

const appName = "stream-bench"

// app carries the state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   appName,
		Short: "Benchmark inference throughput under different concurrency modes",
		Long: `stream-bench feeds a duration-bounded stream of preprocessed frames to an
inference engine and reports sustained FPS and per-frame latency.

Modes:
- sync: one request, strictly sequential
- async: engine-sized callback queue, results restored to frame order
- one_decode_multi: one decoder, a worker pool, in-order retrieval with backpressure
- multi: independent streams, one per worker

With --synthetic the first frame of --input is preprocessed once and repeated; without
an input, generated frames are used. Video input needs OpenCV; builds tagged novideo
accept only image directories.

Every flag can also be set in the config file or as STREAM_BENCH_<KEY>.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "c", "", "YAML, JSON or TOML config file")
	f.StringP("mode", "m", "", "concurrency mode: sync, async, one_decode_multi, multi (default sync)")
	f.IntP("streams", "s", 0, "worker streams for the pooled modes (default: number of CPUs)")
	f.DurationP("duration", "t", 0, "benchmark duration per stream (default 60s)")
	f.Int64("max-frames", 0, "cap on frames per stream, 0 for no cap")
	f.Bool("synthetic", false, "inference only: feed one preprocessed frame repeatedly")
	f.String("model", "", "catalog model name (default resnet50)")
	f.String("model-path", "", "ONNX model file, required for the onnx engine")
	f.String("precision", "", "FP32, FP16 or INT8 (default INT8)")
	f.String("device", "", "target device (default CPU)")
	f.String("engine", "", "onnx or reference (default onnx)")
	f.String("provider", "", "onnx execution provider: cpu, openvino, cuda, coreml (default openvino)")
	f.String("library-path", "", "onnxruntime shared library")
	f.StringP("input", "i", "", "image directory or video file")
	f.StringP("output-dir", "o", "", "results directory (default ./benchmark_results)")
	f.String("log-level", "", "TRACE, DEBUG, INFO, WARN, ERROR (default INFO)")
	f.String("statsd-addr", "", "DogStatsD address, empty to disable")
	f.Duration("report-interval", 0, "progress log cadence (default 1s)")
	f.Uint64("seed", 0, "seed for synthetic frames and reference weights")

	for _, key := range []string{
		config.KeyMode, config.KeyStreams, config.KeyDuration, config.KeyMaxFrames,
		config.KeySynthetic, config.KeyModel, config.KeyModelPath, config.KeyPrecision,
		config.KeyDevice, config.KeyEngine, config.KeyProvider, config.KeyLibraryPath,
		config.KeyInput, config.KeyOutputDir, config.KeyLogLevel, config.KeyStatsdAddr,
		config.KeyReportInterval, config.KeySeed,
	} {
		if err := a.v.BindPFlag(key, f.Lookup(strings.ReplaceAll(key, "_", "-"))); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		a.newRunCommand(),
		a.newCompareCommand(),
		a.newScaleCommand(),
		a.newScenariosCommand(),
	)
	return root
}

// load reads the configuration and initializes logging.
//
// Arguments:
//   - workloadOnly: Skip the engine and input checks.
//
// Returns:
//   - *config.Settings: The validated settings.
//   - error: Any configuration error, marked config.ErrConfiguration.
func (a *app) load(workloadOnly bool) (*config.Settings, error) {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return nil, err
	}

	var settings *config.Settings
	if workloadOnly {
		settings, err = cfg.ValidateWorkload()
	} else {
		settings, err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}

	if err := logger.Init(settings.LogLevel, appName); err != nil {
		return nil, errors.Wrap(err, "initialize logger")
	}
	log.Debug().Interface("config", settings.Config).Msg("configuration loaded")
	return settings, nil
}
