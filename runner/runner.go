// Package runner - Concurrency strategies that drive an inference engine over frame
// streams and measure throughput and latency.
package runner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/metrics"
)

// ErrInvalidOptions marks errors caused by runner options.
var ErrInvalidOptions = errors.New("invalid runner options")

// Options configures a runner.
type Options struct {
	// Source opens the frame streams. Multi opens one stream per worker.
	Source frames.Source
	// Streams is the worker count for the pooled modes. It must be at least 1.
	Streams int
	// Progress receives one increment per completed frame. A fresh counter is created
	// for every run when nil.
	Progress *metrics.Progress
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Validate performs the range checks applied before any run starts.
func (o Options) Validate() error {
	if o.Source == nil {
		return errors.Mark(errors.New("frame source is required"), ErrInvalidOptions)
	}
	if o.Streams < 1 {
		return errors.Mark(errors.Newf("streams must be at least 1, got %d", o.Streams), ErrInvalidOptions)
	}
	return nil
}

// Record is the completion of one frame.
type Record struct {
	Index  int64
	Output inference.Output
	// Submitted is zero for runners that do not time submissions.
	Submitted time.Time
	Completed time.Time
}

// Latency returns the time between submission and completion, or zero if the submission
// was not timed.
func (r Record) Latency() time.Duration {
	if r.Submitted.IsZero() {
		return 0
	}
	return r.Completed.Sub(r.Submitted)
}

// Result is the outcome of a successful run.
type Result struct {
	Mode Mode
	// Records holds every completion ordered by frame index. Empty for ModeMulti.
	Records []Record
	// Streams holds the per-worker completions of ModeMulti, in worker order.
	Streams  [][]Record
	Snapshot metrics.Snapshot
	// Latency is set only by runners that time each frame.
	Latency *metrics.LatencySummary
	// Samples are the per-frame latencies in milliseconds, in drain order.
	Samples []float64
	// PeakInFlight is the largest number of submitted but not yet drained frames.
	PeakInFlight int
}

// Completed returns the number of completed frames across all streams.
func (r *Result) Completed() int {
	n := len(r.Records)
	for _, s := range r.Streams {
		n += len(s)
	}
	return n
}

// Outputs returns the ordered outputs of the single-stream modes.
func (r *Result) Outputs() []inference.Output {
	outs := make([]inference.Output, len(r.Records))
	for i, rec := range r.Records {
		outs[i] = rec.Output
	}
	return outs
}

// Report converts the result into a metrics report.
func (r *Result) Report(streams int) metrics.Report {
	return metrics.Report{
		Mode:     r.Mode.String(),
		Streams:  streams,
		Snapshot: r.Snapshot,
		Latency:  r.Latency,
		Samples:  r.Samples,
	}
}

// Runner executes one strategy against an engine.
type Runner interface {
	Mode() Mode
	// Run consumes the configured source until it is exhausted. On failure the returned
	// Result is nil: partial measurements are discarded. Cancelling ctx stops new
	// submissions; requests already in flight still complete.
	Run(ctx context.Context, engine inference.Engine) (*Result, error)
}

type constructor func(opts Options) Runner

var constructors = map[Mode]constructor{
	ModeSync:           newSyncRunner,
	ModeAsync:          newAsyncRunner,
	ModeOneDecodeMulti: newPipelineRunner,
	ModeMulti:          newMultiRunner,
}

// New creates the runner for mode.
//
// Arguments:
//   - mode: The strategy to run.
//   - opts: The runner options.
//
// Returns:
//   - Runner: The runner.
//   - error: An error marked ErrInvalidOptions if mode or opts are invalid.
func New(mode Mode, opts Options) (Runner, error) {
	ctor, ok := constructors[mode]
	if !ok {
		return nil, errors.Mark(errors.Newf("unknown run mode %d", int(mode)), ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		l := log.Logger
		opts.Logger = &l
	}
	return ctor(opts), nil
}

// base holds what every runner shares.
type base struct {
	mode Mode
	opts Options
	log  zerolog.Logger
}

func newBase(mode Mode, opts Options) base {
	return base{
		mode: mode,
		opts: opts,
		log:  opts.Logger.With().Str("mode", mode.String()).Logger(),
	}
}

func (b *base) Mode() Mode {
	return b.mode
}

func (b *base) progress() *metrics.Progress {
	if b.opts.Progress != nil {
		return b.opts.Progress
	}
	return metrics.NewProgress()
}

func (b *base) openStream(ctx context.Context) (frames.Stream, error) {
	stream, err := b.opts.Source.Open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open frame stream")
	}
	return stream, nil
}

func (b *base) fail(progress *metrics.Progress, err error) (*Result, error) {
	progress.Stop()
	b.log.Error().Err(err).Int64("completed", progress.Completed()).Msg("run aborted")
	return nil, err
}

func (b *base) finish(progress *metrics.Progress, result *Result) (*Result, error) {
	progress.Stop()
	result.Mode = b.mode
	result.Snapshot = progress.Snapshot()
	b.log.Debug().
		Int("completed", result.Completed()).
		Dur("elapsed", result.Snapshot.Elapsed).
		Msg("run complete")
	return result, nil
}
