package metrics

import (
	"math"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Metric names emitted by StatsdSink.
const (
	MetricFPS       = "stream_bench.fps"
	MetricCompleted = "stream_bench.completed"
	MetricElapsed   = "stream_bench.elapsed"
	MetricLatency   = "stream_bench.latency_ms"
)

// Report is the final outcome of one run, handed to every configured sink.
type Report struct {
	Mode     string
	Streams  int
	Snapshot Snapshot
	// Latency is nil for runners that do not time individual frames.
	Latency *LatencySummary
	// Samples are the raw per-frame latencies, in completion order.
	Samples []float64
}

// Sink publishes run reports to an external observer.
type Sink interface {
	Report(Report) error
}

// Sinks fans a report out to several sinks, returning every failure combined.
type Sinks []Sink

// Report implements Sink.
func (s Sinks) Report(r Report) error {
	var errs error
	for _, sink := range s {
		if err := sink.Report(r); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// LogSink writes reports as structured log lines.
type LogSink struct {
	Logger zerolog.Logger
}

// Report implements Sink.
func (l LogSink) Report(r Report) error {
	ev := l.Logger.Info().
		Str("mode", r.Mode).
		Int("streams", r.Streams).
		Int64("completed", r.Snapshot.Completed).
		Dur("elapsed", r.Snapshot.Elapsed)
	if r.Snapshot.Defined() {
		ev = ev.Float64("fps", r.Snapshot.FPS)
	} else {
		ev = ev.Str("fps", "undefined")
	}
	ev.Msg("run finished")

	if r.Latency != nil && r.Latency.Count > 0 {
		l.Logger.Info().
			Str("mode", r.Mode).
			Float64("avg_ms", r.Latency.Mean).
			Float64("min_ms", r.Latency.Min).
			Float64("max_ms", r.Latency.Max).
			Float64("p99_ms", r.Latency.P99).
			Msg("latency")
	}
	return nil
}

// StatsdSink emits reports as DogStatsD gauges and histograms.
type StatsdSink struct {
	client statsd.ClientInterface
	tags   []string
}

// NewStatsdSink connects to a DogStatsD agent.
//
// Arguments:
//   - addr: The agent address, e.g. "localhost:8125".
//   - tags: Global tags attached to every metric.
//
// Returns:
//   - *StatsdSink: The sink.
//   - error: An error if the client cannot be created.
func NewStatsdSink(addr string, tags ...string) (*StatsdSink, error) {
	client, err := statsd.New(addr, statsd.WithTags(tags))
	if err != nil {
		return nil, errors.Wrapf(err, "create statsd client for %s", addr)
	}
	return &StatsdSink{client: client}, nil
}

// NewStatsdSinkWithClient wraps an existing client.
func NewStatsdSinkWithClient(client statsd.ClientInterface, tags ...string) *StatsdSink {
	return &StatsdSink{client: client, tags: tags}
}

// Report implements Sink.
func (s *StatsdSink) Report(r Report) error {
	tags := append([]string{
		"mode:" + r.Mode,
		"streams:" + strconv.Itoa(r.Streams),
	}, s.tags...)

	var errs error
	record := func(err error) {
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	record(s.client.Gauge(MetricCompleted, float64(r.Snapshot.Completed), tags, 1))
	record(s.client.Timing(MetricElapsed, r.Snapshot.Elapsed, tags, 1))
	if r.Snapshot.Defined() {
		record(s.client.Gauge(MetricFPS, r.Snapshot.FPS, tags, 1))
	}
	for _, ms := range r.Samples {
		record(s.client.Histogram(MetricLatency, ms, tags, 1))
	}
	return errs
}

// Close flushes and closes the underlying client.
func (s *StatsdSink) Close() error {
	if err := s.client.Flush(); err != nil {
		return err
	}
	return s.client.Close()
}

// logObserver logs periodic progress.
type logObserver struct {
	logger zerolog.Logger
	mode   string
	last   int64
	lastAt time.Time
}

// NewLogObserver returns an Observer that logs completed count, overall FPS and the rate
// since the previous tick.
func NewLogObserver(logger zerolog.Logger, mode string) Observer {
	return &logObserver{logger: logger, mode: mode}
}

func (o *logObserver) Progress(s Snapshot) {
	now := time.Now()
	ev := o.logger.Info().Str("mode", o.mode).Int64("completed", s.Completed)
	if s.Defined() {
		ev = ev.Float64("fps", s.FPS)
	}
	if !o.lastAt.IsZero() {
		if rate := FPS(s.Completed-o.last, now.Sub(o.lastAt)); !math.IsNaN(rate) {
			ev = ev.Float64("rate", rate)
		}
	}
	o.last, o.lastAt = s.Completed, now
	ev.Msg("progress")
}
