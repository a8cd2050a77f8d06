package benchmark

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// histogramBins picks the bin count with Sturges' rule, clamped to [5, 50].
func histogramBins(n int) int {
	if n <= 1 {
		return 5
	}
	bins := int(math.Ceil(math.Log2(float64(n)))) + 1
	return min(max(bins, 5), 50)
}

// SaveLatencyHistogram renders per-frame latencies as a PNG histogram.
//
// Arguments:
//   - filename: Output path. The extension selects the image format.
//   - title: The plot title.
//   - samples: Latencies in milliseconds.
//
// Returns:
//   - error: An error if samples is empty or the file cannot be written.
func SaveLatencyHistogram(filename, title string, samples []float64) error {
	if len(samples) == 0 {
		return errors.New("no latency samples to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "latency (ms)"
	p.Y.Label.Text = "frames"

	h, err := plotter.NewHist(plotter.Values(samples), histogramBins(len(samples)))
	if err != nil {
		return errors.Wrap(err, "build latency histogram")
	}
	p.Add(h)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, filename); err != nil {
		return errors.Wrapf(err, "save latency histogram %s", filename)
	}
	return nil
}
