package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")

// SaveResults persists the recorded results to the output directory: a JSON file with
// every field, a CSV summary and one latency histogram per scenario that timed frames.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "create output directory %s", bs.outputDir)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrapf(err, "write results file %s", resultsFile)
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrapf(err, "save summary %s", summaryFile)
	}

	plots := 0
	for _, r := range results {
		if len(r.Samples) == 0 {
			continue
		}
		name := fileNameReplacer.Replace(r.Scenario.Name)
		file := filepath.Join(bs.outputDir, fmt.Sprintf("latency_%s_%s.png", name, timestamp))
		title := fmt.Sprintf("%s latency (%s, %d streams)", r.Scenario.Model, r.Scenario.Mode, r.Scenario.Streams)
		if err := SaveLatencyHistogram(file, title, r.Samples); err != nil {
			return err
		}
		plots++
	}

	bs.log.Info().
		Str("results", resultsFile).
		Str("summary", summaryFile).
		Int("plots", plots).
		Msg("results saved")
	return nil
}

var summaryHeader = []string{
	"Scenario", "Mode", "Streams", "Model", "Precision", "Device",
	"Completed", "Elapsed_ms", "FPS",
	"Latency_Mean_ms", "Latency_Min_ms", "Latency_Max_ms", "Latency_P99_ms",
	"Peak_Heap_MB",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func summaryRow(r PerformanceMetrics) []string {
	fps := ""
	if r.FramesPerSecond != nil {
		fps = formatFloat(*r.FramesPerSecond)
	}
	latency := []string{"", "", "", ""}
	if r.Latency != nil && r.Latency.Count > 0 {
		latency = []string{
			formatFloat(r.Latency.Mean),
			formatFloat(r.Latency.Min),
			formatFloat(r.Latency.Max),
			formatFloat(r.Latency.P99),
		}
	}

	row := []string{
		r.Scenario.Name,
		r.Scenario.Mode.String(),
		strconv.Itoa(r.Scenario.Streams),
		r.Scenario.Model,
		string(r.Scenario.Precision),
		r.Scenario.Device,
		strconv.FormatInt(r.Completed, 10),
		formatFloat(float64(r.Elapsed) / float64(time.Millisecond)),
		fps,
	}
	row = append(row, latency...)
	return append(row, formatFloat(float64(r.MemoryStats.PeakHeapAllocBytes)/(1024*1024)))
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(summaryRow(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}
