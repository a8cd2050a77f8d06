package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/stream-bench/benchmark"
	"github.com/nvr-ai/stream-bench/config"
	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/runner"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	cmd := newRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRunReferenceSynthetic(t *testing.T) {
	out := t.TempDir()
	err := execute(t, "run",
		"--engine", "reference",
		"--synthetic",
		"--mode", "one_decode_multi",
		"--streams", "2",
		"--duration", "10s",
		"--max-frames", "3",
		"--model", "resnet18",
		"--output-dir", out,
		"--report-interval", "0s",
		"--log-level", "error",
	)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(out, "benchmark_results_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	plots, err := filepath.Glob(filepath.Join(out, "latency_*.png"))
	require.NoError(t, err)
	assert.Len(t, plots, 1)
}

func TestScenariosCommand(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, execute(t, "scenarios", "--out", out, "--streams", "4", "--duration", "2s", "--log-level", "error"))

	set, err := benchmark.LoadScenarioSet(filepath.Join(out, "mode_comparison.json"))
	require.NoError(t, err)
	require.Len(t, set.Scenarios, len(runner.Modes()))
	assert.Equal(t, 4, set.Scenarios[0].Streams)

	scaling, err := benchmark.LoadScenarioSet(filepath.Join(out, "stream_scaling_multi.json"))
	require.NoError(t, err)
	require.Len(t, scaling.Scenarios, 3)
	assert.Equal(t, runner.ModeMulti, scaling.Scenarios[2].Mode)
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	err := execute(t, "run", "--mode", "batch", "--engine", "reference", "--synthetic", "--log-level", "error")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}

func TestIsVideo(t *testing.T) {
	assert.True(t, isVideo("clip.MP4"))
	assert.True(t, isVideo("/data/cam.mkv"))
	assert.False(t, isVideo("frame.png"))
	assert.False(t, isVideo("frames"))
}

func writeSolidPNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestSourceFactorySyntheticRepeatsInputFrame(t *testing.T) {
	dir := t.TempDir()
	writeSolidPNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, A: 255})
	writeSolidPNG(t, filepath.Join(dir, "b.png"), color.RGBA{B: 255, A: 255})

	settings := &config.Settings{Config: &config.Config{Input: dir}}
	sc := benchmark.NewScenarioBuilder("synthetic_images").
		WithModel("resnet18").
		WithSynthetic(true).
		WithMaxFrames(3).
		Build()

	src, err := sourceFactory(settings)(sc)
	require.NoError(t, err)
	require.IsType(t, &frames.ImageSource{}, src)

	stream, err := src.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	var got []frames.Frame
	for {
		f, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Len(t, got, 3)
	// Every frame is the preprocessed a.png; b.png is never decoded.
	for _, f := range got[1:] {
		assert.Equal(t, got[0].Data(), f.Data())
	}
}

func TestSourceFactorySyntheticWithoutInput(t *testing.T) {
	settings := &config.Settings{Config: &config.Config{}}
	sc := benchmark.NewScenarioBuilder("synthetic").WithModel("resnet18").WithSynthetic(true).WithMaxFrames(1).Build()

	src, err := sourceFactory(settings)(sc)
	require.NoError(t, err)
	assert.IsType(t, &frames.SyntheticSource{}, src)
}

func TestSourceFactoryRejectsUnknownInput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	settings := &config.Settings{Config: &config.Config{Input: file}}
	sc := benchmark.NewScenarioBuilder("bad").WithModel("resnet18").WithMaxFrames(1).Build()

	_, err := sourceFactory(settings)(sc)
	assert.Error(t, err)
}
