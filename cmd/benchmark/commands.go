package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/stream-bench/benchmark"
	"github.com/nvr-ai/stream-bench/runner"
)

func (a *app) newRunCommand() *cobra.Command {
	var scenarioFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured mode, or every scenario of a scenario file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.load(false)
			if err != nil {
				return err
			}
			suite, closeSink, err := newSuite(settings, log.Logger)
			if err != nil {
				return err
			}
			defer closeSink()

			if scenarioFile != "" {
				set, err := benchmark.LoadScenarioSet(scenarioFile)
				if err != nil {
					return err
				}
				suite.AddScenarioSet(set)
				log.Info().Str("file", scenarioFile).Int("scenarios", len(set.Scenarios)).Msg("scenarios loaded")
			} else {
				suite.AddScenario(baseScenario(settings, fmt.Sprintf("%s_%s", settings.ModelInfo.Name, settings.RunMode)))
			}
			return suite.RunAllScenarios(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&scenarioFile, "scenarios", "", "scenario set file written by the scenarios command")
	return cmd
}

func (a *app) newCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Run the same workload under every mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.load(false)
			if err != nil {
				return err
			}
			suite, closeSink, err := newSuite(settings, log.Logger)
			if err != nil {
				return err
			}
			defer closeSink()

			predefined := &benchmark.PredefinedScenarios{}
			suite.AddScenarioSet(predefined.ModeComparison(baseScenario(settings, string(settings.ModelInfo.Name))))
			return suite.RunAllScenarios(cmd.Context())
		},
	}
}

func (a *app) newScaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scale",
		Short: "Run the configured mode with 1, 2, 4 ... up to --streams streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.load(false)
			if err != nil {
				return err
			}
			suite, closeSink, err := newSuite(settings, log.Logger)
			if err != nil {
				return err
			}
			defer closeSink()

			predefined := &benchmark.PredefinedScenarios{}
			base := baseScenario(settings, string(settings.ModelInfo.Name))
			suite.AddScenarioSet(predefined.StreamScaling(base, settings.RunMode, settings.Streams))
			return suite.RunAllScenarios(cmd.Context())
		},
	}
}

func (a *app) newScenariosCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Write the predefined scenario sets for the configured workload as JSON",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			settings, err := a.load(true)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrapf(err, "create %s", outDir)
			}

			predefined := &benchmark.PredefinedScenarios{}
			base := baseScenario(settings, string(settings.ModelInfo.Name))
			sets := map[string]*benchmark.ScenarioSet{
				"mode_comparison.json": predefined.ModeComparison(base),
			}
			for _, mode := range []runner.Mode{runner.ModeOneDecodeMulti, runner.ModeMulti} {
				sets[fmt.Sprintf("stream_scaling_%s.json", mode)] = predefined.StreamScaling(base, mode, settings.Streams)
			}

			for name, set := range sets {
				file := filepath.Join(outDir, name)
				if err := benchmark.SaveScenarioSet(set, file); err != nil {
					return err
				}
				log.Info().Str("file", file).Int("scenarios", len(set.Scenarios)).Msg("scenario set saved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "scenarios", "directory for the scenario files")
	return cmd
}
