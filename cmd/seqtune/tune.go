package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/search"
	"github.com/born-ml/seqtune/internal/train"
)

func newTuneCmd(flags *rootFlags) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Search hyperparameters with the configured tuning method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("resume") {
				cfg.Tune.Resume = resume
			}
			method, err := search.ParseMethod(cfg.Tune)
			if err != nil {
				return err
			}
			opts, err := search.OptionsFromConfig(cfg, method)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			newSink := func(t *search.Trial) (metrics.Sink, error) {
				sinks := metrics.Multi{metrics.NewLogSink(logger.With("trial", t.ID))}
				if store != nil {
					run, err := store.NewRun(t.ID, cfg.ExperimentName, t.Assignment.Key())
					if err != nil {
						return nil, err
					}
					sinks = append(sinks, run)
				}
				return sinks, nil
			}

			runners := search.TrainingRunners(train.Options{
				Cache:         data.NewCache(),
				Logger:        logger,
				KernelWorkers: max(int(cfg.Tune.ResourcesPerTrial.CPU), 1),
			}, newSink)
			results, err := search.NewOrchestrator(runners, logger).Run(cmd.Context(), method, opts)
			if results == nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
			best, ok := results.Best()
			if !ok {
				if err == nil {
					err = search.ErrNoTrials
				}
				return err
			}
			logger.Info("best trial", "trial", best.ID, opts.Metric, best.Value, "assignment", best.Assignment.Key())
			return err
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "warm start from the checkpointed search state")
	return cmd
}
