package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/train"
)

func newTrainCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train one configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			sinks := metrics.Multi{metrics.NewLogSink(logger)}
			if store != nil {
				defer store.Close()
				run, err := store.NewRun("", cfg.ExperimentName, "train")
				if err != nil {
					return err
				}
				sinks = append(sinks, run)
			}

			logger.Info("training", "experiment", cfg.ExperimentName, "device", cfg.Device, "model", cfg.Model.Name)
			loop, err := train.Setup(cfg, train.Options{Sink: sinks, Logger: logger})
			if err != nil {
				metrics.End(sinks, metrics.RunStatusFailed)
				return err
			}
			err = loop.Run(cmd.Context())
			switch {
			case err == nil:
				metrics.End(sinks, metrics.RunStatusFinished)
			case errors.Is(err, context.Canceled):
				metrics.End(sinks, metrics.RunStatusKilled)
			default:
				metrics.End(sinks, metrics.RunStatusFailed)
			}
			return err
		},
	}
}
