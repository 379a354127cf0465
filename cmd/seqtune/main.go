// Package main provides the seqtune CLI: train one configuration or search
// its hyperparameters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
)

const version = "v0.1.0-dev"

// rootFlags are the flags shared by every command.
type rootFlags struct {
	configPath string
	device     string
	experiment string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "seqtune",
		Short:         "Train sequence classifiers and search their hyperparameters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file (defaults are used when empty)")
	root.PersistentFlags().StringVar(&flags.device, "device", "", "override device (cpu, cuda, webgpu)")
	root.PersistentFlags().StringVar(&flags.experiment, "experiment", "", "override experiment_name")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newTrainCmd(flags), newTuneCmd(flags), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "seqtune %s\n", version)
		},
	}
}

// load reads the configuration, applies flag overrides and builds the
// logger.
func (f *rootFlags) load() (*config.Config, *log.Logger, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, nil, err
		}
	}
	if f.device != "" {
		cfg.Device = f.device
	}
	if f.experiment != "" {
		cfg.ExperimentName = f.experiment
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the metrics database when one is configured.
func openStore(cfg *config.Config) (*metrics.Store, error) {
	if cfg.Logging.MetricsDB == "" {
		return nil, nil
	}
	return metrics.OpenStore(cfg.Logging.MetricsDB)
}
