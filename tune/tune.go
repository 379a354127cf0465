// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tune

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/search"
	"github.com/born-ml/seqtune/internal/train"
)

// Config is the full run configuration.
type Config = config.Config

// Param declares one dimension of the search space.
type Param = config.Param

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Results collects the trials of a search.
type Results = search.Results

// TrialResult is the outcome of one trial.
type TrialResult = search.TrialResult

// Assignment maps dotted configuration paths to sampled values.
type Assignment = search.Assignment

// Errors returned by Search and Train.
var (
	ErrInvalidConfig     = config.ErrInvalid
	ErrUnsupportedMethod = search.ErrUnsupportedMethod
	ErrNoTrials          = search.ErrNoTrials
)

// Search runs the tuning method named by cfg.Tune.TuningMethod.
// A nil logger uses log.Default().
//
// Example:
//
//	cfg := tune.DefaultConfig()
//	cfg.Tune.TuningMethod = "bohb"
//	cfg.Tune.Space = map[string]tune.Param{
//	    "optimizer.lr": {Type: "float", Low: 1e-4, High: 1e-1, Log: true},
//	}
//	results, err := tune.Search(ctx, cfg, logger)
func Search(ctx context.Context, cfg *Config, logger *log.Logger) (*Results, error) {
	method, err := search.ParseMethod(cfg.Tune)
	if err != nil {
		return nil, err
	}
	opts, err := search.OptionsFromConfig(cfg, method)
	if err != nil {
		return nil, err
	}
	logger = logging.OrDefault(logger)
	runners := search.TrainingRunners(train.Options{
		Cache:         data.NewCache(),
		Logger:        logger,
		KernelWorkers: max(int(cfg.Tune.ResourcesPerTrial.CPU), 1),
	}, func(t *search.Trial) (metrics.Sink, error) {
		return metrics.NewLogSink(logger.With("trial", t.ID)), nil
	})
	return search.NewOrchestrator(runners, logger).Run(ctx, method, opts)
}

// Train trains cfg once to completion, logging its metrics to logger.
func Train(ctx context.Context, cfg *Config, logger *log.Logger) error {
	sink := metrics.NewLogSink(logger)
	loop, err := train.Setup(cfg, train.Options{Sink: sink, Logger: logger})
	if err != nil {
		metrics.End(sink, metrics.RunStatusFailed)
		return err
	}
	err = loop.Run(ctx)
	switch {
	case err == nil:
		metrics.End(sink, metrics.RunStatusFinished)
	case errors.Is(err, context.Canceled):
		metrics.End(sink, metrics.RunStatusKilled)
	default:
		metrics.End(sink, metrics.RunStatusFailed)
	}
	return err
}
