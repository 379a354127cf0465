// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tune trains sequence classifiers and searches their
// hyperparameters.
//
// # Overview
//
// A search repeatedly asks a method for a configuration, trains it with the
// single-config training loop and feeds the discriminating metric back to
// the method. Supported methods:
//   - no_search: the base configuration, or random draws when a space is set
//   - hyperopt (alias tpe): sequential Bayesian search with Tree-structured
//     Parzen Estimators
//   - bohb: TPE proposals with asynchronous successive halving over
//     cumulative training examples
//
// # Basic Usage
//
//	cfg, err := tune.LoadConfig("experiment.yaml")
//	if err != nil {
//	    return err
//	}
//	results, err := tune.Search(ctx, cfg, nil)
//	if err != nil {
//	    return err
//	}
//	best, ok := results.Best()
//
// # Checkpointing
//
// The method state is written to <working_dir>/<experiment_name>/<method>
// after every finished trial. With tune.resume set, a later search loads it
// and does not re-run configurations it has already seen.
package tune
