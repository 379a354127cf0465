// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the Adam optimizers used by the training loop.
//
// Dense parameters are updated by Adam and sparse parameters (embedding
// tables with row-sparse gradients) by SparseAdam. BuildGroup assigns each
// parameter of a model to exactly one of them.
package optim

import (
	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/optim"
	"github.com/born-ml/seqtune/nn"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// AdamConfig contains configuration for the Adam family.
type AdamConfig = optim.AdamConfig

// Adam represents the dense Adam optimizer.
type Adam = optim.Adam

// NewAdam creates a new Adam optimizer with bias correction.
//
// Example:
//
//	optimizer := optim.NewAdam(model.DenseParameters(), optim.AdamConfig{
//	    LR:    0.001,
//	    Betas: [2]float64{0.9, 0.999},
//	})
func NewAdam(params []*nn.Parameter, cfg AdamConfig) *Adam {
	return optim.NewAdam(params, cfg)
}

// SparseAdam represents the lazy Adam optimizer for sparse gradients.
type SparseAdam = optim.SparseAdam

// NewSparseAdam creates a new SparseAdam optimizer.
func NewSparseAdam(params []*nn.Parameter, cfg AdamConfig) *SparseAdam {
	return optim.NewSparseAdam(params, cfg)
}

// OptimizerConfig is the optimizer section of a run configuration.
type OptimizerConfig = config.Optimizer

// Group is a dense optimizer plus an optional sparse one.
type Group = optim.Group

// BuildGroup builds the optimizer group of a model.
func BuildGroup(model nn.Model, cfg OptimizerConfig) (*Group, error) {
	return optim.BuildGroup(model, cfg)
}

// ErrUnsupportedOptimizer is returned for any optimizer other than Adam.
var ErrUnsupportedOptimizer = optim.ErrUnsupportedOptimizer
