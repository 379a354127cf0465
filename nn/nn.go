// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the model contract and the model registry.
//
// A model registered under a name is picked up by the training loop when a
// configuration sets model.name to it:
//
//	nn.Register("my_rnn", func(vocab int, cfg nn.ModelConfig, backend *nn.Backend, seed int64) (nn.Model, error) {
//	    return nn.NewRNN(vocab, cfg, backend, seed)
//	})
package nn

import (
	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/backend/cpu"
	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/nn"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Model is a sequence classifier trained by the training loop.
type Model = nn.Model

// ModelConfig is the model section of a run configuration.
type ModelConfig = config.Model

// Backend records operations for gradient computation.
type Backend = autodiff.Backend

// NewBackend returns a recording backend over the CPU kernels.
func NewBackend() *Backend {
	return autodiff.New(cpu.New())
}

// Parameter is a trainable tensor, either dense or sparse.
type Parameter = nn.Parameter

// NewParameter creates a dense parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, t)
}

// NewSparseParameter creates a parameter updated row by row.
func NewSparseParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewSparseParameter(name, t)
}

// Factory builds a model for a vocabulary of vocabSize ids.
type Factory = nn.Factory

// Register adds a factory under name, replacing any previous entry.
func Register(name string, f Factory) {
	nn.Register(name, f)
}

// Models returns the registered model names in sorted order.
func Models() []string {
	return nn.Models()
}

// Build looks up cfg.Name and builds the model.
func Build(vocabSize int, cfg ModelConfig, backend *Backend, seed int64) (Model, error) {
	return nn.Build(vocabSize, cfg, backend, seed)
}

// RNN is the reference stacked recurrent classifier.
type RNN = nn.RNN

// RNNName is the registry name of RNN.
const RNNName = nn.RNNName

// NewRNN builds an RNN.
func NewRNN(vocabSize int, cfg ModelConfig, backend *Backend, seed int64) (*RNN, error) {
	return nn.NewRNN(vocabSize, cfg, backend, seed)
}

// ErrUnknownModel is returned by Build for an unregistered model name.
var ErrUnknownModel = nn.ErrUnknownModel
