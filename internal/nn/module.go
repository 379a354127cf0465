// Package nn implements the neural network building blocks and the model
// contract used by the training loop.
//
// This package provides:
//   - Parameter: trainable tensors with a static dense/sparse designation
//   - Model: the interface every sequence classifier satisfies
//   - Linear, Embedding, Dropout: layers recorded on an autodiff backend
//   - RNN: the reference stacked recurrent classifier
//   - CrossEntropyLoss
//   - Build: the model factory registry keyed by model name
package nn

import (
	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Model is a sequence classifier trained by the training loop.
type Model interface {
	// Forward maps int32 tokens [batch, seq] to per-step class scores
	// [steps, batch, classes]. The last step is the end-of-sequence
	// prediction.
	Forward(tokens *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns every trainable parameter.
	Parameters() []*Parameter

	// DenseParameters returns the parameters updated by a dense optimizer.
	DenseParameters() []*Parameter

	// SparseParameters returns the parameters updated by a sparse-aware
	// optimizer. Empty when the architecture has none.
	SparseParameters() []*Parameter

	// Train switches between training mode (dropout active) and
	// evaluation mode.
	Train(training bool)

	// Training reports the current mode.
	Training() bool

	// Backend returns the autodiff backend the model computes on.
	Backend() *autodiff.Backend
}
