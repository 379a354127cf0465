// Package ops defines the differentiable operations recorded by the gradient
// tape.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the backend before the op is recorded
//   - Backward pass: computes gradients for inputs given the output gradient
//
// Supported operations:
//   - AddOp: element-wise addition (d(a+b)/da = 1, d(a+b)/db = 1)
//   - MaskOp: multiplication by a constant mask (dropout)
//   - MatMulOp: matrix multiplication (dA = grad@Bᵀ, dB = Aᵀ@grad)
//   - AddBiasOp: row-broadcast bias addition
//   - TanhOp: hyperbolic tangent (d tanh(x)/dx = 1 - tanh²(x))
//   - EmbeddingOp: row gather producing a sparse row gradient
//   - StackOp: stacking per-step outputs along a leading dimension
//   - ReshapeOp: view with a new shape
//   - CrossEntropyOp: mean softmax cross-entropy
package ops

import "github.com/born-ml/seqtune/internal/tensor"

// Operation is one recorded step of the forward pass.
type Operation interface {
	// Backward returns one gradient per entry of Inputs, given the gradient
	// of Output. A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the tensors that receive gradients.
	Inputs() []*tensor.RawTensor

	// Output returns the tensor the op produced.
	Output() *tensor.RawTensor
}

// Scatterer is an Operation whose single input gradient is row-sparse and
// can be added into an existing sparse gradient instead of a fresh one.
type Scatterer interface {
	Operation
	// ScatterInto adds the input gradient into dst and extends its sparse
	// rows.
	ScatterInto(outputGrad, dst *tensor.RawTensor)
}

// node implements Inputs and Output for the ops that embed it.
type node struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newNode(output *tensor.RawTensor, inputs ...*tensor.RawTensor) node {
	return node{inputs: inputs, output: output}
}

func (n node) Inputs() []*tensor.RawTensor { return n.inputs }

func (n node) Output() *tensor.RawTensor { return n.output }
