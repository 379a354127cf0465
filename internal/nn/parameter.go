package nn

import (
	"github.com/born-ml/seqtune/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors updated by an optimizer. Whether a parameter is
// sparse (its gradients touch only a few rows, e.g. an embedding table) is
// fixed when the parameter is created: it is a property of the
// architecture, not of training state.
//
// Example:
//
//	weight := nn.NewParameter("linear.weight", weightTensor)
//	table := nn.NewSparseParameter("embedding.weight", tableTensor)
type Parameter struct {
	name   string            // Parameter name (e.g., "weight", "bias")
	tensor *tensor.RawTensor // The parameter tensor
	grad   *tensor.RawTensor // Gradient applied by the last optimizer step
	sparse bool              // Updated with a sparse-aware optimizer
}

// NewParameter creates a new dense trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// NewSparseParameter creates a trainable parameter whose gradients are
// sparse over its first dimension.
func NewSparseParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, tensor: t, sparse: true}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Sparse reports whether the parameter belongs to the sparse subset.
func (p *Parameter) Sparse() bool {
	return p.sparse
}

// Grad returns the gradient applied by the last optimizer step, or nil.
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// SetGrad sets the parameter gradient.
func (p *Parameter) SetGrad(grad *tensor.RawTensor) {
	p.grad = grad
}

// ZeroGrad clears the parameter gradient.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// SplitParameters partitions params into dense and sparse subsets,
// preserving order.
func SplitParameters(params []*Parameter) (dense, sparse []*Parameter) {
	for _, p := range params {
		if p.sparse {
			sparse = append(sparse, p)
		} else {
			dense = append(dense, p)
		}
	}
	return dense, sparse
}
